// Package record provides active-record style access objects bound to entity
// descriptors: load by id, find by criteria (including attribute-overflow
// criteria), batched iteration and upsert, plus junction (many-to-many)
// links.
//
// A Mapper caches its SQL templates per operation and is not safe for
// concurrent use without external synchronization.
package record

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/strata-orm/strata"
	"github.com/strata-orm/strata/codec"
	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/dialect/sql"
	"github.com/strata-orm/strata/schema"
)

// BatchSize is the number of rows fetched per batch during iteration.
// Overflow attributes for a whole batch load with one query per overflow
// table instead of one per row.
const BatchSize = 256

// Attributes is the overflow map type entity structs use for EAV-backed
// fields. A nil map means "never loaded"; an empty non-nil map means
// "loaded, empty". Saving an entity whose map is nil skips the overflow
// pass entirely, so previously stored attributes are never deleted by
// accident.
type Attributes = map[string]any

// Cond marks a criteria value as a custom condition. The function receives
// the qualified column and returns the predicate to apply.
type Cond func(column string) *sql.Predicate

// Registry creates and caches one mapper per entity type over a shared
// driver and transaction scoper.
type Registry struct {
	drv     dialect.Driver
	scoper  *sql.Scoper
	mappers map[reflect.Type]*Mapper
}

// NewRegistry returns a mapper registry over the given driver.
func NewRegistry(drv dialect.Driver) *Registry {
	return &Registry{
		drv:     drv,
		scoper:  sql.NewScoper(drv),
		mappers: make(map[reflect.Type]*Mapper),
	}
}

// Scoper returns the transaction scoper shared by all mappers of the
// registry. Callers can open scopes on it to group multiple saves.
func (r *Registry) Scoper() *sql.Scoper { return r.scoper }

// Mapper returns the mapper bound to the given descriptor, building it on
// first use.
func (r *Registry) Mapper(desc *schema.Entity) *Mapper {
	if m, ok := r.mappers[desc.Type()]; ok {
		return m
	}
	m := &Mapper{desc: desc, registry: r, stmts: make(map[string]string)}
	m.codec = codec.New(r.loadRef)
	m.stores = make(map[string]*AttributeStore, len(desc.Attrs))
	for name, a := range desc.Attrs {
		m.stores[name] = NewAttributeStore(a.Table, a.Type, r)
	}
	r.mappers[desc.Type()] = m
	return m
}

// Junction returns a junction mapper bound to the given descriptor.
func (r *Registry) Junction(desc *schema.Junction) *JunctionMapper {
	return &JunctionMapper{desc: desc, registry: r}
}

func (r *Registry) mapperFor(t reflect.Type) (*Mapper, error) {
	if m, ok := r.mappers[t]; ok {
		return m, nil
	}
	desc, ok := schema.LookupType(t)
	if !ok {
		return nil, fmt.Errorf("record: type %s has no entity descriptor", t)
	}
	return r.Mapper(desc), nil
}

// loadRef hydrates an entity-valued column by delegating to the referenced
// entity's mapper.
func (r *Registry) loadRef(ctx context.Context, target reflect.Type, id int64) (any, error) {
	m, err := r.mapperFor(target)
	if err != nil {
		return nil, err
	}
	return m.Load(ctx, id)
}

func (r *Registry) querier() dialect.ExecQuerier {
	return r.scoper.Querier()
}

// Mapper is the per-entity-type access object.
type Mapper struct {
	desc     *schema.Entity
	registry *Registry
	codec    *codec.Codec
	stores   map[string]*AttributeStore
	stmts    map[string]string // SQL templates cached by operation name.
}

// Descriptor returns the entity descriptor the mapper is bound to.
func (m *Mapper) Descriptor() *schema.Entity { return m.desc }

func (m *Mapper) dialect() string { return m.registry.drv.Dialect() }

// columns returns the selected column list: id first, then declaration order.
func (m *Mapper) columns() []string {
	cols := make([]string, 0, len(m.desc.Columns)+1)
	cols = append(cols, schema.IDColumn)
	for _, c := range m.desc.Columns {
		cols = append(cols, c.Name)
	}
	return cols
}

// Load fetches the entity with the given id, or nil if no row exists.
// Overflow attributes are loaded and attached.
func (m *Mapper) Load(ctx context.Context, id int64) (any, error) {
	rows, err := m.queryRows(ctx, m.loadSQL(), []any{id})
	if err != nil {
		return nil, err
	}
	ents, err := m.scanAll(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, nil
	}
	if err := m.attachAttrs(ctx, ents); err != nil {
		return nil, err
	}
	return ents[0], nil
}

// Get is like Load but returns a NotFoundError when no row exists.
func (m *Mapper) Get(ctx context.Context, id int64) (any, error) {
	v, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, strata.NewNotFoundError(m.desc.Label(), id)
	}
	return v, nil
}

func (m *Mapper) loadSQL() string {
	if s, ok := m.stmts["load"]; ok {
		return s
	}
	q, _ := sql.Select(m.columns()...).
		From(m.desc.Table).
		Where(sql.EQ(schema.IDColumn, int64(0))).
		Query()
	m.stmts["load"] = q
	return q
}

// Save persists the entity: a zero id inserts, a non-zero id updates by id.
// Afterwards the overflow pass upserts the attribute maps that were loaded
// or explicitly initialized; nil maps are skipped. The whole save runs in
// one transaction scope.
func (m *Mapper) Save(ctx context.Context, v any) (int64, error) {
	if reflect.Indirect(reflect.ValueOf(v)).Type() != m.desc.Type() {
		return 0, fmt.Errorf("record: %s mapper cannot save %T", m.desc.Label(), v)
	}
	scope, err := m.registry.scoper.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer scope.Close()
	id := m.desc.ID(v)
	if id == 0 {
		if id, err = m.insert(ctx, scope, v); err != nil {
			return 0, err
		}
		m.desc.SetID(v, id)
	} else if err = m.update(ctx, scope, v, id); err != nil {
		return 0, err
	}
	for name, a := range m.desc.Attrs {
		values := m.desc.AttrMap(v, a)
		if values == nil {
			continue // never loaded, nothing to reconcile.
		}
		if err := m.stores[name].save(ctx, scope, id, values); err != nil {
			return 0, err
		}
	}
	if err := scope.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Mapper) insert(ctx context.Context, q dialect.ExecQuerier, v any) (int64, error) {
	args, err := m.dehydrateAll(v, true)
	if err != nil {
		return 0, err
	}
	query, ok := m.stmts["insert"]
	if !ok {
		names := make([]string, len(m.desc.Columns))
		for i, c := range m.desc.Columns {
			names[i] = c.Name
		}
		query, _ = sql.Insert(m.desc.Table).
			Columns(names...).
			Values(make([]any, len(names))...).
			Query()
		m.stmts["insert"] = query
	}
	var res sql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return 0, m.wrapConstraint(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record: %s: last insert id: %w", m.desc.Label(), err)
	}
	return id, nil
}

func (m *Mapper) update(ctx context.Context, q dialect.ExecQuerier, v any, id int64) error {
	args, err := m.dehydrateAll(v, false)
	if err != nil {
		return err
	}
	query, ok := m.stmts["update"]
	if !ok {
		ub := sql.Update(m.desc.Table)
		for _, c := range m.desc.Columns {
			ub.Set(c.Name, nil)
		}
		ub.Where(sql.EQ(schema.IDColumn, int64(0)))
		query, _ = ub.Query()
		m.stmts["update"] = query
	}
	args = append(args, id)
	if err := q.Exec(ctx, query, args, nil); err != nil {
		return m.wrapConstraint(err)
	}
	return nil
}

// dehydrateAll lowers every declared column of the instance into driver
// arguments, in declaration order. Insert paths apply declared defaults to
// unset values: null storage values, and the zero time.Time on datetime
// columns, since a value-typed time field cannot express "absent" as null.
func (m *Mapper) dehydrateAll(v any, applyDefaults bool) ([]any, error) {
	args := make([]any, 0, len(m.desc.Columns))
	for _, c := range m.desc.Columns {
		raw := m.desc.Value(v, c)
		sv, err := m.codec.Dehydrate(c, raw)
		if err != nil {
			return nil, fmt.Errorf("record: %s.%s: %w", m.desc.Label(), c.Name, err)
		}
		if applyDefaults && c.Default != nil && (sv.IsNull() || isZeroTime(raw)) {
			dv := c.Default
			if fv := reflect.ValueOf(dv); fv.Kind() == reflect.Func {
				dv = fv.Call(nil)[0].Interface()
			}
			if sv, err = m.codec.Dehydrate(c, dv); err != nil {
				return nil, fmt.Errorf("record: %s.%s: default: %w", m.desc.Label(), c.Name, err)
			}
		}
		args = append(args, sv.SQL())
	}
	return args, nil
}

func isZeroTime(v any) bool {
	t, ok := v.(time.Time)
	return ok && t.IsZero()
}

func (m *Mapper) wrapConstraint(err error) error {
	if strata.IsConstraintError(err) {
		return strata.NewConstraintError(err.Error(), err)
	}
	return err
}
