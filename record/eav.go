package record

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/strata-orm/strata/codec"
	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/dialect/sql"
	"github.com/strata-orm/strata/schema"
	"github.com/strata-orm/strata/schema/field"
)

// EAV overflow table columns. (entity, attribute) is the primary key and
// entity is a foreign key to the owning table's id.
const (
	AttrEntityColumn = "entity"
	AttrNameColumn   = "attribute"
	AttrValueColumn  = "value"
)

// AttributeStore is a generic (entity, attribute, value) overflow table for
// unbounded, dynamically named per-entity attributes.
type AttributeStore struct {
	table    string
	elem     field.Type
	registry *Registry
	codec    *codec.Codec
	valueCol *schema.Column
}

// NewAttributeStore returns a store over the given overflow table. Values
// are coerced to elem on load.
func NewAttributeStore(table string, elem field.Type, r *Registry) *AttributeStore {
	return &AttributeStore{
		table:    table,
		elem:     elem,
		registry: r,
		codec:    codec.New(nil),
		valueCol: &schema.Column{Name: AttrValueColumn, Type: elem, Nullable: true},
	}
}

// Table returns the backing overflow table name.
func (s *AttributeStore) Table() string { return s.table }

// Load returns the attribute map of one entity.
func (s *AttributeStore) Load(ctx context.Context, id int64) (map[string]any, error) {
	all, err := s.LoadAll(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	values := all[id]
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

// LoadAll returns the attribute maps of the given entities. Id sets larger
// than one load with a single IN query; the query count is independent of
// the number of ids.
func (s *AttributeStore) LoadAll(ctx context.Context, ids []int64) (map[int64]map[string]any, error) {
	if len(ids) == 0 {
		return map[int64]map[string]any{}, nil
	}
	sel := sql.Select(AttrEntityColumn, AttrNameColumn, AttrValueColumn).From(s.table)
	if len(ids) == 1 {
		sel.Where(sql.EQ(AttrEntityColumn, ids[0]))
	} else {
		vs := make([]any, len(ids))
		for i, id := range ids {
			vs[i] = id
		}
		sel.Where(sql.In(AttrEntityColumn, vs...))
	}
	query, args := sel.Query()
	var rows sql.Rows
	if err := s.registry.querier().Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]map[string]any, len(ids))
	for rows.Next() {
		var (
			entity int64
			name   string
			raw    any
		)
		if err := rows.Scan(&entity, &name, &raw); err != nil {
			return nil, fmt.Errorf("record: %s: scan: %w", s.table, err)
		}
		sv, err := codec.FromScan(raw)
		if err != nil {
			return nil, fmt.Errorf("record: %s.%s: %w", s.table, name, err)
		}
		v, err := codec.Coerce(s.elem, sv)
		if err != nil {
			return nil, fmt.Errorf("record: %s.%s: %w", s.table, name, err)
		}
		if out[entity] == nil {
			out[entity] = make(map[string]any)
		}
		out[entity][name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Save reconciles the stored attribute set of an entity with values:
// attributes absent from the map and attributes set to nil are deleted, the
// rest upsert. Saving the same map twice is idempotent.
func (s *AttributeStore) Save(ctx context.Context, id int64, values map[string]any) error {
	scope, err := s.registry.scoper.Begin(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()
	if err := s.save(ctx, scope, id, values); err != nil {
		return err
	}
	return scope.Commit()
}

func (s *AttributeStore) save(ctx context.Context, q dialect.ExecQuerier, id int64, values map[string]any) error {
	kept := make([]string, 0, len(values))
	for name, v := range values {
		if v != nil {
			kept = append(kept, name)
		}
	}
	sort.Strings(kept)
	// Prune attributes no longer present (or explicitly nulled).
	del := sql.Delete(s.table)
	if len(kept) == 0 {
		del.Where(sql.EQ(AttrEntityColumn, id))
	} else {
		ks := make([]any, len(kept))
		for i, k := range kept {
			ks[i] = k
		}
		del.Where(sql.And(
			sql.EQ(AttrEntityColumn, id),
			sql.P(func(b *sql.Builder) {
				b.WriteString("NOT (")
				b.Ident(AttrNameColumn).WriteString(" IN (").Args(ks...).WriteString("))")
			}),
		))
	}
	query, args := del.Query()
	if err := q.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("record: %s: prune: %w", s.table, err)
	}
	for _, name := range kept {
		sv, err := s.codec.Dehydrate(s.valueCol, values[name])
		if err != nil {
			return fmt.Errorf("record: %s.%s: %w", s.table, name, err)
		}
		query, args := sql.Insert(s.table).
			Columns(AttrEntityColumn, AttrNameColumn, AttrValueColumn).
			Values(id, name, sv.SQL()).
			Query()
		query += sql.OnConflict(
			s.registry.drv.Dialect(),
			[]string{AttrEntityColumn, AttrNameColumn},
			[]string{AttrValueColumn},
		)
		if err := q.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("record: %s.%s: upsert: %w", s.table, name, err)
		}
	}
	return nil
}

// Find returns the ids of entities whose attributes match all entries of
// match. The table is self-joined once per matched attribute, aliased per
// attribute, and grouped by entity.
func (s *AttributeStore) Find(ctx context.Context, match map[string]any) ([]int64, error) {
	if len(match) == 0 {
		return nil, fmt.Errorf("record: %s: empty attribute match", s.table)
	}
	names := make([]string, 0, len(match))
	for name := range match {
		names = append(names, name)
	}
	sort.Strings(names)
	sel := sql.Select("a0." + AttrEntityColumn).From(s.table).As("a0")
	for i := 1; i < len(names); i++ {
		alias := fmt.Sprintf("a%d", i)
		on := fmt.Sprintf("%s.%s = %s.%s",
			sql.Quote(alias), sql.Quote(AttrEntityColumn),
			sql.Quote("a0"), sql.Quote(AttrEntityColumn))
		sel.Join(s.table, alias, on)
	}
	for i, name := range names {
		alias := fmt.Sprintf("a%d", i)
		sel.Where(sql.EQ(alias+"."+AttrNameColumn, name))
		p, err := s.matchValue(alias+"."+AttrValueColumn, match[name])
		if err != nil {
			return nil, err
		}
		sel.Where(p)
	}
	sel.GroupBy("a0." + AttrEntityColumn)
	query, args := sel.Query()
	var rows sql.Rows
	if err := s.registry.querier().Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// matchValue implements the polymorphic match contract on the value column.
func (s *AttributeStore) matchValue(column string, v any) (*sql.Predicate, error) {
	switch v := v.(type) {
	case Cond:
		return v(column), nil
	case func(string) *sql.Predicate:
		return v(column), nil
	case *sql.Predicate:
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		vs := make([]any, rv.Len())
		for i := range vs {
			sv, err := s.codec.Dehydrate(s.valueCol, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			vs[i] = sv.SQL()
		}
		return sql.In(column, vs...), nil
	}
	sv, err := s.codec.Dehydrate(s.valueCol, v)
	if err != nil {
		return nil, err
	}
	return sql.EQ(column, sv.SQL()), nil
}
