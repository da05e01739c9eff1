package record

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/strata-orm/strata/codec"
	"github.com/strata-orm/strata/dialect/sql"
	"github.com/strata-orm/strata/schema"
)

// Find returns all entities matching the column criteria and, if given, the
// attribute-overflow criteria. Criteria values are matched polymorphically:
// a Cond is a custom condition, a slice is set-membership, anything else is
// equality.
func (m *Mapper) Find(ctx context.Context, criteria map[string]any, eavCriteria map[string]any) ([]any, error) {
	var out []any
	err := m.FindEach(ctx, criteria, eavCriteria, func(v any) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// FindEach streams matching entities to fn in batches of BatchSize rows.
// Overflow attributes for each batch load with one query per overflow
// table.
func (m *Mapper) FindEach(ctx context.Context, criteria map[string]any, eavCriteria map[string]any, fn func(any) error) error {
	pred, err := m.criteria(criteria)
	if err != nil {
		return err
	}
	if len(eavCriteria) > 0 {
		eavPred, err := m.eavCriteria(ctx, eavCriteria)
		if err != nil {
			return err
		}
		pred = append(pred, eavPred)
	}
	sel := sql.Select(m.columns()...).From(m.desc.Table)
	for _, p := range pred {
		sel.Where(p)
	}
	return m.fetchEach(ctx, sel, fn)
}

// fetchEach runs the selection in id-ordered batches, attaching overflow
// attributes batch by batch. This bounds attribute loading to one query per
// overflow table per batch instead of one per row.
func (m *Mapper) fetchEach(ctx context.Context, sel *sql.Selector, fn func(any) error) error {
	sel.OrderBy(schema.IDColumn).Limit(BatchSize)
	for offset := 0; ; offset += BatchSize {
		sel.Offset(offset)
		query, args := sel.Query()
		rows, err := m.queryRows(ctx, query, args)
		if err != nil {
			return err
		}
		batch, err := m.scanAll(ctx, rows)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := m.attachAttrs(ctx, batch); err != nil {
			return err
		}
		for _, v := range batch {
			if err := fn(v); err != nil {
				return err
			}
		}
		if len(batch) < BatchSize {
			return nil
		}
	}
}

// criteria lowers a column criteria map into predicates.
func (m *Mapper) criteria(criteria map[string]any) ([]*sql.Predicate, error) {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	preds := make([]*sql.Predicate, 0, len(keys))
	for _, name := range keys {
		if name != schema.IDColumn && m.desc.Column(name) == nil {
			return nil, fmt.Errorf("record: %s has no column %q", m.desc.Label(), name)
		}
		p, err := m.match(name, criteria[name])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// match implements the polymorphic criteria contract for one column.
func (m *Mapper) match(column string, v any) (*sql.Predicate, error) {
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
			av, err := m.lowerCriteriaValue(column, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			vs[i] = av
		}
		return sql.In(column, vs...), nil
	}
	av, err := m.lowerCriteriaValue(column, v)
	if err != nil {
		return nil, err
	}
	return sql.EQ(column, av), nil
}

// lowerCriteriaValue dehydrates a criteria value the same way the save path
// would, so time values and references compare in their stored form.
func (m *Mapper) lowerCriteriaValue(column string, v any) (any, error) {
	c := m.desc.Column(column)
	if c == nil {
		return v, nil // id criteria.
	}
	sv, err := m.codec.Dehydrate(c, v)
	if err != nil {
		return nil, fmt.Errorf("record: %s.%s: %w", m.desc.Label(), column, err)
	}
	return sv.SQL(), nil
}

// eavCriteria resolves attribute-overflow criteria to an id-membership
// predicate. The entity must have exactly one overflow binding for
// unqualified attribute criteria to be unambiguous.
func (m *Mapper) eavCriteria(ctx context.Context, criteria map[string]any) (*sql.Predicate, error) {
	if len(m.stores) != 1 {
		return nil, fmt.Errorf("record: %s has %d overflow bindings; attribute criteria need exactly one", m.desc.Label(), len(m.stores))
	}
	var store *AttributeStore
	for _, s := range m.stores {
		store = s
	}
	ids, err := store.Find(ctx, criteria)
	if err != nil {
		return nil, err
	}
	vs := make([]any, len(ids))
	for i, id := range ids {
		vs[i] = id
	}
	return sql.In(schema.IDColumn, vs...), nil
}

func (m *Mapper) queryRows(ctx context.Context, query string, args []any) (*sql.Rows, error) {
	var rows sql.Rows
	if err := m.registry.querier().Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	return &rows, nil
}

// scanAll materializes every row of the result set into entity instances.
// Overflow attributes are not attached here.
func (m *Mapper) scanAll(ctx context.Context, rows *sql.Rows) (_ []any, err error) {
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	var out []any
	n := len(m.desc.Columns) + 1
	for rows.Next() {
		raw := make([]any, n)
		dest := make([]any, n)
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("record: %s: scan: %w", m.desc.Label(), err)
		}
		v := m.desc.New()
		id, err := scanID(raw[0])
		if err != nil {
			return nil, fmt.Errorf("record: %s: %w", m.desc.Label(), err)
		}
		m.desc.SetID(v, id)
		for i, c := range m.desc.Columns {
			sv, err := codec.FromScan(raw[i+1])
			if err != nil {
				return nil, fmt.Errorf("record: %s.%s: %w", m.desc.Label(), c.Name, err)
			}
			hv, err := m.codec.Hydrate(ctx, c, m.desc.FieldType(c), sv)
			if err != nil {
				return nil, fmt.Errorf("record: %s.%s: %w", m.desc.Label(), c.Name, err)
			}
			if err := m.desc.SetValue(v, c, hv); err != nil {
				return nil, err
			}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// attachAttrs loads the overflow attributes of a batch, one query per
// overflow table, and marks the maps as loaded.
func (m *Mapper) attachAttrs(ctx context.Context, batch []any) error {
	if len(m.desc.Attrs) == 0 || len(batch) == 0 {
		return nil
	}
	ids := make([]int64, len(batch))
	byID := make(map[int64]any, len(batch))
	for i, v := range batch {
		ids[i] = m.desc.ID(v)
		byID[ids[i]] = v
	}
	for name, a := range m.desc.Attrs {
		all, err := m.stores[name].LoadAll(ctx, ids)
		if err != nil {
			return err
		}
		for id, v := range byID {
			values := all[id]
			if values == nil {
				values = Attributes{} // loaded, empty.
			}
			m.desc.SetAttrMap(v, a, values)
		}
	}
	return nil
}

func scanID(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("scanned id has unexpected type %T", v)
	}
}
