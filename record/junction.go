package record

import (
	"context"
	"fmt"

	"github.com/strata-orm/strata/dialect/sql"
	"github.com/strata-orm/strata/schema"
)

// JunctionMapper is the access object of a many-to-many link table. Linking
// is idempotent: re-linking an existing pair affects zero rows.
type JunctionMapper struct {
	desc     *schema.Junction
	registry *Registry
}

// Descriptor returns the junction descriptor the mapper is bound to.
func (j *JunctionMapper) Descriptor() *schema.Junction { return j.desc }

// Link inserts a link row from the given per-column ids, ignoring duplicate
// primary-key violations. It returns the number of rows affected: 1 for a
// new link, 0 if the link already existed.
func (j *JunctionMapper) Link(ctx context.Context, ids map[string]int64) (int64, error) {
	values, err := j.sideValues(ids)
	if err != nil {
		return 0, err
	}
	query, args := sql.Insert(j.desc.Table).
		Dialect(j.registry.drv.Dialect()).
		Ignore().
		Columns(j.desc.Columns...).
		Values(values...).
		Query()
	var res sql.Result
	if err := j.registry.querier().Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Unlink deletes the link row matching the given per-column ids and returns
// the number of rows affected.
func (j *JunctionMapper) Unlink(ctx context.Context, ids map[string]int64) (int64, error) {
	values, err := j.sideValues(ids)
	if err != nil {
		return 0, err
	}
	preds := make([]*sql.Predicate, len(j.desc.Columns))
	for i, c := range j.desc.Columns {
		preds[i] = sql.EQ(c, values[i])
	}
	query, args := sql.Delete(j.desc.Table).Where(sql.And(preds...)).Query()
	var res sql.Result
	if err := j.registry.querier().Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindAll returns the entities linked on the given side, filtered by the
// polymorphic match on the remaining junction columns. Match keys must
// name junction columns other than side. For a junction (author, book),
// FindAll(ctx, "book", map[string]any{"author": 1}) returns the books of
// author 1.
func (j *JunctionMapper) FindAll(ctx context.Context, side string, match map[string]any) ([]any, error) {
	target, ok := j.desc.Targets[side]
	if !ok {
		return nil, fmt.Errorf("record: junction %s has no side %q", j.desc.Table, side)
	}
	m, err := j.registry.mapperFor(target)
	if err != nil {
		return nil, err
	}
	for name := range match {
		if name == side || j.desc.Targets[name] == nil {
			return nil, fmt.Errorf("record: junction %s has no match column %q for side %q", j.desc.Table, name, side)
		}
	}
	cols := make([]string, 0, len(m.desc.Columns)+1)
	cols = append(cols, "t."+schema.IDColumn)
	for _, c := range m.desc.Columns {
		cols = append(cols, "t."+c.Name)
	}
	on := fmt.Sprintf("%s.%s = %s.%s",
		sql.Quote("j"), sql.Quote(side),
		sql.Quote("t"), sql.Quote(schema.IDColumn))
	sel := sql.Select(cols...).
		From(m.desc.Table).As("t").
		Join(j.desc.Table, "j", on)
	for _, c := range j.desc.Columns {
		if c == side {
			continue
		}
		v, ok := match[c]
		if !ok {
			continue
		}
		p, err := m.match("j."+c, v)
		if err != nil {
			return nil, err
		}
		sel.Where(p)
	}
	var out []any
	err = m.fetchEach(ctx, sel, func(v any) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

func (j *JunctionMapper) sideValues(ids map[string]int64) ([]any, error) {
	if len(ids) != len(j.desc.Columns) {
		return nil, fmt.Errorf("record: junction %s needs ids for all of %v", j.desc.Table, j.desc.Columns)
	}
	values := make([]any, len(j.desc.Columns))
	for i, c := range j.desc.Columns {
		id, ok := ids[c]
		if !ok {
			return nil, fmt.Errorf("record: junction %s missing id for column %q", j.desc.Table, c)
		}
		if id == 0 {
			return nil, fmt.Errorf("record: junction %s: zero id for column %q", j.desc.Table, c)
		}
		values[i] = id
	}
	return values, nil
}
