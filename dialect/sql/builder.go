package sql

import (
	"fmt"
	"strconv"
	"strings"
)

// Querier wraps the basic Query method implemented by the SQL builders.
type Querier interface {
	// Query returns the query representation of the element and its arguments (if any).
	Query() (string, []any)
}

// Builder is the base accumulator shared by all SQL builders. It collects the
// query buffer and its bound arguments. Identifiers are quoted with backticks,
// which both supported dialects accept.
type Builder struct {
	sb   strings.Builder
	args []any
}

// Quote quotes the given identifier.
func Quote(ident string) string {
	return "`" + ident + "`"
}

// WriteString appends the given string to the query buffer.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends the given string as a quoted identifier. Qualified
// identifiers ("t.column") are quoted part by part.
func (b *Builder) Ident(s string) *Builder {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		if i > 0 {
			b.sb.WriteByte('.')
		}
		b.sb.WriteString(Quote(p))
	}
	return b
}

// Arg appends a placeholder and binds the given argument to it.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	b.sb.WriteByte('?')
	return b
}

// Args appends a comma-separated list of placeholders for the given arguments.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// String returns the accumulated query string.
func (b *Builder) String() string { return b.sb.String() }

// Predicate is a where-clause predicate. Predicates compose with And/Or and
// render themselves into a parent builder.
type Predicate struct {
	fns []func(*Builder)
}

// P creates a new predicate, optionally initialized with custom render functions.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

// Append adds a custom render function to the predicate.
func (p *Predicate) Append(fn func(*Builder)) *Predicate {
	p.fns = append(p.fns, fn)
	return p
}

// EQ appends a "col = ?" condition.
func (p *Predicate) EQ(col string, v any) *Predicate {
	return p.Append(func(b *Builder) {
		b.Ident(col).WriteString(" = ").Arg(v)
	})
}

// NEQ appends a "col <> ?" condition.
func (p *Predicate) NEQ(col string, v any) *Predicate {
	return p.Append(func(b *Builder) {
		b.Ident(col).WriteString(" <> ").Arg(v)
	})
}

// GT appends a "col > ?" condition.
func (p *Predicate) GT(col string, v any) *Predicate {
	return p.Append(func(b *Builder) {
		b.Ident(col).WriteString(" > ").Arg(v)
	})
}

// LT appends a "col < ?" condition.
func (p *Predicate) LT(col string, v any) *Predicate {
	return p.Append(func(b *Builder) {
		b.Ident(col).WriteString(" < ").Arg(v)
	})
}

// In appends a "col IN (?, ...)" condition. An empty value set renders the
// always-false condition "FALSE".
func (p *Predicate) In(col string, vs ...any) *Predicate {
	return p.Append(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("FALSE")
			return
		}
		b.Ident(col).WriteString(" IN (").Args(vs...).WriteString(")")
	})
}

// IsNull appends a "col IS NULL" condition.
func (p *Predicate) IsNull(col string) *Predicate {
	return p.Append(func(b *Builder) {
		b.Ident(col).WriteString(" IS NULL")
	})
}

// And joins the given predicates with AND.
func And(preds ...*Predicate) *Predicate {
	return P(func(b *Builder) {
		for i, pr := range preds {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString("(")
			pr.render(b)
			b.WriteString(")")
		}
	})
}

// Or joins the given predicates with OR.
func Or(preds ...*Predicate) *Predicate {
	return P(func(b *Builder) {
		for i, pr := range preds {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString("(")
			pr.render(b)
			b.WriteString(")")
		}
	})
}

// EQ returns a standalone "col = ?" predicate.
func EQ(col string, v any) *Predicate { return P().EQ(col, v) }

// In returns a standalone "col IN (...)" predicate.
func In(col string, vs ...any) *Predicate { return P().In(col, vs...) }

func (p *Predicate) render(b *Builder) {
	for i, fn := range p.fns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fn(b)
	}
}

// Query implements the Querier interface.
func (p *Predicate) Query() (string, []any) {
	b := &Builder{}
	p.render(b)
	return b.String(), b.args
}

// Selector builds a SELECT statement.
type Selector struct {
	columns []string
	from    string
	as      string
	joins   []join
	where   *Predicate
	groupBy []string
	orderBy []string
	limit   *int
	offset  *int
}

type join struct {
	kind  string // "JOIN", "LEFT JOIN".
	table string
	as    string
	on    string // raw ON clause, identifiers pre-quoted by the caller.
}

// Select returns a new selector for the given columns.
func Select(columns ...string) *Selector {
	return &Selector{columns: columns}
}

// From sets the source table.
func (s *Selector) From(table string) *Selector {
	s.from = table
	return s
}

// As sets the table alias.
func (s *Selector) As(alias string) *Selector {
	s.as = alias
	return s
}

// Join appends an INNER JOIN clause. The on expression is rendered as-is.
func (s *Selector) Join(table, alias, on string) *Selector {
	s.joins = append(s.joins, join{kind: "JOIN", table: table, as: alias, on: on})
	return s
}

// Where sets or conjuncts the where-clause predicate.
func (s *Selector) Where(p *Predicate) *Selector {
	if s.where != nil {
		s.where = And(s.where, p)
	} else {
		s.where = p
	}
	return s
}

// GroupBy appends grouping columns.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.groupBy = append(s.groupBy, columns...)
	return s
}

// OrderBy appends ordering columns.
func (s *Selector) OrderBy(columns ...string) *Selector {
	s.orderBy = append(s.orderBy, columns...)
	return s
}

// Limit sets the limit clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the offset clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Query implements the Querier interface.
func (s *Selector) Query() (string, []any) {
	b := &Builder{}
	b.WriteString("SELECT ")
	if len(s.columns) == 0 {
		b.WriteString("*")
	}
	for i, c := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		if c == "*" || strings.ContainsAny(c, "( ") {
			b.WriteString(c)
		} else {
			b.Ident(c)
		}
	}
	b.WriteString(" FROM ").Ident(s.from)
	if s.as != "" {
		b.WriteString(" AS ").Ident(s.as)
	}
	for _, j := range s.joins {
		b.WriteString(" " + j.kind + " ").Ident(j.table)
		if j.as != "" {
			b.WriteString(" AS ").Ident(j.as)
		}
		b.WriteString(" ON " + j.on)
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.render(b)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, c := range s.groupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Ident(c)
		}
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, c := range s.orderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Ident(c)
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*s.offset))
	}
	return b.String(), b.args
}

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	table   string
	columns []string
	values  []any
	ignore  bool
	dialect string
}

// Insert returns a new insert builder for the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Dialect sets the dialect the statement is built for. It is only consulted
// for dialect-divergent clauses such as insert-ignore.
func (i *InsertBuilder) Dialect(name string) *InsertBuilder {
	i.dialect = name
	return i
}

// Columns sets the insert columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = columns
	return i
}

// Values sets the inserted values.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = values
	return i
}

// Ignore makes the insert skip rows that violate the primary key
// ("INSERT IGNORE" on MySQL, "INSERT OR IGNORE" on SQLite).
func (i *InsertBuilder) Ignore() *InsertBuilder {
	i.ignore = true
	return i
}

// Query implements the Querier interface.
func (i *InsertBuilder) Query() (string, []any) {
	b := &Builder{}
	switch {
	case i.ignore && i.dialect == "mysql":
		b.WriteString("INSERT IGNORE INTO ")
	case i.ignore:
		b.WriteString("INSERT OR IGNORE INTO ")
	default:
		b.WriteString("INSERT INTO ")
	}
	b.Ident(i.table).WriteString(" (")
	for j, c := range i.columns {
		if j > 0 {
			b.WriteString(", ")
		}
		b.Ident(c)
	}
	b.WriteString(") VALUES (").Args(i.values...).WriteString(")")
	return b.String(), b.args
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Update returns a new update builder for the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set adds a column assignment.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// Where sets the where-clause predicate.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	u.where = p
	return u
}

// Query implements the Querier interface.
func (u *UpdateBuilder) Query() (string, []any) {
	b := &Builder{}
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, c := range u.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(c).WriteString(" = ").Arg(u.values[i])
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.render(b)
	}
	return b.String(), b.args
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	table string
	where *Predicate
}

// Delete returns a new delete builder for the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where sets the where-clause predicate.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	d.where = p
	return d
}

// Query implements the Querier interface.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &Builder{}
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.render(b)
	}
	return b.String(), b.args
}

// OnConflict renders an upsert tail for the given dialect, updating the given
// columns to the inserted values on primary-key conflict.
//
//	MySQL:  ON DUPLICATE KEY UPDATE `c` = VALUES(`c`)
//	SQLite: ON CONFLICT (pk...) DO UPDATE SET `c` = excluded.`c`
func OnConflict(dialect string, conflictColumns, updateColumns []string) string {
	var sb strings.Builder
	if dialect == "mysql" {
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		for i, c := range updateColumns {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s = VALUES(%s)", Quote(c), Quote(c))
		}
		return sb.String()
	}
	sb.WriteString(" ON CONFLICT (")
	for i, c := range conflictColumns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Quote(c))
	}
	sb.WriteString(") DO UPDATE SET ")
	for i, c := range updateColumns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = excluded.%s", Quote(c), Quote(c))
	}
	return sb.String()
}
