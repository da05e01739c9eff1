// Package migrate generates and applies dialect-specific DDL: table and
// column changes, unique and foreign-key constraints, live-schema
// introspection, and ordered, reversible migration units tracked in a
// persisted ledger.
package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strata-orm/strata/schema"
	"github.com/strata-orm/strata/schema/field"
)

// IndexRole is the index participation of a column in DDL generation.
type IndexRole int

// Index roles, in increasing precedence.
const (
	RoleNone IndexRole = iota
	RoleUnique
	RolePrimary
	RolePrimaryAuto // primary key with auto-increment.
)

// Column is a column definition in the DDL model.
type Column struct {
	Name     string
	Type     field.Type
	Nullable bool
	Size     int // short-string bound; 0 means the dialect default.
	Role     IndexRole
}

// Index is a named (optionally unique) index over table columns.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// ForeignKey is a named foreign-key constraint.
type ForeignKey struct {
	Symbol     string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Table is a table definition in the DDL model.
type Table struct {
	Name        string
	Columns     []*Column
	PrimaryKey  []string
	Indexes     []*Index
	ForeignKeys []*ForeignKey
}

// Column returns the named column definition, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// storageRank orders storage types by decreasing width class for DDL
// emission. Lower ranks emit first.
func storageRank(t field.Type) int {
	switch t.Storage() {
	case field.TypeBytes:
		return 0
	case field.TypeText:
		return 1
	case field.TypeString:
		return 2
	case field.TypeTime:
		return 3
	case field.TypeFloat:
		return 4
	case field.TypeInt:
		return 5
	case field.TypeBool:
		return 6
	default:
		return 7
	}
}

// SortColumns orders column definitions for emission: auto-increment and
// primary columns first, then by decreasing storage width, then by name.
// The same logical schema therefore always regenerates byte-identical DDL.
func SortColumns(cols []*Column) {
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Role != cols[j].Role {
			return cols[i].Role > cols[j].Role
		}
		ri, rj := storageRank(cols[i].Type), storageRank(cols[j].Type)
		if ri != rj {
			return ri < rj
		}
		return cols[i].Name < cols[j].Name
	})
}

// Deterministic constraint names. Member columns are sorted so the name does
// not depend on declaration order.
func pkName(table string, cols []string) string { return constraintName("PK", table, cols) }

// UniqueKeyName returns the generated name of a unique constraint over the
// given columns.
func UniqueKeyName(table string, cols ...string) string {
	return constraintName("UQ", table, cols)
}

// ForeignKeyName returns the generated name of a foreign-key constraint on
// the given column.
func ForeignKeyName(table, column string) string {
	return constraintName("FK", table, []string{column})
}

func constraintName(kind, table string, cols []string) string {
	sorted := append([]string(nil), cols...)
	sort.Strings(sorted)
	return kind + "_" + table + "__" + strings.Join(sorted, "__")
}

// TableOf lowers an entity descriptor into the DDL model: the implicit
// auto-increment id, every declared column, unique constraints and
// foreign keys for reference columns.
func TableOf(e *schema.Entity) *Table {
	t := &Table{
		Name:       e.Table,
		Columns:    []*Column{{Name: schema.IDColumn, Type: field.TypeInt, Role: RolePrimaryAuto}},
		PrimaryKey: []string{schema.IDColumn},
	}
	for _, c := range e.Columns {
		col := &Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable, Size: c.Size}
		if c.Unique {
			col.Role = RoleUnique
			t.Indexes = append(t.Indexes, &Index{
				Name:    UniqueKeyName(e.Table, c.Name),
				Unique:  true,
				Columns: []string{c.Name},
			})
		}
		t.Columns = append(t.Columns, col)
		if c.Type == field.TypeRef {
			target, ok := schema.LookupType(c.RefType)
			if !ok {
				continue
			}
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
				Symbol:     ForeignKeyName(e.Table, c.Name),
				Columns:    []string{c.Name},
				RefTable:   target.Table,
				RefColumns: []string{schema.IDColumn},
			})
		}
	}
	groups := e.UniqueGroups()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cols := groups[name]
		t.Indexes = append(t.Indexes, &Index{
			Name:    UniqueKeyName(e.Table, cols...),
			Unique:  true,
			Columns: cols,
		})
	}
	return t
}

// AttrTableOf lowers an attribute-overflow binding into its backing table:
// (entity, attribute) primary key, entity referencing the owning table.
func AttrTableOf(table, ownerTable string, elem field.Type) *Table {
	return &Table{
		Name: table,
		Columns: []*Column{
			{Name: "entity", Type: field.TypeInt, Role: RolePrimary},
			{Name: "attribute", Type: field.TypeString, Role: RolePrimary},
			{Name: "value", Type: elem, Nullable: true},
		},
		PrimaryKey: []string{"entity", "attribute"},
		ForeignKeys: []*ForeignKey{{
			Symbol:     ForeignKeyName(table, "entity"),
			Columns:    []string{"entity"},
			RefTable:   ownerTable,
			RefColumns: []string{schema.IDColumn},
		}},
	}
}

// JunctionTableOf lowers a junction descriptor: every column is part of the
// primary key, not null, and a foreign key to its target entity's table.
func JunctionTableOf(j *schema.Junction) (*Table, error) {
	t := &Table{Name: j.Table, PrimaryKey: append([]string(nil), j.Columns...)}
	for _, name := range j.Columns {
		target, ok := schema.LookupType(j.Targets[name])
		if !ok {
			return nil, fmt.Errorf("migrate: junction %s: side %q has no entity descriptor", j.Table, name)
		}
		t.Columns = append(t.Columns, &Column{Name: name, Type: field.TypeInt, Role: RolePrimary})
		t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
			Symbol:     ForeignKeyName(j.Table, name),
			Columns:    []string{name},
			RefTable:   target.Table,
			RefColumns: []string{schema.IDColumn},
		})
	}
	return t, nil
}
