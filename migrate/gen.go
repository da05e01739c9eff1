package migrate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/dave/jennifer/jen"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/schema/field"
)

const pkgPath = "github.com/strata-orm/strata/migrate"

var (
	nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	pkgRe  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// GenOptions configures migration source generation.
type GenOptions struct {
	// Dir is the directory the unit file is written into.
	Dir string
	// Package is the package name of the emitted file. Defaults to the
	// base name of Dir when that is a valid package name, otherwise to
	// "migrations".
	Package string
	// Name is the unit's human identifier, e.g. "add_users".
	Name string
	// Version overrides the sequence identifier. Defaults to the current
	// UTC timestamp.
	Version string
	// Allow downgrades classes of destructive live-schema findings from
	// generation-blocking errors to warnings.
	Allow Allowance
}

// Generate diffs the live database against the desired tables and writes a
// self-registering migration unit covering the difference. The diff is
// additive: missing tables are created and missing columns added; it never
// emits drops. Destructive transitions the diff cannot express, a live
// column absent from the declared table for one, abort generation unless
// opts.Allow permits their class. It returns the written file path, or an
// empty path when no difference was found.
func Generate(ctx context.Context, drv dialect.Driver, desired []*Table, opts GenOptions) (string, error) {
	if !nameRe.MatchString(opts.Name) {
		return "", fmt.Errorf("migrate: invalid unit name %q", opts.Name)
	}
	if res := ValidateSchema(desired); !res.OK() {
		return "", fmt.Errorf("migrate: desired schema invalid:\n%s", res)
	}
	if opts.Version == "" {
		opts.Version = time.Now().UTC().Format("20060102150405")
	}
	switch {
	case opts.Package == "":
		opts.Package = filepath.Base(opts.Dir)
		if !pkgRe.MatchString(opts.Package) {
			opts.Package = "migrations"
		}
	case !pkgRe.MatchString(opts.Package):
		return "", fmt.Errorf("migrate: invalid package name %q", opts.Package)
	}
	s, err := NewSchema(drv)
	if err != nil {
		return "", err
	}
	diff, current, err := computeDiff(ctx, s, desired)
	if err != nil {
		return "", err
	}
	if res := ValidateDiff(current, desired, opts.Allow); !res.OK() {
		return "", fmt.Errorf("migrate: destructive schema diff:\n%s", res)
	}
	if diff.empty() {
		return "", nil
	}
	f, err := renderUnit(opts, diff)
	if err != nil {
		return "", err
	}
	path := filepath.Join(opts.Dir, opts.Version+"_"+opts.Name+".go")
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(f), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type addedColumn struct {
	table  string
	column *Column
}

type schemaDiff struct {
	createTables []*Table
	addColumns   []addedColumn
}

func (d *schemaDiff) empty() bool {
	return len(d.createTables) == 0 && len(d.addColumns) == 0
}

// computeDiff returns the additive diff plus a column-level model of the
// live tables, built from introspection for the diff validator.
func computeDiff(ctx context.Context, s *Schema, desired []*Table) (*schemaDiff, []*Table, error) {
	diff := &schemaDiff{}
	var current []*Table
	for _, t := range desired {
		exists, err := s.HasTable(ctx, t.Name)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			diff.createTables = append(diff.createTables, t)
			continue
		}
		info, err := s.ColumnInfo(ctx, t.Name)
		if err != nil {
			return nil, nil, err
		}
		current = append(current, liveTable(s, t.Name, info))
		var missing []*Column
		for _, c := range t.Columns {
			if _, ok := info[c.Name]; ok {
				continue
			}
			if c.Role == RolePrimary || c.Role == RolePrimaryAuto {
				return nil, nil, fmt.Errorf("migrate: cannot add primary key column %q to existing table %q", c.Name, t.Name)
			}
			missing = append(missing, c)
		}
		sort.Slice(missing, func(i, j int) bool { return missing[i].Name < missing[j].Name })
		for _, c := range missing {
			diff.addColumns = append(diff.addColumns, addedColumn{table: t.Name, column: c})
		}
	}
	return diff, current, nil
}

// liveTable models an introspected table. Indexes and constraints are not
// modeled; only column-level findings apply to generated diffs.
func liveTable(s *Schema, name string, info map[string]ColumnInfo) *Table {
	t := &Table{Name: name}
	cols := make([]string, 0, len(info))
	for c := range info {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		ci := info[c]
		typ, size := s.d.fieldType(ci.NativeType)
		t.Columns = append(t.Columns, &Column{Name: c, Type: typ, Nullable: ci.Nullable, Size: size})
	}
	return t
}

// renderUnit emits the unit source: an init function registering the unit
// with paired up and down bodies.
func renderUnit(opts GenOptions, diff *schemaDiff) (string, error) {
	f := jen.NewFile(opts.Package)
	f.HeaderComment(fmt.Sprintf("Code generated for migration %s_%s. DO NOT EDIT.", opts.Version, opts.Name))

	var up, down []jen.Code
	for _, t := range diff.createTables {
		up = append(up, checkedCall("CreateTable", tableLit(t)))
	}
	for _, ac := range diff.addColumns {
		up = append(up, checkedCall("AddColumn", jen.Lit(ac.table), columnLit(ac.column)))
	}
	// Down reverses in opposite order.
	for i := len(diff.addColumns) - 1; i >= 0; i-- {
		ac := diff.addColumns[i]
		down = append(down, checkedCall("DropColumn", jen.Lit(ac.table), jen.Lit(ac.column.Name)))
	}
	for i := len(diff.createTables) - 1; i >= 0; i-- {
		down = append(down, checkedCall("DropTable", jen.Lit(diff.createTables[i].Name)))
	}
	up = append(up, jen.Return(jen.Nil()))
	down = append(down, jen.Return(jen.Nil()))

	f.Func().Id("init").Params().Block(
		jen.Qual(pkgPath, "Register").Call(jen.Qual(pkgPath, "Migration").Values(jen.Dict{
			jen.Id("Version"): jen.Lit(opts.Version),
			jen.Id("Name"):    jen.Lit(opts.Name),
			jen.Id("Up"): jen.Func().Params(
				jen.Id("ctx").Qual("context", "Context"),
				jen.Id("s").Op("*").Qual(pkgPath, "Schema"),
			).Error().Block(up...),
			jen.Id("Down"): jen.Func().Params(
				jen.Id("ctx").Qual("context", "Context"),
				jen.Id("s").Op("*").Qual(pkgPath, "Schema"),
			).Error().Block(down...),
		})),
	)
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", fmt.Errorf("migrate: render unit: %w", err)
	}
	return buf.String(), nil
}

func checkedCall(method string, args ...jen.Code) jen.Code {
	callArgs := append([]jen.Code{jen.Id("ctx")}, args...)
	return jen.If(
		jen.Err().Op(":=").Id("s").Dot(method).Call(callArgs...),
		jen.Err().Op("!=").Nil(),
	).Block(jen.Return(jen.Err()))
}

func tableLit(t *Table) jen.Code {
	d := jen.Dict{
		jen.Id("Name"): jen.Lit(t.Name),
	}
	var cols []jen.Code
	for _, c := range t.Columns {
		cols = append(cols, columnLit(c))
	}
	d[jen.Id("Columns")] = jen.Index().Op("*").Qual(pkgPath, "Column").Values(cols...)
	if len(t.PrimaryKey) > 0 {
		d[jen.Id("PrimaryKey")] = stringsLit(t.PrimaryKey)
	}
	if len(t.Indexes) > 0 {
		var idxs []jen.Code
		for _, idx := range t.Indexes {
			idxs = append(idxs, jen.Values(jen.Dict{
				jen.Id("Name"):    jen.Lit(idx.Name),
				jen.Id("Unique"):  jen.Lit(idx.Unique),
				jen.Id("Columns"): stringsLit(idx.Columns),
			}))
		}
		d[jen.Id("Indexes")] = jen.Index().Op("*").Qual(pkgPath, "Index").Values(idxs...)
	}
	if len(t.ForeignKeys) > 0 {
		var fks []jen.Code
		for _, fk := range t.ForeignKeys {
			fks = append(fks, jen.Values(jen.Dict{
				jen.Id("Symbol"):     jen.Lit(fk.Symbol),
				jen.Id("Columns"):    stringsLit(fk.Columns),
				jen.Id("RefTable"):   jen.Lit(fk.RefTable),
				jen.Id("RefColumns"): stringsLit(fk.RefColumns),
			}))
		}
		d[jen.Id("ForeignKeys")] = jen.Index().Op("*").Qual(pkgPath, "ForeignKey").Values(fks...)
	}
	return jen.Op("&").Qual(pkgPath, "Table").Values(d)
}

func columnLit(c *Column) jen.Code {
	d := jen.Dict{
		jen.Id("Name"): jen.Lit(c.Name),
		jen.Id("Type"): jen.Qual("github.com/strata-orm/strata/schema/field", typeIdent(c.Type)),
	}
	if c.Nullable {
		d[jen.Id("Nullable")] = jen.Lit(true)
	}
	if c.Size > 0 {
		d[jen.Id("Size")] = jen.Lit(c.Size)
	}
	if c.Role != RoleNone {
		d[jen.Id("Role")] = jen.Qual(pkgPath, roleIdent(c.Role))
	}
	return jen.Op("&").Qual(pkgPath, "Column").Values(d)
}

func stringsLit(ss []string) jen.Code {
	var lits []jen.Code
	for _, s := range ss {
		lits = append(lits, jen.Lit(s))
	}
	return jen.Index().String().Values(lits...)
}

func typeIdent(t field.Type) string {
	switch t {
	case field.TypeBool:
		return "TypeBool"
	case field.TypeInt:
		return "TypeInt"
	case field.TypeFloat:
		return "TypeFloat"
	case field.TypeTime:
		return "TypeTime"
	case field.TypeString:
		return "TypeString"
	case field.TypeText:
		return "TypeText"
	case field.TypeBytes:
		return "TypeBytes"
	case field.TypeJSON:
		return "TypeJSON"
	case field.TypeUUID:
		return "TypeUUID"
	case field.TypeRef:
		return "TypeRef"
	default:
		return "TypeInvalid"
	}
}

func roleIdent(r IndexRole) string {
	switch r {
	case RoleUnique:
		return "RoleUnique"
	case RolePrimary:
		return "RolePrimary"
	case RolePrimaryAuto:
		return "RolePrimaryAuto"
	default:
		return "RoleNone"
	}
}
