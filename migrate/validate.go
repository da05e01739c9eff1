package migrate

import (
	"fmt"
	"strings"

	"github.com/strata-orm/strata/schema/field"
)

// Finding reports one schema validation issue.
type Finding struct {
	Table   string
	Column  string
	Message string
	// Breaking marks transitions that can lose data or fail on populated
	// tables.
	Breaking bool
}

func (f *Finding) Error() string {
	if f.Column != "" {
		return fmt.Sprintf("%s.%s: %s", f.Table, f.Column, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Table, f.Message)
}

// Report is the outcome of a validation pass, split by severity. Errors
// block generation; warnings flag transitions that need operator judgment.
type Report struct {
	Errors   []*Finding
	Warnings []*Finding
}

// OK reports whether the pass produced no errors.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Breaking reports whether any finding, error or warning, is breaking.
func (r *Report) Breaking() bool {
	for _, f := range append(r.Errors[:len(r.Errors):len(r.Errors)], r.Warnings...) {
		if f.Breaking {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	if r.OK() && len(r.Warnings) == 0 {
		return "no findings"
	}
	var b strings.Builder
	for _, f := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", f)
	}
	for _, f := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", f)
	}
	return b.String()
}

func (r *Report) fail(f *Finding) { r.Errors = append(r.Errors, f) }
func (r *Report) warn(f *Finding) { r.Warnings = append(r.Warnings, f) }

// flag records a destructive finding, downgraded to a warning when the
// caller explicitly allowed its class.
func (r *Report) flag(allowed bool, f *Finding) {
	if allowed {
		r.warn(f)
	} else {
		r.fail(f)
	}
}

// Allowance downgrades classes of destructive findings from errors to
// warnings. Combine with bitwise or.
type Allowance uint8

const (
	AllowDropTable Allowance = 1 << iota
	AllowDropColumn
	AllowDropIndex
	AllowNullToNotNull
)

func (a Allowance) permits(class Allowance) bool { return a&class != 0 }

// ValidateDiff compares the live tables against the declared ones and
// reports destructive or failure-prone transitions. The generator runs it
// before emitting anything; it can also be called directly with a
// hand-built model of the live schema.
func ValidateDiff(current, desired []*Table, allow Allowance) *Report {
	r := &Report{}
	byName := make(map[string]*Table, len(desired))
	for _, t := range desired {
		byName[t.Name] = t
	}
	for _, live := range current {
		want, ok := byName[live.Name]
		if !ok {
			r.flag(allow.permits(AllowDropTable), &Finding{
				Table:    live.Name,
				Message:  "table exists in the database but not in the declared schema",
				Breaking: true,
			})
			continue
		}
		diffTable(live, want, allow, r)
	}
	return r
}

func diffTable(live, want *Table, allow Allowance, r *Report) {
	for _, lc := range live.Columns {
		if want.Column(lc.Name) == nil {
			r.flag(allow.permits(AllowDropColumn), &Finding{
				Table:    live.Name,
				Column:   lc.Name,
				Message:  "column exists in the database but not in the declared table",
				Breaking: true,
			})
		}
	}
	for _, wc := range want.Columns {
		lc := live.Column(wc.Name)
		if lc == nil {
			if !wc.Nullable {
				r.warn(&Finding{
					Table:   live.Name,
					Column:  wc.Name,
					Message: "adding a NOT NULL column fails when the table holds rows",
				})
			}
			continue
		}
		if lc.Type != field.TypeInvalid && wc.Type != field.TypeInvalid &&
			storageClass(lc.Type) != storageClass(wc.Type) {
			r.warn(&Finding{
				Table:   live.Name,
				Column:  wc.Name,
				Message: fmt.Sprintf("storage type changes from %s to %s", lc.Type, wc.Type),
			})
		}
		if lc.Nullable && !wc.Nullable {
			r.flag(allow.permits(AllowNullToNotNull), &Finding{
				Table:    live.Name,
				Column:   wc.Name,
				Message:  "column tightens from NULL to NOT NULL and fails when null values exist",
				Breaking: true,
			})
		}
		if lc.Size > 0 && wc.Size > 0 && wc.Size < lc.Size {
			r.warn(&Finding{
				Table:   live.Name,
				Column:  wc.Name,
				Message: fmt.Sprintf("maximum length shrinks from %d to %d and may truncate data", lc.Size, wc.Size),
			})
		}
	}
	wantIdx := make(map[string]bool, len(want.Indexes))
	for _, idx := range want.Indexes {
		wantIdx[idx.Name] = true
	}
	liveIdx := make(map[string]bool, len(live.Indexes))
	for _, idx := range live.Indexes {
		liveIdx[idx.Name] = true
		if !wantIdx[idx.Name] {
			r.flag(allow.permits(AllowDropIndex), &Finding{
				Table:   live.Name,
				Message: fmt.Sprintf("index %q exists in the database but not in the declared table", idx.Name),
			})
		}
	}
	for _, idx := range want.Indexes {
		if idx.Unique && !liveIdx[idx.Name] {
			r.warn(&Finding{
				Table:   live.Name,
				Message: fmt.Sprintf("adding unique index %q fails when duplicate rows exist", idx.Name),
			})
		}
	}
}

// storageClass collapses a column type to its comparison class. Bool and
// int share integer storage on sqlite, so a live integer column must not
// flag a declared bool column as a type change.
func storageClass(t field.Type) field.Type {
	s := t.Storage()
	if s == field.TypeBool {
		return field.TypeInt
	}
	return s
}

// ValidateTable checks one declared table for internal consistency:
// every constraint must name declared columns, and names must be unique.
func ValidateTable(t *Table) *Report {
	r := &Report{}
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if cols[c.Name] {
			r.fail(&Finding{Table: t.Name, Column: c.Name, Message: "column declared twice"})
		}
		cols[c.Name] = true
	}
	if len(t.PrimaryKey) == 0 && !hasAutoPK(t) {
		r.warn(&Finding{Table: t.Name, Message: "table declares no primary key"})
	}
	for _, name := range t.PrimaryKey {
		if !cols[name] {
			r.fail(&Finding{Table: t.Name, Message: fmt.Sprintf("primary key names undeclared column %q", name)})
		}
	}
	idx := make(map[string]bool, len(t.Indexes))
	for _, i := range t.Indexes {
		if idx[i.Name] {
			r.fail(&Finding{Table: t.Name, Message: fmt.Sprintf("index %q declared twice", i.Name)})
		}
		idx[i.Name] = true
		for _, name := range i.Columns {
			if !cols[name] {
				r.fail(&Finding{Table: t.Name, Message: fmt.Sprintf("index %q names undeclared column %q", i.Name, name)})
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) != len(fk.RefColumns) {
			r.fail(&Finding{Table: t.Name, Message: fmt.Sprintf("foreign key %q has mismatched column counts", fk.Symbol)})
		}
		for _, name := range fk.Columns {
			if !cols[name] {
				r.fail(&Finding{Table: t.Name, Message: fmt.Sprintf("foreign key %q names undeclared column %q", fk.Symbol, name)})
			}
		}
	}
	return r
}

// ValidateSchema checks a declared table set, including cross-table
// foreign-key targets.
func ValidateSchema(tables []*Table) *Report {
	r := &Report{}
	names := make(map[string]bool, len(tables))
	for _, t := range tables {
		if names[t.Name] {
			r.fail(&Finding{Table: t.Name, Message: "table declared twice"})
		}
		names[t.Name] = true
		tr := ValidateTable(t)
		r.Errors = append(r.Errors, tr.Errors...)
		r.Warnings = append(r.Warnings, tr.Warnings...)
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if !names[fk.RefTable] {
				r.fail(&Finding{Table: t.Name, Message: fmt.Sprintf("foreign key %q targets undeclared table %q", fk.Symbol, fk.RefTable)})
			}
		}
	}
	return r
}

func hasAutoPK(t *Table) bool {
	for _, c := range t.Columns {
		if c.Role == RolePrimaryAuto {
			return true
		}
	}
	return false
}
