package migrate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/dialect/sql"
)

// LedgerTable is the table holding the applied sequence identifiers. It is
// created lazily on first use.
const LedgerTable = "strata_migrations"

// A Migration is one ordered, reversible schema change. Version is an
// opaque, totally ordered string (UTC timestamps recommended); Name is the
// human identifier the unit's file carries after the separator.
type Migration struct {
	Version string
	Name    string
	Up      func(ctx context.Context, s *Schema) error
	Down    func(ctx context.Context, s *Schema) error
}

// Registry is an explicit, ordered collection of migration units. Units are
// registered in code (typically from generated files' init functions), so
// ordering never depends on filesystem enumeration.
type Registry struct {
	units  []Migration
	sorted bool
}

// NewRegistry returns an empty migration registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds a unit. Validation of the full set happens in Validate,
// before any DDL runs.
func (r *Registry) Register(m Migration) {
	r.units = append(r.units, m)
	r.sorted = false
}

// Validate checks the registered set: versions must be unique, non-empty
// and must not contain the name separator; every unit needs both
// directions.
func (r *Registry) Validate() error {
	seen := make(map[string]string, len(r.units))
	for _, m := range r.units {
		switch {
		case m.Version == "":
			return fmt.Errorf("migrate: unit %q has an empty version", m.Name)
		case strings.Contains(m.Version, "_"):
			return fmt.Errorf("migrate: version %q contains the separator character", m.Version)
		case m.Up == nil || m.Down == nil:
			return fmt.Errorf("migrate: unit %s_%s must declare both up and down", m.Version, m.Name)
		}
		if prev, ok := seen[m.Version]; ok {
			return fmt.Errorf("migrate: duplicate version %q (units %q and %q)", m.Version, prev, m.Name)
		}
		seen[m.Version] = m.Name
	}
	return nil
}

func (r *Registry) ordered() []Migration {
	if !r.sorted {
		sort.Slice(r.units, func(i, j int) bool { return r.units[i].Version < r.units[j].Version })
		r.sorted = true
	}
	return r.units
}

// global is the default registry generated migration files register into.
var global = NewRegistry()

// Register adds a unit to the default registry.
func Register(m Migration) { global.Register(m) }

// DefaultRegistry returns the default registry.
func DefaultRegistry() *Registry { return global }

// Migrator applies and reverts migration units one at a time inside nested
// transactions, tracking the applied sequence in the ledger table.
//
// Concurrent migration runs from multiple processes are not guarded here;
// serializing runs is the deploying operator's responsibility.
type Migrator struct {
	schema *Schema
	scoper *sql.Scoper
	reg    *Registry
	logf   func(...any)
}

// MigratorOption configures a Migrator.
type MigratorOption func(*Migrator)

// WithLogger overrides the progress logger. The default is log.Println.
func WithLogger(logf func(...any)) MigratorOption {
	return func(m *Migrator) { m.logf = logf }
}

// NewMigrator returns a migrator over the driver and registry.
func NewMigrator(drv dialect.Driver, reg *Registry, opts ...MigratorOption) (*Migrator, error) {
	s, err := NewSchema(drv)
	if err != nil {
		return nil, err
	}
	m := &Migrator{
		schema: s,
		scoper: sql.NewScoper(drv),
		reg:    reg,
		logf:   log.Println,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Current returns the greatest applied sequence identifier, or "" when no
// unit was applied yet.
func (m *Migrator) Current(ctx context.Context) (string, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return "", err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", nil
	}
	return applied[len(applied)-1], nil
}

// Up applies all undone units in ascending order up to and including the
// optional target version. The whole batch runs inside one outer
// transaction; each unit additionally runs in its own nested scope. It
// reports whether anything was applied.
func (m *Migrator) Up(ctx context.Context, to ...string) (bool, error) {
	target, err := m.target(to)
	if err != nil {
		return false, err
	}
	if err := m.ensureLedger(ctx); err != nil {
		return false, err
	}
	outer, err := m.scoper.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer outer.Close()
	applied, err := m.applied(ctx)
	if err != nil {
		return false, err
	}
	pending, err := m.pending(applied)
	if err != nil {
		return false, err
	}
	changed := false
	for _, unit := range pending {
		if target != "" && unit.Version > target {
			break
		}
		if err := m.apply(ctx, unit, true); err != nil {
			return false, err
		}
		changed = true
	}
	if !changed {
		// Nothing to do. Suppress the commit entirely.
		return false, outer.Rollback()
	}
	return true, outer.Commit()
}

// Down reverts applied units in descending order. Without a target exactly
// one unit is reverted; with a target every unit above it is reverted until
// the current sequence equals the target. The empty target reverts all
// applied units.
func (m *Migrator) Down(ctx context.Context, to ...string) (bool, error) {
	target, err := m.target(to)
	if err != nil {
		return false, err
	}
	targeted := len(to) == 1
	if err := m.ensureLedger(ctx); err != nil {
		return false, err
	}
	outer, err := m.scoper.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer outer.Close()
	applied, err := m.applied(ctx)
	if err != nil {
		return false, err
	}
	if _, err := m.pending(applied); err != nil {
		return false, err
	}
	byVersion := make(map[string]Migration, len(m.reg.ordered()))
	for _, unit := range m.reg.ordered() {
		byVersion[unit.Version] = unit
	}
	changed := false
	for i := len(applied) - 1; i >= 0; i-- {
		version := applied[i]
		if targeted && target != "" && version <= target {
			break
		}
		unit, ok := byVersion[version]
		if !ok {
			return false, fmt.Errorf("migrate: applied version %q has no registered unit", version)
		}
		if err := m.apply(ctx, unit, false); err != nil {
			return false, err
		}
		changed = true
		if !targeted {
			break // default: revert exactly one unit.
		}
	}
	if !changed {
		return false, outer.Rollback()
	}
	return true, outer.Commit()
}

// apply runs one unit inside its own nested scope and records or removes
// its ledger row.
func (m *Migrator) apply(ctx context.Context, unit Migration, up bool) error {
	direction := "up"
	if !up {
		direction = "down"
	}
	inner, err := m.scoper.Begin(ctx)
	if err != nil {
		return err
	}
	defer inner.Close()
	m.logf(fmt.Sprintf("migrate: %s %s_%s", direction, unit.Version, unit.Name))
	s := m.schema.on(inner)
	if up {
		err = unit.Up(ctx, s)
	} else {
		err = unit.Down(ctx, s)
	}
	if err != nil {
		m.logf(fmt.Sprintf("migrate: %s %s_%s failed: %v", direction, unit.Version, unit.Name, err))
		return fmt.Errorf("migrate: unit %s_%s: %w", unit.Version, unit.Name, err)
	}
	if up {
		query, args := sql.Insert(LedgerTable).Columns("version").Values(unit.Version).Query()
		err = inner.Exec(ctx, query, args, nil)
	} else {
		query, args := sql.Delete(LedgerTable).Where(sql.EQ("version", unit.Version)).Query()
		err = inner.Exec(ctx, query, args, nil)
	}
	if err != nil {
		return fmt.Errorf("migrate: ledger update for %s: %w", unit.Version, err)
	}
	return inner.Commit()
}

// pending validates the registry against the ledger and returns the
// ascending list of unapplied units. A unit sorting below an applied
// version is a gap and aborts before any DDL runs.
func (m *Migrator) pending(applied []string) ([]Migration, error) {
	if err := m.reg.Validate(); err != nil {
		return nil, err
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}
	var current string
	if len(applied) > 0 {
		current = applied[len(applied)-1]
	}
	var pending []Migration
	for _, unit := range m.reg.ordered() {
		if appliedSet[unit.Version] {
			continue
		}
		if current != "" && unit.Version < current {
			return nil, fmt.Errorf("migrate: gap in sequence: unapplied version %q sorts below current %q", unit.Version, current)
		}
		pending = append(pending, unit)
	}
	return pending, nil
}

func (m *Migrator) target(to []string) (string, error) {
	switch len(to) {
	case 0:
		return "", nil
	case 1:
		return to[0], nil
	default:
		return "", fmt.Errorf("migrate: at most one target version allowed")
	}
}

func (m *Migrator) ensureLedger(ctx context.Context) error {
	exists, err := m.schema.HasTable(ctx, LedgerTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	var stmt string
	switch m.schema.Dialect() {
	case dialect.MySQL:
		stmt = "CREATE TABLE `" + LedgerTable + "` (`version` varchar(255) NOT NULL, PRIMARY KEY (`version`))"
	default:
		stmt = "CREATE TABLE `" + LedgerTable + "` (`version` varchar(255) NOT NULL PRIMARY KEY)"
	}
	return m.schema.q.Exec(ctx, stmt, []any{}, nil)
}

func (m *Migrator) applied(ctx context.Context) ([]string, error) {
	query, args := sql.Select("version").From(LedgerTable).OrderBy("version").Query()
	var rows sql.Rows
	if err := m.scoper.Querier().Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
