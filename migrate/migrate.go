package migrate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/schema/field"
)

// ColumnInfo describes one live column as reported by the database.
type ColumnInfo struct {
	NativeType string
	Nullable   bool
}

// splitNative splits a native column type like "varchar(128)" into its
// lowercase base name and size.
func splitNative(native string) (string, int) {
	base := strings.ToLower(strings.TrimSpace(native))
	size := 0
	if i := strings.IndexByte(base, '('); i >= 0 {
		if j := strings.IndexByte(base, ')'); j > i {
			if n, err := strconv.Atoi(base[i+1 : j]); err == nil {
				size = n
			}
		}
		base = base[:i]
	}
	return base, size
}

// UnsupportedError reports a DDL operation the dialect cannot perform.
// Unsupported operations are reported explicitly, never silently skipped.
type UnsupportedError struct {
	Dialect string
	Op      string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("migrate: %s does not support %s", e.Dialect, e.Op)
}

// sqlDialect confines every dialect difference to one implementation.
// Callers interact only with the portable column-type vocabulary.
type sqlDialect interface {
	name() string
	createTable(t *Table) ([]string, error)
	dropTable(table string) []string
	renameTable(old, new string) []string
	addColumn(table string, c *Column) []string
	dropColumn(ctx context.Context, q dialect.ExecQuerier, table, column string) ([]string, error)
	addUniqueKey(table, symbol string, columns []string) []string
	dropUniqueKey(table, symbol string) []string
	columnInfo(ctx context.Context, q dialect.ExecQuerier, table string) (map[string]ColumnInfo, error)
	hasTable(ctx context.Context, q dialect.ExecQuerier, table string) (bool, error)
	fieldType(native string) (field.Type, int)
}

// Schema is the dialect-aware DDL generator and introspector handed to
// migration units.
type Schema struct {
	q dialect.ExecQuerier
	d sqlDialect
}

// NewSchema returns a schema manager speaking the driver's dialect.
// The returned error is non-nil for an unknown dialect.
func NewSchema(drv dialect.Driver) (*Schema, error) {
	s := &Schema{q: drv}
	switch drv.Dialect() {
	case dialect.MySQL:
		s.d = mysql{}
	case dialect.SQLite:
		s.d = sqlite{}
	default:
		return nil, fmt.Errorf("migrate: unsupported dialect %q", drv.Dialect())
	}
	return s, nil
}

// on rebinds the schema manager to another execution target, typically a
// transaction scope.
func (s *Schema) on(q dialect.ExecQuerier) *Schema {
	return &Schema{q: q, d: s.d}
}

// Dialect returns the dialect name the manager emits DDL for.
func (s *Schema) Dialect() string { return s.d.name() }

func (s *Schema) run(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if err := s.q.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateTable creates the table with its primary-key, unique and
// foreign-key constraints. Columns are emitted in normalized order, so the
// same logical definition regenerates identical DDL.
func (s *Schema) CreateTable(ctx context.Context, t *Table) error {
	stmts, err := s.d.createTable(t)
	if err != nil {
		return err
	}
	return s.run(ctx, stmts)
}

// DropTable drops the table.
func (s *Schema) DropTable(ctx context.Context, table string) error {
	return s.run(ctx, s.d.dropTable(table))
}

// RenameTable renames a table.
func (s *Schema) RenameTable(ctx context.Context, old, new string) error {
	return s.run(ctx, s.d.renameTable(old, new))
}

// AddColumn adds a column to an existing table.
func (s *Schema) AddColumn(ctx context.Context, table string, c *Column) error {
	return s.run(ctx, s.d.addColumn(table, c))
}

// DropColumn drops a column from an existing table.
func (s *Schema) DropColumn(ctx context.Context, table, column string) error {
	stmts, err := s.d.dropColumn(ctx, s.q, table, column)
	if err != nil {
		return err
	}
	return s.run(ctx, stmts)
}

// AddUniqueKey adds a unique constraint over the given columns. The
// constraint name is generated deterministically from the table and the
// sorted column set.
func (s *Schema) AddUniqueKey(ctx context.Context, table string, columns ...string) error {
	return s.run(ctx, s.d.addUniqueKey(table, UniqueKeyName(table, columns...), columns))
}

// DropUniqueKey drops the unique constraint over the given columns.
func (s *Schema) DropUniqueKey(ctx context.Context, table string, columns ...string) error {
	return s.run(ctx, s.d.dropUniqueKey(table, UniqueKeyName(table, columns...)))
}

// ColumnInfo introspects the live table and reports its columns, their
// native types and nullability. It backs the migration generator's diffing.
func (s *Schema) ColumnInfo(ctx context.Context, table string) (map[string]ColumnInfo, error) {
	return s.d.columnInfo(ctx, s.q, table)
}

// HasTable reports whether the table exists.
func (s *Schema) HasTable(ctx context.Context, table string) (bool, error) {
	return s.d.hasTable(ctx, s.q, table)
}
