package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/dialect/sql"
	"github.com/strata-orm/strata/schema/field"
)

type sqlite struct{}

func (sqlite) name() string { return dialect.SQLite }

func (sqlite) cType(c *Column) string {
	switch c.Type.Storage() {
	case field.TypeBool, field.TypeInt:
		return "integer"
	case field.TypeFloat:
		return "real"
	case field.TypeTime:
		return "datetime"
	case field.TypeString:
		size := c.Size
		if size == 0 {
			size = 255
			if c.Type == field.TypeUUID {
				size = 36
			}
		}
		return fmt.Sprintf("varchar(%d)", size)
	case field.TypeText:
		return "text"
	default:
		return "blob"
	}
}

func (d sqlite) columnDDL(c *Column) string {
	var sb strings.Builder
	sb.WriteString(sql.Quote(c.Name) + " " + d.cType(c))
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	// AUTOINCREMENT is only valid on an inline INTEGER PRIMARY KEY.
	if c.Role == RolePrimaryAuto {
		sb.WriteString(" PRIMARY KEY AUTOINCREMENT")
	}
	return sb.String()
}

// createTable emits the table plus one CREATE UNIQUE INDEX per unique
// constraint. Inline unique constraints would create undroppable
// auto-indexes on this dialect, so uniqueness always lives in named
// indexes here.
func (d sqlite) createTable(t *Table) ([]string, error) {
	cols := append([]*Column(nil), t.Columns...)
	SortColumns(cols)
	autoPK := false
	defs := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		if c.Role == RolePrimaryAuto {
			autoPK = true
		}
		defs = append(defs, d.columnDDL(c))
	}
	if len(t.PrimaryKey) > 0 && !autoPK {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)",
			sql.Quote(pkName(t.Name, t.PrimaryKey)), quoteList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			sql.Quote(fk.Symbol), quoteList(fk.Columns), sql.Quote(fk.RefTable), quoteList(fk.RefColumns)))
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)", sql.Quote(t.Name), strings.Join(defs, ", "))}
	for _, idx := range t.Indexes {
		if !idx.Unique {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			sql.Quote(idx.Name), sql.Quote(t.Name), quoteList(idx.Columns)))
	}
	return stmts, nil
}

func (sqlite) dropTable(table string) []string {
	return []string{"DROP TABLE " + sql.Quote(table)}
}

func (sqlite) renameTable(old, new string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", sql.Quote(old), sql.Quote(new))}
}

func (d sqlite) addColumn(table string, c *Column) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", sql.Quote(table), d.columnDDL(c))}
}

// dropColumn drops the unique indexes covering the column first; this
// dialect refuses to drop a column a named index still references.
func (d sqlite) dropColumn(ctx context.Context, q dialect.ExecQuerier, table, column string) ([]string, error) {
	pk, err := d.primaryKey(ctx, q, table)
	if err != nil {
		return nil, err
	}
	for _, c := range pk {
		if c == column {
			return nil, &UnsupportedError{Dialect: dialect.SQLite, Op: "dropping a primary-key column"}
		}
	}
	idx, err := d.indexesOn(ctx, q, table, column)
	if err != nil {
		return nil, err
	}
	stmts := make([]string, 0, len(idx)+1)
	for _, name := range idx {
		stmts = append(stmts, "DROP INDEX "+sql.Quote(name))
	}
	stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", sql.Quote(table), sql.Quote(column)))
	return stmts, nil
}

func (sqlite) addUniqueKey(table, symbol string, columns []string) []string {
	return []string{fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		sql.Quote(symbol), sql.Quote(table), quoteList(columns))}
}

func (sqlite) dropUniqueKey(_, symbol string) []string {
	return []string{"DROP INDEX " + sql.Quote(symbol)}
}

func (sqlite) columnInfo(ctx context.Context, q dialect.ExecQuerier, table string) (map[string]ColumnInfo, error) {
	var rows sql.Rows
	if err := q.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", sql.Quote(table)), []any{}, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	info := make(map[string]ColumnInfo)
	for rows.Next() {
		var (
			cid     int64
			name    string
			ctype   string
			notnull int64
			dflt    any
			pk      int64
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		info[name] = ColumnInfo{NativeType: ctype, Nullable: notnull == 0}
	}
	return info, rows.Err()
}

// fieldType maps a declared type from PRAGMA table_info back to the
// portable vocabulary. Bool columns report as integer on this dialect;
// the diff validator compares integer storage classes, not bool vs int.
func (sqlite) fieldType(native string) (field.Type, int) {
	base, size := splitNative(native)
	switch base {
	case "integer", "int", "bigint", "boolean":
		return field.TypeInt, 0
	case "real", "double", "float":
		return field.TypeFloat, 0
	case "datetime", "timestamp":
		return field.TypeTime, 0
	case "varchar", "char":
		return field.TypeString, size
	case "text", "clob":
		return field.TypeText, 0
	case "blob":
		return field.TypeBytes, 0
	default:
		return field.TypeInvalid, 0
	}
}

func (sqlite) hasTable(ctx context.Context, q dialect.ExecQuerier, table string) (bool, error) {
	query := "SELECT COUNT(*) FROM `sqlite_master` WHERE `type` = 'table' AND `name` = ?"
	return queryBool(ctx, q, query, []any{table})
}

func (d sqlite) primaryKey(ctx context.Context, q dialect.ExecQuerier, table string) ([]string, error) {
	var rows sql.Rows
	if err := q.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", sql.Quote(table)), []any{}, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var pk []string
	for rows.Next() {
		var (
			cid     int64
			name    string
			ctype   string
			notnull int64
			dflt    any
			pkPos   int64
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pkPos); err != nil {
			return nil, err
		}
		if pkPos > 0 {
			pk = append(pk, name)
		}
	}
	return pk, rows.Err()
}

// indexesOn returns the named indexes covering the given column.
func (sqlite) indexesOn(ctx context.Context, q dialect.ExecQuerier, table, column string) ([]string, error) {
	var rows sql.Rows
	if err := q.Query(ctx, fmt.Sprintf("PRAGMA index_list(%s)", sql.Quote(table)), []any{}, &rows); err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var (
			seq     int64
			name    string
			unique  int64
			origin  string
			partial int64
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		// Auto-indexes (origin "pk"/"u") cannot be dropped by name.
		if origin == "c" {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	var covering []string
	for _, name := range names {
		var irows sql.Rows
		if err := q.Query(ctx, fmt.Sprintf("PRAGMA index_info(%s)", sql.Quote(name)), []any{}, &irows); err != nil {
			return nil, err
		}
		for irows.Next() {
			var (
				seqno int64
				cid   int64
				cname string
			)
			if err := irows.Scan(&seqno, &cid, &cname); err != nil {
				irows.Close()
				return nil, err
			}
			if cname == column {
				covering = append(covering, name)
				break
			}
		}
		if err := irows.Err(); err != nil {
			irows.Close()
			return nil, err
		}
		irows.Close()
	}
	return covering, nil
}
