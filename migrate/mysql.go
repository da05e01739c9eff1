package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/dialect/sql"
	"github.com/strata-orm/strata/schema/field"
)

type mysql struct{}

func (mysql) name() string { return dialect.MySQL }

func (mysql) cType(c *Column) string {
	switch c.Type.Storage() {
	case field.TypeBool:
		return "boolean"
	case field.TypeInt:
		return "bigint"
	case field.TypeFloat:
		return "double"
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
		return "longtext"
	default:
		return "longblob"
	}
}

func (d mysql) columnDDL(c *Column) string {
	var sb strings.Builder
	sb.WriteString(sql.Quote(c.Name) + " " + d.cType(c))
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if c.Role == RolePrimaryAuto {
		sb.WriteString(" AUTO_INCREMENT")
	}
	return sb.String()
}

func (d mysql) createTable(t *Table) ([]string, error) {
	cols := append([]*Column(nil), t.Columns...)
	SortColumns(cols)
	defs := make([]string, 0, len(cols)+1+len(t.Indexes)+len(t.ForeignKeys))
	for _, c := range cols {
		defs = append(defs, d.columnDDL(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)",
			sql.Quote(pkName(t.Name, t.PrimaryKey)), quoteList(t.PrimaryKey)))
	}
	for _, idx := range t.Indexes {
		if !idx.Unique {
			continue
		}
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
			sql.Quote(idx.Name), quoteList(idx.Columns)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			sql.Quote(fk.Symbol), quoteList(fk.Columns), sql.Quote(fk.RefTable), quoteList(fk.RefColumns)))
	}
	return []string{fmt.Sprintf("CREATE TABLE %s (%s)", sql.Quote(t.Name), strings.Join(defs, ", "))}, nil
}

func (mysql) dropTable(table string) []string {
	return []string{"DROP TABLE " + sql.Quote(table)}
}

func (mysql) renameTable(old, new string) []string {
	return []string{fmt.Sprintf("RENAME TABLE %s TO %s", sql.Quote(old), sql.Quote(new))}
}

func (d mysql) addColumn(table string, c *Column) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", sql.Quote(table), d.columnDDL(c))}
}

func (mysql) dropColumn(_ context.Context, _ dialect.ExecQuerier, table, column string) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", sql.Quote(table), sql.Quote(column))}, nil
}

func (mysql) addUniqueKey(table, symbol string, columns []string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
		sql.Quote(table), sql.Quote(symbol), quoteList(columns))}
}

func (mysql) dropUniqueKey(table, symbol string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", sql.Quote(table), sql.Quote(symbol))}
}

func (mysql) columnInfo(ctx context.Context, q dialect.ExecQuerier, table string) (map[string]ColumnInfo, error) {
	query := "SELECT `column_name`, `column_type`, `is_nullable` " +
		"FROM `information_schema`.`columns` " +
		"WHERE `table_schema` = (SELECT DATABASE()) AND `table_name` = ?"
	var rows sql.Rows
	if err := q.Query(ctx, query, []any{table}, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	info := make(map[string]ColumnInfo)
	for rows.Next() {
		var name, ctype, nullable string
		if err := rows.Scan(&name, &ctype, &nullable); err != nil {
			return nil, err
		}
		info[name] = ColumnInfo{NativeType: ctype, Nullable: strings.EqualFold(nullable, "YES")}
	}
	return info, rows.Err()
}

// fieldType maps a native column type reported by information_schema back
// to the portable type vocabulary. Unknown natives map to TypeInvalid.
func (mysql) fieldType(native string) (field.Type, int) {
	base, size := splitNative(native)
	switch base {
	case "boolean", "bool", "tinyint":
		return field.TypeBool, 0
	case "bigint", "int", "integer", "mediumint", "smallint":
		return field.TypeInt, 0
	case "double", "float", "decimal":
		return field.TypeFloat, 0
	case "datetime", "timestamp":
		return field.TypeTime, 0
	case "varchar", "char":
		return field.TypeString, size
	case "longtext", "mediumtext", "text":
		return field.TypeText, 0
	case "longblob", "mediumblob", "blob", "varbinary":
		return field.TypeBytes, 0
	default:
		return field.TypeInvalid, 0
	}
}

func (mysql) hasTable(ctx context.Context, q dialect.ExecQuerier, table string) (bool, error) {
	query := "SELECT COUNT(*) FROM `information_schema`.`tables` " +
		"WHERE `table_schema` = (SELECT DATABASE()) AND `table_name` = ?"
	return queryBool(ctx, q, query, []any{table})
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sql.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

func queryBool(ctx context.Context, q dialect.ExecQuerier, query string, args []any) (bool, error) {
	var rows sql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, rows.Err()
}
