// Package duckdb opens DuckDB database files, and in-memory databases used to expose
// object storage data as tables.
package duckdb

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/embedgate/embedgate/internal/source"
)

const (
	tableExistsQuery = `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_catalog = current_database() AND table_schema = ? AND table_name = ?`

	columnsQuery = `
SELECT column_name, ordinal_position, data_type
FROM information_schema.columns
WHERE table_catalog = current_database() AND table_schema = ? AND table_name = ?
ORDER BY ordinal_position`
)

// Dialect qualifies tables with the database's own catalog. A file-backed database names
// its catalog after the file, so a schema with the same name is otherwise ambiguous.
type Dialect struct {
	Catalog string
}

func (Dialect) Name() string             { return "duckdb" }
func (Dialect) TableExistsQuery() string { return tableExistsQuery }
func (Dialect) ColumnsQuery() string     { return columnsQuery }

// FirstRowQuery casts nested and UUID columns to text so they scan as strings.
func (d Dialect) FirstRowQuery(loc source.TableLocator, columns []source.Column) string {
	if len(columns) == 0 {
		return fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", d.TableName(loc))
	}
	parts := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted := source.QuoteDouble(column.Name)
		if castToText(column.DataType) {
			parts = append(parts, fmt.Sprintf("CAST(%s AS VARCHAR) AS %s", quoted, quoted))
			continue
		}
		parts = append(parts, quoted)
	}
	return fmt.Sprintf("SELECT %s FROM %s LIMIT 1", strings.Join(parts, ", "), d.TableName(loc))
}

// TableName renders catalog.schema.table, or schema.table when the catalog is unknown.
func (d Dialect) TableName(loc source.TableLocator) string {
	if d.Catalog == "" {
		return source.QualifiedName(source.QuoteDouble, loc)
	}
	return source.QuoteDouble(d.Catalog) + "." + source.QualifiedName(source.QuoteDouble, loc)
}

func castToText(dataType string) bool {
	upper := strings.ToUpper(strings.TrimSpace(dataType))
	switch {
	case upper == "UUID", upper == "BIT", upper == "JSON":
		return true
	case strings.HasSuffix(upper, "]"):
		return true
	case strings.HasPrefix(upper, "STRUCT"), strings.HasPrefix(upper, "MAP"), strings.HasPrefix(upper, "UNION"):
		return true
	}
	return false
}

func (Dialect) ConvertValue(value any) any {
	switch typed := value.(type) {
	case duckdb.Decimal:
		return source.DecimalString(typed.Value, int(typed.Scale))
	case duckdb.Interval:
		return formatInterval(typed)
	}
	return value
}

// formatInterval renders an ISO 8601 duration such as P1M2DT3.5S.
func formatInterval(interval duckdb.Interval) string {
	var b strings.Builder
	b.WriteString("P")
	if interval.Months != 0 {
		fmt.Fprintf(&b, "%dM", interval.Months)
	}
	if interval.Days != 0 {
		fmt.Fprintf(&b, "%dD", interval.Days)
	}
	if interval.Micros != 0 || (interval.Months == 0 && interval.Days == 0) {
		seconds := source.DecimalString(big.NewInt(interval.Micros), 6)
		seconds = strings.TrimRight(strings.TrimRight(seconds, "0"), ".")
		fmt.Fprintf(&b, "T%sS", seconds)
	}
	return b.String()
}

type Connector struct{}

func NewConnector() *Connector { return &Connector{} }

func (*Connector) Driver() string { return "duckdb" }

// Open attaches a database file read-only. ":memory:" opens an empty in-memory database.
func (*Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	return Open(ctx, dsnFor(desc))
}

// Open returns a SQLConn over the given DuckDB DSN. An empty DSN is in-memory.
func Open(ctx context.Context, dsn string) (*source.SQLConn, error) {
	db, err := source.OpenSQL(ctx, "duckdb", dsn)
	if err != nil {
		return nil, err
	}
	var catalog string
	if err := db.QueryRowContext(ctx, "SELECT current_database()").Scan(&catalog); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdb catalog: %w", err)
	}
	return source.NewSQLConn(db, Dialect{Catalog: catalog}), nil
}

func dsnFor(desc source.Descriptor) string {
	dsn := strings.TrimSpace(desc.ConnectionString)
	if dsn == ":memory:" {
		return ""
	}
	if strings.Contains(dsn, "access_mode=") || desc.Param("readOnly", "true") != "true" {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&access_mode=READ_ONLY"
	}
	return dsn + "?access_mode=READ_ONLY"
}
