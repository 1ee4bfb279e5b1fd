package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/embedgate/embedgate/internal/apperr"
)

// Dialect supplies the backend-specific SQL a SQLConn runs. Schema and table reach the
// metadata queries only as bound arguments, in that order.
type Dialect interface {
	Name() string
	// TableExistsQuery returns a query yielding a single count.
	TableExistsQuery() string
	// ColumnsQuery returns a query yielding column name, ordinal position and data type,
	// ordered by ordinal position.
	ColumnsQuery() string
	FirstRowQuery(loc TableLocator, columns []Column) string
}

// ValueConverter is implemented by dialects whose driver returns native types that
// Normalize does not know about.
type ValueConverter interface {
	ConvertValue(value any) any
}

type QuoteFunc func(string) string

// QuoteDouble quotes an identifier the ANSI way.
func QuoteDouble(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func QuoteBacktick(value string) string {
	return "`" + strings.ReplaceAll(value, "`", "``") + "`"
}

func QuoteBracket(value string) string {
	return "[" + strings.ReplaceAll(value, "]", "]]") + "]"
}

// SelectList renders the quoted column list, or a constant when there are no columns.
func SelectList(quote QuoteFunc, columns []Column) string {
	if len(columns) == 0 {
		return "1"
	}
	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted = append(quoted, quote(column.Name))
	}
	return strings.Join(quoted, ", ")
}

func QualifiedName(quote QuoteFunc, loc TableLocator) string {
	return quote(loc.Schema) + "." + quote(loc.Table)
}

func LimitOneQuery(quote QuoteFunc, loc TableLocator, columns []Column) string {
	return fmt.Sprintf("SELECT %s FROM %s LIMIT 1", SelectList(quote, columns), QualifiedName(quote, loc))
}

// SQLConn implements Conn over database/sql.
type SQLConn struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLConn(db *sql.DB, dialect Dialect) *SQLConn {
	return &SQLConn{db: db, dialect: dialect}
}

func (c *SQLConn) DB() *sql.DB { return c.db }

func (c *SQLConn) Dialect() Dialect { return c.dialect }

func (c *SQLConn) Columns(ctx context.Context, loc TableLocator) ([]Column, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, c.dialect.TableExistsQuery(), loc.Schema, loc.Table).Scan(&count); err != nil {
		return nil, apperr.Wrap(apperr.ReflectionFailed, "table metadata lookup failed", fmt.Errorf("%s table lookup: %w", c.dialect.Name(), err))
	}
	if count == 0 {
		return nil, apperr.New(apperr.TableNotFound, fmt.Sprintf("table %s was not found", loc))
	}

	rows, err := c.db.QueryContext(ctx, c.dialect.ColumnsQuery(), loc.Schema, loc.Table)
	if err != nil {
		return nil, apperr.Wrap(apperr.ReflectionFailed, "column metadata lookup failed", fmt.Errorf("%s columns: %w", c.dialect.Name(), err))
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			name     string
			ordinal  int64
			dataType sql.NullString
		)
		if err := rows.Scan(&name, &ordinal, &dataType); err != nil {
			return nil, apperr.Wrap(apperr.ReflectionFailed, "column metadata lookup failed", fmt.Errorf("scan column: %w", err))
		}
		columns = append(columns, Column{Name: name, Position: len(columns), DataType: dataType.String})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ReflectionFailed, "column metadata lookup failed", fmt.Errorf("iterate columns: %w", err))
	}
	return columns, nil
}

func (c *SQLConn) FirstRow(ctx context.Context, loc TableLocator, columns []Column) ([]any, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.FirstRowQuery(loc, columns))
	if err != nil {
		return nil, apperr.Wrap(apperr.RowReadFailed, "row read failed", fmt.Errorf("%s first row: %w", c.dialect.Name(), err))
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, apperr.Wrap(apperr.RowReadFailed, "row read failed", fmt.Errorf("iterate rows: %w", err))
		}
		return nil, ErrNoRows
	}

	width := len(columns)
	if width == 0 {
		width = 1
	}
	values := make([]any, width)
	scanTargets := make([]any, width)
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := rows.Scan(scanTargets...); err != nil {
		return nil, apperr.Wrap(apperr.RowReadFailed, "row read failed", fmt.Errorf("scan row: %w", err))
	}
	if len(columns) == 0 {
		return []any{}, nil
	}

	if converter, ok := c.dialect.(ValueConverter); ok {
		for i, value := range values {
			values[i] = converter.ConvertValue(value)
		}
	}
	return values, nil
}

func (c *SQLConn) Close() error {
	return c.db.Close()
}

func RequireConnectionString(desc Descriptor) error {
	if strings.TrimSpace(desc.ConnectionString) == "" {
		return apperr.New(apperr.MalformedUpstreamResponse, "connection descriptor has no connection string")
	}
	return nil
}

// OpenSQL opens a single-connection handle and pings it within ctx.
func OpenSQL(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	return pingDB(ctx, driverName, db)
}

// OpenSQLConnector is OpenSQL for drivers configured through a driver.Connector.
func OpenSQLConnector(ctx context.Context, name string, connector driver.Connector) (*sql.DB, error) {
	if connector == nil {
		return nil, errors.New("connector is required")
	}
	return pingDB(ctx, name, sql.OpenDB(connector))
}

func pingDB(ctx context.Context, name string, db *sql.DB) (*sql.DB, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}
	return db, nil
}
