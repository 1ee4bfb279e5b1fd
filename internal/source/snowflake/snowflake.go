// Package snowflake connects to Snowflake through gosnowflake.
package snowflake

import (
	"context"
	"strings"

	sf "github.com/snowflakedb/gosnowflake"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/source"
)

const (
	tableExistsQuery = `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema = ? AND table_name = ?`

	columnsQuery = `
SELECT column_name, ordinal_position, data_type
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`
)

type Dialect struct{}

func (Dialect) Name() string             { return "snowflake" }
func (Dialect) TableExistsQuery() string { return tableExistsQuery }
func (Dialect) ColumnsQuery() string     { return columnsQuery }

func (Dialect) FirstRowQuery(loc source.TableLocator, columns []source.Column) string {
	return source.LimitOneQuery(source.QuoteDouble, loc, columns)
}

type Connector struct{}

func NewConnector() *Connector { return &Connector{} }

func (*Connector) Driver() string { return "snowflake" }

func (*Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	dsn, err := DSNFromDescriptor(desc)
	if err != nil {
		return nil, err
	}
	db, err := source.OpenSQL(ctx, "snowflake", dsn)
	if err != nil {
		return nil, err
	}
	return NewConn(source.NewSQLConn(db, Dialect{})), nil
}

// Conn resolves locators the way Snowflake stores unquoted identifiers. An exact match
// wins; when there is none, the upper-cased schema and table are tried.
type Conn struct {
	*source.SQLConn
	resolved map[source.TableLocator]source.TableLocator
}

func NewConn(conn *source.SQLConn) *Conn {
	return &Conn{SQLConn: conn, resolved: map[source.TableLocator]source.TableLocator{}}
}

func (c *Conn) Columns(ctx context.Context, loc source.TableLocator) ([]source.Column, error) {
	columns, err := c.SQLConn.Columns(ctx, loc)
	if apperr.KindOf(err) != apperr.TableNotFound {
		if err == nil {
			c.resolved[loc] = loc
		}
		return columns, err
	}
	folded := source.TableLocator{Schema: strings.ToUpper(loc.Schema), Table: strings.ToUpper(loc.Table)}
	if folded == loc {
		return nil, err
	}
	columns, foldErr := c.SQLConn.Columns(ctx, folded)
	if foldErr != nil {
		if apperr.KindOf(foldErr) == apperr.TableNotFound {
			return nil, err
		}
		return nil, foldErr
	}
	c.resolved[loc] = folded
	return columns, nil
}

func (c *Conn) FirstRow(ctx context.Context, loc source.TableLocator, columns []source.Column) ([]any, error) {
	if resolved, ok := c.resolved[loc]; ok {
		loc = resolved
	}
	return c.SQLConn.FirstRow(ctx, loc, columns)
}

// DSNFromDescriptor applies warehouse, role and database overrides from the descriptor
// parameters to the registry's DSN.
func DSNFromDescriptor(desc source.Descriptor) (string, error) {
	cfg, err := sf.ParseDSN(desc.ConnectionString)
	if err != nil {
		return "", apperr.Wrap(apperr.MalformedUpstreamResponse, "connection descriptor is not a valid snowflake dsn", err)
	}
	cfg.Warehouse = desc.Param("warehouse", cfg.Warehouse)
	cfg.Role = desc.Param("role", cfg.Role)
	cfg.Database = desc.Param("database", cfg.Database)
	dsn, err := sf.DSN(cfg)
	if err != nil {
		return "", apperr.Wrap(apperr.MalformedUpstreamResponse, "connection descriptor is not a valid snowflake dsn", err)
	}
	return dsn, nil
}
