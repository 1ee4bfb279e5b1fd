// Package postgres connects to PostgreSQL through pgx and to Redshift through lib/pq.
package postgres

import (
	"context"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/embedgate/embedgate/internal/source"
)

const (
	tableExistsQuery = `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema = $1 AND table_name = $2`

	columnsQuery = `
SELECT column_name, ordinal_position, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
)

type Dialect struct {
	name  string
	quote source.QuoteFunc
}

func (d Dialect) Name() string             { return d.name }
func (d Dialect) TableExistsQuery() string { return tableExistsQuery }
func (d Dialect) ColumnsQuery() string     { return columnsQuery }

func (d Dialect) FirstRowQuery(loc source.TableLocator, columns []source.Column) string {
	return source.LimitOneQuery(d.quote, loc, columns)
}

type Connector struct {
	driver    string
	sqlDriver string
	dialect   Dialect
}

// NewConnector serves the "postgres" driver kind over pgx.
func NewConnector() *Connector {
	return &Connector{
		driver:    "postgres",
		sqlDriver: "pgx",
		dialect:   Dialect{name: "postgres", quote: source.QuoteDouble},
	}
}

// NewRedshiftConnector serves the "redshift" driver kind over lib/pq.
func NewRedshiftConnector() *Connector {
	return &Connector{
		driver:    "redshift",
		sqlDriver: "postgres",
		dialect:   Dialect{name: "redshift", quote: pq.QuoteIdentifier},
	}
}

func (c *Connector) Driver() string { return c.driver }

func (c *Connector) Dialect() Dialect { return c.dialect }

func (c *Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	db, err := source.OpenSQL(ctx, c.sqlDriver, desc.ConnectionString)
	if err != nil {
		return nil, err
	}
	return source.NewSQLConn(db, c.dialect), nil
}
