// Package mysql connects to MySQL and MariaDB through go-sql-driver/mysql.
package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

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

func (Dialect) Name() string             { return "mysql" }
func (Dialect) TableExistsQuery() string { return tableExistsQuery }
func (Dialect) ColumnsQuery() string     { return columnsQuery }

func (Dialect) FirstRowQuery(loc source.TableLocator, columns []source.Column) string {
	return source.LimitOneQuery(source.QuoteBacktick, loc, columns)
}

type Connector struct{}

func NewConnector() *Connector { return &Connector{} }

func (*Connector) Driver() string { return "mysql" }

func (*Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	cfg, err := ConfigFromDescriptor(desc)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db, err := source.OpenSQLConnector(ctx, "mysql", connector)
	if err != nil {
		return nil, err
	}
	return source.NewSQLConn(db, Dialect{}), nil
}

// ConfigFromDescriptor parses the DSN and forces time parsing so DATETIME columns arrive
// as time.Time rather than raw bytes.
func ConfigFromDescriptor(desc source.Descriptor) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(desc.ConnectionString)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedUpstreamResponse, "connection descriptor is not a valid mysql dsn", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	if tz := desc.Param("timezone", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, apperr.Wrap(apperr.MalformedUpstreamResponse, "connection descriptor has an unknown timezone", err)
		}
		cfg.Loc = loc
	}
	return cfg, nil
}
