// Package databricks connects to Databricks SQL warehouses through databricks-sql-go.
package databricks

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	dbsql "github.com/databricks/databricks-sql-go"

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

func (Dialect) Name() string             { return "databricks" }
func (Dialect) TableExistsQuery() string { return tableExistsQuery }
func (Dialect) ColumnsQuery() string     { return columnsQuery }

func (Dialect) FirstRowQuery(loc source.TableLocator, columns []source.Column) string {
	return source.LimitOneQuery(source.QuoteBacktick, loc, columns)
}

type Connector struct{}

func NewConnector() *Connector { return &Connector{} }

func (*Connector) Driver() string { return "databricks" }

// Open accepts either a full databricks:// DSN, or a server hostname with httpPath and
// accessToken parameters.
func (*Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	if strings.Contains(desc.ConnectionString, "@") {
		db, err := source.OpenSQL(ctx, "databricks", desc.ConnectionString)
		if err != nil {
			return nil, err
		}
		return source.NewSQLConn(db, Dialect{}), nil
	}

	connector, err := connectorFromParameters(desc)
	if err != nil {
		return nil, err
	}
	db, err := source.OpenSQLConnector(ctx, "databricks", connector)
	if err != nil {
		return nil, err
	}
	return source.NewSQLConn(db, Dialect{}), nil
}

func connectorFromParameters(desc source.Descriptor) (driver.Connector, error) {
	httpPath := desc.Param("httpPath", "")
	token := desc.Param("accessToken", "")
	if httpPath == "" || token == "" {
		return nil, apperr.New(apperr.MalformedUpstreamResponse, "databricks descriptor needs httpPath and accessToken")
	}
	port, err := strconv.Atoi(desc.Param("port", "443"))
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedUpstreamResponse, "databricks descriptor has an invalid port", err)
	}

	connector, err := dbsql.NewConnector(
		dbsql.WithServerHostname(strings.TrimSpace(desc.ConnectionString)),
		dbsql.WithPort(port),
		dbsql.WithHTTPPath(httpPath),
		dbsql.WithAccessToken(token),
		dbsql.WithUserAgentEntry("embedgate"),
		dbsql.WithInitialNamespace(desc.Param("catalog", ""), desc.Param("schema", "")),
	)
	if err != nil {
		return nil, fmt.Errorf("databricks connector: %w", err)
	}
	return connector, nil
}
