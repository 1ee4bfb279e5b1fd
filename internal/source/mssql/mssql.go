// Package mssql connects to SQL Server and Azure SQL through go-mssqldb.
package mssql

import (
	"context"
	"fmt"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/source"
)

const (
	tableExistsQuery = `
SELECT COUNT(*)
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`

	columnsQuery = `
SELECT COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`
)

type Dialect struct{}

func (Dialect) Name() string             { return "sqlserver" }
func (Dialect) TableExistsQuery() string { return tableExistsQuery }
func (Dialect) ColumnsQuery() string     { return columnsQuery }

// FirstRowQuery casts types the driver hands back as raw bytes to their text form.
func (Dialect) FirstRowQuery(loc source.TableLocator, columns []source.Column) string {
	return fmt.Sprintf("SELECT TOP 1 %s FROM %s", selectList(columns), source.QualifiedName(source.QuoteBracket, loc))
}

func selectList(columns []source.Column) string {
	if len(columns) == 0 {
		return "1"
	}
	parts := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted := source.QuoteBracket(column.Name)
		switch strings.ToLower(column.DataType) {
		case "uniqueidentifier":
			parts = append(parts, fmt.Sprintf("CONVERT(NVARCHAR(36), %s) AS %s", quoted, quoted))
		case "sql_variant", "xml", "hierarchyid", "geography", "geometry":
			parts = append(parts, fmt.Sprintf("CONVERT(NVARCHAR(MAX), %s) AS %s", quoted, quoted))
		default:
			parts = append(parts, quoted)
		}
	}
	return strings.Join(parts, ", ")
}

type Connector struct{}

func NewConnector() *Connector { return &Connector{} }

func (*Connector) Driver() string { return "sqlserver" }

func (*Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	connector, err := mssql.NewConnector(desc.ConnectionString)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedUpstreamResponse, "connection descriptor is not a valid sqlserver dsn", err)
	}
	db, err := source.OpenSQLConnector(ctx, "sqlserver", connector)
	if err != nil {
		return nil, err
	}
	return source.NewSQLConn(db, Dialect{}), nil
}
