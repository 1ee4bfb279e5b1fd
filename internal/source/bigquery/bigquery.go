// Package bigquery reflects and reads BigQuery tables through the table metadata API and
// the query API.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/source"
)

type Connector struct {
	extraOptions []option.ClientOption
}

// NewConnector returns a connector. extra options are appended to every client and are
// meant for endpoint overrides.
func NewConnector(extra ...option.ClientOption) *Connector {
	return &Connector{extraOptions: extra}
}

func (*Connector) Driver() string { return "bigquery" }

// Open treats the connection string as the project ID. Credentials come from the
// credentialsJson or credentialsFile parameter, falling back to application defaults.
func (c *Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	project := strings.TrimSpace(strings.TrimPrefix(desc.ConnectionString, "bigquery://"))
	project = strings.TrimSuffix(project, "/")

	opts := make([]option.ClientOption, 0, 3+len(c.extraOptions))
	switch {
	case desc.Param("credentialsJson", "") != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(desc.Param("credentialsJson", ""))))
	case desc.Param("credentialsFile", "") != "":
		opts = append(opts, option.WithCredentialsFile(desc.Param("credentialsFile", "")))
	}
	if endpoint := desc.Param("endpoint", ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	opts = append(opts, c.extraOptions...)

	// The client outlives the connect timeout, so it must not inherit its cancellation.
	client, err := bigquery.NewClient(context.WithoutCancel(ctx), project, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &Conn{client: client, project: project, location: desc.Param("location", "")}, nil
}

type Conn struct {
	client   *bigquery.Client
	project  string
	location string
}

// Columns maps schema and table onto dataset and table.
func (c *Conn) Columns(ctx context.Context, loc source.TableLocator) ([]source.Column, error) {
	metadata, err := c.client.Dataset(loc.Schema).Table(loc.Table).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New(apperr.TableNotFound, fmt.Sprintf("table %s was not found", loc))
		}
		return nil, apperr.Wrap(apperr.ReflectionFailed, "table metadata lookup failed", fmt.Errorf("bigquery metadata: %w", err))
	}

	columns := make([]source.Column, 0, len(metadata.Schema))
	for i, field := range metadata.Schema {
		dataType := string(field.Type)
		if field.Repeated {
			dataType = "ARRAY<" + dataType + ">"
		}
		columns = append(columns, source.Column{Name: field.Name, Position: i, DataType: dataType})
	}
	return columns, nil
}

func (c *Conn) FirstRow(ctx context.Context, loc source.TableLocator, columns []source.Column) ([]any, error) {
	q := c.client.Query(FirstRowQuery(c.project, loc, columns))
	if c.location != "" {
		q.Location = c.location
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.RowReadFailed, "row read failed", fmt.Errorf("bigquery query: %w", err))
	}

	var row []bigquery.Value
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return nil, source.ErrNoRows
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.RowReadFailed, "row read failed", fmt.Errorf("bigquery row: %w", err))
	}
	if len(columns) == 0 {
		return []any{}, nil
	}

	values := make([]any, len(row))
	for i, value := range row {
		values[i] = value
	}
	return values, nil
}

func (c *Conn) Close() error {
	return c.client.Close()
}

// FirstRowQuery builds a standard SQL query over a fully qualified table.
func FirstRowQuery(project string, loc source.TableLocator, columns []source.Column) string {
	table := source.QuoteBacktick(project) + "." + source.QualifiedName(source.QuoteBacktick, loc)
	return fmt.Sprintf("SELECT %s FROM %s LIMIT 1", source.SelectList(source.QuoteBacktick, columns), table)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
