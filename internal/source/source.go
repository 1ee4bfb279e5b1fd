// Package source opens caller-specified relational backends, reflects a table's columns at
// runtime and reads one normalized row from it.
package source

import (
	"context"
	"regexp"
	"strings"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/observability"
)

const maxIdentifierLength = 128

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ErrNoRows reports a reflected table that holds no rows.
var ErrNoRows = apperr.New(apperr.NoRows, "table has no rows")

// Descriptor is a resolved, backend-specific set of connection parameters.
type Descriptor struct {
	Driver           string            `json:"driver"`
	ConnectionString string            `json:"connectionString"`
	Parameters       map[string]string `json:"parameters,omitempty"`
}

// Kind returns the lower-cased driver name with aliases folded.
func (d Descriptor) Kind() string {
	return NormalizeDriver(d.Driver)
}

// Param returns a trimmed parameter value or fallback.
func (d Descriptor) Param(key, fallback string) string {
	if value, ok := d.Parameters[key]; ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// Redacted is safe to log.
func (d Descriptor) Redacted() string {
	return d.Kind() + " " + observability.Mask(d.ConnectionString)
}

var driverAliases = map[string]string{
	"postgresql": "postgres",
	"pgx":        "postgres",
	"mssql":      "sqlserver",
	"s3":         "s3parquet",
	"parquet":    "s3parquet",
}

func NormalizeDriver(driver string) string {
	kind := strings.ToLower(strings.TrimSpace(driver))
	if alias, ok := driverAliases[kind]; ok {
		return alias
	}
	return kind
}

// TableLocator names a table. Both parts come from the caller and are untrusted.
type TableLocator struct {
	Schema string `json:"schemaName"`
	Table  string `json:"tableName"`
}

func (l TableLocator) Validate() error {
	if err := validateIdentifier("schemaName", l.Schema); err != nil {
		return err
	}
	return validateIdentifier("tableName", l.Table)
}

func (l TableLocator) String() string {
	return l.Schema + "." + l.Table
}

func validateIdentifier(field, value string) error {
	if value == "" {
		return apperr.New(apperr.InvalidRequest, field+" is required")
	}
	if len(value) > maxIdentifierLength {
		return apperr.New(apperr.InvalidRequest, field+" is too long")
	}
	if !identifierPattern.MatchString(value) {
		return apperr.New(apperr.InvalidRequest, field+" may only contain letters, digits and underscores")
	}
	return nil
}

// Column is one reflected column. Position is zero-based.
type Column struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
	DataType string `json:"dataType,omitempty"`
}

// Conn is a live backend connection owned by a single request.
type Conn interface {
	// Columns returns the table's columns in ordinal order. A missing table yields a
	// TableNotFound error and an existing table without columns an empty slice.
	Columns(ctx context.Context, loc TableLocator) ([]Column, error)
	// FirstRow reads one row restricted to columns, in the same order. With no columns it
	// only checks that a row exists. An empty table yields ErrNoRows.
	FirstRow(ctx context.Context, loc TableLocator, columns []Column) ([]any, error)
	Close() error
}

// Connector opens connections for one driver family.
type Connector interface {
	Driver() string
	Open(ctx context.Context, desc Descriptor) (Conn, error)
}
