// Package objectstore serves tables stored as parquet files in an S3 compatible bucket.
// Objects under <schema>/<table>/ are downloaded in key order into a scratch directory
// until one holds a row, and the downloaded files are exposed as a DuckDB view of the
// same name.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/source"
	"github.com/embedgate/embedgate/internal/source/duckdb"
	"github.com/embedgate/embedgate/internal/storage"
	"github.com/embedgate/embedgate/internal/storage/s3"
)

// StoreFactory builds the object store behind a descriptor.
type StoreFactory func(ctx context.Context, cfg s3.Config) (storage.ObjectStore, error)

const (
	DefaultMaxObjectBytes = 64 << 20
	DefaultMaxObjects     = 8
)

// Limits bound what a single preview pulls from the bucket.
type Limits struct {
	// MaxObjectBytes caps the size of any one downloaded object.
	MaxObjectBytes int64
	// MaxObjects caps how many objects are downloaded while looking for a row.
	MaxObjects int
}

func (l Limits) withDefaults() Limits {
	if l.MaxObjectBytes <= 0 {
		l.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if l.MaxObjects <= 0 {
		l.MaxObjects = DefaultMaxObjects
	}
	return l
}

type Connector struct {
	newStore StoreFactory
	scratch  string
	limits   Limits
}

func NewConnector() *Connector {
	return NewConnectorWithFactory(func(ctx context.Context, cfg s3.Config) (storage.ObjectStore, error) {
		return s3.New(ctx, cfg)
	}, "")
}

// NewConnectorWithFactory uses newStore in place of the S3 client. scratch is the parent
// of per-connection download directories; empty means the OS temp dir.
func NewConnectorWithFactory(newStore StoreFactory, scratch string) *Connector {
	return &Connector{newStore: newStore, scratch: scratch, limits: Limits{}.withDefaults()}
}

// WithLimits replaces the download limits. Zero fields keep their defaults.
func (c *Connector) WithLimits(limits Limits) *Connector {
	c.limits = limits.withDefaults()
	return c
}

func (*Connector) Driver() string { return "s3parquet" }

func (c *Connector) Open(ctx context.Context, desc source.Descriptor) (source.Conn, error) {
	if err := source.RequireConnectionString(desc); err != nil {
		return nil, err
	}
	cfg, err := ConfigFromDescriptor(desc)
	if err != nil {
		return nil, err
	}
	store, err := c.newStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", cfg.Bucket, err)
	}

	dir, err := os.MkdirTemp(c.scratch, "embedgate-parquet-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	engine, err := duckdb.Open(ctx, "")
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Conn{
		store:   store,
		engine:  engine,
		dialect: engineDialect(engine),
		dir:     dir,
		limits:  c.limits,
		tables:  map[source.TableLocator]int64{},
	}, nil
}

// ConfigFromDescriptor reads s3://bucket/prefix plus endpoint, region, accessKeyId,
// secretAccessKey, sessionToken and useSSL parameters.
func ConfigFromDescriptor(desc source.Descriptor) (s3.Config, error) {
	parsed, err := url.Parse(strings.TrimSpace(desc.ConnectionString))
	if err != nil || parsed.Scheme != "s3" || parsed.Host == "" {
		return s3.Config{}, apperr.New(apperr.MalformedUpstreamResponse, "s3parquet connection string must look like s3://bucket/prefix")
	}
	endpoint := desc.Param("endpoint", "")
	if endpoint == "" {
		return s3.Config{}, apperr.New(apperr.MalformedUpstreamResponse, "s3parquet descriptor needs an endpoint")
	}
	useSSL, err := strconv.ParseBool(desc.Param("useSSL", "true"))
	if err != nil {
		return s3.Config{}, apperr.Wrap(apperr.MalformedUpstreamResponse, "s3parquet descriptor has an invalid useSSL", err)
	}
	return s3.Config{
		Endpoint:        endpoint,
		Region:          desc.Param("region", ""),
		Bucket:          parsed.Host,
		Prefix:          strings.Trim(parsed.Path, "/"),
		AccessKeyID:     desc.Param("accessKeyId", ""),
		SecretAccessKey: desc.Param("secretAccessKey", ""),
		SessionToken:    desc.Param("sessionToken", ""),
		UseSSL:          useSSL,
	}, nil
}

type Conn struct {
	store   storage.ObjectStore
	engine  *source.SQLConn
	dialect duckdb.Dialect
	dir     string
	limits  Limits
	// tables holds the row count of every materialized view.
	tables map[source.TableLocator]int64
}

func engineDialect(engine *source.SQLConn) duckdb.Dialect {
	if dialect, ok := engine.Dialect().(duckdb.Dialect); ok {
		return dialect
	}
	return duckdb.Dialect{}
}

func (c *Conn) Columns(ctx context.Context, loc source.TableLocator) ([]source.Column, error) {
	if err := c.materialize(ctx, loc); err != nil {
		return nil, err
	}
	return c.engine.Columns(ctx, loc)
}

func (c *Conn) FirstRow(ctx context.Context, loc source.TableLocator, columns []source.Column) ([]any, error) {
	if err := c.materialize(ctx, loc); err != nil {
		return nil, err
	}
	if c.tables[loc] == 0 {
		return nil, source.ErrNoRows
	}
	return c.engine.FirstRow(ctx, loc, columns)
}

func (c *Conn) Close() error {
	err := c.engine.Close()
	if removeErr := os.RemoveAll(c.dir); removeErr != nil && err == nil {
		err = fmt.Errorf("remove scratch dir: %w", removeErr)
	}
	return err
}

func (c *Conn) materialize(ctx context.Context, loc source.TableLocator) error {
	if _, ok := c.tables[loc]; ok {
		return nil
	}
	prefix, err := storage.TablePrefix(loc.Schema, loc.Table)
	if err != nil {
		return apperr.Wrap(apperr.InvalidRequest, "invalid table locator", err)
	}
	objects, err := c.store.List(ctx, prefix)
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return apperr.Wrap(apperr.ReflectionFailed, "listing table objects failed", err)
	}

	parts := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		if storage.IsParquetKey(object.Key) {
			parts = append(parts, object)
		}
	}
	if len(parts) == 0 {
		return apperr.New(apperr.TableNotFound, fmt.Sprintf("table %s was not found", loc))
	}
	slices.SortFunc(parts, func(a, b storage.ObjectInfo) int { return strings.Compare(a.Key, b.Key) })

	tableDir := filepath.Join(c.dir, loc.Schema, loc.Table)
	if err := os.MkdirAll(tableDir, 0o700); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	var (
		files  = make([]string, 0, 1)
		layout []string
		rows   int64
	)
	for i, part := range parts {
		if rows > 0 {
			break
		}
		if i == c.limits.MaxObjects {
			return apperr.New(apperr.RowReadFailed, fmt.Sprintf("no row found in the first %d objects of %s", c.limits.MaxObjects, loc))
		}
		if part.Size > c.limits.MaxObjectBytes {
			return errObjectTooLarge(part.Key, c.limits.MaxObjectBytes)
		}
		local := filepath.Join(tableDir, fmt.Sprintf("part-%05d.parquet", i))
		if err := c.download(ctx, part.Key, local); err != nil {
			if apperr.KindOf(err) == apperr.RowReadFailed {
				return err
			}
			return apperr.Wrap(apperr.ReflectionFailed, "downloading table data failed", err)
		}
		names, count, err := inspect(local)
		if err != nil {
			return apperr.Wrap(apperr.ReflectionFailed, fmt.Sprintf("object %s is not readable parquet", part.Key), err)
		}
		if layout == nil {
			layout = names
		} else if !slices.Equal(layout, names) {
			return apperr.New(apperr.ReflectionFailed, fmt.Sprintf("object %s does not match the schema of the other files in %s", part.Key, loc))
		}
		rows += count
		files = append(files, local)
	}

	for _, statement := range viewStatements(c.dialect, loc, files) {
		if _, err := c.engine.DB().ExecContext(ctx, statement); err != nil {
			return apperr.Wrap(apperr.ReflectionFailed, "creating table view failed", err)
		}
	}
	c.tables[loc] = rows
	return nil
}

func errObjectTooLarge(key string, limit int64) error {
	return apperr.New(apperr.RowReadFailed, fmt.Sprintf("object %s exceeds the %d byte download limit", key, limit))
}

func (c *Conn) download(ctx context.Context, key, local string) error {
	reader, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer reader.Close()

	file, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}
	// Listed sizes can be stale, so the copy is capped as well.
	written, err := io.Copy(file, io.LimitReader(reader, c.limits.MaxObjectBytes+1))
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	if written > c.limits.MaxObjectBytes {
		_ = file.Close()
		return errObjectTooLarge(key, c.limits.MaxObjectBytes)
	}
	return file.Close()
}

// inspect returns the top-level field names and row count from a parquet footer.
func inspect(local string) ([]string, int64, error) {
	file, err := os.Open(local)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, err
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, 0, err
	}
	fields := pf.Schema().Fields()
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		names = append(names, field.Name())
	}
	return names, pf.NumRows(), nil
}

func viewStatements(dialect duckdb.Dialect, loc source.TableLocator, files []string) []string {
	quoted := make([]string, 0, len(files))
	for _, file := range files {
		quoted = append(quoted, "'"+strings.ReplaceAll(filepath.ToSlash(file), "'", "''")+"'")
	}
	return []string{
		"CREATE SCHEMA IF NOT EXISTS " + schemaName(dialect, loc.Schema),
		fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet([%s])",
			dialect.TableName(loc), strings.Join(quoted, ", ")),
	}
}

func schemaName(dialect duckdb.Dialect, schema string) string {
	if dialect.Catalog == "" {
		return source.QuoteDouble(schema)
	}
	return source.QuoteDouble(dialect.Catalog) + "." + source.QuoteDouble(schema)
}
