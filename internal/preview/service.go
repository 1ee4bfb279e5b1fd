// Package preview runs the resolve, connect, reflect and project pipeline for one table.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/observability"
	"github.com/embedgate/embedgate/internal/source"
)

const (
	DefaultColumnCap    = 10
	defaultQueryTimeout = 15 * time.Second
)

// Resolver turns a caller credential and catalog into a connection descriptor.
type Resolver interface {
	ResolveConnection(ctx context.Context, credential, catalog string) (source.Descriptor, error)
}

// Connections scopes one backend connection to one call.
type Connections interface {
	WithConnection(ctx context.Context, desc source.Descriptor, fn func(context.Context, source.Conn) error) error
}

type Config struct {
	ColumnCap    int
	QueryTimeout time.Duration
}

type Request struct {
	Credential  string `json:"credential"`
	CatalogName string `json:"catalogName"`
	SchemaName  string `json:"schemaName"`
	TableName   string `json:"tableName"`
}

// Locator keeps the names exactly as sent. Surrounding whitespace fails validation.
func (r Request) Locator() source.TableLocator {
	return source.TableLocator{Schema: r.SchemaName, Table: r.TableName}
}

type Service struct {
	logger       *slog.Logger
	resolver     Resolver
	connections  Connections
	columnCap    int
	queryTimeout time.Duration
}

func NewService(logger *slog.Logger, resolver Resolver, connections Connections, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	columnCap := cfg.ColumnCap
	if columnCap <= 0 {
		columnCap = DefaultColumnCap
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Service{
		logger:       logger,
		resolver:     resolver,
		connections:  connections,
		columnCap:    columnCap,
		queryTimeout: timeout,
	}
}

// Preview returns the first row of the requested table, keeping at most the configured
// number of columns. A table without rows yields source.ErrNoRows.
func (s *Service) Preview(ctx context.Context, req Request) (source.Projection, error) {
	started := time.Now()
	projection, desc, err := s.run(ctx, req)
	outcome := outcomeOf(err)
	observability.ObservePreview(outcome)

	attrs := []any{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("catalog", req.CatalogName),
		slog.String("table", req.Locator().String()),
		slog.String("credential", observability.MaskCredential(req.Credential)),
		slog.String("outcome", outcome),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()),
	}
	if desc.Driver != "" {
		attrs = append(attrs, slog.String("descriptor", desc.Redacted()))
	}
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "preview served", append(attrs, slog.Int("columns", projection.Len()))...)
	case errors.Is(err, source.ErrNoRows):
		s.logger.InfoContext(ctx, "preview table is empty", attrs...)
	default:
		s.logger.WarnContext(ctx, "preview failed", append(attrs, slog.String("error", observability.Mask(err.Error())))...)
	}
	return projection, err
}

func (s *Service) run(ctx context.Context, req Request) (source.Projection, source.Descriptor, error) {
	loc := req.Locator()
	if err := loc.Validate(); err != nil {
		return source.Projection{}, source.Descriptor{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	desc, err := s.resolver.ResolveConnection(ctx, req.Credential, strings.TrimSpace(req.CatalogName))
	if err != nil {
		return source.Projection{}, source.Descriptor{}, err
	}

	var projection source.Projection
	err = s.connections.WithConnection(ctx, desc, func(ctx context.Context, conn source.Conn) error {
		columns, err := source.Reflect(ctx, conn, loc)
		if err != nil {
			return err
		}
		projection, err = source.ProjectFirstRow(ctx, conn, loc, columns, s.columnCap)
		return err
	})
	if err != nil {
		return source.Projection{}, desc, err
	}
	return projection, desc, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperr.KindOf(err)))
}
