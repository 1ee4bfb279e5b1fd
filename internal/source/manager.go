package source

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/observability"
)

const defaultConnectTimeout = 5 * time.Second

// Manager scopes one backend connection to one call of WithConnection. Connections are
// never shared or cached between requests.
type Manager struct {
	logger         *slog.Logger
	connectTimeout time.Duration
	connectors     map[string]Connector
}

func NewManager(logger *slog.Logger, connectTimeout time.Duration, connectors ...Connector) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	m := &Manager{
		logger:         logger,
		connectTimeout: connectTimeout,
		connectors:     map[string]Connector{},
	}
	for _, connector := range connectors {
		m.Register(connector)
	}
	return m
}

// Register adds or replaces the connector for its driver. It must not be called once the
// manager serves requests.
func (m *Manager) Register(connector Connector) {
	m.connectors[NormalizeDriver(connector.Driver())] = connector
}

func (m *Manager) Supports(driver string) bool {
	_, ok := m.connectors[NormalizeDriver(driver)]
	return ok
}

func (m *Manager) Drivers() []string {
	drivers := make([]string, 0, len(m.connectors))
	for name := range m.connectors {
		drivers = append(drivers, name)
	}
	sort.Strings(drivers)
	return drivers
}

// WithConnection opens a connection for desc, hands it to fn and closes it before
// returning, whether fn returns, fails, panics or its context is cancelled.
func (m *Manager) WithConnection(ctx context.Context, desc Descriptor, fn func(context.Context, Conn) error) error {
	kind := desc.Kind()
	connector, ok := m.connectors[kind]
	if !ok {
		observability.ObserveConnectionFailed("unknown", "unsupported")
		return apperr.New(apperr.UnsupportedBackend, fmt.Sprintf("backend driver %q is not supported", desc.Driver))
	}

	openCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	conn, err := connector.Open(openCtx, desc)
	cancel()
	if err != nil {
		observability.ObserveConnectionFailed(kind, "error")
		m.logger.WarnContext(ctx, "backend connection failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("descriptor", desc.Redacted()),
			slog.String("error", observability.Mask(err.Error())),
		)
		if apperr.KindOf(err) != apperr.Internal {
			return err
		}
		return apperr.Wrap(apperr.ConnectionFailed, "backend connection failed", err)
	}
	if conn == nil {
		observability.ObserveConnectionFailed(kind, "error")
		return apperr.New(apperr.ConnectionFailed, "backend connection failed")
	}

	observability.ObserveConnectionOpened(kind)
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			m.logger.WarnContext(ctx, "backend connection close failed",
				slog.String("driver", kind),
				slog.String("error", observability.Mask(closeErr.Error())),
			)
		}
		observability.ObserveConnectionClosed()
	}()

	return fn(ctx, conn)
}
