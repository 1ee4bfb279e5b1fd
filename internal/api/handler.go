package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/auth"
	"github.com/embedgate/embedgate/internal/config"
	"github.com/embedgate/embedgate/internal/observability"
	"github.com/embedgate/embedgate/internal/preview"
	"github.com/embedgate/embedgate/internal/registry"
	"github.com/embedgate/embedgate/internal/session"
	"github.com/embedgate/embedgate/internal/source"
)

const maxBodyBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

type LoginIssuer interface {
	Login(username, password string) (auth.Token, error)
}

type SessionNegotiator interface {
	Negotiate(ctx context.Context, req session.Request) (registry.SessionResult, error)
}

type Previewer interface {
	Preview(ctx context.Context, req preview.Request) (source.Projection, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Issuer            LoginIssuer
	Sessions          SessionNegotiator
	Previews          Previewer
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	login := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleLogin(deps, w, r)
	})
	mux.Handle("POST /session/login", login)
	mux.Handle("POST /api/login", login)

	var connect http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleConnect(deps, w, r)
	})
	if deps.AuthMiddleware == nil {
		if deps.Logger != nil {
			deps.Logger.Error("auth middleware missing; session routes are disabled")
		}
		connect = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is not configured", false)
		})
	} else {
		connect = deps.AuthMiddleware(connect)
	}
	mux.Handle("POST /session/connect", connect)
	mux.Handle("POST /connect", connect)

	mux.HandleFunc("POST /data/preview", func(w http.ResponseWriter, r *http.Request) {
		handlePreview(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		middlewares = append([]func(http.Handler) http.Handler{corsMiddleware(cfg.CORS.AllowedOrigins)}, middlewares...)
	}
	return chain(mux, middlewares...)
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", auth.RoleHeader, "X-Trace-ID"},
		ExposedHeaders: []string{"X-Trace-ID"},
		MaxAge:         600,
	})
	return c.Handler
}

// CheckPartnerConfig reports whether the partner registry can be reached at all.
func CheckPartnerConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Partner.BaseURL == "" {
			return errors.New("partner api base url is not configured")
		}
		if cfg.Partner.APIKey == "" {
			return errors.New("partner api key is not configured")
		}
		return nil
	}
}

func CheckConnectors(manager interface{ Drivers() []string }) ReadinessCheck {
	return func(_ context.Context) error {
		if len(manager.Drivers()) == 0 {
			return errors.New("no backend connectors are registered")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.InvalidRequest, "request body must be valid JSON", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeAppError renders err through the failure taxonomy. Only the caller-safe message
// leaves the process.
func writeAppError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeError(ctx, w, apperr.HTTPStatus(err), string(kind), apperr.MessageOf(err), apperr.Retryable(kind))
}
