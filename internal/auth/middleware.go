package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

// RoleHeader carries the caller's role on session requests.
const RoleHeader = "role"

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Decision is the typed outcome of checking one request.
type Decision struct {
	Allowed  bool
	Identity Identity
	Reason   string
}

type Verifier interface {
	Verify(ctx context.Context, r *http.Request) Decision
}

// PrefixVerifier accepts bearer tokens of the form <prefix><unix-seconds>, the seconds
// written as unsigned decimal digits.
type PrefixVerifier struct {
	prefix string
}

func NewPrefixVerifier(prefix string) *PrefixVerifier {
	return &PrefixVerifier{prefix: prefix}
}

func (v *PrefixVerifier) Verify(_ context.Context, r *http.Request) Decision {
	token := extractBearer(r)
	if token == "" {
		return Decision{Reason: "missing bearer token"}
	}
	if v.prefix == "" || !strings.HasPrefix(token, v.prefix) {
		return Decision{Reason: "unexpected token prefix"}
	}
	// ParseUint takes no sign, so only plain digits that fit an int64 pass.
	if _, err := strconv.ParseUint(strings.TrimPrefix(token, v.prefix), 10, 63); err != nil {
		return Decision{Reason: "malformed token suffix"}
	}
	return Decision{
		Allowed: true,
		Identity: Identity{
			Token: token,
			Role:  strings.TrimSpace(r.Header.Get(RoleHeader)),
		},
	}
}

func Middleware(logger *slog.Logger, verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := verifier.Verify(r.Context(), r)
			if !decision.Allowed {
				if logger != nil {
					logger.WarnContext(r.Context(), "token rejected",
						slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
						slog.String("path", r.URL.Path),
						slog.String("reason", decision.Reason),
					)
				}
				writeForbidden(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), decision.Identity)))
		})
	}
}

func extractBearer(r *http.Request) string {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return ""
	}
	const bearerPrefix = "Bearer "
	if strings.HasPrefix(authorization, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	}
	return ""
}

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": string(apperr.InvalidToken),
		"message":    "Invalid Token",
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
