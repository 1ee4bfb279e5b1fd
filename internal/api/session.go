package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/auth"
	"github.com/embedgate/embedgate/internal/observability"
	"github.com/embedgate/embedgate/internal/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type connectRequest struct {
	ProjectID     string          `json:"projectId"`
	Theme         json.RawMessage `json:"theme"`
	ThemeOverride json.RawMessage `json:"themeOverride"`
}

func handleLogin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Issuer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "LOGIN_NOT_CONFIGURED", "login is not configured", false)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(r.Context(), w, err)
		return
	}

	token, err := deps.Issuer.Login(strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "login rejected",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("username", req.Username),
			)
		}
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func handleConnect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSION_NOT_CONFIGURED", "session negotiation is not configured", false)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeAppError(r.Context(), w, apperr.New(apperr.InvalidToken, "Invalid Token"))
		return
	}
	var req connectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(r.Context(), w, err)
		return
	}

	result, err := deps.Sessions.Negotiate(r.Context(), session.Request{
		Role:          identity.Role,
		ProjectID:     req.ProjectID,
		Theme:         req.Theme,
		ThemeOverride: req.ThemeOverride,
	})
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
