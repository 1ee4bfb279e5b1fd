// Package apperr defines the failure taxonomy shared by the gateway's pipelines.
// Every outbound call site maps its outcome into one Kind so the HTTP layer can pick a
// status code and a stable error code without inspecting upstream error text.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	InvalidRequest            Kind = "INVALID_REQUEST"
	InvalidCredentials        Kind = "INVALID_CREDENTIALS"
	InvalidToken              Kind = "INVALID_TOKEN"
	UpstreamUnavailable       Kind = "UPSTREAM_UNAVAILABLE"
	MalformedUpstreamResponse Kind = "MALFORMED_UPSTREAM_RESPONSE"
	UnsupportedBackend        Kind = "UNSUPPORTED_BACKEND"
	ConnectionFailed          Kind = "CONNECTION_FAILED"
	TableNotFound             Kind = "TABLE_NOT_FOUND"
	ReflectionFailed          Kind = "REFLECTION_FAILED"
	RowReadFailed             Kind = "ROW_READ_FAILED"
	NoRows                    Kind = "NO_ROWS"
	SessionNegotiationFailed  Kind = "SESSION_NEGOTIATION_FAILED"
	Internal                  Kind = "INTERNAL"
)

// E wraps an underlying error with a kind and a caller-safe message.
// Message is what clients see; Err is kept for logs only.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

// Is matches another *E by kind, so errors.Is(err, apperr.New(TableNotFound, "")) works.
func (e *E) Is(target error) bool {
	var other *E
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the outermost *E in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps err to a response status. Upstream-facing kinds and backend reads
// become 504 when the failure was caused by a deadline.
func HTTPStatus(err error) int {
	kind := KindOf(err)
	switch kind {
	case InvalidRequest:
		return http.StatusBadRequest
	case InvalidCredentials:
		return http.StatusUnauthorized
	case InvalidToken:
		return http.StatusForbidden
	case TableNotFound:
		return http.StatusNotFound
	case UnsupportedBackend:
		return http.StatusNotImplemented
	case NoRows:
		return http.StatusNoContent
	case UpstreamUnavailable, MalformedUpstreamResponse, ConnectionFailed, SessionNegotiationFailed:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case ReflectionFailed, RowReadFailed:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(kind Kind) bool {
	switch kind {
	case UpstreamUnavailable, ConnectionFailed, SessionNegotiationFailed:
		return true
	default:
		return false
	}
}
