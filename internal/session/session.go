// Package session derives partner feature flags from a caller's role and starts an
// embedded analytics session.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/observability"
	"github.com/embedgate/embedgate/internal/registry"
)

// Policy maps roles to feature flags. It is read-only after construction.
type Policy struct {
	queryRoles map[string]struct{}
}

// NewPolicy enables queries for the given roles only.
func NewPolicy(queryRoles ...string) Policy {
	roles := make(map[string]struct{}, len(queryRoles))
	for _, role := range queryRoles {
		role = strings.TrimSpace(role)
		if role != "" {
			roles[role] = struct{}{}
		}
	}
	return Policy{queryRoles: roles}
}

func (p Policy) FlagsFor(role string) registry.FeatureFlags {
	_, queries := p.queryRoles[strings.TrimSpace(role)]
	return registry.FeatureFlags{CreateDataInPeaka: false, Queries: queries}
}

type Initiator interface {
	InitSession(ctx context.Context, req registry.SessionRequest) (registry.SessionResult, error)
}

type Request struct {
	Role          string          `json:"-"`
	ProjectID     string          `json:"projectId"`
	Theme         json.RawMessage `json:"theme"`
	ThemeOverride json.RawMessage `json:"themeOverride"`
}

type Negotiator struct {
	logger    *slog.Logger
	policy    Policy
	initiator Initiator
}

func NewNegotiator(logger *slog.Logger, policy Policy, initiator Initiator) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{logger: logger, policy: policy, initiator: initiator}
}

func (n *Negotiator) Negotiate(ctx context.Context, req Request) (registry.SessionResult, error) {
	flags := n.policy.FlagsFor(req.Role)
	result, err := n.initiator.InitSession(ctx, registry.SessionRequest{
		Theme:         req.Theme,
		ThemeOverride: req.ThemeOverride,
		ProjectID:     strings.TrimSpace(req.ProjectID),
		FeatureFlags:  flags,
	})
	if err != nil {
		observability.ObserveSessionNegotiation(flags.Queries, "error")
		n.logger.WarnContext(ctx, "session negotiation failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("project_id", req.ProjectID),
			slog.Bool("queries", flags.Queries),
			slog.String("error", observability.Mask(err.Error())),
		)
		if apperr.KindOf(err) != apperr.SessionNegotiationFailed {
			err = apperr.Wrap(apperr.SessionNegotiationFailed, "partner session could not be started", err)
		}
		return registry.SessionResult{}, err
	}

	observability.ObserveSessionNegotiation(flags.Queries, "ok")
	n.logger.InfoContext(ctx, "session negotiated",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("project_id", req.ProjectID),
		slog.Bool("queries", flags.Queries),
		slog.String("partner_origin", result.PartnerOrigin),
	)
	return result, nil
}
