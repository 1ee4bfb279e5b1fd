// Package registry talks to the partner service that resolves catalogs into connection
// descriptors and starts embedded analytics sessions.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/embedgate/embedgate/internal/apperr"
	"github.com/embedgate/embedgate/internal/observability"
	"github.com/embedgate/embedgate/internal/source"
)

const (
	opResolveConnection = "resolve_connection"
	opInitSession       = "init_session"

	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		timeout: timeout,
		client:  &http.Client{},
	}, nil
}

type connectionResponse struct {
	Driver           string            `json:"driver"`
	ConnectionString string            `json:"connectionString"`
	Parameters       map[string]string `json:"parameters"`
}

// ResolveConnection asks the registry for the descriptor of catalog, authenticating with
// the caller's credential.
func (c *Client) ResolveConnection(ctx context.Context, credential, catalog string) (source.Descriptor, error) {
	credential = strings.TrimSpace(credential)
	catalog = strings.TrimSpace(catalog)
	if credential == "" {
		return source.Descriptor{}, apperr.New(apperr.InvalidRequest, "credential is required")
	}
	if catalog == "" {
		return source.Descriptor{}, apperr.New(apperr.InvalidRequest, "catalogName is required")
	}

	started := time.Now()
	desc, err := c.resolve(ctx, credential, catalog)
	observability.ObserveRegistryRequest(opResolveConnection, outcomeOf(err), time.Since(started))
	return desc, err
}

func (c *Client) resolve(ctx context.Context, credential, catalog string) (source.Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/catalogs/" + url.PathEscape(catalog) + "/connection"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return source.Descriptor{}, apperr.Wrap(apperr.UpstreamUnavailable, "registry request could not be built", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	status, body, err := c.do(httpReq)
	if err != nil {
		return source.Descriptor{}, apperr.Wrap(apperr.UpstreamUnavailable, "registry is unavailable", err)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return source.Descriptor{}, apperr.New(apperr.InvalidCredentials, "registry rejected the credential")
	case status < 200 || status > 299:
		return source.Descriptor{}, apperr.Wrap(apperr.UpstreamUnavailable, "registry is unavailable", fmt.Errorf("resolve connection status=%d", status))
	}

	var parsed connectionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return source.Descriptor{}, apperr.Wrap(apperr.MalformedUpstreamResponse, "registry returned an unreadable connection descriptor", fmt.Errorf("decode connection response: %w", err))
	}
	if strings.TrimSpace(parsed.Driver) == "" {
		return source.Descriptor{}, apperr.New(apperr.MalformedUpstreamResponse, "registry descriptor has no driver")
	}
	if strings.TrimSpace(parsed.ConnectionString) == "" {
		return source.Descriptor{}, apperr.New(apperr.MalformedUpstreamResponse, "registry descriptor has no connection string")
	}
	return source.Descriptor{
		Driver:           strings.TrimSpace(parsed.Driver),
		ConnectionString: parsed.ConnectionString,
		Parameters:       parsed.Parameters,
	}, nil
}

// FeatureFlags is the partner's switch set for an embedded session.
type FeatureFlags struct {
	CreateDataInPeaka bool `json:"createDataInPeaka"`
	Queries           bool `json:"queries"`
}

type SessionRequest struct {
	Theme         json.RawMessage `json:"theme"`
	ThemeOverride json.RawMessage `json:"themeOverride"`
	ProjectID     string          `json:"projectId"`
	FeatureFlags  FeatureFlags    `json:"featureFlags"`
}

type SessionResult struct {
	SessionURL    string `json:"sessionUrl"`
	PartnerOrigin string `json:"partnerOrigin"`
}

// InitSession starts an embedded session using the server-held partner key.
func (c *Client) InitSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	started := time.Now()
	result, err := c.initSession(ctx, req)
	observability.ObserveRegistryRequest(opInitSession, outcomeOf(err), time.Since(started))
	if err != nil {
		return SessionResult{}, apperr.Wrap(apperr.SessionNegotiationFailed, "partner session could not be started", err)
	}
	return result, nil
}

func (c *Client) initSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return SessionResult{}, fmt.Errorf("marshal session payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ui/initSession", bytes.NewReader(payload))
	if err != nil {
		return SessionResult{}, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	status, body, err := c.do(httpReq)
	if err != nil {
		return SessionResult{}, err
	}
	if status < 200 || status > 299 {
		return SessionResult{}, fmt.Errorf("init session failed status=%d body=%s", status, observability.Mask(truncate(string(body), 256)))
	}

	var parsed SessionResult
	if err := json.Unmarshal(body, &parsed); err != nil {
		return SessionResult{}, fmt.Errorf("decode session response: %w", err)
	}
	if strings.TrimSpace(parsed.SessionURL) == "" {
		return SessionResult{}, fmt.Errorf("session response has no sessionUrl")
	}
	if strings.TrimSpace(parsed.PartnerOrigin) == "" {
		return SessionResult{}, fmt.Errorf("session response has no partnerOrigin")
	}
	return parsed, nil
}

func (c *Client) do(httpReq *http.Request) (int, []byte, error) {
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", httpReq.Method, httpReq.URL.Path, scrub(err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// scrub drops the request URL from transport errors while keeping the cause chain.
func scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return strings.ToLower(string(apperr.KindOf(err)))
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
