// Package embedgatectl is the command-line client for the gateway's HTTP surface.
package embedgatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/embedgate/embedgate/internal/source"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	OpenStore  func() (TokenStore, error)
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type httpError struct {
	status  int
	code    string
	message string
}

func (e *httpError) Error() string {
	if e.code == "" {
		return fmt.Sprintf("http %d: %s", e.status, e.message)
	}
	return fmt.Sprintf("http %d %s: %s", e.status, e.code, e.message)
}

// Run executes one command and returns the process exit code: 0 on success, 1 when the
// request failed and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintln(stderr, root.UsageString())
		return 2
	}
	return 1
}

type runner struct {
	opts    Options
	stdout  io.Writer
	baseURL string
	timeout time.Duration
}

func newRootCommand(opts Options, stdout io.Writer) *cobra.Command {
	r := &runner{opts: opts, stdout: stdout}

	root := &cobra.Command{
		Use:           "embedgatectl",
		Short:         "Command-line client for the embedgate API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return usageError{err: errors.New("a command is required")}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})
	root.PersistentFlags().StringVar(&r.baseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://localhost:3001"), "embedgate API base URL")
	root.PersistentFlags().DurationVar(&r.timeout, "timeout", durationOr(opts.Timeout, 20*time.Second), "HTTP timeout (e.g. 10s)")

	root.AddCommand(
		r.healthCommand(),
		r.loginCommand(),
		r.logoutCommand(),
		r.connectCommand(),
		r.previewCommand(),
	)
	return root
}

func (r *runner) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "GET /health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, body, err := r.call(cmd.Context(), http.MethodGet, "/health", nil, nil)
			if err != nil {
				return err
			}
			r.printJSON(body)
			return nil
		},
	}
}

func (r *runner) loginCommand() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session token in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(username) == "" || password == "" {
				return usageError{err: errors.New("--username and --password are required")}
			}
			store, err := r.store()
			if err != nil {
				return err
			}
			_, body, err := r.call(cmd.Context(), http.MethodPost, "/session/login", map[string]string{
				"username": username,
				"password": password,
			}, nil)
			if err != nil {
				return err
			}
			var token struct {
				Token string `json:"token"`
				Role  string `json:"role"`
			}
			if err := json.Unmarshal(body, &token); err != nil {
				return fmt.Errorf("decode login response: %w", err)
			}
			if err := store.Save(Session{BaseURL: r.baseURL, Token: token.Token, Role: token.Role}); err != nil {
				return err
			}
			pterm.Fprintln(r.stdout, pterm.Sprintf("logged in as %s (role %s)", username, token.Role))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "user name")
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func (r *runner) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := r.store()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			pterm.Fprintln(r.stdout, "logged out")
			return nil
		},
	}
}

func (r *runner) connectCommand() *cobra.Command {
	var projectID, theme, themeOverride string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Start an embedded analytics session for the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := r.store()
			if err != nil {
				return err
			}
			session, err := store.Load()
			if err != nil {
				return err
			}

			payload := map[string]any{"projectId": projectID}
			if theme != "" {
				payload["theme"] = theme
			}
			if themeOverride != "" {
				var override any
				if err := json.Unmarshal([]byte(themeOverride), &override); err != nil {
					return usageError{err: fmt.Errorf("--theme-override must be JSON: %w", err)}
				}
				payload["themeOverride"] = override
			}
			headers := map[string]string{"Authorization": "Bearer " + session.Token}
			if session.Role != "" {
				headers["role"] = session.Role
			}

			_, body, err := r.call(cmd.Context(), http.MethodPost, "/session/connect", payload, headers)
			if err != nil {
				return err
			}
			var result struct {
				SessionURL    string `json:"sessionUrl"`
				PartnerOrigin string `json:"partnerOrigin"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("decode connect response: %w", err)
			}
			return r.printTable(pterm.TableData{
				{"field", "value"},
				{"sessionUrl", result.SessionURL},
				{"partnerOrigin", result.PartnerOrigin},
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "partner project ID")
	cmd.Flags().StringVar(&theme, "theme", "", "theme name")
	cmd.Flags().StringVar(&themeOverride, "theme-override", "", "theme override as a JSON object")
	return cmd
}

func (r *runner) previewCommand() *cobra.Command {
	var credential, catalog, schema, table string
	var raw bool
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the first row of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if credential == "" || catalog == "" || schema == "" || table == "" {
				return usageError{err: errors.New("--credential, --catalog, --schema and --table are required")}
			}
			status, body, err := r.call(cmd.Context(), http.MethodPost, "/data/preview", map[string]string{
				"credential":  credential,
				"catalogName": catalog,
				"schemaName":  schema,
				"tableName":   table,
			}, nil)
			if err != nil {
				return err
			}
			if status == http.StatusNoContent {
				pterm.Fprintln(r.stdout, fmt.Sprintf("%s.%s has no rows", schema, table))
				return nil
			}
			if raw {
				r.printJSON(body)
				return nil
			}

			var projection source.Projection
			if err := json.Unmarshal(body, &projection); err != nil {
				return fmt.Errorf("decode preview response: %w", err)
			}
			data := pterm.TableData{{"column", "value"}}
			for _, field := range projection.Fields() {
				data = append(data, []string{field.Name, displayValue(field.Value)})
			}
			return r.printTable(data)
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "registry credential")
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalog name")
	cmd.Flags().StringVar(&schema, "schema", "", "schema name")
	cmd.Flags().StringVar(&table, "table", "", "table name")
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON response")
	return cmd
}

func (r *runner) store() (TokenStore, error) {
	if r.opts.OpenStore == nil {
		return nil, errors.New("no token store is configured")
	}
	return r.opts.OpenStore()
}

func (r *runner) call(ctx context.Context, method, path string, payload any, headers map[string]string) (int, []byte, error) {
	client := r.opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: r.timeout}
	}
	endpoint := strings.TrimRight(r.baseURL, "/") + path
	status, body, err := doRequest(ctx, client, method, endpoint, payload, headers)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	if status >= 400 {
		return status, body, decodeHTTPError(status, body)
	}
	return status, body, nil
}

func doRequest(ctx context.Context, client *http.Client, method, url string, payload any, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func decodeHTTPError(status int, body []byte) error {
	var parsed struct {
		Code    string `json:"error_code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Message == "" {
		return &httpError{status: status, message: strings.TrimSpace(string(body))}
	}
	return &httpError{status: status, code: parsed.Code, message: parsed.Message}
}

func (r *runner) printJSON(raw []byte) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, _ = fmt.Fprintln(r.stdout, string(raw))
		return
	}
	_, _ = fmt.Fprintln(r.stdout, out.String())
}

func (r *runner) printTable(data pterm.TableData) error {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	_, _ = fmt.Fprintln(r.stdout, rendered)
	return nil
}

func displayValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
