package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/embedgate/embedgate/internal/cli/embedgatectl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("EMBEDGATE_CLI_TIMEOUT")), 20*time.Second)
	keyringPassword := os.Getenv("EMBEDGATE_KEYRING_PASSWORD")
	options := embedgatectl.Options{
		BaseURL: envOr("EMBEDGATE_API_URL", "http://localhost:3001"),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		OpenStore: func() (embedgatectl.TokenStore, error) {
			return embedgatectl.OpenKeyringStore(keyringPassword)
		},
	}

	code := embedgatectl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid EMBEDGATE_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
