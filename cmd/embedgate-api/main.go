package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embedgate/embedgate/internal/api"
	"github.com/embedgate/embedgate/internal/auth"
	"github.com/embedgate/embedgate/internal/config"
	"github.com/embedgate/embedgate/internal/observability"
	"github.com/embedgate/embedgate/internal/preview"
	"github.com/embedgate/embedgate/internal/registry"
	"github.com/embedgate/embedgate/internal/session"
	"github.com/embedgate/embedgate/internal/source"
	"github.com/embedgate/embedgate/internal/source/bigquery"
	"github.com/embedgate/embedgate/internal/source/databricks"
	"github.com/embedgate/embedgate/internal/source/duckdb"
	"github.com/embedgate/embedgate/internal/source/mssql"
	"github.com/embedgate/embedgate/internal/source/mysql"
	"github.com/embedgate/embedgate/internal/source/objectstore"
	"github.com/embedgate/embedgate/internal/source/postgres"
	"github.com/embedgate/embedgate/internal/source/snowflake"
)

func main() {
	cfg, err := config.LoadFromEnv("embedgate-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	registryClient, err := registry.NewClient(registry.Config{
		BaseURL: cfg.Partner.BaseURL,
		APIKey:  cfg.Partner.APIKey,
		Timeout: cfg.Partner.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize partner registry client", slog.Any("error", err))
		os.Exit(1)
	}

	connections := source.NewManager(logger, cfg.Preview.ConnectTimeout,
		postgres.NewConnector(),
		postgres.NewRedshiftConnector(),
		mysql.NewConnector(),
		mssql.NewConnector(),
		snowflake.NewConnector(),
		databricks.NewConnector(),
		duckdb.NewConnector(),
		bigquery.NewConnector(),
		objectstore.NewConnector().WithLimits(objectstore.Limits{
			MaxObjectBytes: int64(cfg.Preview.ParquetMaxObjectMB) << 20,
			MaxObjects:     cfg.Preview.ParquetMaxObjects,
		}),
	)
	previews := preview.NewService(logger, registryClient, connections, preview.Config{
		ColumnCap:    cfg.Preview.ColumnCap,
		QueryTimeout: cfg.Preview.QueryTimeout,
	})

	users, err := auth.ParseUsers(cfg.Session.Users)
	if err != nil {
		logger.Error("failed to parse users", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:         logger,
		Issuer:         auth.NewIssuer(users, cfg.Session.TokenPrefix),
		Sessions:       session.NewNegotiator(logger, session.NewPolicy(cfg.Session.AdminRole), registryClient),
		Previews:       previews,
		AuthMiddleware: auth.Middleware(logger, auth.NewPrefixVerifier(cfg.Session.TokenPrefix)),
		Readiness: api.CombineReadinessChecks(
			api.CheckPartnerConfig(cfg),
			api.CheckConnectors(connections),
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Any("drivers", connections.Drivers()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
