// Package app wires the application components together: configuration,
// policy, store, cache, providers, the review pipeline, and the HTTP
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sevigo/pr-warden/internal/budget"
	"github.com/sevigo/pr-warden/internal/cache"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/db"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/pipeline"
	"github.com/sevigo/pr-warden/internal/server"
	"github.com/sevigo/pr-warden/internal/store"
)

// App holds the wired application components.
type App struct {
	cfg     *config.Config
	runner  *pipeline.Runner
	server  *server.Server
	logger  *slog.Logger
	cleanup func()
}

// NewApp builds the full dependency graph from configuration.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger.Info("initializing pr-warden",
		"repos", len(cfg.Repos),
		"model", cfg.Model,
		"review_mode", cfg.ReviewMode,
		"store", cfg.StoreDriver,
	)

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		if !errors.Is(err, config.ErrPolicyNotFound) {
			return nil, fmt.Errorf("failed to load review policy: %w", err)
		}
		logger.Info("no policy file found, using default path policy", "path", cfg.PolicyPath)
	}
	classifier := budget.NewClassifier(policy.ZoneRules())

	ctxStore, cleanup, err := newContextStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	resultCache := cache.NewSQLiteCache(cfg.CachePath, logger)

	ghClient, err := newGitHubClient(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	builder, err := llm.NewBuilder()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to build prompt templates: %w", err)
	}

	generator := llm.NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.Model, logger)
	engine := llm.NewEngine(generator, builder, resultCache, cfg.MaxOutputTokens, logger)

	runner := pipeline.NewRunner(cfg, ghClient, ctxStore, engine, builder, classifier, logger)
	httpServer := server.NewServer(ctx, cfg, runner, logger)

	logger.Info("pr-warden initialized")
	return &App{
		cfg:     cfg,
		runner:  runner,
		server:  httpServer,
		logger:  logger,
		cleanup: cleanup,
	}, nil
}

// Runner exposes the review pipeline for one-shot CLI runs.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Start runs the HTTP server and blocks until shutdown.
func (a *App) Start() error {
	a.logger.Info("starting pr-warden", "server_port", a.cfg.ServerPort)
	if err := a.server.Start(); err != nil {
		a.logger.Error("failed to start HTTP server", "error", err)
		return err
	}
	return nil
}

// Stop shuts the application down cleanly.
func (a *App) Stop() error {
	a.logger.Info("shutting down pr-warden")

	err := a.server.Stop()
	if err != nil {
		a.logger.Error("error during HTTP server shutdown", "error", err)
	}

	a.cleanup()

	if err != nil {
		return err
	}
	a.logger.Info("pr-warden stopped")
	return nil
}

// Close releases resources without touching the HTTP server; used by the
// CLI, which never starts one.
func (a *App) Close() {
	a.cleanup()
}

// newContextStore selects the context store driver: in-memory for single
// runner deployments, Postgres when runs race across processes.
func newContextStore(cfg *config.Config, logger *slog.Logger) (store.ContextStore, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Info("using in-memory context store")
		return store.NewMemoryStore(), func() {}, nil
	}

	dbConn, cleanup, err := db.NewDatabase(cfg.Database, logger)
	if err != nil {
		return nil, func() {}, err
	}
	return store.NewPostgresStore(dbConn.DB), cleanup, nil
}

// newGitHubClient picks the auth mode: GitHub App installation when the App
// triple is configured, personal access token otherwise.
func newGitHubClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (github.Client, error) {
	if cfg.GitHubAppID != 0 && cfg.GitHubInstallationID != 0 && cfg.GitHubPrivateKeyPath != "" {
		return github.NewInstallationClient(cfg.GitHubAppID, cfg.GitHubInstallationID, cfg.GitHubPrivateKeyPath, logger)
	}
	return github.NewPATClient(ctx, cfg.GitHubToken, logger), nil
}
