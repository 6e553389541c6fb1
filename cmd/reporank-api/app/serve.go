package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reporank/reporank-server/internal/api"
	"github.com/reporank/reporank-server/internal/auth"
	"github.com/reporank/reporank-server/internal/config"
	"github.com/reporank/reporank-server/internal/db"
	"github.com/reporank/reporank-server/internal/github"
	"github.com/reporank/reporank-server/internal/store"
	pkgsync "github.com/reporank/reporank-server/internal/sync"
	"github.com/reporank/reporank-server/internal/sync/coordinator"
	"github.com/reporank/reporank-server/internal/telemetry"
	"github.com/reporank/reporank-server/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync API server",
	Long: `Start the sync API server.

The server requires a configuration file (--config) that specifies:
- GitHub API credentials
- Database connection parameters
- Sync schedule and pacing

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	// A manually triggered batch runs inline in the request, pacing included,
	// so the request timeout has to cover a full pass over the repositories.
	serverRequestTimeout = 10 * time.Minute
	serverReadTimeout    = 10 * time.Second
	serverWriteTimeout   = serverRequestTimeout + 30*time.Second
	serverIdleTimeout    = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	address := cfg.Server.GetAddress()
	logger.Info("Starting sync API server", zap.String("address", address))

	// Database
	pool, err := db.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// Upstream client
	githubToken, err := cfg.GitHub.GetToken()
	if err != nil {
		return err
	}
	clientOpts := []github.Option{
		github.WithRecentCommitsLimit(cfg.Sync.GetRecentCommitsLimit()),
	}
	if cfg.GitHub.BaseURL != "" {
		clientOpts = append(clientOpts, github.WithBaseURL(cfg.GitHub.BaseURL))
	}
	client, err := github.NewClient(githubToken, logger, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	// Metrics
	versionInfo := versions.GetVersionInfo()
	meterProvider, err := telemetry.NewMeterProvider(ctx,
		telemetry.WithMetricsEnabled(cfg.Telemetry.MetricsEnabled),
		telemetry.WithMeterEndpoint(cfg.Telemetry.Endpoint),
		telemetry.WithMeterInsecure(cfg.Telemetry.Insecure),
		telemetry.WithMeterServiceVersion(versionInfo.Version),
		telemetry.WithMeterLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}
	repoMetrics, err := telemetry.NewRepositoryMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create repository metrics: %w", err)
	}

	// Sync engine and background coordinator
	engine := pkgsync.NewEngine(st, client, logger,
		pkgsync.WithRepositoryPause(cfg.Sync.GetRepositoryPause()),
		pkgsync.WithFetchTimeout(cfg.Sync.GetFetchTimeout()),
		pkgsync.WithSyncMetrics(syncMetrics),
		pkgsync.WithRepositoryMetrics(repoMetrics),
	)

	syncCoordinator := coordinator.New(engine, cfg.Sync.GetInterval(), logger)
	go func() {
		if err := syncCoordinator.Start(context.Background()); err != nil {
			logger.Error("Sync coordinator failed", zap.Error(err))
		}
	}()

	// HTTP surface
	authToken, err := cfg.Server.GetAuthToken()
	if err != nil {
		return err
	}
	authMw, err := auth.NewMiddleware(authToken, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth middleware: %w", err)
	}

	router := api.NewServer(engine, st, logger, versionInfo.Version,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware(logger),
			auth.WrapWithPublicPaths(authMw, []string{"/health", "/version"}),
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Info("Server listening", zap.String("address", address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	if err := syncCoordinator.Stop(); err != nil {
		logger.Error("Failed to stop sync coordinator", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
