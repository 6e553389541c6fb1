package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reporank/reporank-server/internal/config"
	"github.com/reporank/reporank-server/internal/db"
	"github.com/reporank/reporank-server/internal/github"
	"github.com/reporank/reporank-server/internal/store"
	pkgsync "github.com/reporank/reporank-server/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-off synchronization",
	Long: `Run a one-off synchronization of all active repositories and exit.
With --repository, only that repository is synchronized.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("repository", "", "Repository id to sync (default: all active repositories)")
	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
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
	repositoryFlag, err := cmd.Flags().GetString("repository")
	if err != nil {
		return fmt.Errorf("failed to get repository flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	pool, err := db.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

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

	engine := pkgsync.NewEngine(st, client, logger,
		pkgsync.WithRepositoryPause(cfg.Sync.GetRepositoryPause()),
		pkgsync.WithFetchTimeout(cfg.Sync.GetFetchTimeout()),
	)

	if repositoryFlag != "" {
		repositoryID, err := uuid.Parse(repositoryFlag)
		if err != nil {
			return fmt.Errorf("invalid repository id %q: %w", repositoryFlag, err)
		}
		snapshot, duration, err := engine.RunSingleSync(ctx, repositoryID, store.SyncTypeManual)
		if err != nil {
			return err
		}
		logger.Info("Repository synced",
			zap.String("repository_id", repositoryID.String()),
			zap.String("snapshot_date", snapshot.SnapshotDate.Format("2006-01-02")),
			zap.Duration("duration", duration))
		return nil
	}

	result, err := engine.RunBatchSync(ctx, store.SyncTypeManual)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("batch sync finished with %d of %d repositories failed", result.Failed, result.Total)
	}
	return nil
}
