// Package sync implements the repository statistics synchronization engine:
// fetching metrics from the upstream API, reducing them into daily snapshots,
// and recording the outcome of every attempt in the sync log.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reporank/reporank-server/internal/github"
	"github.com/reporank/reporank-server/internal/store"
	"github.com/reporank/reporank-server/internal/telemetry"
)

const (
	defaultRepositoryPause = time.Second
	defaultFetchTimeout    = 60 * time.Second
)

// ErrRepositoryInactive is returned when a single-repository sync targets a
// repository that is not marked active.
var ErrRepositoryInactive = errors.New("repository is not active")

// RepositoryError records a per-repository failure inside a batch.
type RepositoryError struct {
	FullName string
	Err      error
}

// BatchResult summarizes one batch sync pass over the active repositories.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []RepositoryError
}

// Engine drives repository synchronization against the store and the upstream
// metrics client. Batches run serially with a fixed pause between
// repositories to stay under the upstream rate ceiling.
type Engine struct {
	store        store.Store
	client       github.Client
	logger       *zap.Logger
	syncMetrics  *telemetry.SyncMetrics
	repoMetrics  *telemetry.RepositoryMetrics
	pause        time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithRepositoryPause sets the pause between repositories within a batch.
func WithRepositoryPause(pause time.Duration) Option {
	return func(e *Engine) {
		if pause >= 0 {
			e.pause = pause
		}
	}
}

// WithFetchTimeout bounds a single repository's metric fetch.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.fetchTimeout = timeout
		}
	}
}

// WithSyncMetrics attaches sync operation metrics. A nil value is a no-op.
func WithSyncMetrics(m *telemetry.SyncMetrics) Option {
	return func(e *Engine) {
		e.syncMetrics = m
	}
}

// WithRepositoryMetrics attaches repository gauge metrics. A nil value is a no-op.
func WithRepositoryMetrics(m *telemetry.RepositoryMetrics) Option {
	return func(e *Engine) {
		e.repoMetrics = m
	}
}

// WithClock overrides the engine's clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a sync engine.
func NewEngine(st store.Store, client github.Client, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		client:       client,
		logger:       logger,
		pause:        defaultRepositoryPause,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunBatchSync synchronizes every active repository in sequence. A failing
// repository is recorded and the batch moves on; only a failure to list the
// repositories, or context cancellation, aborts the pass.
func (e *Engine) RunBatchSync(ctx context.Context, syncType store.SyncType) (*BatchResult, error) {
	repos, err := e.store.ListActiveRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active repositories: %w", err)
	}

	e.repoMetrics.RecordActiveTotal(ctx, int64(len(repos)))

	result := &BatchResult{Total: len(repos)}
	e.logger.Info("Starting batch sync",
		zap.String("sync_type", string(syncType)),
		zap.Int("repositories", len(repos)))

	for i, repo := range repos {
		if i > 0 {
			if err := e.pauseBetweenRepositories(ctx); err != nil {
				return result, err
			}
		}

		if _, _, err := e.syncRepository(ctx, repo, syncType); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			result.Errors = append(result.Errors, RepositoryError{FullName: repo.FullName, Err: err})
			e.logger.Warn("Repository sync failed",
				zap.String("repository", repo.FullName),
				zap.Error(err))
			continue
		}
		result.Succeeded++
	}

	e.logger.Info("Batch sync finished",
		zap.String("sync_type", string(syncType)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))

	return result, nil
}

// RunSingleSync synchronizes one repository by id and returns the written
// snapshot together with the sync duration.
func (e *Engine) RunSingleSync(ctx context.Context, repositoryID uuid.UUID, syncType store.SyncType) (*store.StatsSnapshot, time.Duration, error) {
	repo, err := e.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, 0, err
	}
	if !repo.IsActive {
		return nil, 0, fmt.Errorf("%w: %s", ErrRepositoryInactive, repo.FullName)
	}
	return e.syncRepository(ctx, *repo, syncType)
}

// syncRepository runs the full fetch-reduce-persist cycle for one repository
// and guarantees a terminal sync log entry for the attempt.
func (e *Engine) syncRepository(ctx context.Context, repo store.Repository, syncType store.SyncType) (*store.StatsSnapshot, time.Duration, error) {
	started := e.now().UTC()

	logID, err := e.store.InsertSyncLog(ctx, &store.SyncLogEntry{
		RepositoryID: repo.ID,
		SyncType:     syncType,
		Status:       store.SyncStatusInProgress,
		StartedAt:    started,
	})
	if err != nil {
		// The attempt proceeds; the terminal entry is inserted synthetically
		// at the end instead.
		e.logger.Warn("Failed to open sync log entry",
			zap.String("repository", repo.FullName),
			zap.Error(err))
		logID = uuid.Nil
	}

	snapshot, err := e.fetchAndPersist(ctx, repo)
	completed := e.now().UTC()
	duration := completed.Sub(started)

	if err != nil {
		e.finalizeSyncLog(ctx, logID, repo, syncType, started, store.SyncLogCompletion{
			Status:       store.SyncStatusFailed,
			ErrorMessage: err.Error(),
			CompletedAt:  completed,
			Duration:     duration,
		})
		e.syncMetrics.RecordSyncDuration(ctx, repo.FullName, duration, false)
		return nil, duration, err
	}

	e.finalizeSyncLog(ctx, logID, repo, syncType, started, store.SyncLogCompletion{
		Status:      store.SyncStatusSuccess,
		CompletedAt: completed,
		Duration:    duration,
	})
	e.syncMetrics.RecordSyncDuration(ctx, repo.FullName, duration, true)
	e.syncMetrics.RecordSnapshotWritten(ctx, repo.FullName)

	e.logger.Info("Repository synced",
		zap.String("repository", repo.FullName),
		zap.Duration("duration", duration),
		zap.Int("stars", snapshot.Stars))

	return snapshot, duration, nil
}

// fetchAndPersist fetches the metric bundle, reduces it into a snapshot and
// writes it through the store.
func (e *Engine) fetchAndPersist(ctx context.Context, repo store.Repository) (*store.StatsSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	bundle, err := e.client.FetchMetrics(fetchCtx, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}

	snapshot := buildSnapshot(repo.ID, bundle, e.now().UTC())
	if err := e.store.UpsertSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	if err := e.store.UpdateLastSynced(ctx, repo.ID, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to update last synced time: %w", err)
	}

	return snapshot, nil
}

// finalizeSyncLog writes the terminal state of an attempt. When the opening
// insert failed, a complete terminal entry is inserted instead so that every
// attempt leaves exactly one terminal row.
func (e *Engine) finalizeSyncLog(ctx context.Context, logID uuid.UUID, repo store.Repository,
	syncType store.SyncType, started time.Time, completion store.SyncLogCompletion) {
	if logID != uuid.Nil {
		if err := e.store.UpdateSyncLog(ctx, logID, completion); err != nil {
			e.logger.Warn("Failed to finalize sync log entry",
				zap.String("repository", repo.FullName),
				zap.Error(err))
		}
		return
	}

	completedAt := completion.CompletedAt
	durationMS := completion.Duration.Milliseconds()
	_, err := e.store.InsertSyncLog(ctx, &store.SyncLogEntry{
		RepositoryID: repo.ID,
		SyncType:     syncType,
		Status:       completion.Status,
		ErrorMessage: completion.ErrorMessage,
		StartedAt:    started,
		CompletedAt:  &completedAt,
		DurationMS:   &durationMS,
	})
	if err != nil {
		e.logger.Warn("Failed to insert terminal sync log entry",
			zap.String("repository", repo.FullName),
			zap.Error(err))
	}
}

// pauseBetweenRepositories sleeps for the configured pause, honoring
// cancellation.
func (e *Engine) pauseBetweenRepositories(ctx context.Context) error {
	if e.pause <= 0 {
		return nil
	}
	timer := time.NewTimer(e.pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
