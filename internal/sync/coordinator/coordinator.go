// Package coordinator schedules the periodic batch synchronization of all
// active repositories.
package coordinator

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/reporank/reporank-server/internal/store"
	pkgsync "github.com/reporank/reporank-server/internal/sync"
)

// BatchRunner runs one batch sync pass over the active repositories.
type BatchRunner interface {
	RunBatchSync(ctx context.Context, syncType store.SyncType) (*pkgsync.BatchResult, error)
}

// Coordinator manages the background sync schedule.
type Coordinator interface {
	// Start begins background sync scheduling. Blocks until the context is
	// cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator and waits for it to finish
	Stop() error
}

type defaultCoordinator struct {
	runner   BatchRunner
	interval time.Duration
	jitter   time.Duration
	logger   *zap.Logger

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithJitter sets the maximum random offset applied to each tick interval.
// Jitter prevents multiple instances from hitting the upstream API in lockstep.
func WithJitter(jitter time.Duration) Option {
	return func(c *defaultCoordinator) {
		if jitter >= 0 {
			c.jitter = jitter
		}
	}
}

// New creates a coordinator that runs a scheduled batch sync every interval.
func New(runner BatchRunner, interval time.Duration, logger *zap.Logger, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		runner:   runner,
		interval: interval,
		jitter:   interval / 20,
		logger:   logger,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// tickInterval returns the configured interval with a random jitter applied.
func (c *defaultCoordinator) tickInterval() time.Duration {
	if c.jitter <= 0 {
		return c.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	offset := time.Duration(rand.Int64N(int64(2*c.jitter))) - c.jitter
	return c.interval + offset
}

// Start begins background sync scheduling. An initial batch runs immediately;
// subsequent batches run every interval, each tick re-jittered.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		c.logger.Info("Background sync coordinator shutting down")
	}()

	interval := c.tickInterval()
	c.logger.Info("Starting background sync coordinator",
		zap.Duration("base_interval", c.interval),
		zap.Duration("actual_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.runScheduledBatch(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.runScheduledBatch(coordCtx)

			// Recalculate interval with new jitter for the next iteration
			ticker.Reset(c.tickInterval())
		case <-coordCtx.Done():
			c.logger.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		c.logger.Info("Stopping sync coordinator")
		c.cancelFunc()
		// Wait for the loop to finish
		<-c.done
	}
	return nil
}

func (c *defaultCoordinator) runScheduledBatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	result, err := c.runner.RunBatchSync(ctx, store.SyncTypeScheduled)
	if err != nil {
		c.logger.Error("Scheduled batch sync aborted", zap.Error(err))
		return
	}

	if result.Failed > 0 {
		c.logger.Warn("Scheduled batch sync finished with failures",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed))
		return
	}

	c.logger.Info("Scheduled batch sync finished",
		zap.Int("succeeded", result.Succeeded))
}
