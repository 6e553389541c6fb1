package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reporank/reporank-server/internal/github"
	"github.com/reporank/reporank-server/internal/stats"
	"github.com/reporank/reporank-server/internal/store"
)

// fakeClient serves canned metric bundles keyed by owner/name.
type fakeClient struct {
	mu      sync.Mutex
	bundles map[string]*github.MetricBundle
	errs    map[string]error
	calls   []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		bundles: make(map[string]*github.MetricBundle),
		errs:    make(map[string]error),
	}
}

func (f *fakeClient) FetchMetrics(_ context.Context, owner, name string) (*github.MetricBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fullName := owner + "/" + name
	f.calls = append(f.calls, fullName)
	if err, ok := f.errs[fullName]; ok {
		return nil, err
	}
	bundle, ok := f.bundles[fullName]
	if !ok {
		return nil, errors.New("no bundle configured for " + fullName)
	}
	return bundle, nil
}

func makeBundle(stars int, weekly []stats.WeeklyActivity) *github.MetricBundle {
	return &github.MetricBundle{
		Descriptor: github.RepoDescriptor{
			Stars:    stars,
			Forks:    stars / 2,
			Watchers: stars,
			SizeKB:   1024,
			PushedAt: time.Date(2026, 5, 30, 9, 0, 0, 0, time.UTC),
		},
		Branches:     2,
		Releases:     3,
		Contributors: 4,
		OpenPRs:      1,
		ClosedPRs:    10,
		OpenIssues:   5,
		ClosedIssues: 20,
		Weekly:       weekly,
	}
}

func seedRepo(m *store.MemoryStore, fullName string, active bool) store.Repository {
	owner, name, _ := splitFullName(fullName)
	return m.AddRepository(store.Repository{
		Owner:    owner,
		Name:     name,
		FullName: fullName,
		IsActive: active,
	})
}

func splitFullName(fullName string) (string, string, bool) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:], true
		}
	}
	return fullName, "", false
}

func TestRunSingleSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	repo := seedRepo(mem, "acme/widgets", true)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	client := newFakeClient()
	client.bundles["acme/widgets"] = makeBundle(100, []stats.WeeklyActivity{
		{WeekStart: now.AddDate(0, 0, -3), Total: 7},
		{WeekStart: now.AddDate(0, 0, -40), Total: 5},
	})

	engine := NewEngine(mem, client, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithRepositoryPause(0))

	snapshot, _, err := engine.RunSingleSync(ctx, repo.ID, store.SyncTypeManual)
	require.NoError(t, err)

	assert.Equal(t, 100, snapshot.Stars)
	assert.Equal(t, 12, snapshot.Commits)
	assert.Equal(t, 7, snapshot.CommitsLastMonth)
	assert.Equal(t, 7, snapshot.CommitsLastWeek)
	assert.Equal(t, store.Day(now), snapshot.SnapshotDate)

	persisted, err := mem.GetSnapshot(ctx, repo.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 100, persisted.Stars)

	got, err := mem.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedAt)

	logs := mem.SyncLogsForRepository(repo.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, store.SyncStatusSuccess, logs[0].Status)
	assert.Equal(t, store.SyncTypeManual, logs[0].SyncType)
	require.NotNil(t, logs[0].CompletedAt)
	require.NotNil(t, logs[0].DurationMS)
}

func TestRunSingleSyncInactiveRepository(t *testing.T) {
	t.Parallel()

	mem := store.NewMemoryStore()
	repo := seedRepo(mem, "acme/attic", false)

	engine := NewEngine(mem, newFakeClient(), zap.NewNop())

	_, _, err := engine.RunSingleSync(context.Background(), repo.ID, store.SyncTypeManual)
	require.ErrorIs(t, err, ErrRepositoryInactive)
	assert.Empty(t, mem.SyncLogsForRepository(repo.ID))
}

func TestRunSingleSyncUnknownRepository(t *testing.T) {
	t.Parallel()

	engine := NewEngine(store.NewMemoryStore(), newFakeClient(), zap.NewNop())

	_, _, err := engine.RunSingleSync(context.Background(), uuid.New(), store.SyncTypeManual)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunSingleSyncFetchFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	repo := seedRepo(mem, "acme/widgets", true)

	client := newFakeClient()
	client.errs["acme/widgets"] = errors.New("upstream unavailable")

	engine := NewEngine(mem, client, zap.NewNop(), WithRepositoryPause(0))

	_, _, err := engine.RunSingleSync(ctx, repo.ID, store.SyncTypeManual)
	require.Error(t, err)

	// The failure leaves no snapshot and no last-synced update.
	_, err = mem.GetSnapshot(ctx, repo.ID, time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := mem.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastSyncedAt)

	logs := mem.SyncLogsForRepository(repo.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, store.SyncStatusFailed, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "upstream unavailable")
	require.NotNil(t, logs[0].CompletedAt)
}

func TestRunBatchSyncContinuesPastFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedRepo(mem, "acme/alpha", true)
	broken := seedRepo(mem, "acme/broken", true)
	seedRepo(mem, "acme/zulu", true)

	client := newFakeClient()
	client.bundles["acme/alpha"] = makeBundle(10, nil)
	client.bundles["acme/zulu"] = makeBundle(30, nil)
	client.errs["acme/broken"] = errors.New("boom")

	engine := NewEngine(mem, client, zap.NewNop(), WithRepositoryPause(0))

	result, err := engine.RunBatchSync(ctx, store.SyncTypeScheduled)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "acme/broken", result.Errors[0].FullName)

	// The failing repository still gets a terminal log entry.
	logs := mem.SyncLogsForRepository(broken.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, store.SyncStatusFailed, logs[0].Status)
}

func TestRunBatchSyncSameDayOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	repo := seedRepo(mem, "acme/widgets", true)

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	client := newFakeClient()
	client.bundles["acme/widgets"] = makeBundle(100, nil)

	engine := NewEngine(mem, client, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithRepositoryPause(0))

	_, err := engine.RunBatchSync(ctx, store.SyncTypeScheduled)
	require.NoError(t, err)

	// Second pass later the same day must overwrite, not duplicate.
	client.bundles["acme/widgets"] = makeBundle(150, nil)
	now = now.Add(6 * time.Hour)

	_, err = engine.RunBatchSync(ctx, store.SyncTypeScheduled)
	require.NoError(t, err)

	assert.Equal(t, 1, mem.SnapshotCount(repo.ID))
	snap, err := mem.GetSnapshot(ctx, repo.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 150, snap.Stars)
}

func TestRunBatchSyncPacing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedRepo(mem, "acme/alpha", true)
	seedRepo(mem, "acme/bravo", true)
	seedRepo(mem, "acme/charlie", true)

	client := newFakeClient()
	client.bundles["acme/alpha"] = makeBundle(1, nil)
	client.bundles["acme/bravo"] = makeBundle(2, nil)
	client.bundles["acme/charlie"] = makeBundle(3, nil)

	pause := 30 * time.Millisecond
	engine := NewEngine(mem, client, zap.NewNop(), WithRepositoryPause(pause))

	started := time.Now()
	result, err := engine.RunBatchSync(ctx, store.SyncTypeScheduled)
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded)
	// Two pauses between three repositories.
	assert.GreaterOrEqual(t, elapsed, 2*pause)
}

func TestRunBatchSyncCancellation(t *testing.T) {
	t.Parallel()

	mem := store.NewMemoryStore()
	seedRepo(mem, "acme/alpha", true)
	seedRepo(mem, "acme/bravo", true)

	client := newFakeClient()
	client.bundles["acme/alpha"] = makeBundle(1, nil)
	client.bundles["acme/bravo"] = makeBundle(2, nil)

	engine := NewEngine(mem, client, zap.NewNop(), WithRepositoryPause(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := engine.RunBatchSync(ctx, store.SyncTypeScheduled)
	require.ErrorIs(t, err, context.Canceled)
	// The first repository completed before the pause was interrupted.
	assert.Equal(t, 1, result.Succeeded)
}

// flakyStore fails selected operations while delegating the rest.
type flakyStore struct {
	store.Store
	failOpenInsert bool
	failUpsert     bool
}

func (f *flakyStore) InsertSyncLog(ctx context.Context, entry *store.SyncLogEntry) (uuid.UUID, error) {
	if f.failOpenInsert && entry.Status == store.SyncStatusInProgress {
		return uuid.Nil, errors.New("log insert failed")
	}
	return f.Store.InsertSyncLog(ctx, entry)
}

func (f *flakyStore) UpsertSnapshot(ctx context.Context, snapshot *store.StatsSnapshot) error {
	if f.failUpsert {
		return errors.New("disk full")
	}
	return f.Store.UpsertSnapshot(ctx, snapshot)
}

func TestSyncLogSyntheticTerminalEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	repo := seedRepo(mem, "acme/widgets", true)

	client := newFakeClient()
	client.bundles["acme/widgets"] = makeBundle(100, nil)

	engine := NewEngine(&flakyStore{Store: mem, failOpenInsert: true}, client, zap.NewNop(),
		WithRepositoryPause(0))

	_, _, err := engine.RunSingleSync(ctx, repo.ID, store.SyncTypeManual)
	require.NoError(t, err)

	// The opening insert failed, so exactly one synthetic terminal entry
	// must exist for the attempt.
	logs := mem.SyncLogsForRepository(repo.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, store.SyncStatusSuccess, logs[0].Status)
	require.NotNil(t, logs[0].CompletedAt)
	require.NotNil(t, logs[0].DurationMS)
}

func TestSyncLogRecordsPersistFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	repo := seedRepo(mem, "acme/widgets", true)

	client := newFakeClient()
	client.bundles["acme/widgets"] = makeBundle(100, nil)

	engine := NewEngine(&flakyStore{Store: mem, failUpsert: true}, client, zap.NewNop(),
		WithRepositoryPause(0))

	_, _, err := engine.RunSingleSync(ctx, repo.ID, store.SyncTypeManual)
	require.Error(t, err)

	logs := mem.SyncLogsForRepository(repo.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, store.SyncStatusFailed, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "disk full")
}
