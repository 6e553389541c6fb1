package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRepositories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()

	active := m.AddRepository(Repository{
		Owner:    "acme",
		Name:     "widgets",
		FullName: "acme/widgets",
		IsActive: true,
	})
	m.AddRepository(Repository{
		Owner:    "acme",
		Name:     "attic",
		FullName: "acme/attic",
		IsActive: false,
	})

	repos, err := m.ListActiveRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/widgets", repos[0].FullName)

	got, err := m.GetRepository(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, active.FullName, got.FullName)

	_, err = m.GetRepository(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSnapshotUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	repo := m.AddRepository(Repository{FullName: "acme/widgets", IsActive: true})

	day := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	first := &StatsSnapshot{
		RepositoryID: repo.ID,
		Stars:        10,
		SnapshotDate: day,
	}
	require.NoError(t, m.UpsertSnapshot(ctx, first))
	require.NotEqual(t, uuid.Nil, first.ID)

	// Same calendar day, different clock time: must overwrite, not duplicate.
	second := &StatsSnapshot{
		RepositoryID: repo.ID,
		Stars:        12,
		SnapshotDate: day.Add(5 * time.Hour),
	}
	require.NoError(t, m.UpsertSnapshot(ctx, second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, m.SnapshotCount(repo.ID))

	got, err := m.GetSnapshot(ctx, repo.ID, day)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Stars)
	assert.Equal(t, Day(day), got.SnapshotDate)

	// A different day appends history instead of mutating it.
	third := &StatsSnapshot{
		RepositoryID: repo.ID,
		Stars:        15,
		SnapshotDate: day.AddDate(0, 0, 1),
	}
	require.NoError(t, m.UpsertSnapshot(ctx, third))
	assert.Equal(t, 2, m.SnapshotCount(repo.ID))

	got, err = m.GetSnapshot(ctx, repo.ID, day)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Stars)
}

func TestMemoryStoreSnapshotNotFound(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	_, err := m.GetSnapshot(context.Background(), uuid.New(), time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreLastSynced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	repo := m.AddRepository(Repository{FullName: "acme/widgets", IsActive: true})

	syncedAt := time.Now().UTC()
	require.NoError(t, m.UpdateLastSynced(ctx, repo.ID, syncedAt))

	got, err := m.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(syncedAt))

	require.ErrorIs(t, m.UpdateLastSynced(ctx, uuid.New(), syncedAt), ErrNotFound)
}

func TestMemoryStoreSyncLogLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	repo := m.AddRepository(Repository{FullName: "acme/widgets", IsActive: true})

	started := time.Now().UTC()
	id, err := m.InsertSyncLog(ctx, &SyncLogEntry{
		RepositoryID: repo.ID,
		SyncType:     SyncTypeManual,
		Status:       SyncStatusInProgress,
		StartedAt:    started,
	})
	require.NoError(t, err)

	completion := SyncLogCompletion{
		Status:      SyncStatusSuccess,
		CompletedAt: started.Add(2 * time.Second),
		Duration:    2 * time.Second,
	}
	require.NoError(t, m.UpdateSyncLog(ctx, id, completion))

	logs, err := m.ListRecentSyncLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, SyncStatusSuccess, logs[0].Status)
	require.NotNil(t, logs[0].CompletedAt)
	require.NotNil(t, logs[0].DurationMS)
	assert.Equal(t, int64(2000), *logs[0].DurationMS)

	require.Error(t, m.UpdateSyncLog(ctx, uuid.New(), completion))
}

func TestMemoryStoreListRecentSyncLogsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	repo := m.AddRepository(Repository{FullName: "acme/widgets", IsActive: true})

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := m.InsertSyncLog(ctx, &SyncLogEntry{
			RepositoryID: repo.ID,
			SyncType:     SyncTypeScheduled,
			Status:       SyncStatusInProgress,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	logs, err := m.ListRecentSyncLogs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.True(t, logs[0].StartedAt.After(logs[1].StartedAt))
	assert.True(t, logs[1].StartedAt.After(logs[2].StartedAt))
}

func TestDay(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:30 EST is already the next day in UTC.
	local := time.Date(2026, 1, 15, 23, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC), Day(local))

	utc := time.Date(2026, 1, 15, 8, 45, 12, 999, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), Day(utc))
}
