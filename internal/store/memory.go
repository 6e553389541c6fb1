package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation used by tests. It holds no
// state across process restarts.
type MemoryStore struct {
	mu           sync.Mutex
	repositories map[uuid.UUID]Repository
	snapshots    map[uuid.UUID][]StatsSnapshot
	syncLogs     map[uuid.UUID]SyncLogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repositories: make(map[uuid.UUID]Repository),
		snapshots:    make(map[uuid.UUID][]StatsSnapshot),
		syncLogs:     make(map[uuid.UUID]SyncLogEntry),
	}
}

// AddRepository seeds a repository, assigning an id when unset. This is not
// part of the Store contract; registration is owned by an external flow.
func (m *MemoryStore) AddRepository(repo Repository) Repository {
	m.mu.Lock()
	defer m.mu.Unlock()

	if repo.ID == uuid.Nil {
		repo.ID = uuid.New()
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now().UTC()
	}
	repo.UpdatedAt = repo.CreatedAt
	m.repositories[repo.ID] = repo
	return repo
}

// ListActiveRepositories returns active repositories ordered by full name.
func (m *MemoryStore) ListActiveRepositories(_ context.Context) ([]Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var repos []Repository
	for _, r := range m.repositories {
		if r.IsActive {
			repos = append(repos, r)
		}
	}
	sort.Slice(repos, func(i, j int) bool {
		return repos[i].FullName < repos[j].FullName
	})
	return repos, nil
}

// GetRepository returns a repository by id, or ErrNotFound.
func (m *MemoryStore) GetRepository(_ context.Context, id uuid.UUID) (*Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repositories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// GetSnapshot returns the snapshot for (repository, day), or ErrNotFound.
func (m *MemoryStore) GetSnapshot(_ context.Context, repositoryID uuid.UUID, day time.Time) (*StatsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day = Day(day)
	for _, snap := range m.snapshots[repositoryID] {
		if snap.SnapshotDate.Equal(day) {
			return &snap, nil
		}
	}
	return nil, ErrNotFound
}

// SnapshotCount returns the number of snapshots stored for a repository.
func (m *MemoryStore) SnapshotCount(repositoryID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots[repositoryID])
}

// UpsertSnapshot inserts or replaces the snapshot for (repository, day).
func (m *MemoryStore) UpsertSnapshot(_ context.Context, snapshot *StatsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := *snapshot
	snap.SnapshotDate = Day(snap.SnapshotDate)

	existing := m.snapshots[snap.RepositoryID]
	for i, s := range existing {
		if s.SnapshotDate.Equal(snap.SnapshotDate) {
			snap.ID = s.ID
			snap.CreatedAt = s.CreatedAt
			existing[i] = snap
			*snapshot = snap
			return nil
		}
	}

	snap.ID = uuid.New()
	snap.CreatedAt = time.Now().UTC()
	m.snapshots[snap.RepositoryID] = append(existing, snap)
	*snapshot = snap
	return nil
}

// UpdateLastSynced records the repository's last successful sync time.
func (m *MemoryStore) UpdateLastSynced(_ context.Context, repositoryID uuid.UUID, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repositories[repositoryID]
	if !ok {
		return ErrNotFound
	}
	r.LastSyncedAt = &syncedAt
	r.UpdatedAt = time.Now().UTC()
	m.repositories[repositoryID] = r
	return nil
}

// InsertSyncLog creates a sync log entry and returns its id.
func (m *MemoryStore) InsertSyncLog(_ context.Context, entry *SyncLogEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *entry
	e.ID = uuid.New()
	m.syncLogs[e.ID] = e
	return e.ID, nil
}

// UpdateSyncLog writes the terminal fields of a sync log entry.
func (m *MemoryStore) UpdateSyncLog(_ context.Context, id uuid.UUID, completion SyncLogCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.syncLogs[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = completion.Status
	e.ErrorMessage = completion.ErrorMessage
	completedAt := completion.CompletedAt
	e.CompletedAt = &completedAt
	durationMS := completion.Duration.Milliseconds()
	e.DurationMS = &durationMS
	m.syncLogs[id] = e
	return nil
}

// ListRecentSyncLogs returns the most recent sync log entries, newest first.
func (m *MemoryStore) ListRecentSyncLogs(_ context.Context, limit int) ([]SyncLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]SyncLogEntry, 0, len(m.syncLogs))
	for _, e := range m.syncLogs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// SyncLogsForRepository returns all log entries for a repository, oldest first.
func (m *MemoryStore) SyncLogsForRepository(repositoryID uuid.UUID) []SyncLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []SyncLogEntry
	for _, e := range m.syncLogs {
		if e.RepositoryID == repositoryID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
	return entries
}
