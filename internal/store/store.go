// Package store defines the durable state consumed and produced by the sync
// engine: tracked repositories, their daily stat snapshots, and the audit log
// of sync attempts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a repository can't be found.
var ErrNotFound = errors.New("repository not found")

// SyncType identifies what triggered a sync attempt.
type SyncType string

const (
	// SyncTypeManual means the sync was triggered on demand
	SyncTypeManual SyncType = "manual"

	// SyncTypeScheduled means the sync was triggered by the background coordinator
	SyncTypeScheduled SyncType = "scheduled"
)

// SyncStatus represents the lifecycle state of a sync attempt.
type SyncStatus string

const (
	// SyncStatusInProgress means the attempt has started and not yet concluded
	SyncStatusInProgress SyncStatus = "in_progress"

	// SyncStatusSuccess is the terminal state of a successful attempt
	SyncStatusSuccess SyncStatus = "success"

	// SyncStatusFailed is the terminal state of a failed attempt
	SyncStatusFailed SyncStatus = "failed"
)

// Repository is a tracked external GitHub repository.
type Repository struct {
	ID           uuid.UUID
	GitHubID     int64
	Owner        string
	Name         string
	FullName     string
	Description  string
	URL          string
	Homepage     string
	Language     string
	IsActive     bool
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StatsSnapshot is the set of metric values recorded for a repository on a
// specific calendar day. At most one snapshot exists per repository per day;
// a second sync on the same day overwrites the existing row in place.
type StatsSnapshot struct {
	ID               uuid.UUID
	RepositoryID     uuid.UUID
	Stars            int
	Forks            int
	Watchers         int
	OpenIssues       int
	ClosedIssues     int
	OpenPRs          int
	ClosedPRs        int
	Commits          int
	Branches         int
	Releases         int
	Contributors     int
	CodeSizeKB       int
	LastCommitAt     *time.Time
	CommitsLastMonth int
	CommitsLastWeek  int
	SnapshotDate     time.Time
	CreatedAt        time.Time
}

// SyncLogEntry records one sync attempt. It is created in in_progress state
// before the fetch begins and updated with a terminal status afterwards.
type SyncLogEntry struct {
	ID           uuid.UUID
	RepositoryID uuid.UUID
	SyncType     SyncType
	Status       SyncStatus
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
	DurationMS   *int64
}

// SyncLogCompletion carries the terminal fields written to a sync log entry
// when an attempt concludes.
type SyncLogCompletion struct {
	Status       SyncStatus
	ErrorMessage string
	CompletedAt  time.Time
	Duration     time.Duration
}

// Store is the durable state contract consumed by the sync engine. All writes
// are single-row upserts scoped by repository id (plus day for snapshots), so
// implementations need no cross-repository locking.
type Store interface {
	// ListActiveRepositories returns all repositories with the active flag set
	ListActiveRepositories(ctx context.Context) ([]Repository, error)

	// GetRepository returns a repository by id, or ErrNotFound
	GetRepository(ctx context.Context, id uuid.UUID) (*Repository, error)

	// GetSnapshot returns the snapshot for (repository, day), or ErrNotFound.
	// The day is compared at date granularity.
	GetSnapshot(ctx context.Context, repositoryID uuid.UUID, day time.Time) (*StatsSnapshot, error)

	// UpsertSnapshot inserts the snapshot for (repository, day), or replaces
	// the existing row's metric fields in place. All fields are written
	// together; there is no partial write.
	UpsertSnapshot(ctx context.Context, snapshot *StatsSnapshot) error

	// UpdateLastSynced records the time of the repository's last successful sync
	UpdateLastSynced(ctx context.Context, repositoryID uuid.UUID, syncedAt time.Time) error

	// InsertSyncLog creates a sync log entry and returns its id
	InsertSyncLog(ctx context.Context, entry *SyncLogEntry) (uuid.UUID, error)

	// UpdateSyncLog writes the terminal fields of a sync log entry
	UpdateSyncLog(ctx context.Context, id uuid.UUID, completion SyncLogCompletion) error

	// ListRecentSyncLogs returns the most recent sync log entries, newest first
	ListRecentSyncLogs(ctx context.Context, limit int) ([]SyncLogEntry, error)
}

// Day truncates a timestamp to date granularity in UTC. Snapshot days are
// always stored and compared in this form.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
