package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore is a Store implementation backed by Postgres.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres-backed store with the given
// connection pool. The caller is responsible for closing the pool when done.
func NewPostgresStore(pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &postgresStore{pool: pool}, nil
}

const repositoryColumns = `
	id, github_id, owner, name, full_name,
	COALESCE(description, ''), url, COALESCE(homepage, ''), COALESCE(language, ''),
	is_active, last_synced_at, created_at, updated_at`

func scanRepository(row pgx.Row) (*Repository, error) {
	var r Repository
	err := row.Scan(
		&r.ID, &r.GitHubID, &r.Owner, &r.Name, &r.FullName,
		&r.Description, &r.URL, &r.Homepage, &r.Language,
		&r.IsActive, &r.LastSyncedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *postgresStore) ListActiveRepositories(ctx context.Context) ([]Repository, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+repositoryColumns+`
		 FROM repositories
		 WHERE is_active
		 ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read repositories: %w", err)
	}
	return repos, nil
}

func (s *postgresStore) GetRepository(ctx context.Context, id uuid.UUID) (*Repository, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repositoryColumns+`
		 FROM repositories
		 WHERE id = $1`, id)

	r, err := scanRepository(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return r, nil
}

func (s *postgresStore) GetSnapshot(ctx context.Context, repositoryID uuid.UUID, day time.Time) (*StatsSnapshot, error) {
	var snap StatsSnapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, repository_id,
		        stars_count, forks_count, watchers_count,
		        open_issues_count, closed_issues_count, open_prs_count, closed_prs_count,
		        commits_count, branches_count, releases_count, contributors_count,
		        code_size_kb, last_commit_at, commits_last_month, commits_last_week,
		        snapshot_date, created_at
		 FROM repository_stats
		 WHERE repository_id = $1 AND snapshot_date = $2`,
		repositoryID, Day(day)).Scan(
		&snap.ID, &snap.RepositoryID,
		&snap.Stars, &snap.Forks, &snap.Watchers,
		&snap.OpenIssues, &snap.ClosedIssues, &snap.OpenPRs, &snap.ClosedPRs,
		&snap.Commits, &snap.Branches, &snap.Releases, &snap.Contributors,
		&snap.CodeSizeKB, &snap.LastCommitAt, &snap.CommitsLastMonth, &snap.CommitsLastWeek,
		&snap.SnapshotDate, &snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snap, nil
}

// UpsertSnapshot writes the full snapshot row in one statement. The unique
// key on (repository_id, snapshot_date) makes a same-day re-sync overwrite
// the existing row rather than create a duplicate.
func (s *postgresStore) UpsertSnapshot(ctx context.Context, snapshot *StatsSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO repository_stats (
		    repository_id,
		    stars_count, forks_count, watchers_count,
		    open_issues_count, closed_issues_count, open_prs_count, closed_prs_count,
		    commits_count, branches_count, releases_count, contributors_count,
		    code_size_kb, last_commit_at, commits_last_month, commits_last_week,
		    snapshot_date
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (repository_id, snapshot_date) DO UPDATE SET
		    stars_count         = EXCLUDED.stars_count,
		    forks_count         = EXCLUDED.forks_count,
		    watchers_count      = EXCLUDED.watchers_count,
		    open_issues_count   = EXCLUDED.open_issues_count,
		    closed_issues_count = EXCLUDED.closed_issues_count,
		    open_prs_count      = EXCLUDED.open_prs_count,
		    closed_prs_count    = EXCLUDED.closed_prs_count,
		    commits_count       = EXCLUDED.commits_count,
		    branches_count      = EXCLUDED.branches_count,
		    releases_count      = EXCLUDED.releases_count,
		    contributors_count  = EXCLUDED.contributors_count,
		    code_size_kb        = EXCLUDED.code_size_kb,
		    last_commit_at      = EXCLUDED.last_commit_at,
		    commits_last_month  = EXCLUDED.commits_last_month,
		    commits_last_week   = EXCLUDED.commits_last_week
		 RETURNING id, created_at`,
		snapshot.RepositoryID,
		snapshot.Stars, snapshot.Forks, snapshot.Watchers,
		snapshot.OpenIssues, snapshot.ClosedIssues, snapshot.OpenPRs, snapshot.ClosedPRs,
		snapshot.Commits, snapshot.Branches, snapshot.Releases, snapshot.Contributors,
		snapshot.CodeSizeKB, snapshot.LastCommitAt, snapshot.CommitsLastMonth, snapshot.CommitsLastWeek,
		Day(snapshot.SnapshotDate),
	).Scan(&snapshot.ID, &snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (s *postgresStore) UpdateLastSynced(ctx context.Context, repositoryID uuid.UUID, syncedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories
		 SET last_synced_at = $2, updated_at = now()
		 WHERE id = $1`,
		repositoryID, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update last synced time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) InsertSyncLog(ctx context.Context, entry *SyncLogEntry) (uuid.UUID, error) {
	if entry == nil {
		return uuid.Nil, fmt.Errorf("sync log entry is required")
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_logs (repository_id, sync_type, status, error_message, started_at, completed_at, duration_ms)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		 RETURNING id`,
		entry.RepositoryID, entry.SyncType, entry.Status, entry.ErrorMessage,
		entry.StartedAt, entry.CompletedAt, entry.DurationMS,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert sync log: %w", err)
	}
	return id, nil
}

func (s *postgresStore) UpdateSyncLog(ctx context.Context, id uuid.UUID, completion SyncLogCompletion) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_logs
		 SET status = $2, error_message = NULLIF($3, ''), completed_at = $4, duration_ms = $5
		 WHERE id = $1`,
		id, completion.Status, completion.ErrorMessage,
		completion.CompletedAt, completion.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to update sync log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync log %s not found", id)
	}
	return nil
}

func (s *postgresStore) ListRecentSyncLogs(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, repository_id, sync_type, status, COALESCE(error_message, ''),
		        started_at, completed_at, duration_ms
		 FROM sync_logs
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.Scan(
			&e.ID, &e.RepositoryID, &e.SyncType, &e.Status, &e.ErrorMessage,
			&e.StartedAt, &e.CompletedAt, &e.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync logs: %w", err)
	}
	return entries, nil
}
