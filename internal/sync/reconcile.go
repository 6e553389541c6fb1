package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/reporank/reporank-server/internal/github"
	"github.com/reporank/reporank-server/internal/stats"
	"github.com/reporank/reporank-server/internal/store"
)

// buildSnapshot reduces a fetched metric bundle into the daily snapshot row
// for the given instant. Commit counts come from the weekly activity series
// when present and from the bounded recent-commit listing otherwise.
func buildSnapshot(repositoryID uuid.UUID, bundle *github.MetricBundle, now time.Time) *store.StatsSnapshot {
	commits := stats.AggregateCommits(bundle.Weekly, bundle.RecentCommits, bundle.Descriptor.PushedAt, now)

	return &store.StatsSnapshot{
		RepositoryID:     repositoryID,
		Stars:            bundle.Descriptor.Stars,
		Forks:            bundle.Descriptor.Forks,
		Watchers:         bundle.Descriptor.Watchers,
		OpenIssues:       bundle.OpenIssues,
		ClosedIssues:     bundle.ClosedIssues,
		OpenPRs:          bundle.OpenPRs,
		ClosedPRs:        bundle.ClosedPRs,
		Commits:          commits.Total,
		Branches:         bundle.Branches,
		Releases:         bundle.Releases,
		Contributors:     bundle.Contributors,
		CodeSizeKB:       bundle.Descriptor.SizeKB,
		LastCommitAt:     commits.LastCommitAt,
		CommitsLastMonth: commits.LastMonth,
		CommitsLastWeek:  commits.LastWeek,
		SnapshotDate:     store.Day(now),
	}
}
