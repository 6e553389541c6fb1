// Package stats reduces raw commit activity data into the rolling counts
// recorded in a snapshot. It performs no network access; everything here is a
// pure function over already-fetched data.
package stats

import "time"

const (
	lastWeekWindow  = 7 * 24 * time.Hour
	lastMonthWindow = 30 * 24 * time.Hour
)

// WeeklyActivity is one bucket of the upstream commit-activity time series.
type WeeklyActivity struct {
	// WeekStart is the start of the bucket's week
	WeekStart time.Time

	// Total is the number of commits in that week
	Total int
}

// CommitRecord is a single commit from the bounded recent-commit listing used
// on the fallback path.
type CommitRecord struct {
	SHA         string
	CommittedAt time.Time
}

// CommitStats holds the aggregated commit counts for a repository.
type CommitStats struct {
	// Total is the all-time commit count. On the fallback path this is
	// bounded by the size of the recent-commit listing and undercounts
	// repositories with longer histories.
	Total int

	// LastMonth counts commits in the 30 days before the reference instant
	LastMonth int

	// LastWeek counts commits in the 7 days before the reference instant
	LastWeek int

	// LastCommitAt is the most recent commit timestamp, falling back to the
	// repository's last-push time. Nil when neither is known.
	LastCommitAt *time.Time
}

// AggregateCommits folds commit activity into rolling counts, using now as
// the reference instant for the 30-day and 7-day windows.
//
// When the weekly series is non-empty it is authoritative: totals are summed
// across all buckets, and a bucket counts toward a window when its week start
// falls inside it. When the series is empty (upstream still computing it, or
// a repository with no activity) the bounded recent listing is used instead;
// the resulting totals are a best-effort approximation, not a full history
// scan.
func AggregateCommits(weekly []WeeklyActivity, recent []CommitRecord, pushedAt time.Time, now time.Time) CommitStats {
	var cs CommitStats

	if len(weekly) > 0 {
		cs = aggregateWeekly(weekly, now)
	} else {
		cs = aggregateRecent(recent, now)
	}

	cs.LastCommitAt = lastCommitTime(recent, pushedAt)
	return cs
}

func aggregateWeekly(weekly []WeeklyActivity, now time.Time) CommitStats {
	monthCutoff := now.Add(-lastMonthWindow)
	weekCutoff := now.Add(-lastWeekWindow)

	var cs CommitStats
	for _, bucket := range weekly {
		cs.Total += bucket.Total
		if !bucket.WeekStart.Before(monthCutoff) {
			cs.LastMonth += bucket.Total
		}
		if !bucket.WeekStart.Before(weekCutoff) {
			cs.LastWeek += bucket.Total
		}
	}
	return cs
}

func aggregateRecent(recent []CommitRecord, now time.Time) CommitStats {
	monthCutoff := now.Add(-lastMonthWindow)
	weekCutoff := now.Add(-lastWeekWindow)

	var cs CommitStats
	for _, commit := range recent {
		cs.Total++
		if !commit.CommittedAt.Before(monthCutoff) {
			cs.LastMonth++
		}
		if !commit.CommittedAt.Before(weekCutoff) {
			cs.LastWeek++
		}
	}
	return cs
}

// lastCommitTime prefers the most recent commit in the listing and falls back
// to the repository's last-push timestamp.
func lastCommitTime(recent []CommitRecord, pushedAt time.Time) *time.Time {
	var latest time.Time
	for _, commit := range recent {
		if commit.CommittedAt.After(latest) {
			latest = commit.CommittedAt
		}
	}
	if !latest.IsZero() {
		return &latest
	}
	if !pushedAt.IsZero() {
		return &pushedAt
	}
	return nil
}
