// Package github provides a typed client for the metric queries the sync
// engine issues against the GitHub REST API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/reporank/reporank-server/internal/stats"
)

const (
	// boundedPageSize caps the list queries used to derive branch, release
	// and contributor counts. A single page is a deliberate cost control:
	// the counts are floors for very large repositories, never paginated to
	// exhaustion.
	boundedPageSize = 100

	defaultRecentCommitsLimit = 100

	descriptorMaxTries = 3

	rateLimitMaxSleep = time.Hour
)

// RepoDescriptor holds the primary repository metadata. Every other metric
// depends on this query succeeding.
type RepoDescriptor struct {
	GitHubID      int64
	Owner         string
	Name          string
	FullName      string
	Description   string
	URL           string
	Homepage      string
	Language      string
	DefaultBranch string
	Stars         int
	Forks         int
	Watchers      int
	SizeKB        int
	PushedAt      time.Time
}

// MetricBundle is the result of one full metric fetch for a repository.
// Secondary metrics may hold neutral defaults when their sub-query degraded.
type MetricBundle struct {
	Descriptor RepoDescriptor

	Branches     int
	Releases     int
	Contributors int

	// Issue and PR counts come from the search endpoint's reported totals.
	// They track the search index, which can lag the live data slightly.
	OpenPRs      int
	ClosedPRs    int
	OpenIssues   int
	ClosedIssues int

	// Weekly is the commit-activity time series. Empty when upstream is
	// still computing it (ActivityPending) or the repository has none.
	Weekly []stats.WeeklyActivity

	// RecentCommits is a bounded page of the most recent commits. It holds
	// a single probe commit on the primary path and up to the configured
	// limit when the weekly series is unavailable.
	RecentCommits []stats.CommitRecord

	// ActivityPending is set when upstream answered 202 for the
	// commit-activity series
	ActivityPending bool
}

// Client defines the behavior of the upstream metrics client.
type Client interface {
	// FetchMetrics collects all metrics for one repository. It fails only
	// when the primary descriptor query fails; secondary metrics degrade to
	// neutral defaults individually.
	FetchMetrics(ctx context.Context, owner, name string) (*MetricBundle, error)
}

// gitHubClient is the concrete Client implementation over the GitHub REST API.
type gitHubClient struct {
	rest               *github.Client
	logger             *zap.Logger
	recentCommitsLimit int
}

// Option configures the client.
type Option func(*gitHubClient) error

// WithBaseURL points the client at a different API endpoint (GitHub
// Enterprise or a test server). The URL must end with a trailing slash.
func WithBaseURL(baseURL string) Option {
	return func(c *gitHubClient) error {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		c.rest.BaseURL = parsed
		return nil
	}
}

// WithRecentCommitsLimit caps the fallback recent-commit listing.
func WithRecentCommitsLimit(limit int) Option {
	return func(c *gitHubClient) error {
		if limit <= 0 {
			return fmt.Errorf("recent commits limit must be positive")
		}
		c.recentCommitsLimit = limit
		return nil
	}
}

// NewClient creates a GitHub metrics client authenticated with the given
// token. Secondary rate limits are handled by sleeping, bounded to an hour.
func NewClient(token string, logger *zap.Logger, opts ...Option) (Client, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil,
		github_ratelimit.WithSingleSleepLimit(rateLimitMaxSleep, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}

	c := &gitHubClient{
		rest:               github.NewClient(httpClient),
		logger:             logger,
		recentCommitsLimit: defaultRecentCommitsLimit,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FetchMetrics collects all metrics for one repository. The descriptor query
// runs first and is a hard stop on failure; the remaining sub-queries fan out
// concurrently and degrade individually.
func (c *gitHubClient) FetchMetrics(ctx context.Context, owner, name string) (*MetricBundle, error) {
	descriptor, err := c.fetchDescriptor(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository %s/%s: %w", owner, name, err)
	}

	bundle := &MetricBundle{Descriptor: *descriptor}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bundle.Branches = c.countDegraded(gctx, owner, name, "branches", c.countBranches)
		return nil
	})
	g.Go(func() error {
		bundle.Releases = c.countDegraded(gctx, owner, name, "releases", c.countReleases)
		return nil
	})
	g.Go(func() error {
		bundle.Contributors = c.countDegraded(gctx, owner, name, "contributors", c.countContributors)
		return nil
	})
	g.Go(func() error {
		bundle.Weekly, bundle.ActivityPending = c.fetchCommitActivity(gctx, owner, name)
		return nil
	})
	g.Go(func() error {
		bundle.RecentCommits = c.listRecentCommits(gctx, owner, name, 1)
		return nil
	})
	g.Go(func() error {
		bundle.OpenPRs = c.searchCount(gctx, owner, name, "is:pr is:open")
		bundle.ClosedPRs = c.searchCount(gctx, owner, name, "is:pr is:closed")
		return nil
	})
	g.Go(func() error {
		bundle.OpenIssues = c.searchCount(gctx, owner, name, "is:issue is:open")
		bundle.ClosedIssues = c.searchCount(gctx, owner, name, "is:issue is:closed")
		return nil
	})

	// Sub-queries never return errors; they degrade to neutral defaults.
	_ = g.Wait()

	// Without the weekly series the bounded recent listing is the only
	// commit signal, so widen the probe page to the configured limit.
	if len(bundle.Weekly) == 0 {
		bundle.RecentCommits = c.listRecentCommits(ctx, owner, name, c.recentCommitsLimit)
	}

	return bundle, nil
}

// fetchDescriptor runs the primary repository query with retry. Not-found and
// forbidden responses are terminal; transient failures back off exponentially.
func (c *gitHubClient) fetchDescriptor(ctx context.Context, owner, name string) (*RepoDescriptor, error) {
	operation := func() (*github.Repository, error) {
		repo, resp, err := c.rest.Repositories.Get(ctx, owner, name)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return repo, nil
	}

	repo, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(descriptorMaxTries))
	if err != nil {
		return nil, err
	}

	return &RepoDescriptor{
		GitHubID:      repo.GetID(),
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		Description:   repo.GetDescription(),
		URL:           repo.GetHTMLURL(),
		Homepage:      repo.GetHomepage(),
		Language:      repo.GetLanguage(),
		DefaultBranch: repo.GetDefaultBranch(),
		Stars:         repo.GetStargazersCount(),
		Forks:         repo.GetForksCount(),
		Watchers:      repo.GetWatchersCount(),
		SizeKB:        repo.GetSize(),
		PushedAt:      repo.GetPushedAt().Time,
	}, nil
}

// countDegraded runs a count query and substitutes zero on failure so that a
// single failing metric never aborts the rest of the fetch.
func (c *gitHubClient) countDegraded(
	ctx context.Context, owner, name, metric string,
	count func(ctx context.Context, owner, name string) (int, error),
) int {
	n, err := count(ctx, owner, name)
	if err != nil {
		c.logger.Debug("Metric query degraded to default",
			zap.String("repository", owner+"/"+name),
			zap.String("metric", metric),
			zap.Error(err))
		return 0
	}
	return n
}

func (c *gitHubClient) countBranches(ctx context.Context, owner, name string) (int, error) {
	branches, _, err := c.rest.Repositories.ListBranches(ctx, owner, name, &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: boundedPageSize},
	})
	if err != nil {
		return 0, err
	}
	return len(branches), nil
}

func (c *gitHubClient) countReleases(ctx context.Context, owner, name string) (int, error) {
	releases, _, err := c.rest.Repositories.ListReleases(ctx, owner, name, &github.ListOptions{
		PerPage: boundedPageSize,
	})
	if err != nil {
		return 0, err
	}
	return len(releases), nil
}

func (c *gitHubClient) countContributors(ctx context.Context, owner, name string) (int, error) {
	contributors, _, err := c.rest.Repositories.ListContributors(ctx, owner, name, &github.ListContributorsOptions{
		Anon:        "true",
		ListOptions: github.ListOptions{PerPage: boundedPageSize},
	})
	if err != nil {
		return 0, err
	}
	return len(contributors), nil
}

// fetchCommitActivity returns the weekly commit series. A 202 response means
// upstream is still computing the series; that is reported as pending, not an
// error, and the caller falls back to the bounded recent listing.
func (c *gitHubClient) fetchCommitActivity(ctx context.Context, owner, name string) ([]stats.WeeklyActivity, bool) {
	activity, _, err := c.rest.Repositories.ListCommitActivity(ctx, owner, name)
	if err != nil {
		if _, ok := err.(*github.AcceptedError); ok {
			c.logger.Debug("Commit activity not yet computed upstream",
				zap.String("repository", owner+"/"+name))
			return nil, true
		}
		c.logger.Debug("Metric query degraded to default",
			zap.String("repository", owner+"/"+name),
			zap.String("metric", "commit_activity"),
			zap.Error(err))
		return nil, false
	}

	weekly := make([]stats.WeeklyActivity, 0, len(activity))
	for _, week := range activity {
		if week == nil {
			continue
		}
		weekly = append(weekly, stats.WeeklyActivity{
			WeekStart: week.GetWeek().Time,
			Total:     week.GetTotal(),
		})
	}
	return weekly, false
}

func (c *gitHubClient) listRecentCommits(ctx context.Context, owner, name string, limit int) []stats.CommitRecord {
	commits, _, err := c.rest.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		c.logger.Debug("Metric query degraded to default",
			zap.String("repository", owner+"/"+name),
			zap.String("metric", "recent_commits"),
			zap.Error(err))
		return nil
	}

	records := make([]stats.CommitRecord, 0, len(commits))
	for _, commit := range commits {
		if commit == nil {
			continue
		}
		committedAt := commit.GetCommit().GetCommitter().GetDate().Time
		if committedAt.IsZero() {
			committedAt = commit.GetCommit().GetAuthor().GetDate().Time
		}
		records = append(records, stats.CommitRecord{
			SHA:         commit.GetSHA(),
			CommittedAt: committedAt,
		})
	}
	return records
}

// searchCount returns the search endpoint's reported total for a repository
// qualifier, fetching a single result. The total tracks the search index and
// is an approximation when the index lags.
func (c *gitHubClient) searchCount(ctx context.Context, owner, name, qualifier string) int {
	query := fmt.Sprintf("repo:%s/%s %s", owner, name, qualifier)
	result, _, err := c.rest.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		c.logger.Debug("Metric query degraded to default",
			zap.String("repository", owner+"/"+name),
			zap.String("metric", "search:"+qualifier),
			zap.Error(err))
		return 0
	}
	return result.GetTotal()
}
