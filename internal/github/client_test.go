package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestClient wires a client against a local httptest server.
func newTestClient(t *testing.T, mux *http.ServeMux) *gitHubClient {
	t.Helper()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	rest := gogithub.NewClient(nil)
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	rest.BaseURL = baseURL

	return &gitHubClient{
		rest:               rest,
		logger:             zap.NewNop(),
		recentCommitsLimit: defaultRecentCommitsLimit,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprint(w, body); err != nil {
		t.Errorf("failed to write response: %v", err)
	}
}

func repoBody() string {
	return `{
		"id": 4242,
		"name": "widgets",
		"full_name": "acme/widgets",
		"owner": {"login": "acme"},
		"description": "Widget factory",
		"html_url": "https://github.com/acme/widgets",
		"homepage": "https://widgets.example.com",
		"language": "Go",
		"default_branch": "main",
		"stargazers_count": 321,
		"forks_count": 12,
		"watchers_count": 321,
		"size": 2048,
		"open_issues_count": 7,
		"pushed_at": "2026-05-30T09:00:00Z"
	}`
}

func TestFetchMetrics(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, repoBody())
	})
	mux.HandleFunc("GET /repos/acme/widgets/branches", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, `[{"name": "main"}, {"name": "dev"}]`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/releases", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, `[{"id": 1}, {"id": 2}, {"id": 3}]`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/contributors", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("anon"))
		writeJSON(t, w, `[{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}]`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/stats/commit_activity", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, `[
			{"week": 1747526400, "total": 5},
			{"week": 1748131200, "total": 9}
		]`)
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		writeJSON(t, w, `[{
			"sha": "abc123",
			"commit": {"committer": {"date": "2026-05-30T08:55:00Z"}}
		}]`)
	})
	mux.HandleFunc("GET /search/issues", func(w http.ResponseWriter, r *http.Request) {
		totals := map[string]int{
			"repo:acme/widgets is:pr is:open":      3,
			"repo:acme/widgets is:pr is:closed":    40,
			"repo:acme/widgets is:issue is:open":   7,
			"repo:acme/widgets is:issue is:closed": 55,
		}
		total, ok := totals[r.URL.Query().Get("q")]
		require.True(t, ok, "unexpected search query %q", r.URL.Query().Get("q"))
		writeJSON(t, w, fmt.Sprintf(`{"total_count": %d, "items": []}`, total))
	})

	client := newTestClient(t, mux)
	bundle, err := client.FetchMetrics(context.Background(), "acme", "widgets")
	require.NoError(t, err)

	assert.Equal(t, int64(4242), bundle.Descriptor.GitHubID)
	assert.Equal(t, "acme/widgets", bundle.Descriptor.FullName)
	assert.Equal(t, "Go", bundle.Descriptor.Language)
	assert.Equal(t, 321, bundle.Descriptor.Stars)
	assert.Equal(t, 2048, bundle.Descriptor.SizeKB)
	assert.Equal(t, "main", bundle.Descriptor.DefaultBranch)
	assert.Equal(t, time.Date(2026, 5, 30, 9, 0, 0, 0, time.UTC), bundle.Descriptor.PushedAt)

	assert.Equal(t, 2, bundle.Branches)
	assert.Equal(t, 3, bundle.Releases)
	assert.Equal(t, 4, bundle.Contributors)

	assert.Equal(t, 3, bundle.OpenPRs)
	assert.Equal(t, 40, bundle.ClosedPRs)
	assert.Equal(t, 7, bundle.OpenIssues)
	assert.Equal(t, 55, bundle.ClosedIssues)

	require.Len(t, bundle.Weekly, 2)
	assert.Equal(t, 5, bundle.Weekly[0].Total)
	assert.False(t, bundle.ActivityPending)

	require.Len(t, bundle.RecentCommits, 1)
	assert.Equal(t, "abc123", bundle.RecentCommits[0].SHA)
}

func TestFetchMetricsDescriptorNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/gone", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	client := newTestClient(t, mux)
	_, err := client.FetchMetrics(context.Background(), "acme", "gone")
	require.Error(t, err)

	// Not-found is terminal; it must not be retried.
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchMetricsDescriptorRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/flaky", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, repoBody())
	})
	registerEmptyMetricStubs(t, mux, "acme", "flaky")

	client := newTestClient(t, mux)
	bundle, err := client.FetchMetrics(context.Background(), "acme", "flaky")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "acme/widgets", bundle.Descriptor.FullName)
}

func TestFetchMetricsDegradesSecondaryFailures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, repoBody())
	})
	// Every secondary endpoint fails; the fetch must still succeed with
	// neutral defaults.
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := newTestClient(t, mux)
	bundle, err := client.FetchMetrics(context.Background(), "acme", "widgets")
	require.NoError(t, err)

	assert.Zero(t, bundle.Branches)
	assert.Zero(t, bundle.Releases)
	assert.Zero(t, bundle.Contributors)
	assert.Zero(t, bundle.OpenPRs)
	assert.Zero(t, bundle.ClosedIssues)
	assert.Empty(t, bundle.Weekly)
	assert.Empty(t, bundle.RecentCommits)
}

func TestFetchMetricsPendingActivityFallsBackToCommitListing(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, repoBody())
	})
	mux.HandleFunc("GET /repos/acme/widgets/stats/commit_activity", func(w http.ResponseWriter, _ *http.Request) {
		// Upstream is still computing the series.
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") == "1" {
			writeJSON(t, w, `[{"sha": "probe", "commit": {"committer": {"date": "2026-05-30T08:00:00Z"}}}]`)
			return
		}
		assert.Equal(t, "25", r.URL.Query().Get("per_page"))
		writeJSON(t, w, `[
			{"sha": "a", "commit": {"committer": {"date": "2026-05-30T08:00:00Z"}}},
			{"sha": "b", "commit": {"committer": {"date": "2026-05-29T08:00:00Z"}}},
			{"sha": "c", "commit": {"committer": {"date": "2026-05-28T08:00:00Z"}}}
		]`)
	})
	registerEmptyMetricStubs(t, mux, "acme", "widgets")

	client := newTestClient(t, mux)
	client.recentCommitsLimit = 25

	bundle, err := client.FetchMetrics(context.Background(), "acme", "widgets")
	require.NoError(t, err)

	assert.True(t, bundle.ActivityPending)
	assert.Empty(t, bundle.Weekly)
	require.Len(t, bundle.RecentCommits, 3)
	assert.Equal(t, "a", bundle.RecentCommits[0].SHA)
}

// registerEmptyMetricStubs fills in the secondary endpoints a test does not
// care about, so unrelated queries resolve cleanly to empty results.
func registerEmptyMetricStubs(t *testing.T, mux *http.ServeMux, owner, name string) {
	t.Helper()

	prefix := fmt.Sprintf("/repos/%s/%s", owner, name)
	for _, path := range []string{"/branches", "/releases", "/contributors"} {
		mux.HandleFunc("GET "+prefix+path, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, `[]`)
		})
	}
	if _, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, prefix+"/stats/commit_activity", nil)); pattern == "" {
		mux.HandleFunc("GET "+prefix+"/stats/commit_activity", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, `[]`)
		})
	}
	if _, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, prefix+"/commits", nil)); pattern == "" {
		mux.HandleFunc("GET "+prefix+"/commits", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, `[]`)
		})
	}
	mux.HandleFunc("GET /search/issues", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, `{"total_count": 0, "items": []}`)
	})
}
