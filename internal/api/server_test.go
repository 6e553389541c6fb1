package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reporank/reporank-server/internal/api"
	"github.com/reporank/reporank-server/internal/auth"
	"github.com/reporank/reporank-server/internal/github"
	"github.com/reporank/reporank-server/internal/store"
	"github.com/reporank/reporank-server/internal/sync"
)

type noopClient struct{}

func (noopClient) FetchMetrics(_ context.Context, _, _ string) (*github.MetricBundle, error) {
	return &github.MetricBundle{}, nil
}

func newServer(t *testing.T) http.Handler {
	t.Helper()

	mem := store.NewMemoryStore()
	engine := sync.NewEngine(mem, noopClient{}, zap.NewNop(), sync.WithRepositoryPause(0))

	authMw, err := auth.NewMiddleware("s3cret", zap.NewNop())
	require.NoError(t, err)

	return api.NewServer(engine, mem, zap.NewNop(), "test",
		api.WithMiddlewares(auth.WrapWithPublicPaths(authMw, []string{"/health", "/version"})))
}

func TestHealthEndpointIsPublic(t *testing.T) {
	t.Parallel()

	server := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestSyncEndpointsRequireAuth(t *testing.T) {
	t.Parallel()

	server := newServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v0/sync", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v0/sync", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	server := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"version":"test"}`, rr.Body.String())
}
