// Package v0 provides the REST API handlers for triggering and inspecting
// repository synchronization.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reporank/reporank-server/internal/store"
	"github.com/reporank/reporank-server/internal/sync"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// SyncService is the synchronization surface exposed over HTTP.
type SyncService interface {
	RunBatchSync(ctx context.Context, syncType store.SyncType) (*sync.BatchResult, error)
	RunSingleSync(ctx context.Context, repositoryID uuid.UUID, syncType store.SyncType) (*store.StatsSnapshot, time.Duration, error)
}

// BatchSyncResponse summarizes a completed batch sync.
type BatchSyncResponse struct {
	Total     int                   `json:"total"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
	Errors    []RepositoryErrorItem `json:"errors,omitempty"`
}

// RepositoryErrorItem reports one repository's failure inside a batch.
type RepositoryErrorItem struct {
	Repository string `json:"repository"`
	Error      string `json:"error"`
}

// SingleSyncResponse reports the outcome of a single-repository sync.
type SingleSyncResponse struct {
	Snapshot   SnapshotItem `json:"snapshot"`
	DurationMS int64        `json:"duration_ms"`
}

// SnapshotItem is the JSON shape of a daily statistics snapshot.
type SnapshotItem struct {
	ID               uuid.UUID  `json:"id"`
	RepositoryID     uuid.UUID  `json:"repository_id"`
	Stars            int        `json:"stars"`
	Forks            int        `json:"forks"`
	Watchers         int        `json:"watchers"`
	OpenIssues       int        `json:"open_issues"`
	ClosedIssues     int        `json:"closed_issues"`
	OpenPRs          int        `json:"open_prs"`
	ClosedPRs        int        `json:"closed_prs"`
	Commits          int        `json:"commits"`
	Branches         int        `json:"branches"`
	Releases         int        `json:"releases"`
	Contributors     int        `json:"contributors"`
	CodeSizeKB       int        `json:"code_size_kb"`
	LastCommitAt     *time.Time `json:"last_commit_at,omitempty"`
	CommitsLastMonth int        `json:"commits_last_month"`
	CommitsLastWeek  int        `json:"commits_last_week"`
	SnapshotDate     string     `json:"snapshot_date"`
}

// SyncLogItem is the JSON shape of one sync log entry.
type SyncLogItem struct {
	ID           uuid.UUID  `json:"id"`
	RepositoryID uuid.UUID  `json:"repository_id"`
	SyncType     string     `json:"sync_type"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
}

// SyncLogsResponse wraps the recent sync log listing.
type SyncLogsResponse struct {
	Logs []SyncLogItem `json:"logs"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	service SyncService
	store   store.Store
	logger  *zap.Logger
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(svc SyncService, st store.Store, logger *zap.Logger) *Routes {
	return &Routes{
		service: svc,
		store:   st,
		logger:  logger,
	}
}

// Router creates a new router for the sync API
func Router(svc SyncService, st store.Store, logger *zap.Logger) http.Handler {
	routes := NewRoutes(svc, st, logger)

	r := chi.NewRouter()

	r.Post("/sync", routes.triggerBatchSync)
	r.Post("/sync/{repositoryID}", routes.triggerSingleSync)
	r.Get("/sync/logs", routes.listSyncLogs)

	return r
}

// triggerBatchSync handles POST /api/v0/sync
func (rr *Routes) triggerBatchSync(w http.ResponseWriter, r *http.Request) {
	result, err := rr.service.RunBatchSync(r.Context(), store.SyncTypeManual)
	if err != nil {
		rr.logger.Error("Batch sync failed", zap.Error(err))
		rr.writeErrorResponse(w, "Failed to run batch sync", http.StatusInternalServerError)
		return
	}

	resp := BatchSyncResponse{
		Total:     result.Total,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	}
	for _, repoErr := range result.Errors {
		resp.Errors = append(resp.Errors, RepositoryErrorItem{
			Repository: repoErr.FullName,
			Error:      repoErr.Err.Error(),
		})
	}

	rr.writeJSONResponse(w, resp)
}

// triggerSingleSync handles POST /api/v0/sync/{repositoryID}
func (rr *Routes) triggerSingleSync(w http.ResponseWriter, r *http.Request) {
	repositoryID, err := uuid.Parse(chi.URLParam(r, "repositoryID"))
	if err != nil {
		rr.writeErrorResponse(w, "Invalid repository id", http.StatusBadRequest)
		return
	}

	snapshot, duration, err := rr.service.RunSingleSync(r.Context(), repositoryID, store.SyncTypeManual)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rr.writeErrorResponse(w, "Repository not found", http.StatusNotFound)
		return
	case errors.Is(err, sync.ErrRepositoryInactive):
		rr.writeErrorResponse(w, "Repository is not active", http.StatusBadRequest)
		return
	case err != nil:
		rr.logger.Error("Repository sync failed",
			zap.String("repository_id", repositoryID.String()),
			zap.Error(err))
		rr.writeErrorResponse(w, "Failed to sync repository", http.StatusBadGateway)
		return
	}

	rr.writeJSONResponse(w, SingleSyncResponse{
		Snapshot:   snapshotItem(snapshot),
		DurationMS: duration.Milliseconds(),
	})
}

// listSyncLogs handles GET /api/v0/sync/logs
func (rr *Routes) listSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			rr.writeErrorResponse(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxLogLimit)
	}

	entries, err := rr.store.ListRecentSyncLogs(r.Context(), limit)
	if err != nil {
		rr.logger.Error("Failed to list sync logs", zap.Error(err))
		rr.writeErrorResponse(w, "Failed to list sync logs", http.StatusInternalServerError)
		return
	}

	resp := SyncLogsResponse{Logs: make([]SyncLogItem, 0, len(entries))}
	for _, e := range entries {
		resp.Logs = append(resp.Logs, SyncLogItem{
			ID:           e.ID,
			RepositoryID: e.RepositoryID,
			SyncType:     string(e.SyncType),
			Status:       string(e.Status),
			ErrorMessage: e.ErrorMessage,
			StartedAt:    e.StartedAt,
			CompletedAt:  e.CompletedAt,
			DurationMS:   e.DurationMS,
		})
	}

	rr.writeJSONResponse(w, resp)
}

func snapshotItem(s *store.StatsSnapshot) SnapshotItem {
	return SnapshotItem{
		ID:               s.ID,
		RepositoryID:     s.RepositoryID,
		Stars:            s.Stars,
		Forks:            s.Forks,
		Watchers:         s.Watchers,
		OpenIssues:       s.OpenIssues,
		ClosedIssues:     s.ClosedIssues,
		OpenPRs:          s.OpenPRs,
		ClosedPRs:        s.ClosedPRs,
		Commits:          s.Commits,
		Branches:         s.Branches,
		Releases:         s.Releases,
		Contributors:     s.Contributors,
		CodeSizeKB:       s.CodeSizeKB,
		LastCommitAt:     s.LastCommitAt,
		CommitsLastMonth: s.CommitsLastMonth,
		CommitsLastWeek:  s.CommitsLastWeek,
		SnapshotDate:     s.SnapshotDate.Format("2006-01-02"),
	}
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(version string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(version))

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"version": version})
	}
}

// writeJSONResponse writes a JSON response with the given data
func (rr *Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		rr.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes a standardized error response
func (rr *Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		rr.logger.Error("Failed to encode error response", zap.Error(err))
	}
}
