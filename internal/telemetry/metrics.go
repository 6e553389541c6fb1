// Package telemetry provides OpenTelemetry instrumentation for the sync server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// RepositoryMetricsMeterName is the name used for the repository metrics meter
	RepositoryMetricsMeterName = "github.com/reporank/reporank-server/repository"

	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/reporank/reporank-server/sync"
)

// RepositoryMetrics holds the OpenTelemetry instruments for repository metrics
type RepositoryMetrics struct {
	activeTotal metric.Int64Gauge
}

// NewRepositoryMetrics creates a new RepositoryMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewRepositoryMetrics(provider metric.MeterProvider) (*RepositoryMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RepositoryMetricsMeterName)

	activeTotal, err := meter.Int64Gauge(
		"reporank_active_repositories_total",
		metric.WithDescription("Number of active repositories tracked for synchronization"),
		metric.WithUnit("{repository}"),
	)
	if err != nil {
		return nil, err
	}

	return &RepositoryMetrics{
		activeTotal: activeTotal,
	}, nil
}

// RecordActiveTotal records the number of active repositories seen by a batch
func (m *RepositoryMetrics) RecordActiveTotal(ctx context.Context, count int64) {
	if m == nil || m.activeTotal == nil {
		return
	}

	m.activeTotal.Record(ctx, count)
}

// SyncMetrics holds the OpenTelemetry instruments for sync operation metrics
type SyncMetrics struct {
	syncDuration     metric.Float64Histogram
	snapshotsWritten metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"reporank_sync_duration_seconds",
		metric.WithDescription("Duration of per-repository sync operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	snapshotsWritten, err := meter.Int64Counter(
		"reporank_snapshots_written_total",
		metric.WithDescription("Number of daily statistics snapshots written"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:     syncDuration,
		snapshotsWritten: snapshotsWritten,
	}, nil
}

// RecordSyncDuration records the duration of one repository's sync
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, fullName string, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("repository", fullName),
		attribute.Bool("success", success),
	}

	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSnapshotWritten counts a persisted daily snapshot
func (m *SyncMetrics) RecordSnapshotWritten(ctx context.Context, fullName string) {
	if m == nil || m.snapshotsWritten == nil {
		return
	}

	m.snapshotsWritten.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", fullName),
	))
}
