package metrics

import (
	"context"
	"time"
)

// Collector is the interface for metrics collection.
// Implementations include the Prometheus-backed collector (compiled in every build)
// and the no-op collector (compiled only when the metrics build tag is absent).
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetStorageCount(ctx context.Context, storageType string, count int64)

	// RecordTransition counts one lifecycle-state transition by (from, to).
	RecordTransition(ctx context.Context, from, to string)
	// RecordPurge counts hard-deleted nodes in one maintenance cycle.
	RecordPurge(ctx context.Context, count int64)
	// RecordMaintenanceRun counts one completed cycle by status
	// (success/partial/failure) and records its wall-clock duration.
	RecordMaintenanceRun(ctx context.Context, status string, duration time.Duration)
	// RecordClassificationLatency observes the per-node classification call
	// latency, independent of RecordOperation's request-count bookkeeping.
	RecordClassificationLatency(ctx context.Context, duration time.Duration)
	// RecordClassificationRequest counts one classification call by outcome
	// (success/fallback/error), independent of the generic per-operation counter.
	RecordClassificationRequest(ctx context.Context, status string)
	// RecordRerankDuration observes the re-rank pass's wall-clock cost.
	RecordRerankDuration(ctx context.Context, duration time.Duration)
	// SetStateGauge publishes the current count of nodes in one lifecycle state.
	SetStateGauge(ctx context.Context, state string, count int64)
}
