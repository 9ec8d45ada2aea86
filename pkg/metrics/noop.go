//go:build !metrics

package metrics

import (
	"context"
	"time"
)

// NoopCollector is a no-op implementation when metrics are disabled.
// This file is only compiled when the 'metrics' build tag is NOT present.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordOperation does nothing when metrics are disabled.
func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

// RecordStage does nothing when metrics are disabled.
func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
}

// RecordError does nothing when metrics are disabled.
func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {
}

// SetStorageCount does nothing when metrics are disabled.
func (n *NoopCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {
}

// RecordTransition does nothing when metrics are disabled.
func (n *NoopCollector) RecordTransition(ctx context.Context, from, to string) {}

// RecordPurge does nothing when metrics are disabled.
func (n *NoopCollector) RecordPurge(ctx context.Context, count int64) {}

// RecordMaintenanceRun does nothing when metrics are disabled.
func (n *NoopCollector) RecordMaintenanceRun(ctx context.Context, status string, duration time.Duration) {
}

// RecordClassificationLatency does nothing when metrics are disabled.
func (n *NoopCollector) RecordClassificationLatency(ctx context.Context, duration time.Duration) {}

// RecordClassificationRequest does nothing when metrics are disabled.
func (n *NoopCollector) RecordClassificationRequest(ctx context.Context, status string) {}

// RecordRerankDuration does nothing when metrics are disabled.
func (n *NoopCollector) RecordRerankDuration(ctx context.Context, duration time.Duration) {}

// SetStateGauge does nothing when metrics are disabled.
func (n *NoopCollector) SetStateGauge(ctx context.Context, state string, count int64) {}
