// Package health aggregates a single snapshot of the memory lifecycle
// subsystem's state for status endpoints and dashboards.
package health

import (
	"context"
	"time"

	"github.com/tomas-eckhart/memlife/pkg/store"
)

// RunStatus is the outcome of the most recently completed maintenance cycle.
type RunStatus string

const (
	RunUnknown RunStatus = "unknown"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failure"
)

// ClassificationCounts tallies classifier outcomes since the last aggregation.
type ClassificationCounts struct {
	Succeeded int64
	Fallback  int64
	Errored   int64
}

// Snapshot is the health endpoint's payload.
type Snapshot struct {
	CountByState  map[string]int64
	AvgDecayScore float64
	AvgImportance float64
	AvgStability  float64
	TotalMemories int64

	LastMaintenanceStatus   RunStatus
	LastMaintenanceDuration time.Duration
	NextScheduledAt         time.Time

	Classification ClassificationCounts
}

// Aggregate produces a Snapshot from the storage layer plus the maintenance
// run info the caller tracks externally (the orchestrator, not this
// package, owns run history -- this keeps health a pure read-and-shape
// step with no hidden state).
func Aggregate(ctx context.Context, s store.NodeStore, last RunInfo) (Snapshot, error) {
	agg, err := s.Aggregate(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		CountByState:            agg.CountByState,
		AvgDecayScore:           agg.AvgDecayScore,
		AvgImportance:           agg.AvgImportance,
		AvgStability:            agg.AvgStability,
		TotalMemories:           agg.TotalExcludingSoftDeleted,
		LastMaintenanceStatus:   last.Status,
		LastMaintenanceDuration: last.Duration,
		NextScheduledAt:         last.NextScheduledAt,
		Classification:          last.Classification,
	}, nil
}

// RunInfo is the subset of a maintenance cycle's report that feeds the
// health snapshot. Defined here (rather than imported from pkg/maintain) to
// keep this package import-cycle-free; pkg/maintain.Report is convertible
// to this shape at the call site.
type RunInfo struct {
	Status          RunStatus
	Duration        time.Duration
	NextScheduledAt time.Time
	Classification  ClassificationCounts
}
