// Package maintain implements the batched maintenance cycle that keeps
// memory node scores and lifecycle states current: classify, recalculate
// decay, transition states, soft-delete, purge, then refresh health gauges.
// Only one cycle may run at a time; a concurrent start attempt is rejected
// outright rather than queued.
package maintain

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomas-eckhart/memlife/pkg/classify"
	"github.com/tomas-eckhart/memlife/pkg/config"
	"github.com/tomas-eckhart/memlife/pkg/decay"
	"github.com/tomas-eckhart/memlife/pkg/health"
	"github.com/tomas-eckhart/memlife/pkg/lifecycle"
	"github.com/tomas-eckhart/memlife/pkg/metrics"
	"github.com/tomas-eckhart/memlife/pkg/retention"
	"github.com/tomas-eckhart/memlife/pkg/store"
	"github.com/tomas-eckhart/memlife/pkg/trace"
)

// Status is the outcome of one completed (or aborted) cycle.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// ErrAlreadyRunning is returned when RunCycle is called while a cycle is
// still in progress. The caller's attempt is rejected, not queued.
var ErrAlreadyRunning = fmt.Errorf("maintenance cycle already running")

// StepCounts tallies how many nodes each pipeline step touched.
type StepCounts struct {
	Classified   int
	Decayed      int
	Transitioned int
	SoftDeleted  int
	Purged       int
}

// Report is the state of one completed cycle.
type Report struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Status         Status
	Counts         StepCounts
	Errors         []string
	Classification health.ClassificationCounts
}

// Orchestrator sequences the maintenance pipeline against a shared store,
// classifier, and metrics collector.
type Orchestrator struct {
	Store      store.NodeStore
	Classifier *classify.Classifier
	Config     *config.Config
	Metrics    metrics.Collector
	// Exporter receives one TraceRecord per completed cycle, with one span
	// per pipeline step. A nil Exporter is valid and skips tracing entirely;
	// wire one from trace.NewFileExporter to capture per-step spans.
	Exporter trace.Exporter

	running atomic.Bool
	lastRun atomic.Pointer[Report]
}

// New constructs an Orchestrator. cfg and collector must not be nil;
// classifier may wrap a nil llm.LLMClient (it degrades to defaults). The
// returned Orchestrator has no Exporter wired; set one directly to capture
// per-step spans.
func New(s store.NodeStore, classifier *classify.Classifier, cfg *config.Config, collector metrics.Collector) *Orchestrator {
	return &Orchestrator{Store: s, Classifier: classifier, Config: cfg, Metrics: collector}
}

// LastReport returns the most recently completed cycle's report, or nil if
// no cycle has ever run.
func (o *Orchestrator) LastReport() *Report {
	return o.lastRun.Load()
}

// RunCycle executes one maintenance pass. dryRun computes the would-be
// result of the classify, decay, transition and soft-delete steps without
// persisting their writes; the purge step is skipped entirely in dry-run
// mode and reports no count.
func (o *Orchestrator) RunCycle(ctx context.Context, dryRun bool) (*Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	started := time.Now()
	deadline := started.Add(time.Duration(o.Config.Maintenance.MaxDurationSeconds) * time.Second)
	report := &Report{StartedAt: started, Status: StatusSuccess}
	operationID := uuid.New().String()

	steps := []struct {
		name string
		run  func(context.Context, time.Time, *Report, bool) bool
	}{
		{"classify", o.classifyStep},
		{"decay", o.decayStep},
		{"transition", o.transitionStep},
		{"soft_delete", o.softDeleteStep},
		{"purge", o.purgeStep},
	}

	var spans []trace.SpanRecord
	for _, step := range steps {
		if time.Now().After(deadline) {
			report.Status = StatusPartial
			break
		}
		stepStarted := time.Now()
		ok := step.run(ctx, deadline, report, dryRun)
		spans = append(spans, trace.SpanRecord{
			Name:       step.name,
			DurationMs: time.Since(stepStarted).Milliseconds(),
			OK:         ok,
		})
		if !ok {
			report.Status = StatusPartial
		}
	}

	o.refreshGauges(ctx, report)

	report.CompletedAt = time.Now()
	if o.Metrics != nil {
		o.Metrics.RecordMaintenanceRun(ctx, string(report.Status), report.CompletedAt.Sub(report.StartedAt))
	}
	o.lastRun.Store(report)
	o.exportTrace(ctx, operationID, report, spans)

	return report, nil
}

// exportTrace ships one TraceRecord per cycle to the configured Exporter.
// A nil Exporter, or an export failure, is logged and swallowed: tracing
// must never affect the maintenance result.
func (o *Orchestrator) exportTrace(ctx context.Context, operationID string, report *Report, spans []trace.SpanRecord) {
	if o.Exporter == nil {
		return
	}

	status := "success"
	if report.Status != StatusSuccess {
		status = "error"
	}

	record := &trace.TraceRecord{
		Timestamp:   report.StartedAt,
		OperationID: operationID,
		Operation:   "run_decay_maintenance",
		DurationMs:  report.CompletedAt.Sub(report.StartedAt).Milliseconds(),
		Status:      status,
		Spans:       spans,
		IDs: map[string]interface{}{
			"classified":   report.Counts.Classified,
			"decayed":      report.Counts.Decayed,
			"transitioned": report.Counts.Transitioned,
			"soft_deleted": report.Counts.SoftDeleted,
			"purged":       report.Counts.Purged,
		},
	}
	if len(report.Errors) > 0 {
		record.ErrorType = "maintenance"
	}

	if err := o.Exporter.Export(ctx, record); err != nil {
		log.Printf("memlife: failed to export maintenance trace: %v", err)
	}
}

func (o *Orchestrator) classifyStep(ctx context.Context, deadline time.Time, report *Report, dryRun bool) bool {
	nodes, err := o.Store.ListUnclassified(ctx, o.Config.Maintenance.BatchSize)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list unclassified: %v", err))
		return false
	}
	if len(nodes) == 0 {
		return true
	}

	candidates := make([]classify.Candidate, len(nodes))
	for i, n := range nodes {
		candidates[i] = classify.Candidate{UUID: n.UUID, Summary: n.Summary}
	}

	result := o.Classifier.ClassifyBatch(ctx, candidates, deadline)
	for _, r := range result.Results {
		if r.Fallback {
			report.Classification.Fallback++
			continue
		}
		report.Classification.Succeeded++
		if dryRun {
			continue
		}
		if err := o.Store.SetScores(ctx, r.UUID, r.Importance, r.Stability, time.Now()); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("set scores for %s: %v", r.UUID, err))
			report.Classification.Errored++
			continue
		}
		report.Counts.Classified++
	}

	return len(result.Remaining) == 0
}

func (o *Orchestrator) decayStep(ctx context.Context, deadline time.Time, report *Report, dryRun bool) bool {
	batchSize := o.Config.Maintenance.BatchSize
	offset := 0
	now := time.Now()

	for {
		if time.Now().After(deadline) {
			return false
		}

		nodes, err := o.Store.ListForDecay(ctx, batchSize, offset, now)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("list for decay: %v", err))
			return false
		}
		if len(nodes) == 0 {
			return true
		}

		updates := make([]store.DecayUpdate, 0, len(nodes))
		for _, n := range nodes {
			score := decay.Score(float64(o.Config.Decay.BaseHalfLifeDays), n.Importance, n.Stability, n.DaysSinceAccess)
			updates = append(updates, store.DecayUpdate{UUID: n.UUID, DecayScore: score})
		}

		if !dryRun {
			result := o.Store.BatchRecalculateDecay(ctx, updates)
			report.Counts.Decayed += result.Succeeded
			if result.Failed > 0 {
				for _, e := range result.Errors {
					report.Errors = append(report.Errors, e.Error())
				}
				return false
			}
		} else {
			report.Counts.Decayed += len(updates)
		}

		if len(nodes) < batchSize {
			return true
		}
		offset += batchSize
	}
}

func (o *Orchestrator) transitionStep(ctx context.Context, deadline time.Time, report *Report, dryRun bool) bool {
	batchSize := o.Config.Maintenance.BatchSize
	offset := 0
	now := time.Now()

	for {
		if time.Now().After(deadline) {
			return false
		}

		nodes, err := o.Store.ListForDecay(ctx, batchSize, offset, now)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("list for transition: %v", err))
			return false
		}
		if len(nodes) == 0 {
			return true
		}

		var transitions []store.StateTransition
		for _, n := range nodes {
			snap := lifecycle.Snapshot{
				State:           lifecycle.State(n.LifecycleState),
				Importance:      n.Importance,
				Stability:       n.Stability,
				DecayScore:      n.DecayScore,
				DaysSinceAccess: n.DaysSinceAccess,
				SoftDeletedAt:   n.SoftDeletedAt,
			}
			tr := lifecycle.Next(now, snap, o.Config.Decay.Thresholds, o.Config.Decay.Retention.SoftDeleteDays)
			// EXPIRED -> SOFT_DELETED is the pipeline's own soft-delete step
			// (it also stamps soft_deleted_at); skip it here so it isn't
			// half-applied without that timestamp.
			if !tr.Changed || tr.Purge || tr.Next == lifecycle.SoftDeleted {
				continue
			}
			transitions = append(transitions, store.StateTransition{UUID: n.UUID, NextState: string(tr.Next)})
			if o.Metrics != nil {
				o.Metrics.RecordTransition(ctx, string(tr.From), string(tr.Next))
			}
		}

		if len(transitions) > 0 && !dryRun {
			result := o.Store.BatchTransition(ctx, transitions)
			report.Counts.Transitioned += result.Succeeded
			if result.Failed > 0 {
				for _, e := range result.Errors {
					report.Errors = append(report.Errors, e.Error())
				}
				return false
			}
		} else {
			report.Counts.Transitioned += len(transitions)
		}

		if len(nodes) < batchSize {
			return true
		}
		offset += batchSize
	}
}

func (o *Orchestrator) softDeleteStep(ctx context.Context, deadline time.Time, report *Report, dryRun bool) bool {
	expired, err := o.Store.ListByState(ctx, "EXPIRED", o.Config.Maintenance.BatchSize, 0)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list expired: %v", err))
		return false
	}
	if len(expired) == 0 {
		return true
	}

	uuids := make([]string, len(expired))
	for i, n := range expired {
		uuids[i] = n.UUID
	}

	if dryRun {
		report.Counts.SoftDeleted += len(uuids)
		return true
	}

	result := o.Store.BatchSoftDelete(ctx, uuids, time.Now())
	report.Counts.SoftDeleted += result.Succeeded
	if result.Failed > 0 {
		for _, e := range result.Errors {
			report.Errors = append(report.Errors, e.Error())
		}
		return false
	}
	return true
}

func (o *Orchestrator) purgeStep(ctx context.Context, deadline time.Time, report *Report, dryRun bool) bool {
	if dryRun {
		return true
	}

	p := retention.Policy{
		SoftDeleteDays:             o.Config.Decay.Retention.SoftDeleteDays,
		ResetAccessCountOnRecovery: o.Config.Decay.Retention.ResetAccessCountOnRecovery,
	}
	result := retention.PurgeExpired(ctx, o.Store, p, time.Now())
	report.Counts.Purged += result.Succeeded
	if o.Metrics != nil && result.Succeeded > 0 {
		o.Metrics.RecordPurge(ctx, int64(result.Succeeded))
	}
	if result.Failed > 0 {
		for _, e := range result.Errors {
			report.Errors = append(report.Errors, e.Error())
		}
		return false
	}
	return true
}

// refreshGauges runs the health aggregation and republishes it to metrics.
// Failures here are logged and swallowed: they must never fail the cycle.
func (o *Orchestrator) refreshGauges(ctx context.Context, report *Report) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("memlife: panic refreshing gauges: %v", r)
		}
	}()

	snap, err := health.Aggregate(ctx, o.Store, health.RunInfo{
		Status:         health.RunStatus(report.Status),
		Classification: report.Classification,
	})
	if err != nil {
		log.Printf("memlife: failed to refresh health gauges: %v", err)
		return
	}

	if o.Metrics == nil {
		return
	}
	for state, count := range snap.CountByState {
		o.Metrics.SetStateGauge(ctx, state, count)
	}
}
