package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics collection for memlife operations.
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec

	transitionsTotal            *prometheus.CounterVec
	memoriesPurgedTotal         prometheus.Counter
	maintenanceRunsTotal        *prometheus.CounterVec
	maintenanceDuration         prometheus.Histogram
	classificationLatency       prometheus.Histogram
	classificationRequestsTotal *prometheus.CounterVec
	rerankDuration              prometheus.Histogram
	memoriesByState             *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewCollector creates a new Prometheus metrics collector.
//
// Cumulative counters (transitionsTotal, memoriesPurgedTotal,
// maintenanceRunsTotal, operationsTotal) reset to zero on process restart.
// Dashboards querying them must wrap in rate()/increase() over a window
// rather than reading the raw counter value, so a restart does not read as
// a visual discontinuity.
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memlife_operations_total",
			Help: "Total number of memlife operations by type and status. Use rate() over time, not the raw value.",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memlife_operation_duration_seconds",
			Help:    "Duration of memlife operations by type and stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memlife_errors_total",
			Help: "Total number of errors by operation and error type. Use rate() over time, not the raw value.",
		},
		[]string{"operation", "error_type"},
	)

	storageCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memlife_storage_count",
			Help: "Current count of stored items by type",
		},
		[]string{"type"},
	)

	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memlife_transitions_total",
			Help: "Total lifecycle-state transitions by (from, to). Use rate() over time, not the raw value.",
		},
		[]string{"from", "to"},
	)

	memoriesPurgedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memlife_memories_purged_total",
			Help: "Total hard-deleted memory nodes. Use rate() over time, not the raw value.",
		},
	)

	maintenanceRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memlife_maintenance_runs_total",
			Help: "Total maintenance cycles by status (success/partial/failure). Use rate() over time, not the raw value.",
		},
		[]string{"status"},
	)

	maintenanceDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memlife_maintenance_duration_seconds",
			Help:    "Wall-clock duration of a maintenance cycle",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
		},
	)

	classificationLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memlife_classification_latency_seconds",
			Help:    "Per-node classification call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
		},
	)

	classificationRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_requests_total",
			Help: "Total classification calls by outcome (success/fallback/error). Use rate() over time, not the raw value.",
		},
		[]string{"status"},
	)

	rerankDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memlife_rerank_duration_seconds",
			Help:    "Wall-clock cost of one re-rank pass",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	memoriesByState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memlife_memories_by_state",
			Help: "Current count of memory nodes per lifecycle state",
		},
		[]string{"state"},
	)

	registry.MustRegister(
		operationsTotal, operationDuration, errorsTotal, storageCount,
		transitionsTotal, memoriesPurgedTotal, maintenanceRunsTotal,
		maintenanceDuration, classificationLatency, classificationRequestsTotal,
		rerankDuration, memoriesByState,
	)

	return &MetricsCollector{
		operationsTotal:             operationsTotal,
		operationDuration:           operationDuration,
		errorsTotal:                 errorsTotal,
		storageCount:                storageCount,
		transitionsTotal:            transitionsTotal,
		memoriesPurgedTotal:         memoriesPurgedTotal,
		maintenanceRunsTotal:        maintenanceRunsTotal,
		maintenanceDuration:         maintenanceDuration,
		classificationLatency:       classificationLatency,
		classificationRequestsTotal: classificationRequestsTotal,
		rerankDuration:              rerankDuration,
		memoriesByState:             memoriesByState,
		registry:                    registry,
	}
}

// RecordOperation records the completion of an operation.
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStage records the duration of a specific stage within an operation.
func (m *MetricsCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence.
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetStorageCount sets the current count for a storage type.
func (m *MetricsCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {
	m.storageCount.WithLabelValues(storageType).Set(float64(count))
}

// RecordTransition counts one lifecycle-state transition by (from, to).
func (m *MetricsCollector) RecordTransition(ctx context.Context, from, to string) {
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordPurge counts hard-deleted nodes in one maintenance cycle.
func (m *MetricsCollector) RecordPurge(ctx context.Context, count int64) {
	m.memoriesPurgedTotal.Add(float64(count))
}

// RecordMaintenanceRun counts one completed cycle by status and records its duration.
func (m *MetricsCollector) RecordMaintenanceRun(ctx context.Context, status string, duration time.Duration) {
	m.maintenanceRunsTotal.WithLabelValues(status).Inc()
	m.maintenanceDuration.Observe(duration.Seconds())
}

// RecordClassificationLatency observes one classification call's latency.
func (m *MetricsCollector) RecordClassificationLatency(ctx context.Context, duration time.Duration) {
	m.classificationLatency.Observe(duration.Seconds())
}

// RecordClassificationRequest counts one classification call by outcome.
func (m *MetricsCollector) RecordClassificationRequest(ctx context.Context, status string) {
	m.classificationRequestsTotal.WithLabelValues(status).Inc()
}

// RecordRerankDuration observes the re-rank pass's wall-clock cost.
func (m *MetricsCollector) RecordRerankDuration(ctx context.Context, duration time.Duration) {
	m.rerankDuration.Observe(duration.Seconds())
}

// SetStateGauge publishes the current count of nodes in one lifecycle state.
func (m *MetricsCollector) SetStateGauge(ctx context.Context, state string, count int64) {
	m.memoriesByState.WithLabelValues(state).Set(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
