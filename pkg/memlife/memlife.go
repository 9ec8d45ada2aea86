// Package memlife is the top-level facade wiring the classifier, decay
// math, lifecycle state machine, storage layer, maintenance orchestrator,
// re-ranker, and health aggregator into the operations a host MCP layer
// would call. It takes every collaborator as an explicit constructor
// argument; there is no package-level singleton state.
package memlife

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tomas-eckhart/memlife/pkg/classify"
	"github.com/tomas-eckhart/memlife/pkg/config"
	"github.com/tomas-eckhart/memlife/pkg/health"
	"github.com/tomas-eckhart/memlife/pkg/llm"
	"github.com/tomas-eckhart/memlife/pkg/maintain"
	"github.com/tomas-eckhart/memlife/pkg/metrics"
	"github.com/tomas-eckhart/memlife/pkg/rerank"
	"github.com/tomas-eckhart/memlife/pkg/retention"
	"github.com/tomas-eckhart/memlife/pkg/store"
	"github.com/tomas-eckhart/memlife/pkg/trace"
)

// NewLLMClient builds the classifier's completion backend from cfg.LLM,
// reading the API key from the environment variable cfg.LLM.APIKeyEnv names.
// An empty Provider is a supported deployment choice: it returns (nil, nil)
// and the classifier that consumes it runs in permanent fallback mode.
func NewLLMClient(cfg *config.Config) (llm.LLMClient, error) {
	apiKey := ""
	if cfg.LLM.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}
	return llm.NewFromConfig(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.BaseURL, apiKey)
}

// NewTraceExporter builds the Orchestrator/Classifier trace sink from
// cfg.Tracing. An empty FilePath is a supported deployment choice: both the
// tracing and non-tracing builds of trace.NewFileExporter treat "" as a
// request for a no-op exporter.
func NewTraceExporter(cfg *config.Config) (trace.Exporter, error) {
	return trace.NewFileExporter(cfg.Tracing.FilePath)
}

// SemanticHit is one result from the host graph engine's semantic search,
// before lifecycle re-ranking. The engine that produces embeddings and
// vector similarity is an external collaborator; this facade only blends
// its output with recency and importance.
type SemanticHit struct {
	UUID          string
	SemanticScore float64
}

// SemanticSearcher is the host graph engine's search capability, consumed
// as an interface so this facade never depends on a concrete embedding or
// vector-index implementation.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, limit int, groupIDs []string) ([]SemanticHit, error)
}

// AddMemoryInput is the payload for AddMemory.
type AddMemoryInput struct {
	Name    string
	Body    string
	Source  string
	GroupID string
}

// RunSummary is returned from RunDecayMaintenance.
type RunSummary struct {
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
	Counts      maintain.StepCounts
	Errors      []string
}

// StatusSummary is returned from GetStatus.
type StatusSummary struct {
	Live              bool
	LastMaintenance   RunSummary
	HasRunMaintenance bool
}

// Service is the facade. Construct with New; all fields are required
// except Searcher, which may be nil (SearchNodes then returns an empty
// result and no error).
type Service struct {
	Store        store.NodeStore
	Classifier   *classify.Classifier
	Orchestrator *maintain.Orchestrator
	Config       *config.Config
	Metrics      metrics.Collector
	Searcher     SemanticSearcher
}

// New wires every collaborator explicitly. classifier may wrap a nil LLM
// client; collector may be a metrics.NoopCollector. It also builds the
// trace exporter named by cfg.Tracing and wires it into both the
// orchestrator and the classifier; a failure to open the configured trace
// file is logged and degrades to no tracing rather than failing New.
func New(s store.NodeStore, classifier *classify.Classifier, cfg *config.Config, collector metrics.Collector, searcher SemanticSearcher) *Service {
	orchestrator := maintain.New(s, classifier, cfg, collector)

	exporter, err := NewTraceExporter(cfg)
	if err != nil {
		log.Printf("memlife: failed to open trace exporter %q, tracing disabled: %v", cfg.Tracing.FilePath, err)
	} else {
		orchestrator.Exporter = exporter
		classifier.Exporter = exporter
	}

	return &Service{
		Store:        s,
		Classifier:   classifier,
		Orchestrator: orchestrator,
		Config:       cfg,
		Metrics:      collector,
		Searcher:     searcher,
	}
}

// AddMemory creates a node with neutral initial scores and schedules
// classification in the background. It returns as soon as the node is
// persisted; classification errors are logged, never propagated.
func (s *Service) AddMemory(ctx context.Context, in AddMemoryInput) (string, error) {
	id := uuid.New().String()
	summary := in.Name
	if in.Body != "" {
		summary = in.Name + " -- " + in.Body
	}

	node := &store.MemoryNode{
		UUID:           id,
		Summary:        summary,
		Importance:     classify.DefaultImportance,
		Stability:      classify.DefaultStability,
		LifecycleState: "ACTIVE",
	}
	if err := s.Store.CreateNode(ctx, node); err != nil {
		return "", fmt.Errorf("add memory: %w", err)
	}

	go s.classifyInBackground(id, summary)

	return id, nil
}

func (s *Service) classifyInBackground(id, summary string) {
	ctx := context.Background()
	result := s.Classifier.ClassifyOne(ctx, classify.Candidate{UUID: id, Summary: summary})
	if result.Fallback {
		return
	}
	if err := s.Store.SetScores(ctx, id, result.Importance, result.Stability, time.Now()); err != nil {
		log.Printf("memlife: failed to persist classification for %s: %v", id, err)
	}
}

// SearchNodes runs the host engine's semantic search then blends the
// results with recency and importance. If no Searcher is configured,
// or the search fails, it returns an empty result rather than erroring --
// ingest and search must never fail due to this subsystem.
func (s *Service) SearchNodes(ctx context.Context, query string, limit int, groupIDs []string) ([]rerank.Ranked, error) {
	if s.Searcher == nil {
		return nil, nil
	}

	hits, err := s.Searcher.Search(ctx, query, limit, groupIDs)
	if err != nil {
		log.Printf("memlife: semantic search failed, returning empty results: %v", err)
		return nil, nil
	}

	candidates := make([]rerank.Candidate, 0, len(hits))
	for _, h := range hits {
		node, err := s.Store.GetMemoryNode(ctx, h.UUID)
		if err != nil {
			continue
		}
		candidates = append(candidates, rerank.Candidate{
			UUID:           node.UUID,
			SemanticScore:  h.SemanticScore,
			Importance:     node.Importance,
			LifecycleState: node.LifecycleState,
			LastAccessedAt: node.LastAccessedAt,
			CreatedAt:      node.CreatedAt,
		})
	}

	start := time.Now()
	ranked := rerank.Rerank(time.Now(), candidates, s.Config.Decay.SearchWeights, s.Config.Decay.RecencyTauDays)
	if s.Metrics != nil {
		s.Metrics.RecordRerankDuration(ctx, time.Since(start))
	}

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// GetStatus reports liveness and the last maintenance run's summary.
func (s *Service) GetStatus() StatusSummary {
	report := s.Orchestrator.LastReport()
	if report == nil {
		return StatusSummary{Live: true}
	}
	return StatusSummary{
		Live:              true,
		HasRunMaintenance: true,
		LastMaintenance: RunSummary{
			Status:      string(report.Status),
			StartedAt:   report.StartedAt,
			CompletedAt: report.CompletedAt,
			Counts:      report.Counts,
			Errors:      report.Errors,
		},
	}
}

// GetKnowledgeHealth returns the full health snapshot.
func (s *Service) GetKnowledgeHealth(ctx context.Context) (health.Snapshot, error) {
	report := s.Orchestrator.LastReport()
	info := health.RunInfo{Status: health.RunUnknown}
	if report != nil {
		info = health.RunInfo{
			Status:   health.RunStatus(report.Status),
			Duration: report.CompletedAt.Sub(report.StartedAt),
			Classification: health.ClassificationCounts{
				Succeeded: int64(report.Classification.Succeeded),
				Fallback:  int64(report.Classification.Fallback),
				Errored:   int64(report.Classification.Errored),
			},
		}
	}
	return health.Aggregate(ctx, s.Store, info)
}

// RunDecayMaintenance triggers one maintenance cycle manually.
func (s *Service) RunDecayMaintenance(ctx context.Context, dryRun bool) (RunSummary, error) {
	report, err := s.Orchestrator.RunCycle(ctx, dryRun)
	if err != nil {
		return RunSummary{}, err
	}
	return RunSummary{
		Status:      string(report.Status),
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Counts:      report.Counts,
		Errors:      report.Errors,
	}, nil
}

// RecoverMemory restores a SOFT_DELETED node to ARCHIVED if still within
// the retention window.
func (s *Service) RecoverMemory(ctx context.Context, nodeUUID string) error {
	p := retention.Policy{
		SoftDeleteDays:             s.Config.Decay.Retention.SoftDeleteDays,
		ResetAccessCountOnRecovery: s.Config.Decay.Retention.ResetAccessCountOnRecovery,
	}
	return retention.Recover(ctx, s.Store, p, nodeUUID, time.Now())
}
