package memlife

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomas-eckhart/memlife/pkg/classify"
	"github.com/tomas-eckhart/memlife/pkg/config"
	"github.com/tomas-eckhart/memlife/pkg/llm"
	"github.com/tomas-eckhart/memlife/pkg/metrics"
	"github.com/tomas-eckhart/memlife/pkg/store"
	"github.com/tomas-eckhart/memlife/pkg/trace"
)

type fakeSearcher struct {
	hits []SemanticHit
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int, groupIDs []string) ([]SemanticHit, error) {
	return f.hits, f.err
}

func newTestService(searcher SemanticSearcher) *Service {
	s := store.NewMemStore()
	classifier := classify.New(nil, nil)
	cfg := config.Defaults()
	return New(s, classifier, cfg, metrics.NewNoopCollector(), searcher)
}

func TestAddMemory_CreatesNodeAndReturnsImmediately(t *testing.T) {
	svc := newTestService(nil)
	id, err := svc.AddMemory(context.Background(), AddMemoryInput{Name: "fact", Body: "a detail"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	node, err := svc.Store.GetMemoryNode(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", node.LifecycleState)
}

func TestSearchNodes_NoSearcher_ReturnsEmpty(t *testing.T) {
	svc := newTestService(nil)
	results, err := svc.SearchNodes(context.Background(), "query", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchNodes_SearcherError_DegradesToEmpty(t *testing.T) {
	svc := newTestService(&fakeSearcher{err: assertErr{}})
	results, err := svc.SearchNodes(context.Background(), "query", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

type assertErr struct{}

func (assertErr) Error() string { return "search backend unavailable" }

func TestSearchNodes_BlendsSemanticAndLifecycleSignals(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.CreateNode(ctx, &store.MemoryNode{UUID: "n1", Importance: 5, LifecycleState: "ACTIVE", CreatedAt: time.Now()}))

	classifier := classify.New(nil, nil)
	cfg := config.Defaults()
	svc := New(s, classifier, cfg, metrics.NewNoopCollector(), &fakeSearcher{hits: []SemanticHit{{UUID: "n1", SemanticScore: 0.8}}})

	results, err := svc.SearchNodes(ctx, "query", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].UUID)
}

func TestGetStatus_NoRunsYet(t *testing.T) {
	svc := newTestService(nil)
	status := svc.GetStatus()
	assert.True(t, status.Live)
	assert.False(t, status.HasRunMaintenance)
}

func TestGetStatus_AfterMaintenanceRun(t *testing.T) {
	svc := newTestService(nil)
	_, err := svc.RunDecayMaintenance(context.Background(), false)
	require.NoError(t, err)

	status := svc.GetStatus()
	assert.True(t, status.HasRunMaintenance)
	assert.Equal(t, "success", status.LastMaintenance.Status)
}

func TestGetKnowledgeHealth_ReportsCounts(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	_, err := svc.AddMemory(ctx, AddMemoryInput{Name: "fact"})
	require.NoError(t, err)

	snap, err := svc.GetKnowledgeHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalMemories)
}

func TestRecoverMemory_WithinWindow(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	id, err := svc.AddMemory(ctx, AddMemoryInput{Name: "fact"})
	require.NoError(t, err)

	svc.Store.(*store.MemStore).BatchSoftDelete(ctx, []string{id}, time.Now().Add(-5*24*time.Hour))

	require.NoError(t, svc.RecoverMemory(ctx, id))

	node, err := svc.Store.GetMemoryNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ARCHIVED", node.LifecycleState)
}

func TestRecoverMemory_PastWindow_Fails(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	id, err := svc.AddMemory(ctx, AddMemoryInput{Name: "fact"})
	require.NoError(t, err)

	svc.Store.(*store.MemStore).BatchSoftDelete(ctx, []string{id}, time.Now().Add(-200*24*time.Hour))

	err = svc.RecoverMemory(ctx, id)
	assert.Error(t, err)
}

func TestNewLLMClient_EmptyProvider_ReturnsNilClient(t *testing.T) {
	cfg := config.Defaults()
	client, err := NewLLMClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewLLMClient_OpenAI_ReadsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("MEMLIFE_TEST_OPENAI_KEY", "sk-test-key")
	cfg := config.Defaults()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKeyEnv = "MEMLIFE_TEST_OPENAI_KEY"

	client, err := NewLLMClient(cfg)
	require.NoError(t, err)
	openaiClient, ok := client.(*llm.OpenAILLM)
	require.True(t, ok, "expected *llm.OpenAILLM, got %T", client)
	assert.Equal(t, "sk-test-key", openaiClient.APIKey)
}

func TestNewLLMClient_Ollama_DefaultsBaseURL(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "mistral"

	client, err := NewLLMClient(cfg)
	require.NoError(t, err)
	_, ok := client.(*llm.OllamaClient)
	assert.True(t, ok, "expected *llm.OllamaClient, got %T", client)
}

func TestNewLLMClient_UnknownProvider_Errors(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Provider = "anthropic"

	_, err := NewLLMClient(cfg)
	assert.Error(t, err)
}

func TestNewTraceExporter_EmptyPathIsNoop(t *testing.T) {
	cfg := config.Defaults()
	exporter, err := NewTraceExporter(cfg)
	require.NoError(t, err)
	require.NotNil(t, exporter)
	defer exporter.Close()

	record := &trace.TraceRecord{OperationID: "noop-check", Operation: "smoke", Status: "success"}
	assert.NoError(t, exporter.Export(context.Background(), record))
}

func TestNewTraceExporter_FilePathOpensExporter(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tracing.FilePath = t.TempDir() + "/traces.jsonl"

	exporter, err := NewTraceExporter(cfg)
	require.NoError(t, err)
	require.NotNil(t, exporter)
	defer exporter.Close()
}

func TestNew_WiresTraceExporterIntoOrchestratorAndClassifier(t *testing.T) {
	s := store.NewMemStore()
	classifier := classify.New(nil, nil)
	cfg := config.Defaults()
	cfg.Tracing.FilePath = t.TempDir() + "/traces.jsonl"

	svc := New(s, classifier, cfg, metrics.NewNoopCollector(), nil)

	assert.NotNil(t, svc.Orchestrator.Exporter)
	assert.NotNil(t, svc.Classifier.Exporter)
}
