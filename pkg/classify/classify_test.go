package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomas-eckhart/memlife/pkg/trace"
)

type fakeExporter struct {
	records []*trace.TraceRecord
}

func (f *fakeExporter) Export(ctx context.Context, record *trace.TraceRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeExporter) Close() error { return nil }

type fakeLLM struct {
	importance, stability int
	err                   error
	garbage               bool
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeLLM) CompleteWithSchema(ctx context.Context, prompt string, schema any) error {
	if f.err != nil {
		return f.err
	}
	resp, ok := schema.(*scoreResponse)
	if !ok {
		return errors.New("unexpected schema type")
	}
	if f.garbage {
		resp.Importance = 99
		resp.Stability = -1
		return nil
	}
	resp.Importance = f.importance
	resp.Stability = f.stability
	return nil
}

func TestClassifyOne_NilClient_ReturnsFallback(t *testing.T) {
	c := New(nil, nil)
	r := c.ClassifyOne(context.Background(), Candidate{UUID: "n1", Summary: "a fact"})

	assert.True(t, r.Fallback)
	assert.Equal(t, DefaultImportance, r.Importance)
	assert.Equal(t, DefaultStability, r.Stability)
}

func TestClassifyOne_Success(t *testing.T) {
	c := New(&fakeLLM{importance: 5, stability: 4}, nil)
	r := c.ClassifyOne(context.Background(), Candidate{UUID: "n1", Summary: "User's name is Alex"})

	assert.False(t, r.Fallback)
	assert.Equal(t, 5, r.Importance)
	assert.Equal(t, 4, r.Stability)
}

func TestClassifyOne_LLMError_FallsBack(t *testing.T) {
	c := New(&fakeLLM{err: errors.New("boom")}, nil)
	r := c.ClassifyOne(context.Background(), Candidate{UUID: "n1", Summary: "x"})

	assert.True(t, r.Fallback)
	assert.Equal(t, DefaultImportance, r.Importance)
}

func TestClassifyOne_OutOfRangeScores_FallsBack(t *testing.T) {
	c := New(&fakeLLM{garbage: true}, nil)
	r := c.ClassifyOne(context.Background(), Candidate{UUID: "n1", Summary: "x"})

	assert.True(t, r.Fallback)
}

func TestClassifyBatch_ProcessesAllWithinDeadline(t *testing.T) {
	c := New(&fakeLLM{importance: 3, stability: 3}, nil)
	candidates := make([]Candidate, 250)
	for i := range candidates {
		candidates[i] = Candidate{UUID: "n", Summary: "x"}
	}

	result := c.ClassifyBatch(context.Background(), candidates, time.Now().Add(time.Minute))

	require.Len(t, result.Results, 250)
	assert.Equal(t, 250, result.Succeeded)
	assert.Empty(t, result.Remaining)
}

func TestClassifyBatch_RespectsExpiredDeadline(t *testing.T) {
	c := New(&fakeLLM{importance: 3, stability: 3}, nil)
	candidates := make([]Candidate, 10)
	for i := range candidates {
		candidates[i] = Candidate{UUID: "n", Summary: "x"}
	}

	result := c.ClassifyBatch(context.Background(), candidates, time.Now().Add(-time.Second))

	assert.Empty(t, result.Results)
	assert.Len(t, result.Remaining, 10)
}

func TestClassifyBatch_RespectsCanceledContext(t *testing.T) {
	c := New(&fakeLLM{importance: 3, stability: 3}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	candidates := []Candidate{{UUID: "n1"}, {UUID: "n2"}}
	result := c.ClassifyBatch(ctx, candidates, time.Now().Add(time.Minute))

	assert.Len(t, result.Remaining, 2)
}

func TestClassifyOne_ExportsSanitizedTrace(t *testing.T) {
	c := New(&fakeLLM{importance: 5, stability: 4}, nil)
	exporter := &fakeExporter{}
	c.Exporter = exporter

	c.ClassifyOne(context.Background(), Candidate{UUID: "n1", Summary: "User's name is Alex"})

	require.Len(t, exporter.records, 1)
	assert.Equal(t, "classify", exporter.records[0].Operation)
	assert.Equal(t, "n1", exporter.records[0].IDs["node_uuid"])
	assert.NotContains(t, exporter.records[0].IDs, "summary")
}

func TestClassifyBatch_UsesDefaultChunkSizeWhenUnset(t *testing.T) {
	c := &Classifier{Client: &fakeLLM{importance: 3, stability: 3}}
	assert.Equal(t, DefaultChunkSize, c.chunkSize())
}
