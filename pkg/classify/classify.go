// Package classify assigns (importance, stability) scores to memory nodes
// using an LLM prompt with few-shot exemplars, degrading to neutral
// defaults whenever the LLM is unavailable or returns unparseable output.
// Classification failure never propagates: the caller always gets a
// Result, never an error that blocks ingest or maintenance.
package classify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomas-eckhart/memlife/pkg/llm"
	"github.com/tomas-eckhart/memlife/pkg/metrics"
	"github.com/tomas-eckhart/memlife/pkg/trace"
)

// DefaultImportance and DefaultStability are the neutral fallback scores
// assigned when the LLM is unavailable or its output cannot be parsed.
const (
	DefaultImportance = 3
	DefaultStability  = 3
	DefaultChunkSize  = 100
)

// Candidate is the minimal input the classifier needs: a node identity and
// the textual summary to score.
type Candidate struct {
	UUID    string
	Summary string
}

// Result is the classifier's verdict for one node.
type Result struct {
	UUID       string
	Importance int
	Stability  int
	// Fallback is true when the neutral defaults were used because the LLM
	// was unavailable, nil, or returned output that didn't parse. Callers
	// use this to decide whether to set classified_at (fallback results
	// leave it null so the node is retried on the next maintenance pass).
	Fallback bool
}

// BatchResult summarizes one ClassifyBatch call.
type BatchResult struct {
	Results   []Result
	Succeeded int
	Fallback  int
	// Remaining holds candidates that could not be processed before the
	// deadline elapsed; the caller re-enqueues them for the next cycle.
	Remaining []Candidate
}

// scoreResponse is the schema handed to llm.LLMClient.CompleteWithSchema.
type scoreResponse struct {
	Importance int `json:"importance"`
	Stability  int `json:"stability"`
}

const promptTemplate = `You are scoring a memory for a long-term knowledge store.

Rate IMPORTANCE (1-5): how central this fact is to the subject's identity or goals.
Rate STABILITY (1-5): how unlikely this fact is to change over time.

Examples:
"User's name is Alex" -> importance=5, stability=5 (core identity, permanent)
"User prefers dark mode in their editor" -> importance=2, stability=4 (minor preference, stable)
"User is currently debugging a flaky test in the payments service" -> importance=3, stability=1 (relevant now, will be stale soon)
"User mentioned it was raining outside" -> importance=1, stability=1 (trivial and transient)

Memory: %s

Respond with JSON: {"importance": <1-5>, "stability": <1-5>}`

// Classifier wraps an llm.LLMClient to produce importance/stability scores.
// A nil Client degrades every call to the neutral default rather than
// panicking, so a boot path that forgets to wire the client still runs.
type Classifier struct {
	Client    llm.LLMClient
	Metrics   metrics.Collector
	ChunkSize int
	// Exporter receives one sanitized TraceRecord per ClassifyOne call (no memory
	// content, only timing and status). Nil skips tracing.
	Exporter trace.Exporter
}

// New constructs a Classifier. client may be nil.
func New(client llm.LLMClient, collector metrics.Collector) *Classifier {
	return &Classifier{Client: client, Metrics: collector, ChunkSize: DefaultChunkSize}
}

func (c *Classifier) chunkSize() int {
	if c.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return c.ChunkSize
}

func fallbackResult(nodeUUID string) Result {
	return Result{UUID: nodeUUID, Importance: DefaultImportance, Stability: DefaultStability, Fallback: true}
}

// ClassifyOne scores a single node, called fire-and-forget after ingest. It
// never returns an error; a classification failure surfaces only as
// Result.Fallback.
func (c *Classifier) ClassifyOne(ctx context.Context, candidate Candidate) Result {
	start := time.Now()
	status := "success"
	defer func() {
		elapsed := time.Since(start)
		if c.Metrics != nil {
			c.Metrics.RecordOperation(ctx, "classify", status, elapsed.Milliseconds())
			c.Metrics.RecordClassificationLatency(ctx, elapsed)
			c.Metrics.RecordClassificationRequest(ctx, status)
		}
		c.exportTrace(ctx, candidate.UUID, status, elapsed)
	}()

	if c.Client == nil {
		status = "fallback"
		return fallbackResult(candidate.UUID)
	}

	var resp scoreResponse
	prompt := fmt.Sprintf(promptTemplate, strings.TrimSpace(candidate.Summary))
	if err := c.Client.CompleteWithSchema(ctx, prompt, &resp); err != nil {
		log.Printf("classify: LLM call failed for node %s, using defaults: %v", candidate.UUID, err)
		status = "fallback"
		return fallbackResult(candidate.UUID)
	}

	if !validScore(resp.Importance) || !validScore(resp.Stability) {
		log.Printf("classify: LLM returned out-of-range scores for node %s (importance=%d stability=%d), using defaults",
			candidate.UUID, resp.Importance, resp.Stability)
		status = "fallback"
		return fallbackResult(candidate.UUID)
	}

	return Result{UUID: candidate.UUID, Importance: resp.Importance, Stability: resp.Stability}
}

func validScore(v int) bool {
	return v >= 1 && v <= 5
}

// exportTrace ships one sanitized TraceRecord per classification call. It
// carries no memory content, only the node id and timing, matching the
// no-payload contract trace.TraceRecord documents. Failures are logged and
// swallowed: tracing must never affect classification results.
func (c *Classifier) exportTrace(ctx context.Context, nodeUUID, status string, elapsed time.Duration) {
	if c.Exporter == nil {
		return
	}
	record := &trace.TraceRecord{
		Timestamp:   time.Now().Add(-elapsed),
		OperationID: uuid.New().String(),
		Operation:   "classify",
		DurationMs:  elapsed.Milliseconds(),
		Status:      status,
		IDs:         map[string]interface{}{"node_uuid": nodeUUID},
	}
	if err := c.Exporter.Export(ctx, record); err != nil {
		log.Printf("classify: failed to export trace: %v", err)
	}
}

// ClassifyBatch processes candidates in chunks of ChunkSize, yielding to the
// caller's deadline between chunks. Candidates not reached before the
// deadline are returned in BatchResult.Remaining for the next cycle's
// catch-up pass.
func (c *Classifier) ClassifyBatch(ctx context.Context, candidates []Candidate, deadline time.Time) BatchResult {
	var out BatchResult
	size := c.chunkSize()

	for i := 0; i < len(candidates); i += size {
		if time.Now().After(deadline) {
			out.Remaining = append(out.Remaining, candidates[i:]...)
			break
		}
		if err := ctx.Err(); err != nil {
			out.Remaining = append(out.Remaining, candidates[i:]...)
			break
		}

		end := i + size
		if end > len(candidates) {
			end = len(candidates)
		}

		for _, cand := range candidates[i:end] {
			r := c.ClassifyOne(ctx, cand)
			out.Results = append(out.Results, r)
			if r.Fallback {
				out.Fallback++
			} else {
				out.Succeeded++
			}
		}
	}

	return out
}
