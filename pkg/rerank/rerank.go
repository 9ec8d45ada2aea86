// Package rerank blends a graph engine's semantic similarity scores with
// recency and importance to produce the final search ordering. It performs
// no I/O and owns no clock: every input arrives already resolved so the
// re-rank pass stays O(n) over the candidate set.
package rerank

import (
	"math"
	"sort"
	"time"

	"github.com/tomas-eckhart/memlife/pkg/config"
)

// Candidate is one search hit from the storage engine, before re-ranking.
type Candidate struct {
	UUID           string
	SemanticScore  float64 // in [0,1], from the storage engine's vector search
	Importance     int
	LifecycleState string
	LastAccessedAt *time.Time
	CreatedAt      time.Time
}

// Ranked is a Candidate annotated with its blended score.
type Ranked struct {
	Candidate
	Recency        float64
	ImportanceNorm float64
	Combined       float64
}

// Rerank blends semantic, recency, and importance signals per weights and
// returns candidates sorted by Combined descending. SOFT_DELETED candidates
// are dropped entirely; PERMANENT candidates are never recency-penalized.
func Rerank(now time.Time, candidates []Candidate, weights config.SearchWeights, tauDays float64) []Ranked {
	if tauDays <= 0 {
		tauDays = 30
	}

	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		if c.LifecycleState == "SOFT_DELETED" {
			continue
		}

		recency := 1.0
		if c.LifecycleState != "PERMANENT" {
			days := daysSinceAccess(c.LastAccessedAt, c.CreatedAt, now)
			recency = math.Exp(-days / tauDays)
		}

		importanceNorm := (float64(c.Importance) - 1.0) / 4.0
		combined := weights.Semantic*c.SemanticScore + weights.Recency*recency + weights.Importance*importanceNorm

		out = append(out, Ranked{
			Candidate:      c,
			Recency:        recency,
			ImportanceNorm: importanceNorm,
			Combined:       combined,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Combined > out[j].Combined
	})

	return out
}

func daysSinceAccess(lastAccessedAt *time.Time, createdAt time.Time, now time.Time) float64 {
	var reference time.Time
	switch {
	case lastAccessedAt != nil:
		reference = *lastAccessedAt
	case !createdAt.IsZero():
		reference = createdAt
	default:
		return 0
	}

	days := now.Sub(reference).Hours() / 24.0
	if days < 0 {
		return 0
	}
	return days
}
