// Package lifecycle implements the memory lifecycle state machine: a pure
// tabular function mapping a node's current state and metrics to its next
// state. Rules are evaluated top-to-bottom, first match wins, and a node
// advances at most one non-permanent step per call (the orchestrator calls
// this once per node per maintenance cycle).
package lifecycle

import (
	"time"

	"github.com/tomas-eckhart/memlife/pkg/config"
	"github.com/tomas-eckhart/memlife/pkg/decay"
)

// State is one of the six lifecycle states a memory node can occupy.
type State string

const (
	Active      State = "ACTIVE"
	Dormant     State = "DORMANT"
	Archived    State = "ARCHIVED"
	Expired     State = "EXPIRED"
	SoftDeleted State = "SOFT_DELETED"
	Permanent   State = "PERMANENT"
)

// Snapshot is the subset of a memory node's attributes the state machine
// reads. It never mutates the node directly; the caller persists whatever
// Transition.Next it decides to apply.
type Snapshot struct {
	State           State
	Importance      int
	Stability       int
	DecayScore      float64
	DaysSinceAccess float64
	SoftDeletedAt   *time.Time
	// AccessedSinceLastEvaluation is true when last_accessed_at moved
	// forward since the node's last maintenance evaluation (the DORMANT/
	// ARCHIVED -> ACTIVE reverse edge on access).
	AccessedSinceLastEvaluation bool
}

// Transition describes the state-machine's verdict for one node.
type Transition struct {
	From State
	Next State
	// Purge is true when Next == SoftDeleted's retention window has already
	// elapsed and the node should be hard-deleted rather than transitioned.
	Purge bool
	// Changed is false when Next == From (no-op evaluation).
	Changed bool
}

// Next evaluates the transition table against one node snapshot. now and
// thresholds come from the caller so every decision is reproducible from
// explicit inputs, consistent with this package doing no I/O and owning no
// clock.
func Next(now time.Time, s Snapshot, thresholds config.Thresholds, retentionDays int) Transition {
	from := s.State

	// Rule: PERMANENT promotion may occur from any state except
	// SOFT_DELETED (and PERMANENT itself) and is checked
	// first since it is never reversed and takes priority over every other
	// rule (spec.md table's final row, hoisted to the top because it is an
	// unconditional override regardless of current state).
	if from != Permanent && from != SoftDeleted && decay.IsPermanent(s.Importance, s.Stability) {
		return Transition{From: from, Next: Permanent, Changed: true}
	}

	switch from {
	case Permanent:
		// Absorbing; never reversed except by explicit attribute mutation
		// outside this package.
		return Transition{From: from, Next: Permanent}

	case Active:
		if s.DaysSinceAccess >= thresholds.Dormant.Days && s.DecayScore >= thresholds.Dormant.DecayScore {
			return Transition{From: from, Next: Dormant, Changed: true}
		}
		return Transition{From: from, Next: Active}

	case Dormant:
		if s.AccessedSinceLastEvaluation {
			return Transition{From: from, Next: Active, Changed: true}
		}
		if s.DaysSinceAccess >= thresholds.Archived.Days && s.DecayScore >= thresholds.Archived.DecayScore {
			return Transition{From: from, Next: Archived, Changed: true}
		}
		return Transition{From: from, Next: Dormant}

	case Archived:
		if s.AccessedSinceLastEvaluation {
			return Transition{From: from, Next: Active, Changed: true}
		}
		if s.DaysSinceAccess >= thresholds.Expired.Days &&
			s.DecayScore >= thresholds.Expired.DecayScore &&
			(thresholds.Expired.MaxImportance == 0 || s.Importance <= thresholds.Expired.MaxImportance) {
			return Transition{From: from, Next: Expired, Changed: true}
		}
		return Transition{From: from, Next: Archived}

	case Expired:
		// Always advances on the next maintenance cycle.
		return Transition{From: from, Next: SoftDeleted, Changed: true}

	case SoftDeleted:
		if s.SoftDeletedAt != nil && now.Sub(*s.SoftDeletedAt) >= time.Duration(retentionDays)*24*time.Hour {
			return Transition{From: from, Next: SoftDeleted, Purge: true, Changed: true}
		}
		return Transition{From: from, Next: SoftDeleted}

	default:
		return Transition{From: from, Next: from}
	}
}
