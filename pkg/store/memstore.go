package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomas-eckhart/memlife/pkg/decay"
)

// MemStore is an in-memory NodeStore, used by tests and by callers who don't
// need persistence across restarts; the second concrete NodeStore adapter
// alongside SQLiteGraphStore.
type MemStore struct {
	mu    sync.Mutex
	nodes map[string]*MemoryNode
}

// NewMemStore creates an empty in-memory NodeStore.
func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[string]*MemoryNode)}
}

func cloneNode(n *MemoryNode) *MemoryNode {
	c := *n
	if n.LastAccessedAt != nil {
		t := *n.LastAccessedAt
		c.LastAccessedAt = &t
	}
	if n.SoftDeletedAt != nil {
		t := *n.SoftDeletedAt
		c.SoftDeletedAt = &t
	}
	if n.ClassifiedAt != nil {
		t := *n.ClassifiedAt
		c.ClassifiedAt = &t
	}
	return &c
}

func (m *MemStore) CreateNode(ctx context.Context, n *MemoryNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.LifecycleState == "" {
		n.LifecycleState = "ACTIVE"
	}
	if n.Importance == 0 {
		n.Importance = 3
	}
	if n.Stability == 0 {
		n.Stability = 3
	}
	m.nodes[n.UUID] = cloneNode(n)
	return nil
}

func (m *MemStore) GetMemoryNode(ctx context.Context, uuid string) (*MemoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[uuid]
	if !ok {
		return nil, ErrMemoryNodeNotFound
	}
	return cloneNode(n), nil
}

func (m *MemStore) Touch(ctx context.Context, uuid string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[uuid]
	if !ok {
		return ErrMemoryNodeNotFound
	}
	n.LastAccessedAt = &now
	n.AccessCount++
	if n.LifecycleState == "DORMANT" || n.LifecycleState == "ARCHIVED" {
		n.LifecycleState = "ACTIVE"
	}
	return nil
}

func (m *MemStore) SetScores(ctx context.Context, uuid string, importance, stability int, classifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[uuid]
	if !ok {
		return ErrMemoryNodeNotFound
	}
	n.Importance = importance
	n.Stability = stability
	n.ClassifiedAt = &classifiedAt
	return nil
}

func (m *MemStore) ListUnclassified(ctx context.Context, limit int) ([]*MemoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*MemoryNode
	for _, n := range m.nodes {
		if n.ClassifiedAt == nil && n.LifecycleState != "SOFT_DELETED" {
			out = append(out, cloneNode(n))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) ListForDecay(ctx context.Context, limit, offset int, now time.Time) ([]*MemoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []*MemoryNode
	for _, n := range m.nodes {
		if n.LifecycleState != "PERMANENT" && n.LifecycleState != "SOFT_DELETED" {
			eligible = append(eligible, n)
		}
	}
	out := paginate(eligible, limit, offset)
	for _, n := range out {
		n.DaysSinceAccess = decay.DaysSinceAccess(n.LastAccessedAt, &n.CreatedAt, now)
	}
	return out, nil
}

func (m *MemStore) ListByState(ctx context.Context, state string, limit, offset int) ([]*MemoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matching []*MemoryNode
	for _, n := range m.nodes {
		if n.LifecycleState == state {
			matching = append(matching, n)
		}
	}
	return paginate(matching, limit, offset), nil
}

func paginate(nodes []*MemoryNode, limit, offset int) []*MemoryNode {
	if offset >= len(nodes) {
		return nil
	}
	nodes = nodes[offset:]
	if limit > 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	out := make([]*MemoryNode, len(nodes))
	for i, n := range nodes {
		out[i] = cloneNode(n)
	}
	return out
}

func (m *MemStore) BatchRecalculateDecay(ctx context.Context, updates []DecayUpdate) BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := BatchResult{Attempted: len(updates)}
	for _, u := range updates {
		n, ok := m.nodes[u.UUID]
		if !ok {
			result.Failed++
			result.Errors = append(result.Errors, ErrMemoryNodeNotFound)
			continue
		}
		n.DecayScore = u.DecayScore
		result.Succeeded++
	}
	return result
}

func (m *MemStore) BatchTransition(ctx context.Context, transitions []StateTransition) BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := BatchResult{Attempted: len(transitions)}
	for _, t := range transitions {
		n, ok := m.nodes[t.UUID]
		if !ok {
			result.Failed++
			result.Errors = append(result.Errors, ErrMemoryNodeNotFound)
			continue
		}
		n.LifecycleState = t.NextState
		if t.NextState == "SOFT_DELETED" {
			n.SoftDeletedAt = t.SoftDeletedAt
		}
		if t.ResetAccess {
			now := time.Now()
			n.LastAccessedAt = &now
		}
		result.Succeeded++
	}
	return result
}

func (m *MemStore) BatchSoftDelete(ctx context.Context, uuids []string, now time.Time) BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := BatchResult{Attempted: len(uuids)}
	for _, id := range uuids {
		n, ok := m.nodes[id]
		if !ok {
			result.Failed++
			result.Errors = append(result.Errors, ErrMemoryNodeNotFound)
			continue
		}
		n.LifecycleState = "SOFT_DELETED"
		n.SoftDeletedAt = &now
		result.Succeeded++
	}
	return result
}

func (m *MemStore) BatchPurge(ctx context.Context, before time.Time) BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int
	for id, n := range m.nodes {
		if n.LifecycleState == "SOFT_DELETED" && n.SoftDeletedAt != nil && n.SoftDeletedAt.Before(before) {
			delete(m.nodes, id)
			purged++
		}
	}
	return BatchResult{Attempted: purged, Succeeded: purged}
}

func (m *MemStore) Recover(ctx context.Context, uuid string, now time.Time, resetAccessCount bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[uuid]
	if !ok {
		return ErrMemoryNodeNotFound
	}
	n.LifecycleState = "ARCHIVED"
	n.SoftDeletedAt = nil
	n.LastAccessedAt = &now
	if resetAccessCount {
		n.AccessCount = 0
	}
	return nil
}

func (m *MemStore) Aggregate(ctx context.Context) (Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := Aggregate{CountByState: make(map[string]int64)}
	var sumDecay, sumImportance, sumStability float64
	var scored int64

	for _, n := range m.nodes {
		agg.CountByState[n.LifecycleState]++
		if n.LifecycleState != "SOFT_DELETED" {
			agg.TotalExcludingSoftDeleted++
			sumDecay += n.DecayScore
			sumImportance += float64(n.Importance)
			sumStability += float64(n.Stability)
			scored++
		}
	}
	if scored > 0 {
		agg.AvgDecayScore = sumDecay / float64(scored)
		agg.AvgImportance = sumImportance / float64(scored)
		agg.AvgStability = sumStability / float64(scored)
	}
	return agg, nil
}

func (m *MemStore) Close() error {
	return nil
}
