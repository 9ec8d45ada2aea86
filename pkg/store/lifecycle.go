package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MemoryNode is the subset of graph-node attributes this subsystem owns:
// the six scoring/state columns layered onto the host graph engine's nodes
// table (which already carries id, name, created_at, last_accessed_at, and
// access_count). The graph engine owns node existence and embeddings; this
// core exclusively owns Importance, Stability, DecayScore, LifecycleState,
// SoftDeletedAt, and ClassifiedAt.
type MemoryNode struct {
	UUID           string
	Importance     int
	Stability      int
	DecayScore     float64
	LifecycleState string
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	AccessCount    int64
	SoftDeletedAt  *time.Time
	ClassifiedAt   *time.Time
	Summary        string // name + description, used by the classifier prompt

	// DaysSinceAccess is populated only by ListForDecay. It implements the
	// last_accessed_at -> created_at -> 0 fallback server-side (SQL CASE for
	// SQLiteGraphStore, equivalent Go logic for MemStore) so a NULL
	// last_accessed_at never reaches the caller as a value it has to
	// coalesce itself.
	DaysSinceAccess float64
}

// DecayUpdate is one row of a batch_recalculate_decay write.
type DecayUpdate struct {
	UUID       string
	DecayScore float64
}

// StateTransition is one row of a batch_transition write.
type StateTransition struct {
	UUID          string
	NextState     string
	SoftDeletedAt *time.Time // non-nil when transitioning into SOFT_DELETED
	ResetAccess   bool       // true when an ARCHIVED/DORMANT -> ACTIVE edge should touch last_accessed_at
}

// BatchResult reports success/failure per batch (not per row), per the
// storage driver contract: a batch either fully applies inside one
// transaction or is reported failed in its entirety.
type BatchResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Errors    []error
}

// Aggregate is the single-query snapshot the health aggregator consumes.
type Aggregate struct {
	CountByState      map[string]int64
	AvgDecayScore     float64
	AvgImportance     float64
	AvgStability      float64
	TotalExcludingSoftDeleted int64
}

// ErrMemoryNodeNotFound is returned when no node with the given id exists.
var ErrMemoryNodeNotFound = errors.New("memory node not found")

// NodeStore is the abstract query-runner capability the maintenance
// pipeline targets. Every method takes a context and may suspend, so both a
// synchronous database/sql driver and a future async session type can
// satisfy it uniformly.
type NodeStore interface {
	CreateNode(ctx context.Context, n *MemoryNode) error
	GetMemoryNode(ctx context.Context, uuid string) (*MemoryNode, error)
	Touch(ctx context.Context, uuid string, now time.Time) error
	SetScores(ctx context.Context, uuid string, importance, stability int, classifiedAt time.Time) error
	ListUnclassified(ctx context.Context, limit int) ([]*MemoryNode, error)
	ListForDecay(ctx context.Context, limit, offset int, now time.Time) ([]*MemoryNode, error)
	ListByState(ctx context.Context, state string, limit, offset int) ([]*MemoryNode, error)
	BatchRecalculateDecay(ctx context.Context, updates []DecayUpdate) BatchResult
	BatchTransition(ctx context.Context, transitions []StateTransition) BatchResult
	BatchSoftDelete(ctx context.Context, uuids []string, now time.Time) BatchResult
	BatchPurge(ctx context.Context, before time.Time) BatchResult
	Recover(ctx context.Context, uuid string, now time.Time, resetAccessCount bool) error
	Aggregate(ctx context.Context) (Aggregate, error)
	Close() error
}

// migrateLifecycleColumns adds the scoring/state columns to the nodes table
// if they are not already present, following the same columnExists/ALTER
// TABLE pattern the host schema uses for last_accessed_at/access_count.
func (s *SQLiteGraphStore) migrateLifecycleColumns() error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"importance", "ALTER TABLE nodes ADD COLUMN importance INTEGER DEFAULT 3"},
		{"stability", "ALTER TABLE nodes ADD COLUMN stability INTEGER DEFAULT 3"},
		{"decay_score", "ALTER TABLE nodes ADD COLUMN decay_score REAL DEFAULT 0"},
		{"lifecycle_state", "ALTER TABLE nodes ADD COLUMN lifecycle_state TEXT DEFAULT 'ACTIVE'"},
		{"soft_deleted_at", "ALTER TABLE nodes ADD COLUMN soft_deleted_at DATETIME DEFAULT NULL"},
		{"classified_at", "ALTER TABLE nodes ADD COLUMN classified_at DATETIME DEFAULT NULL"},
	}
	for _, c := range columns {
		if !s.columnExists("nodes", c.name) {
			if _, err := s.db.Exec(c.ddl); err != nil {
				return fmt.Errorf("failed to add %s column: %w", c.name, err)
			}
		}
	}
	return nil
}

// CreateNode inserts the lifecycle columns for a node that the host graph
// engine has already created (or creates the node row if it does not yet
// exist, as an upsert on id).
func (s *SQLiteGraphStore) CreateNode(ctx context.Context, n *MemoryNode) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, name, description, created_at, importance, stability, decay_score, lifecycle_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			importance = excluded.importance,
			stability = excluded.stability,
			decay_score = excluded.decay_score,
			lifecycle_state = excluded.lifecycle_state
	`, n.UUID, n.Summary, n.Summary, n.CreatedAt, n.Importance, n.Stability, n.DecayScore, n.LifecycleState)
	if err != nil {
		return fmt.Errorf("failed to create memory node: %w", err)
	}
	return nil
}

const nodeSelectColumns = `id, name, description, created_at, last_accessed_at, access_count,
		importance, stability, decay_score, lifecycle_state, soft_deleted_at, classified_at`

func scanMemoryNode(row interface{ Scan(...any) error }) (*MemoryNode, error) {
	var n MemoryNode
	var desc, name sql.NullString
	var lastAccessed, softDeletedAt, classifiedAt sql.NullTime
	var accessCount sql.NullInt64

	err := row.Scan(&n.UUID, &name, &desc, &n.CreatedAt, &lastAccessed, &accessCount,
		&n.Importance, &n.Stability, &n.DecayScore, &n.LifecycleState, &softDeletedAt, &classifiedAt)
	if err != nil {
		return nil, err
	}

	n.Summary = name.String
	if desc.Valid && desc.String != "" {
		n.Summary = name.String + " -- " + desc.String
	}
	if lastAccessed.Valid {
		n.LastAccessedAt = &lastAccessed.Time
	}
	if softDeletedAt.Valid {
		n.SoftDeletedAt = &softDeletedAt.Time
	}
	if classifiedAt.Valid {
		n.ClassifiedAt = &classifiedAt.Time
	}
	n.AccessCount = accessCount.Int64

	return &n, nil
}

// GetMemoryNode retrieves the lifecycle attributes for a node by id. Named
// MemoryNode rather than Node so a host graph engine sharing the same
// "nodes" table can define its own Node type without a name collision.
func (s *SQLiteGraphStore) GetMemoryNode(ctx context.Context, uuid string) (*MemoryNode, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+nodeSelectColumns+" FROM nodes WHERE id = ?", uuid)
	n, err := scanMemoryNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrMemoryNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory node: %w", err)
	}
	return n, nil
}

// Touch atomically updates last_accessed_at and increments access_count, and
// reverses a DORMANT/ARCHIVED node back to ACTIVE per invariant 6. It is
// idempotent under concurrent calls: last_accessed_at only ever advances and
// access_count only ever increments (monotonic under SQLite's single-writer
// transaction semantics).
func (s *SQLiteGraphStore) Touch(ctx context.Context, uuid string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET last_accessed_at = CASE WHEN last_accessed_at IS NULL OR julianday(last_accessed_at) < julianday(?) THEN ? ELSE last_accessed_at END,
		    access_count = access_count + 1,
		    lifecycle_state = CASE WHEN lifecycle_state IN ('DORMANT', 'ARCHIVED') THEN 'ACTIVE' ELSE lifecycle_state END
		WHERE id = ?
	`, now, now, uuid)
	if err != nil {
		return fmt.Errorf("failed to touch node: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrMemoryNodeNotFound
	}
	return nil
}

// SetScores writes the classifier's (importance, stability) result and
// marks classified_at, satisfying the set_scores(uuid, i, s) -> read(uuid)
// round-trip law.
func (s *SQLiteGraphStore) SetScores(ctx context.Context, uuid string, importance, stability int, classifiedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET importance = ?, stability = ?, classified_at = ? WHERE id = ?",
		importance, stability, classifiedAt, uuid)
	if err != nil {
		return fmt.Errorf("failed to set scores: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrMemoryNodeNotFound
	}
	return nil
}

// ListUnclassified returns nodes with classified_at IS NULL, the batch
// catch-up classifier's input set.
func (s *SQLiteGraphStore) ListUnclassified(ctx context.Context, limit int) ([]*MemoryNode, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+nodeSelectColumns+" FROM nodes WHERE classified_at IS NULL AND soft_deleted_at IS NULL ORDER BY created_at LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclassified nodes: %w", err)
	}
	defer rows.Close()
	return scanMemoryNodes(rows)
}

// daysSinceAccessExpr is the last_accessed_at -> created_at -> 0 fallback
// expressed as a SQL CASE, per the subsystem's rule that this three-way
// conditional must be evaluated in the query itself so a NULL
// last_accessed_at never reaches application code as a value to coalesce.
// julianday(?) is bound to the caller's now so the result matches whatever
// clock the orchestrator is using, rather than SQLite's own 'now'.
const daysSinceAccessExpr = `
	MAX(0, CASE
		WHEN last_accessed_at IS NOT NULL THEN CAST(julianday(?) - julianday(last_accessed_at) AS REAL)
		WHEN created_at IS NOT NULL THEN CAST(julianday(?) - julianday(created_at) AS REAL)
		ELSE 0
	END)`

// ListForDecay returns non-PERMANENT, non-SOFT_DELETED nodes for decay
// recalculation, paginated for batching, with days_since_access computed
// server-side via the CASE fallback above.
func (s *SQLiteGraphStore) ListForDecay(ctx context.Context, limit, offset int, now time.Time) ([]*MemoryNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeSelectColumns+`, `+daysSinceAccessExpr+` AS days_since_access
		FROM nodes
		WHERE lifecycle_state NOT IN ('PERMANENT', 'SOFT_DELETED')
		ORDER BY id
		LIMIT ? OFFSET ?
	`, now, now, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes for decay: %w", err)
	}
	defer rows.Close()
	return scanMemoryNodesWithDays(rows)
}

// ListByState returns nodes currently in the given lifecycle state.
func (s *SQLiteGraphStore) ListByState(ctx context.Context, state string, limit, offset int) ([]*MemoryNode, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+nodeSelectColumns+" FROM nodes WHERE lifecycle_state = ? ORDER BY id LIMIT ? OFFSET ?",
		state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes by state: %w", err)
	}
	defer rows.Close()
	return scanMemoryNodes(rows)
}

func scanMemoryNodes(rows *sql.Rows) ([]*MemoryNode, error) {
	var nodes []*MemoryNode
	for rows.Next() {
		n, err := scanMemoryNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory nodes: %w", err)
	}
	return nodes, nil
}

// scanMemoryNodeWithDays scans nodeSelectColumns plus a trailing
// days_since_access column, for queries built on daysSinceAccessExpr.
func scanMemoryNodeWithDays(rows *sql.Rows) (*MemoryNode, error) {
	var n MemoryNode
	var desc, name sql.NullString
	var lastAccessed, softDeletedAt, classifiedAt sql.NullTime
	var accessCount sql.NullInt64

	err := rows.Scan(&n.UUID, &name, &desc, &n.CreatedAt, &lastAccessed, &accessCount,
		&n.Importance, &n.Stability, &n.DecayScore, &n.LifecycleState, &softDeletedAt, &classifiedAt,
		&n.DaysSinceAccess)
	if err != nil {
		return nil, err
	}

	n.Summary = name.String
	if desc.Valid && desc.String != "" {
		n.Summary = name.String + " -- " + desc.String
	}
	if lastAccessed.Valid {
		n.LastAccessedAt = &lastAccessed.Time
	}
	if softDeletedAt.Valid {
		n.SoftDeletedAt = &softDeletedAt.Time
	}
	if classifiedAt.Valid {
		n.ClassifiedAt = &classifiedAt.Time
	}
	n.AccessCount = accessCount.Int64

	return &n, nil
}

func scanMemoryNodesWithDays(rows *sql.Rows) ([]*MemoryNode, error) {
	var nodes []*MemoryNode
	for rows.Next() {
		n, err := scanMemoryNodeWithDays(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory nodes: %w", err)
	}
	return nodes, nil
}

// BatchRecalculateDecay writes new decay_score values in one transaction per
// call. The whole batch either commits or is reported failed; no partial
// batch is left half-applied.
func (s *SQLiteGraphStore) BatchRecalculateDecay(ctx context.Context, updates []DecayUpdate) BatchResult {
	result := BatchResult{Attempted: len(updates)}
	if len(updates) == 0 {
		return result
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		result.Failed = len(updates)
		result.Errors = append(result.Errors, fmt.Errorf("begin decay batch: %w", err))
		return result
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE nodes SET decay_score = ? WHERE id = ?")
	if err != nil {
		result.Failed = len(updates)
		result.Errors = append(result.Errors, fmt.Errorf("prepare decay batch: %w", err))
		return result
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.DecayScore, u.UUID); err != nil {
			result.Failed = len(updates)
			result.Errors = append(result.Errors, fmt.Errorf("decay update for %s: %w", u.UUID, err))
			return result
		}
	}

	if err := tx.Commit(); err != nil {
		result.Failed = len(updates)
		result.Errors = append(result.Errors, fmt.Errorf("commit decay batch: %w", err))
		return result
	}

	result.Succeeded = len(updates)
	return result
}

// BatchTransition applies lifecycle-state transitions atomically per batch.
func (s *SQLiteGraphStore) BatchTransition(ctx context.Context, transitions []StateTransition) BatchResult {
	result := BatchResult{Attempted: len(transitions)}
	if len(transitions) == 0 {
		return result
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		result.Failed = len(transitions)
		result.Errors = append(result.Errors, fmt.Errorf("begin transition batch: %w", err))
		return result
	}
	defer tx.Rollback()

	for _, t := range transitions {
		if t.NextState == "SOFT_DELETED" {
			if _, err := tx.ExecContext(ctx,
				"UPDATE nodes SET lifecycle_state = ?, soft_deleted_at = ? WHERE id = ?",
				t.NextState, t.SoftDeletedAt, t.UUID); err != nil {
				result.Failed = len(transitions)
				result.Errors = append(result.Errors, fmt.Errorf("transition %s: %w", t.UUID, err))
				return result
			}
			continue
		}

		if t.ResetAccess {
			if _, err := tx.ExecContext(ctx,
				"UPDATE nodes SET lifecycle_state = ?, last_accessed_at = ? WHERE id = ?",
				t.NextState, time.Now(), t.UUID); err != nil {
				result.Failed = len(transitions)
				result.Errors = append(result.Errors, fmt.Errorf("transition %s: %w", t.UUID, err))
				return result
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, "UPDATE nodes SET lifecycle_state = ? WHERE id = ?", t.NextState, t.UUID); err != nil {
			result.Failed = len(transitions)
			result.Errors = append(result.Errors, fmt.Errorf("transition %s: %w", t.UUID, err))
			return result
		}
	}

	if err := tx.Commit(); err != nil {
		result.Failed = len(transitions)
		result.Errors = append(result.Errors, fmt.Errorf("commit transition batch: %w", err))
		return result
	}

	result.Succeeded = len(transitions)
	return result
}

// BatchSoftDelete marks a set of EXPIRED nodes SOFT_DELETED with soft_deleted_at = now.
func (s *SQLiteGraphStore) BatchSoftDelete(ctx context.Context, uuids []string, now time.Time) BatchResult {
	result := BatchResult{Attempted: len(uuids)}
	if len(uuids) == 0 {
		return result
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		result.Failed = len(uuids)
		result.Errors = append(result.Errors, fmt.Errorf("begin soft-delete batch: %w", err))
		return result
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE nodes SET lifecycle_state = 'SOFT_DELETED', soft_deleted_at = ? WHERE id = ?")
	if err != nil {
		result.Failed = len(uuids)
		result.Errors = append(result.Errors, fmt.Errorf("prepare soft-delete batch: %w", err))
		return result
	}
	defer stmt.Close()

	for _, id := range uuids {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			result.Failed = len(uuids)
			result.Errors = append(result.Errors, fmt.Errorf("soft-delete %s: %w", id, err))
			return result
		}
	}

	if err := tx.Commit(); err != nil {
		result.Failed = len(uuids)
		result.Errors = append(result.Errors, fmt.Errorf("commit soft-delete batch: %w", err))
		return result
	}

	result.Succeeded = len(uuids)
	return result
}

// BatchPurge hard-deletes SOFT_DELETED nodes whose soft_deleted_at predates
// before, implementing the driver's "cumulative deletion by predicate"
// contract.
func (s *SQLiteGraphStore) BatchPurge(ctx context.Context, before time.Time) BatchResult {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM nodes WHERE lifecycle_state = 'SOFT_DELETED' AND soft_deleted_at IS NOT NULL AND soft_deleted_at < ?",
		before)
	if err != nil {
		return BatchResult{Failed: 1, Errors: []error{fmt.Errorf("purge: %w", err)}}
	}
	n, _ := res.RowsAffected()
	return BatchResult{Attempted: int(n), Succeeded: int(n)}
}

// Recover reverses a soft-delete back to ARCHIVED when still within the
// retention window. Callers (pkg/retention) are responsible for enforcing
// the window itself; this method performs the unconditional write once the
// caller has decided recovery is legal.
func (s *SQLiteGraphStore) Recover(ctx context.Context, uuid string, now time.Time, resetAccessCount bool) error {
	query := "UPDATE nodes SET lifecycle_state = 'ARCHIVED', soft_deleted_at = NULL, last_accessed_at = ?"
	args := []any{now}
	if resetAccessCount {
		query += ", access_count = 0"
	}
	query += " WHERE id = ?"
	args = append(args, uuid)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to recover node: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrMemoryNodeNotFound
	}
	return nil
}

// Aggregate computes the single-read health snapshot: per-state counts and
// score averages, excluding SOFT_DELETED from the total.
func (s *SQLiteGraphStore) Aggregate(ctx context.Context) (Aggregate, error) {
	agg := Aggregate{CountByState: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx, "SELECT lifecycle_state, COUNT(*) FROM nodes GROUP BY lifecycle_state")
	if err != nil {
		return agg, fmt.Errorf("failed to aggregate state counts: %w", err)
	}
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			rows.Close()
			return agg, fmt.Errorf("failed to scan state count: %w", err)
		}
		agg.CountByState[state] = count
		if state != "SOFT_DELETED" {
			agg.TotalExcludingSoftDeleted += count
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return agg, fmt.Errorf("error iterating state counts: %w", err)
	}
	rows.Close()

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(decay_score), 0), COALESCE(AVG(importance), 0), COALESCE(AVG(stability), 0)
		FROM nodes
		WHERE lifecycle_state != 'SOFT_DELETED'
	`)
	if err := row.Scan(&agg.AvgDecayScore, &agg.AvgImportance, &agg.AvgStability); err != nil {
		return agg, fmt.Errorf("failed to aggregate score averages: %w", err)
	}

	return agg, nil
}
