package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteGraphStore is the SQLite-backed NodeStore. It owns a "nodes" table
// shaped like the host knowledge-graph engine's own node table (id, name,
// description, created_at, last_accessed_at, access_count) and layers this
// subsystem's six lifecycle columns onto it via ALTER TABLE, so a deployment
// that already has a populated graph only ever gains columns, never loses
// the engine's own rows or schema.
type SQLiteGraphStore struct {
	db *sql.DB
}

// NewSQLiteGraphStore opens (or creates) the SQLite database at dbPath.
// dbPath may be a file path or ":memory:". Creates the nodes table and
// runs the lifecycle column migration if they don't already exist.
func NewSQLiteGraphStore(dbPath string) (*SQLiteGraphStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteGraphStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the nodes table if it doesn't exist, then migrates in
// the access-tracking and lifecycle columns.
func (s *SQLiteGraphStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL COLLATE NOCASE,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name COLLATE NOCASE);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.migrateSchema()
}

// migrateSchema adds new columns to the nodes table if they don't already
// exist: last_accessed_at/access_count (host engine's access-tracking
// columns) and then this subsystem's own lifecycle columns.
func (s *SQLiteGraphStore) migrateSchema() error {
	if !s.columnExists("nodes", "last_accessed_at") {
		if _, err := s.db.Exec("ALTER TABLE nodes ADD COLUMN last_accessed_at DATETIME DEFAULT NULL"); err != nil {
			return fmt.Errorf("failed to add last_accessed_at column: %w", err)
		}
	}

	if !s.columnExists("nodes", "access_count") {
		if _, err := s.db.Exec("ALTER TABLE nodes ADD COLUMN access_count INTEGER DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add access_count column: %w", err)
		}
	}

	return s.migrateLifecycleColumns()
}

// columnExists checks if a column exists in a table.
func (s *SQLiteGraphStore) columnExists(tableName, columnName string) bool {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := s.db.Query(query)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int

		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false
		}

		if name == columnName {
			return true
		}
	}

	return false
}

// Close releases database resources.
func (s *SQLiteGraphStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for callers (tests, an
// integrating host engine) that need to run queries beyond this
// subsystem's own NodeStore surface.
func (s *SQLiteGraphStore) DB() *sql.DB {
	return s.db
}
