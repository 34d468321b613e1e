package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// Files inside a data directory.
const (
	DBFileName     = "recall.db"
	LexicalDirName = "lexical.bleve"
	VectorFileName = "vectors.hnsw"
)

const schema = `
CREATE TABLE IF NOT EXISTS bandit_arms (
    tenant_id    TEXT NOT NULL,
    project_id   TEXT NOT NULL DEFAULT '',
    arm_id       TEXT NOT NULL,
    weights_json TEXT NOT NULL,
    alpha        REAL NOT NULL,
    beta         REAL NOT NULL,
    updates      INTEGER NOT NULL DEFAULT 0,
    selections   INTEGER NOT NULL DEFAULT 0,
    updated_at   TEXT NOT NULL,
    PRIMARY KEY (tenant_id, project_id, arm_id)
);

CREATE TABLE IF NOT EXISTS maintenance_runs (
    task   TEXT PRIMARY KEY,
    ran_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_events (
    query_id    TEXT PRIMARY KEY,
    arm_id      TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_nodes (
    node_id TEXT PRIMARY KEY,
    label   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_label ON graph_nodes(label COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS graph_edges (
    src    TEXT NOT NULL,
    dst    TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (src, dst)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_dst ON graph_edges(dst);

CREATE TABLE IF NOT EXISTS query_daily_stats (
    date  TEXT NOT NULL,
    kind  TEXT NOT NULL,
    name  TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (date, kind, name)
);

CREATE TABLE IF NOT EXISTS query_terms (
    term      TEXT PRIMARY KEY,
    count     INTEGER NOT NULL DEFAULT 1,
    last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL DEFAULT '',
    query     TEXT NOT NULL,
    timestamp TEXT NOT NULL
);
`

// DB is an open data directory.
type DB struct {
	db   *sql.DB
	lock *FileLock
	dir  string

	arms    *ArmStore
	ledger  *Ledger
	graph   *GraphStore
	history *QueryHistory

	closeOnce sync.Once
	closeErr  error
}

// Open locks dir and opens (creating if needed) its database. It fails
// with ERR_203_STORE_LOCKED when another process owns the directory.
func Open(ctx context.Context, dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreOpen,
			fmt.Sprintf("failed to create data directory %s", dir), err)
	}

	lock := NewFileLock(dir)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreOpen, "failed to lock data directory", err)
	}
	if !acquired {
		return nil, amerrors.New(amerrors.ErrCodeStoreLocked,
			fmt.Sprintf("data directory %s is in use by another amanrecall process", dir), nil).
			WithSuggestion("Wait for the other process to exit or pass a different --data-dir")
	}

	db, err := openSQLite(ctx, filepath.Join(dir, DBFileName))
	if err != nil {
		_ = lock.Unlock()
		return nil, amerrors.New(amerrors.ErrCodeStoreOpen, "failed to open database", err)
	}

	d := &DB{db: db, lock: lock, dir: dir}
	d.arms = &ArmStore{db: db}
	d.ledger = &Ledger{db: db}
	d.graph = &GraphStore{db: db}
	d.history = &QueryHistory{db: db}
	return d, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer; DSN pragmas are not reliable with modernc, so set
	// them by statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

// Dir returns the data directory.
func (d *DB) Dir() string { return d.dir }

// Path returns the database file path.
func (d *DB) Path() string { return filepath.Join(d.dir, DBFileName) }

// LexicalPath is where the bleve index lives.
func (d *DB) LexicalPath() string { return filepath.Join(d.dir, LexicalDirName) }

// VectorPath is where the HNSW index is saved.
func (d *DB) VectorPath() string { return filepath.Join(d.dir, VectorFileName) }

// Arms returns the arm state store.
func (d *DB) Arms() *ArmStore { return d.arms }

// Ledger returns the feedback ledger.
func (d *DB) Ledger() *Ledger { return d.ledger }

// Graph returns the document graph.
func (d *DB) Graph() *GraphStore { return d.graph }

// History returns the persisted query history.
func (d *DB) History() *QueryHistory { return d.history }

// Close closes the database and releases the directory lock.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.db.Close()
		if err := d.lock.Unlock(); err != nil && d.closeErr == nil {
			d.closeErr = err
		}
	})
	return d.closeErr
}
