// Package sqlite implements the control plane's persistence ports on a
// single SQLite database: adapter registry, policies, decision ledger, tool
// authorizations, the hash-chained audit log, ingest dedup, traces, and cost
// metrics.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the shared database handle. All port implementations in this
// package hang off it.
type Store struct {
	db *sql.DB

	// auditMu serializes audit appends per tenant so seq stays gap-free.
	auditMu sync.Mutex
	tenants map[string]*sync.Mutex
}

// Open opens (creating if needed) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "clasper.db"
	}
	if !strings.Contains(path, ":memory:") {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		// One connection, or each pooled conn would see its own empty DB.
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, tenants: make(map[string]*sync.Mutex)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS adapter_registry (
		tenant_id    TEXT NOT NULL,
		adapter_id   TEXT NOT NULL,
		version      TEXT NOT NULL,
		display_name TEXT,
		risk_class   TEXT NOT NULL,
		capabilities TEXT NOT NULL,
		enabled      INTEGER NOT NULL DEFAULT 1,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		PRIMARY KEY (tenant_id, adapter_id, version)
	);

	CREATE TABLE IF NOT EXISTS policies (
		policy_id     TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		workspace_id  TEXT,
		subject_type  TEXT NOT NULL,
		subject_name  TEXT,
		conditions    TEXT,
		condition_cel TEXT,
		effect        TEXT NOT NULL,
		precedence    INTEGER NOT NULL DEFAULT 0,
		enabled       INTEGER NOT NULL DEFAULT 1,
		explanation   TEXT,
		is_fallback   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policies_scope ON policies(tenant_id, workspace_id);

	CREATE TABLE IF NOT EXISTS decisions (
		decision_id   TEXT PRIMARY KEY,
		execution_id  TEXT NOT NULL UNIQUE,
		tenant_id     TEXT NOT NULL,
		workspace_id  TEXT,
		adapter_id    TEXT NOT NULL,
		effect        TEXT NOT NULL,
		status        TEXT NOT NULL,
		body          TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_pending ON decisions(tenant_id, status);

	CREATE TABLE IF NOT EXISTS tool_authorizations (
		execution_id TEXT NOT NULL,
		tool         TEXT NOT NULL,
		tenant_id    TEXT NOT NULL,
		adapter_id   TEXT NOT NULL,
		body         TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		PRIMARY KEY (execution_id, tool)
	);
	CREATE INDEX IF NOT EXISTS idx_tool_auth_tool ON tool_authorizations(tenant_id, tool, created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id  TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		actor      TEXT,
		data       TEXT,
		prev_hash  TEXT NOT NULL,
		hash       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (tenant_id, seq)
	);

	CREATE TABLE IF NOT EXISTS ingest_dedup (
		execution_id TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		UNIQUE (execution_id, event_type)
	);

	CREATE TABLE IF NOT EXISTS traces (
		trace_id     TEXT NOT NULL,
		execution_id TEXT NOT NULL UNIQUE,
		tenant_id    TEXT NOT NULL,
		adapter_id   TEXT NOT NULL,
		body         TEXT NOT NULL,
		ingested_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cost_metrics (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id    TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		adapter_id   TEXT,
		amount       REAL NOT NULL,
		currency     TEXT,
		model        TEXT,
		tokens       INTEGER,
		recorded_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cost_tenant ON cost_metrics(tenant_id);
	`
	_, err := db.Exec(schema)
	return err
}

// tenantLock returns the per-tenant audit append lock.
func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	mu, ok := s.tenants[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		s.tenants[tenantID] = mu
	}
	return mu
}
