package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLitePort is a SQLite-backed Port: a single file database good for
// development, single-process deployments, and prototyping before
// migrating to MySQL. It enables WAL mode, but all access goes through a
// single connection and the port's RWMutex, so reads (such as the RPC
// layer's history queries) and writes are still serialized.
type SQLitePort struct {
	*sqlPort
}

// NewSQLitePort opens (creating if necessary) a SQLite database at path
// and migrates it to the current schema. Pass ":memory:" for an
// ephemeral database.
func NewSQLitePort(path string) (*SQLitePort, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	port := &SQLitePort{sqlPort: &sqlPort{db: db}}
	if err := port.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return port, nil
}

func (p *SQLitePort) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			schema_version TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER,
			current_node_id TEXT,
			vars TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			debug TEXT NOT NULL,
			next_seq INTEGER NOT NULL DEFAULT 0,
			outputs TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_flow_id ON runs (flow_id)`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			lease_owner TEXT,
			lease_expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items (status, lease_expires_at)`,
		`CREATE TABLE IF NOT EXISTS vars (
			key_name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS triggers (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			schedule TEXT,
			enabled INTEGER NOT NULL,
			args TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			node_id TEXT,
			data TEXT,
			UNIQUE (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events (run_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
