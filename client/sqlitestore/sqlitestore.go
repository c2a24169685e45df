// Package sqlitestore is the client-side local database: a pure-Go
// SQLite file backing the outbox (client/outbox), subscription state
// (client/subscription) and applied rows, so a client can sync offline
// and resume where it left off after a restart.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox_entries (
	local_seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	client_commit_id TEXT NOT NULL UNIQUE,
	table_name       TEXT NOT NULL,
	row_id           TEXT NOT NULL,
	op               TEXT NOT NULL,
	base_version     INTEGER NOT NULL,
	data             BLOB,
	status           TEXT NOT NULL,
	server_seq       INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	enqueued_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscription_states (
	state_id                TEXT PRIMARY KEY,
	subscription_id         TEXT NOT NULL,
	table_name              TEXT NOT NULL,
	scopes_json             TEXT NOT NULL,
	params_json             TEXT NOT NULL,
	cursor                  INTEGER NOT NULL DEFAULT 0,
	bootstrap_page_token    TEXT NOT NULL DEFAULT '',
	bootstrap_last_chunk_id TEXT NOT NULL DEFAULT '',
	bootstrap_applied_count INTEGER NOT NULL DEFAULT 0,
	bootstrapping           INTEGER NOT NULL DEFAULT 0,
	status                  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS applied_rows (
	table_name     TEXT NOT NULL,
	row_id         TEXT NOT NULL,
	server_version INTEGER NOT NULL,
	data           BLOB,
	PRIMARY KEY (table_name, row_id)
);
`

// DB wraps the client's local SQLite database.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if necessary) the database at path and applies
// schema. SQLite only supports one writer, so the connection pool is
// pinned to a single connection exactly like the teacher's local store.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// Ping checks the connection is alive.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
