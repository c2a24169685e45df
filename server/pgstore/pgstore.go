// Package pgstore is a Postgres-backed implementation of
// syncengine.Log, syncengine.Dedupe and maintenance.ClientCursorSource,
// for deployments running more than one syncd replica against a
// shared database.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// Schema creates the tables pgstore depends on, safe to run repeatedly.
// A real deployment would run this through a migration tool; it is kept
// inline here since none of the retrieval pack's migration runners
// (golang-migrate et al.) is otherwise exercised by this module.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_changes (
	scope            text        NOT NULL,
	seq              bigint      NOT NULL,
	table_name       text        NOT NULL,
	row_id           text        NOT NULL,
	op               text        NOT NULL,
	server_version   bigint      NOT NULL,
	data             jsonb,
	client_commit_id text,
	committed_at     timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, seq)
);

CREATE INDEX IF NOT EXISTS sync_changes_row_idx
	ON sync_changes (scope, table_name, row_id, seq);

CREATE TABLE IF NOT EXISTS sync_table_commits (
	scope            text   NOT NULL,
	client_commit_id text   NOT NULL,
	seq              bigint NOT NULL,
	PRIMARY KEY (scope, client_commit_id)
);

CREATE TABLE IF NOT EXISTS sync_client_cursors (
	scope      text        NOT NULL,
	client_id  text        NOT NULL,
	cursor     bigint      NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, client_id)
);
`

// Log is a Postgres-backed syncengine.Log. Sequencing is driven by a
// per-scope sequence held in sync_changes itself (max(seq)+1 under the
// transaction's serializable snapshot), not a Postgres SEQUENCE, so
// that per-scope numbering stays gap-free even as scopes come and go.
type Log struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Callers are responsible for running
// Schema (or an equivalent migration) before first use.
func New(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool}
}

// Append assigns sequential seq numbers to changes and inserts them in
// one transaction, so a partial batch never becomes visible.
func (l *Log) Append(ctx context.Context, scope string, changes []syncengine.Change) (uint64, error) {
	if len(changes) == 0 {
		return l.Cursor(ctx, scope)
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, fmt.Errorf("pgstore: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var head uint64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sync_changes WHERE scope = $1`, scope).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("pgstore: read head: %w", err)
	}

	batch := &pgx.Batch{}
	next := head
	for _, c := range changes {
		next++
		batch.Queue(
			`INSERT INTO sync_changes (scope, seq, table_name, row_id, op, server_version, data, client_commit_id, committed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			scope, next, c.Table, c.RowID, string(c.Op), c.ServerVersion, c.Data, nullableString(c.ClientCommitID), c.CommittedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range changes {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("pgstore: insert change: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("pgstore: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pgstore: commit append: %w", err)
	}
	return next, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Since returns up to limit changes with seq > cursor, ordered by seq.
func (l *Log) Since(ctx context.Context, scope string, cursor uint64, limit int) ([]syncengine.Change, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := l.pool.Query(ctx, `
		SELECT seq, table_name, row_id, op, server_version, data, COALESCE(client_commit_id, ''), committed_at
		FROM sync_changes
		WHERE scope = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`, scope, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: since: %w", err)
	}
	defer rows.Close()

	var out []syncengine.Change
	for rows.Next() {
		var c syncengine.Change
		var op string
		if err := rows.Scan(&c.Seq, &c.Table, &c.RowID, &op, &c.ServerVersion, &c.Data, &c.ClientCommitID, &c.CommittedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan change: %w", err)
		}
		c.Scope = scope
		c.Op = syncengine.Op(op)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Cursor returns the scope's current head seq.
func (l *Log) Cursor(ctx context.Context, scope string) (uint64, error) {
	var head uint64
	err := l.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sync_changes WHERE scope = $1`, scope).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("pgstore: cursor: %w", err)
	}
	return head, nil
}

// Oldest returns the smallest retained seq for scope, 0 if empty.
func (l *Log) Oldest(ctx context.Context, scope string) (uint64, error) {
	var oldest uint64
	err := l.pool.QueryRow(ctx, `SELECT COALESCE(MIN(seq), 0) FROM sync_changes WHERE scope = $1`, scope).Scan(&oldest)
	if err != nil {
		return 0, fmt.Errorf("pgstore: oldest: %w", err)
	}
	return oldest, nil
}

// Trim deletes changes with seq < before.
func (l *Log) Trim(ctx context.Context, scope string, before uint64) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM sync_changes WHERE scope = $1 AND seq < $2`, scope, before)
	if err != nil {
		return fmt.Errorf("pgstore: trim: %w", err)
	}
	return nil
}

// Compact implements maintenance.Compactor: deletes every change below
// before except the newest one touching each (table_name, row_id),
// relying on the sync_changes_row_idx index for the window function.
func (l *Log) Compact(ctx context.Context, scope string, before uint64) (int, error) {
	tag, err := l.pool.Exec(ctx, `
		WITH ranked AS (
			SELECT seq,
			       row_number() OVER (PARTITION BY table_name, row_id ORDER BY seq DESC) AS rn
			FROM sync_changes
			WHERE scope = $1 AND seq < $2
		)
		DELETE FROM sync_changes
		WHERE scope = $1 AND seq IN (SELECT seq FROM ranked WHERE rn > 1)`, scope, before)
	if err != nil {
		return 0, fmt.Errorf("pgstore: compact: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
