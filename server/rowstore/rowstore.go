// Package rowstore implements syncengine.Applier and
// syncengine.SnapshotFunc against the authoritative row data a sync
// scope is built from: a generic (table, row_id) -> (version, data)
// table, with optimistic concurrency enforced the same way as a
// versioned balance update (WHERE version = base_version), so a
// losing writer gets ErrRowConflict instead of silently clobbering a
// concurrent change. Begin opens one transaction per Push batch so a
// failing mutation rolls back the batch's earlier writes instead of
// leaving them committed with no matching commit-log entry.
package rowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// uniqueViolation is Postgres' SQLSTATE for a unique-key conflict.
const uniqueViolation = "23505"

// Schema creates the table rowstore depends on, safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_rows (
	scope      text   NOT NULL,
	table_name text   NOT NULL,
	row_id     text   NOT NULL,
	version    bigint NOT NULL,
	data       jsonb,
	deleted    boolean NOT NULL DEFAULT false,
	PRIMARY KEY (scope, table_name, row_id)
);
`

// Postgres is a pgxpool-backed row store.
type Postgres struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Callers are responsible for running
// Schema (or an equivalent migration) before first use.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Begin implements syncengine.Applier: it opens one Postgres
// transaction for the whole Push batch, so a mutation that fails
// partway through rolls back every row write the batch already made
// rather than leaving a prefix of them committed ahead of the commit
// log and dedupe store.
func (p *Postgres) Begin(ctx context.Context, scope string) (syncengine.PushTx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("rowstore: begin: %w", err)
	}
	return &pgTx{tx: tx, scope: scope}, nil
}

// pgTx is the Postgres-backed syncengine.PushTx: every mutation in a
// Push batch runs against the same tx, committed only once the whole
// batch has applied without error.
type pgTx struct {
	tx    pgx.Tx
	scope string
}

func (t *pgTx) Apply(ctx context.Context, mut syncengine.Mutation) ([]syncengine.Change, error) {
	switch mut.Op {
	case syncengine.Create:
		return t.applyCreate(ctx, mut)
	case syncengine.Update:
		return t.applyUpdateOrDelete(ctx, mut, false)
	case syncengine.Delete:
		return t.applyUpdateOrDelete(ctx, mut, true)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", syncengine.ErrInvalidMutation, mut.Op)
	}
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("rowstore: commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rowstore: rollback: %w", err)
	}
	return nil
}

func (t *pgTx) applyCreate(ctx context.Context, mut syncengine.Mutation) ([]syncengine.Change, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sync_rows (scope, table_name, row_id, version, data, deleted)
		VALUES ($1, $2, $3, 1, $4, false)`,
		t.scope, mut.Table, mut.RowID, mut.Data,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, fmt.Errorf("%w: row %s/%s already exists", syncengine.ErrRowConflict, mut.Table, mut.RowID)
	}
	if err != nil {
		return nil, fmt.Errorf("rowstore: create: %w", err)
	}
	return []syncengine.Change{{
		Table: mut.Table, RowID: mut.RowID, Op: syncengine.Create,
		ServerVersion: 1, Data: mut.Data, CommittedAt: time.Now(),
	}}, nil
}

func (t *pgTx) applyUpdateOrDelete(ctx context.Context, mut syncengine.Mutation, del bool) ([]syncengine.Change, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sync_rows
		SET version = version + 1, data = $5, deleted = $6
		WHERE scope = $1 AND table_name = $2 AND row_id = $3 AND version = $4 AND NOT deleted`,
		t.scope, mut.Table, mut.RowID, mut.BaseVersion, dataOrNil(del, mut.Data), del,
	)
	if err != nil {
		return nil, fmt.Errorf("rowstore: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, version, derr := t.currentVersion(ctx, mut.Table, mut.RowID)
		if derr != nil {
			return nil, derr
		}
		if !exists {
			return nil, fmt.Errorf("%w: row %s/%s", syncengine.ErrRowMissing, mut.Table, mut.RowID)
		}
		return nil, fmt.Errorf("%w: row %s/%s is at version %d, not %d", syncengine.ErrRowConflict, mut.Table, mut.RowID, version, mut.BaseVersion)
	}

	op := syncengine.Update
	if del {
		op = syncengine.Delete
	}
	return []syncengine.Change{{
		Table: mut.Table, RowID: mut.RowID, Op: op,
		ServerVersion: mut.BaseVersion + 1, Data: mut.Data, CommittedAt: time.Now(),
	}}, nil
}

func (t *pgTx) currentVersion(ctx context.Context, table, rowID string) (bool, uint64, error) {
	var version uint64
	err := t.tx.QueryRow(ctx,
		`SELECT version FROM sync_rows WHERE scope = $1 AND table_name = $2 AND row_id = $3 AND NOT deleted`,
		t.scope, table, rowID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("rowstore: current version: %w", err)
	}
	return true, version, nil
}

// Snapshot implements syncengine.SnapshotFunc: it returns every
// non-deleted row currently in scope, for bootstrap.
func (p *Postgres) Snapshot(ctx context.Context, scope string) ([]syncengine.Change, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT table_name, row_id, version, data FROM sync_rows WHERE scope = $1 AND NOT deleted`,
		scope,
	)
	if err != nil {
		return nil, fmt.Errorf("rowstore: snapshot: %w", err)
	}
	defer rows.Close()

	var out []syncengine.Change
	for rows.Next() {
		var c syncengine.Change
		if err := rows.Scan(&c.Table, &c.RowID, &c.ServerVersion, &c.Data); err != nil {
			return nil, fmt.Errorf("rowstore: scan snapshot row: %w", err)
		}
		c.Op = syncengine.Create
		out = append(out, c)
	}
	return out, rows.Err()
}

func dataOrNil(deleted bool, data json.RawMessage) any {
	if deleted {
		return nil
	}
	return data
}
