package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dedupe is a Postgres-backed syncengine.Dedupe, backed by
// sync_table_commits' (scope, client_commit_id) primary key.
type Dedupe struct {
	pool *pgxpool.Pool
}

// NewDedupe wraps an existing pool.
func NewDedupe(pool *pgxpool.Pool) *Dedupe {
	return &Dedupe{pool: pool}
}

// Seen reports whether client_commit_id was already applied for scope.
func (d *Dedupe) Seen(ctx context.Context, scope, clientCommitID string) (uint64, bool, error) {
	var seq uint64
	err := d.pool.QueryRow(ctx,
		`SELECT seq FROM sync_table_commits WHERE scope = $1 AND client_commit_id = $2`,
		scope, clientCommitID,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pgstore: seen: %w", err)
	}
	return seq, true, nil
}

// Remember records that client_commit_id was applied at seq. A
// conflicting concurrent insert (two replicas racing the same commit
// id) is treated as already-seen rather than an error.
func (d *Dedupe) Remember(ctx context.Context, scope, clientCommitID string, seq uint64) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO sync_table_commits (scope, client_commit_id, seq)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope, client_commit_id) DO NOTHING`,
		scope, clientCommitID, seq,
	)
	if err != nil {
		return fmt.Errorf("pgstore: remember: %w", err)
	}
	return nil
}
