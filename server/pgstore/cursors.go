package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-mizu/dgsync/server/maintenance"
)

// CursorSource is a Postgres-backed maintenance.ClientCursorSource over
// sync_client_cursors. Rows are written only through Advance; neither
// the pull handler nor client/subscription calls it, so the maintenance
// coordinator sees only the cursors some caller has recorded there.
type CursorSource struct {
	pool *pgxpool.Pool
}

// NewCursorSource wraps an existing pool.
func NewCursorSource(pool *pgxpool.Pool) *CursorSource {
	return &CursorSource{pool: pool}
}

// ClientCursors lists every client cursor recorded for scope.
func (c *CursorSource) ClientCursors(ctx context.Context, scope string) ([]maintenance.ClientCursor, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT client_id, cursor, updated_at FROM sync_client_cursors WHERE scope = $1`, scope)
	if err != nil {
		return nil, fmt.Errorf("pgstore: client cursors: %w", err)
	}
	defer rows.Close()

	var out []maintenance.ClientCursor
	for rows.Next() {
		var cc maintenance.ClientCursor
		if err := rows.Scan(&cc.ClientID, &cc.Cursor, &cc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan client cursor: %w", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// Advance upserts client's cursor for scope, never moving a recorded
// cursor backwards.
func (c *CursorSource) Advance(ctx context.Context, scope, clientID string, cursor uint64) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO sync_client_cursors (scope, client_id, cursor, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (scope, client_id)
		DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at
		WHERE sync_client_cursors.cursor < EXCLUDED.cursor`,
		scope, clientID, cursor,
	)
	if err != nil {
		return fmt.Errorf("pgstore: advance cursor: %w", err)
	}
	return nil
}
