package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-mizu/dgsync/client/applicator"
	"github.com/go-mizu/dgsync/internal/syncengine"
)

// applicatorTx implements applicator.Tx against a SQLite transaction,
// writing applied rows and advancing the owning subscription's cursor
// together so a crash never leaves one without the other.
type applicatorTx struct {
	tx      *sql.Tx
	stateID string
}

// WriteRow upserts or deletes a row depending on change.Op.
func (t *applicatorTx) WriteRow(ctx context.Context, change syncengine.Change) error {
	if change.Op == syncengine.Delete {
		_, err := t.tx.ExecContext(ctx,
			`DELETE FROM applied_rows WHERE table_name = ? AND row_id = ?`,
			change.Table, change.RowID)
		if err != nil {
			return fmt.Errorf("sqlitestore: delete applied row: %w", err)
		}
		return nil
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO applied_rows (table_name, row_id, server_version, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (table_name, row_id) DO UPDATE SET
			server_version = excluded.server_version,
			data = excluded.data
		WHERE excluded.server_version >= applied_rows.server_version`,
		change.Table, change.RowID, change.ServerVersion, []byte(change.Data),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert applied row: %w", err)
	}
	return nil
}

// SetCursor advances the owning subscription's cursor within the same
// transaction as the row writes.
func (t *applicatorTx) SetCursor(ctx context.Context, cursor uint64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE subscription_states SET cursor = ? WHERE state_id = ?`,
		cursor, t.stateID)
	if err != nil {
		return fmt.Errorf("sqlitestore: set cursor: %w", err)
	}
	return nil
}

func (t *applicatorTx) Commit() error   { return t.tx.Commit() }
func (t *applicatorTx) Rollback() error { return t.tx.Rollback() }

// TxBeginner returns an applicator.TxBeginner bound to stateID, for use
// with applicator.New.
func (db *DB) TxBeginner(stateID string) applicator.TxBeginner {
	return func(ctx context.Context) (applicator.Tx, error) {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: begin applicator tx: %w", err)
		}
		return &applicatorTx{tx: tx, stateID: stateID}, nil
	}
}

var _ applicator.Tx = (*applicatorTx)(nil)
