// Package applicator implements the client-side pull applicator
// (component C9): applies a pull response's changes to local rows and
// advances the subscription cursor as a single logical transaction,
// running any registered after_pull plugins first.
package applicator

import (
	"context"
	"fmt"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// RowWriter applies one change to the local store. Implementations
// decide upsert vs. delete from change.Op.
type RowWriter func(ctx context.Context, change syncengine.Change) error

// CursorSetter persists a subscription's new cursor.
type CursorSetter func(ctx context.Context, cursor uint64) error

// Tx wraps whatever transactional mechanism the local store uses, so
// row writes and the cursor advance commit or roll back together.
type Tx interface {
	WriteRow(ctx context.Context, change syncengine.Change) error
	SetCursor(ctx context.Context, cursor uint64) error
	Commit() error
	Rollback() error
}

// TxBeginner starts a new Tx.
type TxBeginner func(ctx context.Context) (Tx, error)

// AfterPull is a plugin hook run on changes before they are applied
// (decryption, CRDT merge — component C10).
type AfterPull func(ctx context.Context, changes []syncengine.Change) ([]syncengine.Change, error)

// Applicator applies pull responses transactionally.
type Applicator struct {
	begin      TxBeginner
	afterPull  []AfterPull
}

// New constructs an Applicator. plugins run in order on every batch of
// changes before they are written.
func New(begin TxBeginner, plugins ...AfterPull) *Applicator {
	return &Applicator{begin: begin, afterPull: plugins}
}

// Apply writes changes and advances the cursor to nextCursor, in one
// transaction. If a commit is entirely filtered out by a plugin (a
// subsequence of changes becomes empty) the cursor still advances,
// since the transaction is keyed on nextCursor rather than on how many
// rows were actually written.
func (a *Applicator) Apply(ctx context.Context, changes []syncengine.Change, nextCursor uint64) error {
	for _, hook := range a.afterPull {
		var err error
		changes, err = hook(ctx, changes)
		if err != nil {
			// A plugin failure aborts the containing transaction before
			// it is even begun; the cursor is not advanced and the pull
			// is retried from the same cursor on the next cycle.
			return fmt.Errorf("applicator: after_pull: %w", err)
		}
	}

	tx, err := a.begin(ctx)
	if err != nil {
		return fmt.Errorf("applicator: begin: %w", err)
	}

	for _, change := range changes {
		if err := tx.WriteRow(ctx, change); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applicator: write row %s/%s: %w", change.Table, change.RowID, err)
		}
	}

	if err := tx.SetCursor(ctx, nextCursor); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("applicator: set cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("applicator: commit: %w", err)
	}
	return nil
}
