package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-mizu/dgsync/client/outbox"
	"github.com/go-mizu/dgsync/internal/syncengine"
)

// OutboxStore is an outbox.Store backed by the local SQLite database.
type OutboxStore struct {
	db *DB
}

// NewOutboxStore wraps an open DB.
func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Insert durably records a new outbox entry.
func (s *OutboxStore) Insert(ctx context.Context, e outbox.Entry) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO outbox_entries
			(local_seq, client_commit_id, table_name, row_id, op, base_version, data, status, server_seq, error, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LocalSeq, e.Mutation.ClientCommitID, e.Mutation.Table, e.Mutation.RowID, string(e.Mutation.Op),
		e.Mutation.BaseVersion, []byte(e.Mutation.Data), string(e.Status), e.ServerSeq, e.Err,
		e.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert outbox entry: %w", err)
	}
	return nil
}

// Update persists changes to an existing entry, keyed by ClientCommitID
// (stable across retries, unlike LocalSeq which is assignment-only).
func (s *OutboxStore) Update(ctx context.Context, e outbox.Entry) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE outbox_entries
		SET status = ?, server_seq = ?, error = ?
		WHERE client_commit_id = ?`,
		string(e.Status), e.ServerSeq, e.Err, e.Mutation.ClientCommitID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update outbox entry: %w", err)
	}
	return nil
}

// Pending returns entries in Pending or Sending status, oldest first.
func (s *OutboxStore) Pending(ctx context.Context) ([]outbox.Entry, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT local_seq, client_commit_id, table_name, row_id, op, base_version, data, status, server_seq, error, enqueued_at
		FROM outbox_entries
		WHERE status IN ('pending', 'sending')
		ORDER BY local_seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: pending outbox entries: %w", err)
	}
	defer rows.Close()

	var out []outbox.Entry
	for rows.Next() {
		var e outbox.Entry
		var op, status, enqueuedAt string
		var data []byte
		if err := rows.Scan(&e.LocalSeq, &e.Mutation.ClientCommitID, &e.Mutation.Table, &e.Mutation.RowID,
			&op, &e.Mutation.BaseVersion, &data, &status, &e.ServerSeq, &e.Err, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan outbox entry: %w", err)
		}
		e.Mutation.Op = syncengine.Op(op)
		e.Mutation.Data = data
		e.Status = outbox.Status(status)
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			e.EnqueuedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ outbox.Store = (*OutboxStore)(nil)
