package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-mizu/dgsync/client/subscription"
)

// SubscriptionStore is a subscription.Store backed by the local SQLite
// database.
type SubscriptionStore struct {
	db *DB
}

// NewSubscriptionStore wraps an open DB.
func NewSubscriptionStore(db *DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Get loads a subscription's state, if present.
func (s *SubscriptionStore) Get(ctx context.Context, stateID string) (subscription.State, bool, error) {
	var st subscription.State
	var status string
	var pageToken, lastChunkID string
	var appliedCount int
	var bootstrapping int

	row := s.db.conn.QueryRowContext(ctx, `
		SELECT state_id, subscription_id, table_name, scopes_json, params_json, cursor,
		       bootstrap_page_token, bootstrap_last_chunk_id, bootstrap_applied_count, bootstrapping, status
		FROM subscription_states WHERE state_id = ?`, stateID)

	err := row.Scan(&st.StateID, &st.SubscriptionID, &st.Table, &st.ScopesJSON, &st.ParamsJSON, &st.Cursor,
		&pageToken, &lastChunkID, &appliedCount, &bootstrapping, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.State{}, false, nil
	}
	if err != nil {
		return subscription.State{}, false, fmt.Errorf("sqlitestore: get subscription state: %w", err)
	}

	st.Status = subscription.Status(status)
	if bootstrapping != 0 {
		st.Bootstrap = &subscription.BootstrapState{
			PageToken:          pageToken,
			LastAppliedChunkID: lastChunkID,
			AppliedCount:       appliedCount,
		}
	}
	return st, true, nil
}

// Put upserts a subscription's state.
func (s *SubscriptionStore) Put(ctx context.Context, st subscription.State) error {
	var pageToken, lastChunkID string
	var appliedCount int
	bootstrapping := 0
	if st.Bootstrap != nil {
		bootstrapping = 1
		pageToken = st.Bootstrap.PageToken
		lastChunkID = st.Bootstrap.LastAppliedChunkID
		appliedCount = st.Bootstrap.AppliedCount
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO subscription_states
			(state_id, subscription_id, table_name, scopes_json, params_json, cursor,
			 bootstrap_page_token, bootstrap_last_chunk_id, bootstrap_applied_count, bootstrapping, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (state_id) DO UPDATE SET
			subscription_id = excluded.subscription_id,
			table_name = excluded.table_name,
			scopes_json = excluded.scopes_json,
			params_json = excluded.params_json,
			cursor = excluded.cursor,
			bootstrap_page_token = excluded.bootstrap_page_token,
			bootstrap_last_chunk_id = excluded.bootstrap_last_chunk_id,
			bootstrap_applied_count = excluded.bootstrap_applied_count,
			bootstrapping = excluded.bootstrapping,
			status = excluded.status`,
		st.StateID, st.SubscriptionID, st.Table, st.ScopesJSON, st.ParamsJSON, st.Cursor,
		pageToken, lastChunkID, appliedCount, bootstrapping, string(st.Status),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: put subscription state: %w", err)
	}
	return nil
}

var _ subscription.Store = (*SubscriptionStore)(nil)
