// Package subscription implements the client-side subscription state
// machine (component C8): per-subscription shape, cursor and bootstrap
// progress, with the transitions spec §4.8 enumerates.
package subscription

import (
	"context"
	"fmt"
)

// Status is a subscription's lifecycle state.
type Status string

const (
	Bootstrapping Status = "bootstrapping"
	Active        Status = "active"
	Revoked       Status = "revoked"
)

// BootstrapState tracks in-flight snapshot progress so a crash resumes
// rather than restarting a bootstrap from scratch.
type BootstrapState struct {
	PageToken        string
	LastAppliedChunkID string
	AppliedCount     int
}

// State is one subscription's durable record.
type State struct {
	StateID        string
	SubscriptionID string
	Table          string
	ScopesJSON     string
	ParamsJSON     string
	Cursor         uint64
	Bootstrap      *BootstrapState
	Status         Status
}

// RowDeleter removes local rows that are no longer visible under a
// subscription's (possibly narrowed or revoked) scope, transactionally
// with the state transition that triggered it.
type RowDeleter func(ctx context.Context, state State, scopesJSON string) error

// Store persists subscription state.
type Store interface {
	Get(ctx context.Context, stateID string) (State, bool, error)
	Put(ctx context.Context, s State) error
}

// Machine drives subscription state transitions.
type Machine struct {
	store  Store
	delete RowDeleter
}

// New constructs a Machine backed by store. deleteRows is invoked
// whenever a transition narrows or revokes scope.
func New(store Store, deleteRows RowDeleter) *Machine {
	return &Machine{store: store, delete: deleteRows}
}

// Introduce starts bootstrapping a new subscription, or one that was
// previously removed and is being re-added.
func (m *Machine) Introduce(ctx context.Context, stateID, subscriptionID, table, scopesJSON, paramsJSON string) error {
	s := State{
		StateID:        stateID,
		SubscriptionID: subscriptionID,
		Table:          table,
		ScopesJSON:     scopesJSON,
		ParamsJSON:     paramsJSON,
		Status:         Bootstrapping,
		Bootstrap:      &BootstrapState{},
	}
	return m.store.Put(ctx, s)
}

// CompleteBootstrap transitions bootstrapping -> active once snapshot
// pages exhaust, setting the cursor carried by the snapshot metadata.
func (m *Machine) CompleteBootstrap(ctx context.Context, stateID string, cursor uint64) error {
	s, ok, err := m.store.Get(ctx, stateID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subscription: unknown state %q", stateID)
	}
	if s.Status != Bootstrapping {
		return fmt.Errorf("subscription: %q is %q, not bootstrapping", stateID, s.Status)
	}
	s.Status = Active
	s.Cursor = cursor
	s.Bootstrap = nil
	return m.store.Put(ctx, s)
}

// AdvancePull transitions active -> active, moving the cursor forward
// after a successful incremental pull. The cursor must not regress.
func (m *Machine) AdvancePull(ctx context.Context, stateID string, nextCursor uint64) error {
	s, ok, err := m.store.Get(ctx, stateID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subscription: unknown state %q", stateID)
	}
	if s.Status != Active {
		return fmt.Errorf("subscription: %q is %q, not active", stateID, s.Status)
	}
	if nextCursor < s.Cursor {
		return fmt.Errorf("subscription: cursor regression %d -> %d for %q", s.Cursor, nextCursor, stateID)
	}
	s.Cursor = nextCursor
	return m.store.Put(ctx, s)
}

// ForceBootstrap transitions active -> bootstrapping when the server
// reports the client's cursor is out of retained range.
func (m *Machine) ForceBootstrap(ctx context.Context, stateID string) error {
	s, ok, err := m.store.Get(ctx, stateID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subscription: unknown state %q", stateID)
	}
	s.Status = Bootstrapping
	s.Bootstrap = &BootstrapState{}
	return m.store.Put(ctx, s)
}

// Revoke transitions active -> revoked and deletes local rows only
// visible through this subscription's scope, in the same logical step.
func (m *Machine) Revoke(ctx context.Context, stateID string) error {
	s, ok, err := m.store.Get(ctx, stateID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subscription: unknown state %q", stateID)
	}
	if m.delete != nil {
		if err := m.delete(ctx, s, ""); err != nil {
			return fmt.Errorf("subscription: revoke row cleanup: %w", err)
		}
	}
	s.Status = Revoked
	return m.store.Put(ctx, s)
}

// Narrow updates a subscription's scope to newScopesJSON and deletes
// local rows that fall outside the narrowed scope.
func (m *Machine) Narrow(ctx context.Context, stateID, newScopesJSON string) error {
	s, ok, err := m.store.Get(ctx, stateID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subscription: unknown state %q", stateID)
	}
	if m.delete != nil {
		if err := m.delete(ctx, s, newScopesJSON); err != nil {
			return fmt.Errorf("subscription: narrow row cleanup: %w", err)
		}
	}
	s.ScopesJSON = newScopesJSON
	return m.store.Put(ctx, s)
}
