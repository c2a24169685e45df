// Package syncengine implements the server-side commit log, push/pull
// sequencing and snapshot bootstrap at the core of the sync protocol.
package syncengine

import (
	"encoding/json"
	"errors"
	"time"
)

// Op names the kind of row mutation a Change or Mutation represents.
type Op string

const (
	Create Op = "create"
	Update Op = "update"
	Delete Op = "delete"
)

// Mutation is one client-submitted write, identified by a client-chosen
// idempotency key (ClientCommitID) so retries never double-apply.
type Mutation struct {
	ClientCommitID string          `json:"client_commit_id"`
	Table          string          `json:"table"`
	RowID          string          `json:"row_id"`
	Op             Op              `json:"op"`
	BaseVersion    uint64          `json:"base_version"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Change is one row mutation as it lives in the server's append-only
// commit log: sequenced, scoped and carrying the new row version.
type Change struct {
	Scope         string          `json:"scope"`
	Seq           uint64          `json:"seq"`
	Table         string          `json:"table"`
	RowID         string          `json:"row_id"`
	Op            Op              `json:"op"`
	ServerVersion uint64          `json:"server_version"`
	Data          json.RawMessage `json:"data,omitempty"`
	CommittedAt   time.Time       `json:"committed_at"`
	ClientCommitID string         `json:"client_commit_id,omitempty"`
}

// ScopeVerdict is the outcome of resolving a client's claimed scope
// against what it is currently entitled to see.
type ScopeVerdict string

const (
	ScopeActive   ScopeVerdict = "active"
	ScopeNarrowed ScopeVerdict = "narrowed"
	ScopeRevoked  ScopeVerdict = "revoked"
)

// Error taxonomy (spec §7). HTTP transports map these to status codes
// and machine-readable codes in internal/transport.
var (
	ErrRowMissing         = errors.New("syncengine: row missing")
	ErrInvalidMutation    = errors.New("syncengine: invalid mutation")
	ErrRowConflict        = errors.New("syncengine: row conflict")
	ErrCursorTooOld       = errors.New("syncengine: cursor too old")
	ErrScopeViolation     = errors.New("syncengine: scope violation")
	ErrSubscriptionRevoked = errors.New("syncengine: subscription revoked")
	ErrPluginFailure      = errors.New("syncengine: plugin failure")
)
