// Package transport serves the sync wire protocol (spec §6) over HTTP,
// mounted on an internal/webkit Router.
package transport

import (
	"github.com/go-mizu/dgsync/internal/syncengine"
)

// PushRequest is the push endpoint's request body.
type PushRequest struct {
	Scope     string                  `json:"scope"`
	Mutations []syncengine.Mutation   `json:"mutations"`
}

// CommitResponse reports the outcome of one submitted mutation.
type CommitResponse struct {
	ClientCommitID string `json:"client_commit_id"`
	Seq            uint64 `json:"seq"`
	Deduplicated   bool   `json:"deduplicated,omitempty"`
}

// PushResponse is the push endpoint's response body.
type PushResponse struct {
	Cursor  uint64            `json:"cursor"`
	Commits []CommitResponse  `json:"commits"`
}

// PullRequest is the pull endpoint's request body.
type PullRequest struct {
	Scope  string `json:"scope"`
	Cursor uint64 `json:"cursor"`
	Limit  int    `json:"limit,omitempty"`
}

// PullResponse is the pull endpoint's response body. The pull handler
// fills Changes and NextCursor and never sets Bootstrap: a cursor the
// engine can no longer serve incrementally is answered with an
// ErrorResponse (HTTP 410, code FORCE_BOOTSTRAP) instead, and a
// snapshot comes from the snapshot endpoint.
type PullResponse struct {
	Changes    []syncengine.Change  `json:"changes,omitempty"`
	NextCursor uint64               `json:"next_cursor"`
	Bootstrap  *syncengine.Bootstrap `json:"bootstrap,omitempty"`
}

// SnapshotRequest is the snapshot endpoint's request body.
type SnapshotRequest struct {
	Scope string `json:"scope"`
}

// SnapshotResponse is the snapshot endpoint's response body.
type SnapshotResponse struct {
	Bootstrap syncengine.Bootstrap `json:"bootstrap"`
}

// ErrorResponse is the body returned alongside any non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
