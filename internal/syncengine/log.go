package syncengine

import "context"

// Log is the append-only, per-scope commit log (component C1). Seq is
// monotonic within a scope and starts at 1; cursor 0 means "before the
// first commit."
type Log interface {
	// Append assigns sequence numbers to changes (in order) and returns
	// the scope's new cursor (the seq of the last appended change).
	Append(ctx context.Context, scope string, changes []Change) (uint64, error)

	// Since returns up to limit changes with seq > cursor, oldest first.
	Since(ctx context.Context, scope string, cursor uint64, limit int) ([]Change, error)

	// Cursor returns the scope's current head, 0 if the scope is empty.
	Cursor(ctx context.Context, scope string) (uint64, error)

	// Oldest returns the smallest seq still retained for scope, 0 if the
	// scope holds no changes. A pull cursor
	// below Oldest-1 can no longer be served incrementally and must
	// force a bootstrap.
	Oldest(ctx context.Context, scope string) (uint64, error)

	// Trim drops changes with seq < before. Used by compaction/prune (C6).
	Trim(ctx context.Context, scope string, before uint64) error
}

// Dedupe records which client commit ids have already been applied to a
// scope, giving Engine.Push its exactly-once guarantee (§4.2, invariant
// I2) independent of which Log implementation backs the engine.
type Dedupe interface {
	// Seen reports whether clientCommitID was already applied to scope,
	// returning the seq it was assigned if so.
	Seen(ctx context.Context, scope, clientCommitID string) (seq uint64, ok bool, err error)

	// Remember records that clientCommitID was applied at seq.
	Remember(ctx context.Context, scope, clientCommitID string, seq uint64) error
}
