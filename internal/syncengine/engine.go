package syncengine

import (
	"context"
	"fmt"
)

// PushTx scopes every mutation in one Push call to a single
// all-or-nothing unit (the authoritative-row-store half of §4.3 step 6
// "transactional, all-or-nothing"): Commit only takes effect once every
// mutation submitted in the batch has applied without error. Apply
// should return ErrRowConflict on a version mismatch and ErrRowMissing
// when Op is Update/Delete against a row that does not exist; either
// aborts the batch and the Tx is rolled back, undoing any row writes
// already made through it.
type PushTx interface {
	Apply(ctx context.Context, mut Mutation) ([]Change, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Applier begins a PushTx scoped to one Push call against the
// authoritative row store backing ApplyFunc/SnapshotFunc.
type Applier interface {
	Begin(ctx context.Context, scope string) (PushTx, error)
}

// ApplyFunc adapts a single-mutation apply function into an Applier for
// stores that apply one mutation at a time with no transaction of their
// own — test fakes and trivial stores. Commit and Rollback are both
// no-ops, so a mid-batch failure leaves earlier mutations in the batch
// already applied; a store that needs real all-or-nothing behavior
// should implement Applier directly instead (see server/rowstore).
type ApplyFunc func(ctx context.Context, scope string, mut Mutation) ([]Change, error)

func (f ApplyFunc) Begin(_ context.Context, scope string) (PushTx, error) {
	return &funcTx{fn: f, scope: scope}, nil
}

type funcTx struct {
	fn    ApplyFunc
	scope string
}

func (t *funcTx) Apply(ctx context.Context, mut Mutation) ([]Change, error) {
	return t.fn(ctx, t.scope, mut)
}

func (t *funcTx) Commit(context.Context) error   { return nil }
func (t *funcTx) Rollback(context.Context) error { return nil }

// ScopeFunc resolves the scope a request is entitled to operate under,
// given the scope it claims. Returning ErrScopeViolation or
// ErrSubscriptionRevoked short-circuits the request.
type ScopeFunc func(ctx context.Context, claimed string) (string, ScopeVerdict, error)

// SnapshotFunc returns the full current row set for scope, used to
// bootstrap a client that has no cursor or was force-bootstrapped.
type SnapshotFunc func(ctx context.Context, scope string) ([]Change, error)

// BeforePush transforms or rejects a batch of mutations prior to
// sequencing (component C10, e.g. an end-to-end-encryption or
// validation plugin).
type BeforePush func(ctx context.Context, scope string, muts []Mutation) ([]Mutation, error)

// AfterPull transforms a batch of changes before they are returned to a
// puller (component C10, e.g. a CRDT merge-state annotator).
type AfterPull func(ctx context.Context, scope string, changes []Change) ([]Change, error)

// Options configures an Engine. Log and Apply are required.
type Options struct {
	Log      Log
	Dedupe   Dedupe
	Apply    Applier
	Scope    ScopeFunc
	Snapshot SnapshotFunc

	// Notify is called after a successful push with the scope that
	// changed, so pull waiters (long-poll, SSE) can wake promptly.
	Notify func(scope string)

	BeforePush []BeforePush
	AfterPull  []AfterPull
}

// Engine sequences pushes into the commit log and serves incremental
// pulls and snapshots against it (components C3, C4, C5).
type Engine struct {
	opts Options
}

// New constructs an Engine. Panics if Log or Apply is nil, mirroring
// the teacher's preference for failing fast on misconfiguration rather
// than nil-checking on every call.
func New(opts Options) *Engine {
	if opts.Log == nil {
		panic("syncengine: Options.Log is required")
	}
	if opts.Apply == nil {
		panic("syncengine: Options.Apply is required")
	}
	return &Engine{opts: opts}
}

// resolveScope applies the configured ScopeFunc, defaulting to an
// identity resolver with an Active verdict when none is set.
func (e *Engine) resolveScope(ctx context.Context, claimed string) (string, error) {
	if e.opts.Scope == nil {
		return claimed, nil
	}
	scope, verdict, err := e.opts.Scope(ctx, claimed)
	if err != nil {
		return "", err
	}
	switch verdict {
	case ScopeRevoked:
		return "", ErrSubscriptionRevoked
	case ScopeActive, ScopeNarrowed:
		return scope, nil
	default:
		return "", fmt.Errorf("%w: unknown verdict %q", ErrScopeViolation, verdict)
	}
}

// CommitResult reports the outcome of one applied (or deduplicated)
// mutation within a Push call.
type CommitResult struct {
	ClientCommitID string
	Seq            uint64
	Changes        []Change
	Deduplicated   bool
}

// PushResult is the outcome of Engine.Push: the scope's cursor after
// the batch and one CommitResult per submitted mutation, in order.
type PushResult struct {
	Cursor  uint64
	Commits []CommitResult
}

// Push applies mutations to scope in order, skipping any whose
// client_commit_id was already applied (exactly-once, §4.2 I2), and
// appends the resulting changes to the commit log as a single batch.
func (e *Engine) Push(ctx context.Context, claimedScope string, muts []Mutation) (PushResult, error) {
	scope, err := e.resolveScope(ctx, claimedScope)
	if err != nil {
		return PushResult{}, err
	}

	for _, bp := range e.opts.BeforePush {
		muts, err = bp(ctx, scope, muts)
		if err != nil {
			return PushResult{}, fmt.Errorf("%w: %v", ErrPluginFailure, err)
		}
	}

	tx, err := e.opts.Apply.Begin(ctx, scope)
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: begin apply: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var pending []Change
	results := make([]CommitResult, len(muts))
	pendingIdx := make([]int, 0, len(muts))

	for i, mut := range muts {
		if mut.ClientCommitID == "" {
			return PushResult{}, fmt.Errorf("%w: missing client_commit_id", ErrInvalidMutation)
		}

		if e.opts.Dedupe != nil {
			if seq, ok, derr := e.opts.Dedupe.Seen(ctx, scope, mut.ClientCommitID); derr != nil {
				return PushResult{}, derr
			} else if ok {
				results[i] = CommitResult{ClientCommitID: mut.ClientCommitID, Seq: seq, Deduplicated: true}
				continue
			}
		}

		changes, aerr := tx.Apply(ctx, mut)
		if aerr != nil {
			return PushResult{}, aerr
		}
		for j := range changes {
			changes[j].Scope = scope
			changes[j].ClientCommitID = mut.ClientCommitID
		}
		pending = append(pending, changes...)
		pendingIdx = append(pendingIdx, i)
		results[i] = CommitResult{ClientCommitID: mut.ClientCommitID, Changes: changes}
	}

	// Every mutation in the batch applied cleanly: commit the row-store
	// side of the batch as one unit before any of it reaches the commit
	// log, so a failure anywhere above rolls back the whole batch's row
	// writes instead of leaving a prefix of them landed with no matching
	// log entry or dedupe record.
	if err := tx.Commit(ctx); err != nil {
		return PushResult{}, fmt.Errorf("syncengine: commit apply: %w", err)
	}
	committed = true

	cursor, err := e.opts.Log.Cursor(ctx, scope)
	if err != nil {
		return PushResult{}, err
	}

	if len(pending) > 0 {
		cursor, err = e.opts.Log.Append(ctx, scope, pending)
		if err != nil {
			return PushResult{}, err
		}

		seq := cursor - uint64(len(pending)) + 1
		consumed := 0
		for _, i := range pendingIdx {
			n := len(results[i].Changes)
			results[i].Seq = seq
			for k := range results[i].Changes {
				results[i].Changes[k].Seq = seq + uint64(k)
			}
			seq += uint64(n)
			consumed += n

			if e.opts.Dedupe != nil {
				if derr := e.opts.Dedupe.Remember(ctx, scope, results[i].ClientCommitID, results[i].Seq); derr != nil {
					return PushResult{}, derr
				}
			}
		}

		if e.opts.Notify != nil {
			e.opts.Notify(scope)
		}
	}

	return PushResult{Cursor: cursor, Commits: results}, nil
}

// Pull returns changes after cursor for scope, up to limit, and the
// cursor to resume from next. It returns ErrCursorTooOld (mapped to
// FORCE_BOOTSTRAP by the transport) when cursor predates the scope's
// retained history.
func (e *Engine) Pull(ctx context.Context, claimedScope string, cursor uint64, limit int) ([]Change, uint64, error) {
	scope, err := e.resolveScope(ctx, claimedScope)
	if err != nil {
		return nil, 0, err
	}

	if oldest, oerr := e.opts.Log.Oldest(ctx, scope); oerr == nil && oldest > 0 && cursor < oldest-1 {
		return nil, 0, ErrCursorTooOld
	}

	changes, err := e.opts.Log.Since(ctx, scope, cursor, limit)
	if err != nil {
		return nil, 0, err
	}

	for _, ap := range e.opts.AfterPull {
		changes, err = ap(ctx, scope, changes)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrPluginFailure, err)
		}
	}

	next := cursor
	if len(changes) > 0 {
		next = changes[len(changes)-1].Seq
	}
	return changes, next, nil
}

// Snapshot returns the full current row set for scope (component C5),
// along with the cursor a client should resume incremental pulls from.
func (e *Engine) Snapshot(ctx context.Context, claimedScope string) ([]Change, uint64, error) {
	scope, err := e.resolveScope(ctx, claimedScope)
	if err != nil {
		return nil, 0, err
	}
	if e.opts.Snapshot == nil {
		return nil, 0, fmt.Errorf("syncengine: Options.Snapshot is not configured")
	}

	// Read the cursor before the row snapshot. A push landing between
	// the two reads then only makes the cursor lag the data the snapshot
	// already contains — the client redelivers an already-applied
	// change on its next incremental pull, which is harmless since
	// applying is idempotent. Reading the snapshot first would let that
	// same race advance the cursor past a change the snapshot never
	// captured, permanently losing it (§4.5: the bootstrap cursor must
	// be the commit_seq the snapshot was actually taken at, never a
	// newer one).
	cursor, err := e.opts.Log.Cursor(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	changes, err := e.opts.Snapshot(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	return changes, cursor, nil
}
