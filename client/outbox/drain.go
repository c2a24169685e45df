package outbox

import (
	"context"
	"errors"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// PushResult is the subset of a push response the outbox needs to
// reconcile entries: one Seq per submitted mutation, in order.
type PushResult struct {
	Seqs []uint64
}

// Pusher sends a batch of mutations to the server. Implementations
// wrap whatever transport the client actually uses (HTTP in
// production); returning a transport-level error (no response
// received) leaves entries Sending for the next drain to retry.
type Pusher func(ctx context.Context, muts []syncengine.Mutation) (PushResult, error)

// Drain sends up to limit pending entries in one batch and reconciles
// their outcome. Any error from push, a transport failure or a server
// rejection alike, is returned as is and leaves every entry in this
// batch Sending; marking a rejected entry failed is left to the caller,
// since Drain itself has no visibility into which mutation in the batch
// was rejected when Pusher returns a bare error.
func (o *Outbox) Drain(ctx context.Context, push Pusher, limit int) error {
	entries, err := o.NextPending(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	for _, e := range entries {
		if err := o.MarkSending(ctx, e); err != nil {
			return err
		}
	}

	muts := make([]syncengine.Mutation, len(entries))
	for i, e := range entries {
		muts[i] = e.Mutation
	}

	result, err := push(ctx, muts)
	if err != nil {
		// Transport failure before a response: entries stay Sending,
		// retried with the same client_commit_id on the next drain.
		return err
	}
	if len(result.Seqs) != len(entries) {
		return errors.New("outbox: push result length mismatch")
	}

	for i, e := range entries {
		if err := o.MarkApplied(ctx, e, result.Seqs[i]); err != nil {
			return err
		}
	}
	return nil
}
