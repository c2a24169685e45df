// Package outbox implements the client-side write buffer (component
// C7): writes are durably enqueued under a stable client_commit_id
// before anything is sent, so a crash mid-send retries safely and the
// server's dedupe store makes the retry a no-op rather than a double
// apply.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// Status is an outbox entry's lifecycle state.
type Status string

const (
	Pending Status = "pending"
	Sending Status = "sending"
	Applied Status = "applied"
	Failed  Status = "failed"
)

// Entry is one buffered mutation awaiting push.
type Entry struct {
	LocalSeq  uint64
	Mutation  syncengine.Mutation
	Status    Status
	ServerSeq uint64
	Err       string
	EnqueuedAt time.Time
}

// Store persists outbox entries. A real deployment backs this with
// client/sqlitestore; tests use the in-memory implementation below.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Update(ctx context.Context, e Entry) error
	Pending(ctx context.Context) ([]Entry, error)
}

// Outbox is the client-side write buffer.
type Outbox struct {
	mu    sync.Mutex
	store Store
	seq   uint64
}

// New constructs an Outbox backed by store.
func New(store Store) *Outbox {
	return &Outbox{store: store}
}

// Enqueue durably records a mutation and assigns it a client_commit_id
// if it doesn't already have one, returning the local sequence number
// assigned for ordering within this outbox.
func (o *Outbox) Enqueue(ctx context.Context, mut syncengine.Mutation) (uint64, error) {
	if mut.ClientCommitID == "" {
		mut.ClientCommitID = uuid.NewString()
	}

	o.mu.Lock()
	o.seq++
	localSeq := o.seq
	o.mu.Unlock()

	entry := Entry{LocalSeq: localSeq, Mutation: mut, Status: Pending, EnqueuedAt: time.Now()}
	if err := o.store.Insert(ctx, entry); err != nil {
		return 0, fmt.Errorf("outbox: enqueue: %w", err)
	}
	return localSeq, nil
}

// NextPending returns the next entries eligible for sending (status
// Pending or Sending — a Sending entry crossed a crash boundary and is
// retried with its original client_commit_id), oldest first.
func (o *Outbox) NextPending(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := o.store.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: next pending: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// MarkSending transitions an entry to Sending before the network call,
// so a crash after this point still retries with the same commit id.
func (o *Outbox) MarkSending(ctx context.Context, e Entry) error {
	e.Status = Sending
	return o.store.Update(ctx, e)
}

// MarkApplied transitions an entry to Applied once the server confirms
// (as a fresh apply or as a cached exactly-once replay).
func (o *Outbox) MarkApplied(ctx context.Context, e Entry, serverSeq uint64) error {
	e.Status = Applied
	e.ServerSeq = serverSeq
	e.Err = ""
	return o.store.Update(ctx, e)
}

// MarkFailed transitions an entry to Failed on a rejection (conflict or
// scope violation), surfacing the error for the caller to reconcile.
func (o *Outbox) MarkFailed(ctx context.Context, e Entry, cause error) error {
	e.Status = Failed
	e.Err = cause.Error()
	return o.store.Update(ctx, e)
}
