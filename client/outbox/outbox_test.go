package outbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-mizu/dgsync/client/outbox"
	"github.com/go-mizu/dgsync/internal/syncengine"
)

func TestOutbox_Enqueue_AssignsClientCommitID(t *testing.T) {
	ob := outbox.New(outbox.NewMemStore())
	seq, err := ob.Enqueue(context.Background(), syncengine.Mutation{Table: "users", RowID: "1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if seq != 1 {
		t.Fatalf("seq = %d, want 1", seq)
	}

	pending, err := ob.NextPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Mutation.ClientCommitID == "" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestOutbox_Enqueue_PreservesExplicitCommitID(t *testing.T) {
	ob := outbox.New(outbox.NewMemStore())
	ob.Enqueue(context.Background(), syncengine.Mutation{ClientCommitID: "fixed-id", Table: "users", RowID: "1"})

	pending, _ := ob.NextPending(context.Background(), 10)
	if pending[0].Mutation.ClientCommitID != "fixed-id" {
		t.Fatalf("ClientCommitID = %q, want %q", pending[0].Mutation.ClientCommitID, "fixed-id")
	}
}

func TestOutbox_Drain_AppliesAndClearsPending(t *testing.T) {
	ob := outbox.New(outbox.NewMemStore())
	ob.Enqueue(context.Background(), syncengine.Mutation{Table: "users", RowID: "1"})
	ob.Enqueue(context.Background(), syncengine.Mutation{Table: "users", RowID: "2"})

	err := ob.Drain(context.Background(), func(_ context.Context, muts []syncengine.Mutation) (outbox.PushResult, error) {
		if len(muts) != 2 {
			t.Fatalf("push got %d mutations, want 2", len(muts))
		}
		return outbox.PushResult{Seqs: []uint64{1, 2}}, nil
	}, 10)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}

	pending, _ := ob.NextPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("pending after drain = %+v, want empty", pending)
	}
}

func TestOutbox_Drain_TransportFailureLeavesSending(t *testing.T) {
	ob := outbox.New(outbox.NewMemStore())
	ob.Enqueue(context.Background(), syncengine.Mutation{Table: "users", RowID: "1"})

	transportErr := errors.New("connection reset")
	err := ob.Drain(context.Background(), func(context.Context, []syncengine.Mutation) (outbox.PushResult, error) {
		return outbox.PushResult{}, transportErr
	}, 10)
	if !errors.Is(err, transportErr) {
		t.Fatalf("err = %v, want %v", err, transportErr)
	}

	pending, _ := ob.NextPending(context.Background(), 10)
	if len(pending) != 1 || pending[0].Status != outbox.Sending {
		t.Fatalf("pending = %+v, want one Sending entry", pending)
	}
}

func TestOutbox_Drain_Empty(t *testing.T) {
	ob := outbox.New(outbox.NewMemStore())
	if err := ob.Drain(context.Background(), func(context.Context, []syncengine.Mutation) (outbox.PushResult, error) {
		t.Fatalf("push should not be called with nothing pending")
		return outbox.PushResult{}, nil
	}, 10); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
