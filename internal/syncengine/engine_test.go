package syncengine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-mizu/dgsync/internal/syncengine"
	"github.com/go-mizu/dgsync/internal/syncengine/memory"
)

func testEngine() (*syncengine.Engine, *memory.Log) {
	log := memory.NewLog()
	apply := func(_ context.Context, scope string, mut syncengine.Mutation) ([]syncengine.Change, error) {
		if mut.Op == syncengine.Update && mut.BaseVersion == 0 {
			return nil, syncengine.ErrRowMissing
		}
		return []syncengine.Change{{
			Table:         mut.Table,
			RowID:         mut.RowID,
			Op:            mut.Op,
			Data:          mut.Data,
			ServerVersion: mut.BaseVersion + 1,
		}}, nil
	}
	e := syncengine.New(syncengine.Options{Log: log, Dedupe: memory.NewDedupe(), Apply: syncengine.ApplyFunc(apply)})
	return e, log
}

func TestEngine_Push_Success(t *testing.T) {
	e, _ := testEngine()
	res, err := e.Push(context.Background(), "scope", []syncengine.Mutation{
		{ClientCommitID: "c1", Table: "users", RowID: "1", Op: syncengine.Create, Data: json.RawMessage(`{"name":"a"}`)},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Cursor != 1 {
		t.Fatalf("Cursor = %d, want 1", res.Cursor)
	}
	if len(res.Commits) != 1 || res.Commits[0].Seq != 1 {
		t.Fatalf("Commits = %+v", res.Commits)
	}
}

func TestEngine_Push_Deduplicates(t *testing.T) {
	e, log := testEngine()
	ctx := context.Background()
	mut := syncengine.Mutation{ClientCommitID: "c1", Table: "users", RowID: "1", Op: syncengine.Create}

	if _, err := e.Push(ctx, "scope", []syncengine.Mutation{mut}); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	res, err := e.Push(ctx, "scope", []syncengine.Mutation{mut})
	if err != nil {
		t.Fatalf("second Push: %v", err)
	}
	if !res.Commits[0].Deduplicated {
		t.Fatalf("expected second push to be deduplicated")
	}
	if log.Len("scope") != 1 {
		t.Fatalf("log grew on duplicate push: Len = %d", log.Len("scope"))
	}
}

// fakeTxApplier is an Applier whose Tx records every mutation it
// applies and forgets them on Rollback, so a test can assert a
// mid-batch failure leaves no partial writes behind.
type fakeTxApplier struct {
	fail string // RowID that fails to apply
}

type fakeTx struct {
	a       *fakeTxApplier
	applied []string
}

func (a *fakeTxApplier) Begin(context.Context, string) (syncengine.PushTx, error) {
	return &fakeTx{a: a}, nil
}

func (t *fakeTx) Apply(_ context.Context, mut syncengine.Mutation) ([]syncengine.Change, error) {
	if mut.RowID == t.a.fail {
		return nil, syncengine.ErrRowConflict
	}
	t.applied = append(t.applied, mut.RowID)
	return []syncengine.Change{{Table: mut.Table, RowID: mut.RowID, Op: mut.Op}}, nil
}

func (t *fakeTx) Commit(context.Context) error { return nil }
func (t *fakeTx) Rollback(context.Context) error {
	t.applied = nil
	return nil
}

func TestEngine_Push_MidBatchFailureAppliesNothing(t *testing.T) {
	log := memory.NewLog()
	applier := &fakeTxApplier{fail: "2"}
	e := syncengine.New(syncengine.Options{Log: log, Dedupe: memory.NewDedupe(), Apply: applier})

	_, err := e.Push(context.Background(), "scope", []syncengine.Mutation{
		{ClientCommitID: "c1", Table: "users", RowID: "1", Op: syncengine.Create},
		{ClientCommitID: "c2", Table: "users", RowID: "2", Op: syncengine.Create},
	})
	if !errors.Is(err, syncengine.ErrRowConflict) {
		t.Fatalf("err = %v, want ErrRowConflict", err)
	}
	if log.Len("scope") != 0 {
		t.Fatalf("log grew despite a mid-batch failure: Len = %d", log.Len("scope"))
	}

	// A retry of just the first mutation must still be accepted: it was
	// never committed to the log or the dedupe store, so it is not a
	// duplicate and the row store never actually kept its write either.
	res, err := e.Push(context.Background(), "scope", []syncengine.Mutation{
		{ClientCommitID: "c1", Table: "users", RowID: "1", Op: syncengine.Create},
	})
	if err != nil {
		t.Fatalf("retry Push: %v", err)
	}
	if res.Commits[0].Deduplicated {
		t.Fatalf("retry was deduplicated despite the original batch never committing")
	}
}

func TestEngine_Push_MissingClientCommitID(t *testing.T) {
	e, _ := testEngine()
	_, err := e.Push(context.Background(), "scope", []syncengine.Mutation{{Table: "users", RowID: "1"}})
	if !errors.Is(err, syncengine.ErrInvalidMutation) {
		t.Fatalf("err = %v, want ErrInvalidMutation", err)
	}
}

func TestEngine_Push_PropagatesApplyError(t *testing.T) {
	e, _ := testEngine()
	_, err := e.Push(context.Background(), "scope", []syncengine.Mutation{
		{ClientCommitID: "c1", Table: "users", RowID: "1", Op: syncengine.Update},
	})
	if !errors.Is(err, syncengine.ErrRowMissing) {
		t.Fatalf("err = %v, want ErrRowMissing", err)
	}
}

func TestEngine_Pull_ReturnsInOrderWithNextCursor(t *testing.T) {
	e, _ := testEngine()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e.Push(ctx, "scope", []syncengine.Mutation{{ClientCommitID: string(rune('a' + i)), Table: "e", RowID: "x"}})
	}

	changes, next, err := e.Pull(ctx, "scope", 0, 10)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(changes) != 3 || next != 3 {
		t.Fatalf("changes=%d next=%d, want 3,3", len(changes), next)
	}
}

func TestEngine_Pull_Paginates(t *testing.T) {
	e, _ := testEngine()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.Push(ctx, "scope", []syncengine.Mutation{{ClientCommitID: string(rune('a' + i)), Table: "e", RowID: "x"}})
	}

	changes, next, err := e.Pull(ctx, "scope", 0, 2)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(changes) != 2 || next != 2 {
		t.Fatalf("changes=%d next=%d, want 2,2", len(changes), next)
	}
}

func TestEngine_Pull_CursorTooOld(t *testing.T) {
	e, log := testEngine()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.Push(ctx, "scope", []syncengine.Mutation{{ClientCommitID: string(rune('a' + i)), Table: "e", RowID: "x"}})
	}
	if err := log.Trim(ctx, "scope", 4); err != nil {
		t.Fatalf("Trim: %v", err)
	}

	_, _, err := e.Pull(ctx, "scope", 1, 10)
	if !errors.Is(err, syncengine.ErrCursorTooOld) {
		t.Fatalf("err = %v, want ErrCursorTooOld", err)
	}
}

func TestEngine_Snapshot(t *testing.T) {
	log := memory.NewLog()
	apply := func(_ context.Context, scope string, mut syncengine.Mutation) ([]syncengine.Change, error) {
		return []syncengine.Change{{Table: mut.Table, RowID: mut.RowID, Op: mut.Op}}, nil
	}
	rows := []syncengine.Change{{Table: "users", RowID: "1", Op: syncengine.Create}}
	e := syncengine.New(syncengine.Options{
		Log:   log,
		Apply: syncengine.ApplyFunc(apply),
		Snapshot: func(_ context.Context, scope string) ([]syncengine.Change, error) {
			return rows, nil
		},
	})

	e.Push(context.Background(), "scope", []syncengine.Mutation{{ClientCommitID: "c1", Table: "users", RowID: "2"}})

	changes, cursor, err := e.Snapshot(context.Background(), "scope")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(changes) != 1 || cursor != 1 {
		t.Fatalf("changes=%d cursor=%d, want 1,1", len(changes), cursor)
	}
}

func TestEngine_Scope_Revoked(t *testing.T) {
	log := memory.NewLog()
	e := syncengine.New(syncengine.Options{
		Log: log,
		Apply: syncengine.ApplyFunc(func(context.Context, string, syncengine.Mutation) ([]syncengine.Change, error) {
			return nil, nil
		}),
		Scope: func(context.Context, string) (string, syncengine.ScopeVerdict, error) {
			return "", syncengine.ScopeRevoked, nil
		},
	})

	_, _, err := e.Pull(context.Background(), "scope", 0, 10)
	if !errors.Is(err, syncengine.ErrSubscriptionRevoked) {
		t.Fatalf("err = %v, want ErrSubscriptionRevoked", err)
	}
}
