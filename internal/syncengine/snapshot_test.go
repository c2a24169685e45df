package syncengine_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-mizu/dgsync/internal/chunkstream"
	"github.com/go-mizu/dgsync/internal/syncengine"
	"github.com/go-mizu/dgsync/internal/syncengine/memory"
)

func TestBuildBootstrap_PaginatesAndVerifies(t *testing.T) {
	log := memory.NewLog()
	rows := []syncengine.Change{
		{Table: "users", RowID: "1", Data: json.RawMessage(`{"n":1}`), ServerVersion: 1},
		{Table: "users", RowID: "2", Data: json.RawMessage(`{"n":2}`), ServerVersion: 1},
		{Table: "users", RowID: "3", Data: json.RawMessage(`{"n":3}`), ServerVersion: 1},
	}
	e := syncengine.New(syncengine.Options{
		Log: log,
		Apply: syncengine.ApplyFunc(func(context.Context, string, syncengine.Mutation) ([]syncengine.Change, error) {
			return nil, nil
		}),
		Snapshot: func(context.Context, string) ([]syncengine.Change, error) {
			return rows, nil
		},
	})
	log.Append(context.Background(), "scope", []syncengine.Change{{Table: "users", RowID: "0"}})

	store := memory.NewChunkStore()
	n := 0
	ids := []string{"chunk-a", "chunk-b"}
	manifest, err := e.BuildBootstrap(context.Background(), "scope", 2, store, func() string {
		id := ids[n]
		n++
		return id
	})
	if err != nil {
		t.Fatalf("BuildBootstrap: %v", err)
	}
	if len(manifest.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(manifest.Chunks))
	}
	if manifest.Chunks[0].RowCount != 2 || manifest.Chunks[1].RowCount != 1 {
		t.Fatalf("row counts = %+v", manifest.Chunks)
	}
	if manifest.SnapshotCommitSeq != 1 {
		t.Fatalf("SnapshotCommitSeq = %d, want 1", manifest.SnapshotCommitSeq)
	}

	body, err := store.Get(context.Background(), manifest.Chunks[0].ChunkID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	decoded, err := chunkstream.Decode(body, manifest.Chunks[0].Hash)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 2 || decoded[0].RowID != "1" {
		t.Fatalf("decoded = %+v", decoded)
	}
}
