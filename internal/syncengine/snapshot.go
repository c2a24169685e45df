package syncengine

import (
	"context"
	"fmt"

	"github.com/go-mizu/dgsync/internal/chunkstream"
)

// ChunkManifestEntry describes one page of a bootstrap snapshot as
// advertised in a pull response's bootstrap field (spec §6).
type ChunkManifestEntry struct {
	ChunkID  string `json:"chunk_id"`
	Hash     string `json:"hash"`
	RowCount int    `json:"row_count"`
}

// Bootstrap is the full manifest for a snapshot bootstrap: the chunk
// pages a client must fetch and verify, and the commit_seq the
// subscription's cursor should be set to once every chunk is applied.
type Bootstrap struct {
	Chunks           []ChunkManifestEntry `json:"chunks"`
	SnapshotCommitSeq uint64              `json:"snapshot_commit_seq"`
}

// ChunkStore holds encoded chunk bodies by id so a transport layer can
// serve them from a separate endpoint (spec §6's snapshot_chunks/<id>),
// independent of the manifest response.
type ChunkStore interface {
	Put(ctx context.Context, chunkID string, body []byte) error
	Get(ctx context.Context, chunkID string) ([]byte, error)
}

// BuildBootstrap paginates a scope's current rows into hash-verified
// chunks of at most pageSize rows each, storing bodies in store and
// returning the manifest to hand back to the client.
func (e *Engine) BuildBootstrap(ctx context.Context, claimedScope string, pageSize int, store ChunkStore, chunkID func() string) (Bootstrap, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	changes, cursor, err := e.Snapshot(ctx, claimedScope)
	if err != nil {
		return Bootstrap{}, err
	}

	var manifest Bootstrap
	manifest.SnapshotCommitSeq = cursor

	for start := 0; start < len(changes); start += pageSize {
		end := start + pageSize
		if end > len(changes) {
			end = len(changes)
		}
		page := changes[start:end]

		rows := make([]chunkstream.Row, len(page))
		for i, c := range page {
			rows[i] = chunkstream.Row{RowID: c.RowID, Table: c.Table, RowJSON: c.Data, ServerVersion: c.ServerVersion}
		}

		body, hash, err := chunkstream.Encode(rows)
		if err != nil {
			return Bootstrap{}, fmt.Errorf("syncengine: encode chunk: %w", err)
		}

		id := chunkID()
		if err := store.Put(ctx, id, body); err != nil {
			return Bootstrap{}, fmt.Errorf("syncengine: store chunk: %w", err)
		}

		manifest.Chunks = append(manifest.Chunks, ChunkManifestEntry{ChunkID: id, Hash: hash, RowCount: len(rows)})
	}

	return manifest, nil
}
