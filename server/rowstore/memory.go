package rowstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

type memRow struct {
	version uint64
	data    []byte
	deleted bool
}

// Memory is an in-process row store, for single-instance deployments
// and local development, mirroring Postgres' optimistic-concurrency
// semantics without a database.
type Memory struct {
	mu   sync.Mutex
	rows map[string]map[string]*memRow // scope -> "table/row_id" -> row
}

// NewMemory constructs an empty Memory row store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]map[string]*memRow)}
}

func rowKey(table, rowID string) string { return table + "/" + rowID }

// Begin implements syncengine.Applier: it holds the store's mutex for
// the lifetime of the returned Tx, serializing pushes against each
// other, and records an undo action per mutation so Rollback can put
// every touched row back exactly as Begin found it.
func (m *Memory) Begin(_ context.Context, scope string) (syncengine.PushTx, error) {
	m.mu.Lock()
	scoped, ok := m.rows[scope]
	if !ok {
		scoped = make(map[string]*memRow)
		m.rows[scope] = scoped
	}
	return &memTx{m: m, rows: scoped}, nil
}

// memTx is the in-memory syncengine.PushTx: mutations are applied
// directly to the live scope map under the store's mutex, with an undo
// log replayed in reverse on Rollback.
type memTx struct {
	m    *Memory
	rows map[string]*memRow
	undo []func()
	done bool
}

func (t *memTx) Apply(_ context.Context, mut syncengine.Mutation) ([]syncengine.Change, error) {
	key := rowKey(mut.Table, mut.RowID)

	switch mut.Op {
	case syncengine.Create:
		if existing, ok := t.rows[key]; ok && !existing.deleted {
			return nil, fmt.Errorf("%w: row %s/%s already exists", syncengine.ErrRowConflict, mut.Table, mut.RowID)
		}
		prev, existed := t.rows[key]
		t.rows[key] = &memRow{version: 1, data: mut.Data}
		t.undo = append(t.undo, func() {
			if existed {
				t.rows[key] = prev
			} else {
				delete(t.rows, key)
			}
		})
		return []syncengine.Change{{
			Table: mut.Table, RowID: mut.RowID, Op: syncengine.Create,
			ServerVersion: 1, Data: mut.Data, CommittedAt: time.Now(),
		}}, nil

	case syncengine.Update, syncengine.Delete:
		row, ok := t.rows[key]
		if !ok || row.deleted {
			return nil, fmt.Errorf("%w: row %s/%s", syncengine.ErrRowMissing, mut.Table, mut.RowID)
		}
		if row.version != mut.BaseVersion {
			return nil, fmt.Errorf("%w: row %s/%s is at version %d, not %d", syncengine.ErrRowConflict, mut.Table, mut.RowID, row.version, mut.BaseVersion)
		}
		prev := *row
		row.version++
		op := syncengine.Update
		if mut.Op == syncengine.Delete {
			op = syncengine.Delete
			row.deleted = true
			row.data = nil
		} else {
			row.data = mut.Data
		}
		t.undo = append(t.undo, func() { *row = prev })
		return []syncengine.Change{{
			Table: mut.Table, RowID: mut.RowID, Op: op,
			ServerVersion: row.version, Data: mut.Data, CommittedAt: time.Now(),
		}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown op %q", syncengine.ErrInvalidMutation, mut.Op)
	}
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.m.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.m.mu.Unlock()
	return nil
}

// Snapshot implements syncengine.SnapshotFunc.
func (m *Memory) Snapshot(_ context.Context, scope string) ([]syncengine.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scoped, ok := m.rows[scope]
	if !ok {
		return nil, nil
	}

	var out []syncengine.Change
	for key, row := range scoped {
		if row.deleted {
			continue
		}
		table, rowID := splitRowKey(key)
		out = append(out, syncengine.Change{
			Table: table, RowID: rowID, Op: syncengine.Create,
			ServerVersion: row.version, Data: row.data,
		})
	}
	return out, nil
}

func splitRowKey(key string) (table, rowID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
