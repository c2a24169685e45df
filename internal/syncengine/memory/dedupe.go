package memory

import (
	"context"
	"sync"
)

// Dedupe is an in-memory implementation of syncengine.Dedupe, tracking
// applied client_commit_ids per scope.
type Dedupe struct {
	mu   sync.RWMutex
	seen map[string]map[string]uint64
}

// NewDedupe constructs an empty Dedupe.
func NewDedupe() *Dedupe {
	return &Dedupe{seen: make(map[string]map[string]uint64)}
}

// Seen reports whether clientCommitID was already applied to scope.
func (d *Dedupe) Seen(_ context.Context, scope, clientCommitID string) (uint64, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	scoped, ok := d.seen[scope]
	if !ok {
		return 0, false, nil
	}
	seq, ok := scoped[clientCommitID]
	return seq, ok, nil
}

// Remember records that clientCommitID was applied at seq.
func (d *Dedupe) Remember(_ context.Context, scope, clientCommitID string, seq uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	scoped, ok := d.seen[scope]
	if !ok {
		scoped = make(map[string]uint64)
		d.seen[scope] = scoped
	}
	scoped[clientCommitID] = seq
	return nil
}
