// Package memory provides in-process Log and Dedupe implementations,
// suitable for tests and single-instance deployments.
package memory

import (
	"context"
	"sync"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// Log is an in-memory, mutex-guarded implementation of syncengine.Log.
// Each scope owns its own append-only slice and monotonic cursor.
type Log struct {
	mu     sync.RWMutex
	scopes map[string]*scopeLog
}

type scopeLog struct {
	changes []syncengine.Change
	trimmed uint64 // highest seq ever trimmed away; oldest retained is trimmed+1
}

// NewLog constructs an empty Log.
func NewLog() *Log {
	return &Log{scopes: make(map[string]*scopeLog)}
}

func (l *Log) scope(name string) *scopeLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.scopes[name]
	if !ok {
		s = &scopeLog{}
		l.scopes[name] = s
	}
	return s
}

// Append assigns sequential seq numbers to changes and appends them.
func (l *Log) Append(_ context.Context, scope string, changes []syncengine.Change) (uint64, error) {
	if len(changes) == 0 {
		return l.cursorLocked(scope), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.scopes[scope]
	if !ok {
		s = &scopeLog{}
		l.scopes[scope] = s
	}

	next := s.trimmed + 1
	if n := len(s.changes); n > 0 {
		next = s.changes[n-1].Seq + 1
	}
	for i := range changes {
		changes[i].Scope = scope
		changes[i].Seq = next
		next++
	}
	s.changes = append(s.changes, changes...)
	return s.changes[len(s.changes)-1].Seq, nil
}

func (l *Log) cursorLocked(scope string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scopes[scope]
	if !ok || len(s.changes) == 0 {
		return s.trimOrZero()
	}
	return s.changes[len(s.changes)-1].Seq
}

func (s *scopeLog) trimOrZero() uint64 {
	if s == nil {
		return 0
	}
	return s.trimmed
}

// Since returns up to limit changes with seq > cursor.
func (l *Log) Since(_ context.Context, scope string, cursor uint64, limit int) ([]syncengine.Change, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.scopes[scope]
	if !ok {
		return nil, nil
	}

	var out []syncengine.Change
	for _, c := range s.changes {
		if c.Seq <= cursor {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Cursor returns the scope's current head.
func (l *Log) Cursor(_ context.Context, scope string) (uint64, error) {
	return l.cursorLocked(scope), nil
}

// Oldest returns the lowest seq not yet trimmed (trimmed+1), or 0 if the
// scope holds no changes. Compact does not move it: a compacted commit
// keeps its place in the sequence even when its changes are gone.
func (l *Log) Oldest(_ context.Context, scope string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scopes[scope]
	if !ok || len(s.changes) == 0 {
		return 0, nil
	}
	return s.trimmed + 1, nil
}

// Trim drops changes with seq < before.
func (l *Log) Trim(_ context.Context, scope string, before uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.scopes[scope]
	if !ok {
		return nil
	}

	kept := s.changes[:0:0]
	for _, c := range s.changes {
		if c.Seq >= before {
			kept = append(kept, c)
		}
	}
	s.changes = kept
	if before > s.trimmed+1 {
		s.trimmed = before - 1
	}
	return nil
}

// Len reports the number of retained changes for scope, for tests.
func (l *Log) Len(scope string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.scopes[scope]; ok {
		return len(s.changes)
	}
	return 0
}

// Clear removes all scopes, for tests.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scopes = make(map[string]*scopeLog)
}
