package memory

import "context"

// Compact implements maintenance.Compactor: for changes with seq <
// before, keep only the most recent change per (table, row_id) and
// discard the rest, collapsing intermediate history (spec §4.6).
func (l *Log) Compact(_ context.Context, scope string, before uint64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.scopes[scope]
	if !ok {
		return 0, nil
	}

	type key struct{ table, rowID string }
	latest := make(map[key]uint64)
	for _, c := range s.changes {
		if c.Seq >= before {
			continue
		}
		k := key{c.Table, c.RowID}
		if c.Seq > latest[k] {
			latest[k] = c.Seq
		}
	}

	kept := s.changes[:0:0]
	collapsed := 0
	for _, c := range s.changes {
		if c.Seq >= before {
			kept = append(kept, c)
			continue
		}
		k := key{c.Table, c.RowID}
		if c.Seq == latest[k] {
			kept = append(kept, c)
		} else {
			collapsed++
		}
	}
	s.changes = kept
	return collapsed, nil
}
