// Package maintenance implements the commit log's compaction and prune
// coordinator (component C6): a single in-flight run per scope,
// debounced by a minimum interval, computing the prune watermark from
// active client cursors and a fallback age cutoff.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// ClientCursor is one client's last-known position in a scope, as
// tracked server-side for prune watermark computation.
type ClientCursor struct {
	ClientID  string
	Cursor    uint64
	UpdatedAt time.Time
}

// ClientCursorSource lists the clients currently subscribed to scope.
type ClientCursorSource interface {
	ClientCursors(ctx context.Context, scope string) ([]ClientCursor, error)
}

// Compactor collapses per-row change history older than before,
// leaving commit rows in place but discarding superseded changes
// (component C6's "compaction" operation). Log implementations opt in
// by satisfying this interface; those that don't skip compaction.
type Compactor interface {
	Compact(ctx context.Context, scope string, before uint64) (collapsed int, err error)
}

// DistributedLock coordinates at-most-one-in-flight runs across syncd
// replicas, not just within one process. Implementations should treat a
// failed acquisition as "someone else is already running this" rather
// than an error. Optional: a nil Lock leaves cross-replica coordination
// to whatever fronts syncd (a single maintenance-triggering replica, a
// cron owner, etc).
type DistributedLock interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Options configures a Coordinator.
type Options struct {
	Log     syncengine.Log
	Cursors ClientCursorSource

	// Lock, when set, is acquired for the duration of a run so that only
	// one syncd replica compacts/prunes a given scope at a time.
	Lock DistributedLock

	// ActiveWindow bounds how recently a client must have pulled for its
	// cursor to hold retention back. Default 14 days.
	ActiveWindow time.Duration
	// FallbackMaxAge caps retention even if a client is stuck. Default 30 days.
	FallbackMaxAge time.Duration
	// KeepNewest is a soft floor: the newest N commits are never pruned.
	KeepNewest uint64
	// MinInterval is the minimum time between runs for the same scope.
	MinInterval time.Duration
	// LockTTL bounds how long a distributed Lock is held, in case a
	// replica dies mid-run. Default 5 minutes.
	LockTTL time.Duration

	// Now, when set, overrides time.Now (for tests).
	Now func() time.Time
}

// Coordinator runs compaction and prune with at-most-one in-flight
// instance per scope.
type Coordinator struct {
	opts  Options
	group singleflight.Group

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// New constructs a Coordinator, applying defaults for any zero-valued
// duration/count options.
func New(opts Options) *Coordinator {
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 14 * 24 * time.Hour
	}
	if opts.FallbackMaxAge <= 0 {
		opts.FallbackMaxAge = 30 * 24 * time.Hour
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{opts: opts, lastRun: make(map[string]time.Time)}
}

func (c *Coordinator) debounced(scope string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.opts.Now()
	if last, ok := c.lastRun[scope]; ok && now.Sub(last) < c.opts.MinInterval {
		return true
	}
	c.lastRun[scope] = now
	return false
}

// Result reports what a Run call did.
type Result struct {
	Watermark uint64
	Pruned    bool
	Collapsed int
	Skipped   bool // true when debounced or already in flight
}

// Run computes the prune watermark for scope and, unless debounced,
// prunes commits at or below it (preserving KeepNewest) and compacts
// commits older than fullHistoryWindow. Concurrent calls for the same
// scope collapse into a single execution via singleflight.
func (c *Coordinator) Run(ctx context.Context, scope string, fullHistoryWindow time.Duration) (Result, error) {
	if c.debounced(scope) {
		return Result{Skipped: true}, nil
	}

	if c.opts.Lock != nil {
		release, ok, err := c.opts.Lock.TryAcquire(ctx, "dgsync:maintenance:"+scope, c.opts.LockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("maintenance: acquire lock: %w", err)
		}
		if !ok {
			return Result{Skipped: true}, nil
		}
		defer func() { _ = release(ctx) }()
	}

	v, err, _ := c.group.Do(scope, func() (any, error) {
		return c.run(ctx, scope, fullHistoryWindow)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Coordinator) run(ctx context.Context, scope string, fullHistoryWindow time.Duration) (Result, error) {
	watermark, err := c.watermark(ctx, scope)
	if err != nil {
		return Result{}, fmt.Errorf("maintenance: watermark: %w", err)
	}

	pruneBefore := watermark
	if c.opts.KeepNewest > 0 {
		head, err := c.opts.Log.Cursor(ctx, scope)
		if err != nil {
			return Result{}, fmt.Errorf("maintenance: cursor: %w", err)
		}
		if head > c.opts.KeepNewest {
			floor := head - c.opts.KeepNewest
			if pruneBefore > floor {
				pruneBefore = floor
			}
		} else {
			pruneBefore = 0
		}
	}

	var pruned bool
	if pruneBefore > 0 {
		if err := c.opts.Log.Trim(ctx, scope, pruneBefore+1); err != nil {
			return Result{}, fmt.Errorf("maintenance: trim: %w", err)
		}
		pruned = true
	}

	collapsed := 0
	if compactor, ok := c.opts.Log.(Compactor); ok {
		before, err := c.compactionCutoff(ctx, scope, fullHistoryWindow)
		if err == nil && before > 0 {
			// before is the last seq older than the window; Compact's
			// bound is exclusive, so pass the seq just past it.
			collapsed, err = compactor.Compact(ctx, scope, before+1)
			if err != nil {
				return Result{}, fmt.Errorf("maintenance: compact: %w", err)
			}
		}
	}

	return Result{Watermark: watermark, Pruned: pruned, Collapsed: collapsed}, nil
}

// watermark computes max(min_active_client_cursor, age_based_cutoff).
func (c *Coordinator) watermark(ctx context.Context, scope string) (uint64, error) {
	now := c.opts.Now()

	var minActive uint64
	haveActive := false
	if c.opts.Cursors != nil {
		cursors, err := c.opts.Cursors.ClientCursors(ctx, scope)
		if err != nil {
			return 0, err
		}
		for _, cc := range cursors {
			if now.Sub(cc.UpdatedAt) > c.opts.ActiveWindow {
				continue
			}
			if !haveActive || cc.Cursor < minActive {
				minActive = cc.Cursor
				haveActive = true
			}
		}
	}

	ageCutoff, err := c.ageBasedCutoff(ctx, scope, now)
	if err != nil {
		return 0, err
	}

	if !haveActive {
		return ageCutoff, nil
	}
	if minActive > ageCutoff {
		return minActive, nil
	}
	return ageCutoff, nil
}

// ageBasedCutoff returns the largest seq whose CommittedAt predates
// now-FallbackMaxAge, scanning the scope's retained log linearly. A
// real deployment backs this with an indexed query (see pgstore); the
// in-memory log has no index to exploit so this is a direct scan.
func (c *Coordinator) ageBasedCutoff(ctx context.Context, scope string, now time.Time) (uint64, error) {
	return c.cutoffBefore(ctx, scope, now.Add(-c.opts.FallbackMaxAge))
}

// compactionCutoff mirrors ageBasedCutoff but against fullHistoryWindow,
// the boundary before which per-row change history may be collapsed.
func (c *Coordinator) compactionCutoff(ctx context.Context, scope string, fullHistoryWindow time.Duration) (uint64, error) {
	if fullHistoryWindow <= 0 {
		return 0, nil
	}
	return c.cutoffBefore(ctx, scope, c.opts.Now().Add(-fullHistoryWindow))
}

// cutoffBefore returns the largest seq whose CommittedAt predates t.
func (c *Coordinator) cutoffBefore(ctx context.Context, scope string, t time.Time) (uint64, error) {
	var cutoff uint64
	const pageSize = 1000
	cursor := uint64(0)
	for {
		changes, err := c.opts.Log.Since(ctx, scope, cursor, pageSize)
		if err != nil {
			return 0, err
		}
		if len(changes) == 0 {
			break
		}
		for _, ch := range changes {
			if ch.CommittedAt.Before(t) {
				cutoff = ch.Seq
			}
		}
		cursor = changes[len(changes)-1].Seq
		if len(changes) < pageSize {
			break
		}
	}
	return cutoff, nil
}
