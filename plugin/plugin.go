// Package plugin defines the before_push/after_pull hook pipeline
// (component C10) that syncengine.Options.BeforePush/AfterPull run,
// independent of any one transform (encryption, CRDT merge, validation).
package plugin

import (
	"context"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// BeforePush transforms or rejects a batch of mutations prior to
// sequencing. Implementations must not assume they run exclusively:
// a pipeline may chain several.
type BeforePush interface {
	BeforePush(ctx context.Context, scope string, muts []syncengine.Mutation) ([]syncengine.Mutation, error)
}

// AfterPull transforms a batch of changes before they reach a puller.
type AfterPull interface {
	AfterPull(ctx context.Context, scope string, changes []syncengine.Change) ([]syncengine.Change, error)
}

// Pipeline holds an ordered set of plugins and adapts them to the
// function-shaped hooks syncengine.Options expects.
type Pipeline struct {
	beforePush []BeforePush
	afterPull  []AfterPull
}

// New builds a Pipeline from plugins, each of which may implement
// BeforePush, AfterPull, or both.
func New(plugins ...any) *Pipeline {
	p := &Pipeline{}
	for _, pl := range plugins {
		if bp, ok := pl.(BeforePush); ok {
			p.beforePush = append(p.beforePush, bp)
		}
		if ap, ok := pl.(AfterPull); ok {
			p.afterPull = append(p.afterPull, ap)
		}
	}
	return p
}

// BeforePushHooks returns the hooks in registration order, ready to
// assign to syncengine.Options.BeforePush.
func (p *Pipeline) BeforePushHooks() []syncengine.BeforePush {
	hooks := make([]syncengine.BeforePush, len(p.beforePush))
	for i, bp := range p.beforePush {
		hooks[i] = bp.BeforePush
	}
	return hooks
}

// AfterPullHooks returns the hooks in registration order, ready to
// assign to syncengine.Options.AfterPull.
func (p *Pipeline) AfterPullHooks() []syncengine.AfterPull {
	hooks := make([]syncengine.AfterPull, len(p.afterPull))
	for i, ap := range p.afterPull {
		hooks[i] = ap.AfterPull
	}
	return hooks
}
