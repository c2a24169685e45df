// Package notify wires the commit log's Notify hook to Redis pub/sub,
// publishing one message per scope after each push. Subscribe listens
// on that channel; no pull handler in this module waits on it.
package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "dgsync:changes:"

// Notifier publishes and subscribes to per-scope change notifications
// over Redis pub/sub.
type Notifier struct {
	client *redis.Client
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle (Connect/Close).
func New(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

// Publish announces that scope's commit log advanced. It is shaped to
// satisfy syncengine.Options.Notify directly.
func (n *Notifier) Publish(scope string) {
	// Best-effort: a missed notification loses no data, since the change
	// stays in the commit log, so the error is discarded here to match
	// the Notify hook's fire-and-forget signature. PublishContext
	// returns it.
	_ = n.PublishContext(context.Background(), scope)
}

// PublishContext is the context-aware form of Publish, for callers that
// can propagate cancellation and want the error back.
func (n *Notifier) PublishContext(ctx context.Context, scope string) error {
	if err := n.client.Publish(ctx, channelPrefix+scope, "1").Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", scope, err)
	}
	return nil
}

// Subscription receives a signal each time scope changes, until Close
// is called.
type Subscription struct {
	pubsub *redis.PubSub
	C      <-chan *redis.Message
}

// Close stops the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe starts listening for changes to scope.
func (n *Notifier) Subscribe(ctx context.Context, scope string) *Subscription {
	ps := n.client.Subscribe(ctx, channelPrefix+scope)
	return &Subscription{pubsub: ps, C: ps.Channel()}
}
