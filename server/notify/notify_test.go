package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/go-mizu/dgsync/server/notify"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestNotifier_PublishWakesSubscriber(t *testing.T) {
	client, _ := newTestClient(t)
	n := notify.New(client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := n.Subscribe(ctx, "scope-1")
	defer sub.Close()

	// miniredis delivers subscriptions asynchronously; give the
	// subscribe call a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, n.PublishContext(ctx, "scope-1"))

	select {
	case msg := <-sub.C:
		require.Equal(t, "1", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNotifier_PublishDoesNotCrossScopes(t *testing.T) {
	client, _ := newTestClient(t)
	n := notify.New(client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := n.Subscribe(ctx, "scope-a")
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, n.PublishContext(ctx, "scope-b"))

	select {
	case msg := <-sub.C:
		t.Fatalf("unexpected notification for scope-a: %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}
