package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-mizu/dgsync/server/notify"
)

func TestLock_TryAcquire_SecondCallerFailsUntilReleased(t *testing.T) {
	client, _ := newTestClient(t)
	lock := notify.NewLock(client)
	ctx := context.Background()

	release, ok, err := lock.TryAcquire(ctx, "dgsync:maintenance:s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := lock.TryAcquire(ctx, "dgsync:maintenance:s1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok2, "second caller should fail to acquire a held lock")

	require.NoError(t, release(ctx))

	_, ok3, err := lock.TryAcquire(ctx, "dgsync:maintenance:s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok3, "lock should be acquirable again after release")
}

func TestLock_TryAcquire_ExpiresAfterTTL(t *testing.T) {
	client, mr := newTestClient(t)
	lock := notify.NewLock(client)
	ctx := context.Background()

	_, ok, err := lock.TryAcquire(ctx, "dgsync:maintenance:s2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok2, err := lock.TryAcquire(ctx, "dgsync:maintenance:s2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok2, "lock should be acquirable again after TTL expiry")
}
