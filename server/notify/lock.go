package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds the token
// this holder set, so a lock that outlived its TTL and was reacquired
// by someone else is never released out from under them.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Lock is a Redis SetNX-based mutual-exclusion lock, matching the
// acquire/release-with-token idiom used elsewhere against this client.
type Lock struct {
	client *redis.Client
}

// NewLock wraps an existing Redis client for use as a
// maintenance.DistributedLock.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// TryAcquire attempts to set key with a fresh token, failing closed
// (ok=false, err=nil) when another holder already owns it.
func (l *Lock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("notify: lock acquire %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("notify: lock release %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
