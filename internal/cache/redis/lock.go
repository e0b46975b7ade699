package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// releaseLua deletes a lock key only when it still holds the caller's token,
// so an expired-and-reacquired lock is never released by the old holder.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager provides cross-process mutual exclusion via SETNX with TTL.
// Settlement uses it to keep retries for one fill single-flight, the keeper
// to keep lifecycle steps single-driver.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager on the shared client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the lock or returns domain.ErrLockHeld. The returned release
// function is idempotent and works even after the caller's context ends.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.release.Run(releaseCtx, lm.rdb, []string{lk}, token).Err()
	}, nil
}
