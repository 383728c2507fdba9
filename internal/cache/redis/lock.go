package redis

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's
// token, so a holder whose TTL already lapsed cannot release a lock that
// was reacquired by someone else.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// lockPollInterval is the base wait between SETNX attempts while the lock
// is held elsewhere.
const lockPollInterval = 25 * time.Millisecond

// LockManager implements domain.LockManager with Redis SETNX, a per-holder
// token, and a Lua conditional unlock. Acquire blocks, polling with jitter,
// until the lock is free or the caller's context is done. The TTL caps how
// long a crashed holder can wedge an account.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key, waiting for the current holder if
// necessary. On success it returns an idempotent release function. It
// returns domain.ErrLockNotAcquired when ctx expires first.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	for {
		ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("redis: acquire lock %q: %w", key, domain.ErrLockNotAcquired)
			}
			return nil, fmt.Errorf("redis: acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}

		// Jitter keeps waiters for the same account from polling in step.
		wait := lockPollInterval + time.Duration(rand.Int63n(int64(lockPollInterval)))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis: acquire lock %q: %w", key, domain.ErrLockNotAcquired)
		case <-time.After(wait):
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled; the lock must
			// still come off.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}
