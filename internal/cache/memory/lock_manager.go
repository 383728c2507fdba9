// Package memory provides in-process implementations of the cache
// interfaces. Paper mode and tests run on these, so a single binary works
// with no Redis alongside it. Semantics match the redis package.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// LockManager serializes lock holders per key with a wait channel. Waiters
// block on the current holder's channel and race for the slot when it
// closes.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]chan struct{})}
}

// Acquire blocks until the key's lock is free or ctx is done. The ttl is
// ignored: an in-process holder cannot crash without taking the whole
// engine with it.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		m.mu.Lock()
		holder, held := m.locks[key]
		if !held {
			ch := make(chan struct{})
			m.locks[key] = ch
			m.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.locks, key)
					m.mu.Unlock()
					close(ch)
				})
			}
			return release, nil
		}
		m.mu.Unlock()

		select {
		case <-holder:
		case <-ctx.Done():
			return nil, fmt.Errorf("memory: acquire lock %q: %w", key, domain.ErrLockNotAcquired)
		}
	}
}
