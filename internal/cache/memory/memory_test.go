package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

func TestLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	locks := NewLockManager()

	// Counter increments under the lock must never interleave.
	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(ctx, "acct-1", time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max, "more than one holder inside the critical section")
}

func TestLockAcquireRespectsContext(t *testing.T) {
	locks := NewLockManager()
	release, err := locks.Acquire(context.Background(), "acct-1", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "acct-1", time.Second)
	require.ErrorIs(t, err, domain.ErrLockNotAcquired)
}

func TestLockReleaseIdempotent(t *testing.T) {
	locks := NewLockManager()
	release, err := locks.Acquire(context.Background(), "acct-1", time.Second)
	require.NoError(t, err)
	release()
	release() // second call is a no-op

	again, err := locks.Acquire(context.Background(), "acct-1", time.Second)
	require.NoError(t, err)
	again()
}

func TestLockKeysAreIndependent(t *testing.T) {
	locks := NewLockManager()
	r1, err := locks.Acquire(context.Background(), "acct-1", time.Second)
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r2, err := locks.Acquire(ctx, "acct-2", time.Second)
	require.NoError(t, err)
	r2()
}

func TestPriceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewPriceCache()

	_, _, err := cache.GetPrice(ctx, "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Now().UTC()
	require.NoError(t, cache.SetPrice(ctx, "BTCUSDT", 50000, ts))

	price, got, err := cache.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, price)
	assert.True(t, got.Equal(ts))
}

func TestBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus()

	sub, err := bus.Subscribe(ctx, domain.ChannelExecutions)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutions, []byte("one")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("ignored")))

	select {
	case msg := <-sub:
		assert.Equal(t, "one", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestBusStreamReadAfterID(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()

	require.NoError(t, bus.StreamAppend(ctx, "executions", []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, "executions", []byte("b")))
	require.NoError(t, bus.StreamAppend(ctx, "executions", []byte("c")))

	msgs, err := bus.StreamRead(ctx, "executions", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	msgs, err = bus.StreamRead(ctx, "executions", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[0].Payload))
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	limiter := NewRateLimiter()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "client-1", 3, 100*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "client-1", 3, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	// Another key is unaffected.
	ok, err = limiter.Allow(ctx, "client-2", 3, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(120 * time.Millisecond)
	ok, err = limiter.Allow(ctx, "client-1", 3, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}
