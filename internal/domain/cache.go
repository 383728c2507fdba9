package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest mark price per symbol, written by the market
// data feed and read by the paper gateway and the risk monitor.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price is cached for the symbol.
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// RateLimiter provides sliding-window rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager serializes attempts per account. Acquire blocks until the
// lock is held or ctx is done; the returned release is idempotent and must
// run on every path. The ttl bounds how long a crashed holder can wedge a
// distributed lock; in-process implementations may ignore it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans events out to other engine components and external
// consumers. Channels carry live pub/sub traffic; streams keep a bounded
// durable tail of the same events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages until ctx is done; the returned channel
	// is closed when the subscription ends.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names. Streams reuse the channel name prefixed with "stream:".
const (
	ChannelIntents    = "intents"
	ChannelExecutions = "executions"
	ChannelBalances   = "balances"
	ChannelRiskAlerts = "risk_alerts"
	ChannelPrices     = "prices"
	ChannelStatus     = "status"
)
