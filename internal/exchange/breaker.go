package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// BreakerState is the circuit state of a wrapped gateway.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker wraps a gateway with a consecutive-failure circuit breaker. After
// threshold failures the circuit opens and Submit fails fast with a
// network-kind GatewayError (retryable, so in-flight attempts back off and
// roll back cleanly instead of hammering a sick venue). After cooldown one
// probe call is let through; its outcome closes or reopens the circuit.
type Breaker struct {
	inner     domain.ExchangeGateway
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
}

var _ domain.ExchangeGateway = (*Breaker)(nil)

// NewBreaker wraps gw. threshold is the consecutive-failure count that opens
// the circuit; cooldown is how long it stays open before a probe.
func NewBreaker(gw domain.ExchangeGateway, threshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		inner:     gw,
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		logger:    logger.With(slog.String("component", "breaker"), slog.String("exchange", gw.Name())),
	}
}

// Name returns the wrapped gateway's routing key.
func (b *Breaker) Name() string {
	return b.inner.Name()
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Submit forwards to the wrapped gateway unless the circuit is open.
func (b *Breaker) Submit(ctx context.Context, intent domain.TradeIntent) (domain.FillReport, error) {
	if !b.allow() {
		return domain.FillReport{}, &domain.GatewayError{
			Exchange: b.inner.Name(),
			Kind:     domain.ErrorKindNetwork,
			Message:  "circuit open",
		}
	}

	fill, err := b.inner.Submit(ctx, intent)
	if err != nil {
		b.recordFailure()
		return domain.FillReport{}, err
	}
	b.recordSuccess()
	return fill, nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) > b.cooldown {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
	b.failures = 0
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.logger.Warn("circuit state change",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failures", b.failures),
	)
}
