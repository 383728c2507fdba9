package exchange

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

type scriptedGateway struct {
	name  string
	calls int
	errs  []error // consumed per call; nil entry means success
}

func (g *scriptedGateway) Name() string { return g.name }

func (g *scriptedGateway) Submit(ctx context.Context, intent domain.TradeIntent) (domain.FillReport, error) {
	idx := g.calls
	g.calls++
	if idx < len(g.errs) && g.errs[idx] != nil {
		return domain.FillReport{}, g.errs[idx]
	}
	return domain.FillReport{OrderID: "ok"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	boom := errors.New("venue down")
	gw := &scriptedGateway{name: "paper", errs: []error{boom, boom, boom, boom}}
	b := NewBreaker(gw, 3, time.Hour, discardLogger())

	ctx := context.Background()
	intent := domain.TradeIntent{}

	for i := 0; i < 3; i++ {
		_, err := b.Submit(ctx, intent)
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, 3, gw.calls)

	// Open circuit fails fast without touching the gateway, and the error
	// classifies as retryable network.
	_, err := b.Submit(ctx, intent)
	require.Error(t, err)
	assert.Equal(t, 3, gw.calls)
	assert.Equal(t, domain.ErrorKindNetwork, Classify(err, "paper"))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	boom := errors.New("venue down")
	gw := &scriptedGateway{name: "paper", errs: []error{boom, boom, nil}}
	b := NewBreaker(gw, 2, time.Millisecond, discardLogger())

	ctx := context.Background()
	intent := domain.TradeIntent{}

	b.Submit(ctx, intent)
	b.Submit(ctx, intent)
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)

	// Cooldown elapsed: the probe goes through and its success closes the
	// circuit again.
	_, err := b.Submit(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	boom := errors.New("venue down")
	gw := &scriptedGateway{name: "paper", errs: []error{boom, boom}}
	b := NewBreaker(gw, 1, time.Millisecond, discardLogger())

	ctx := context.Background()
	b.Submit(ctx, domain.TradeIntent{})
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)

	_, err := b.Submit(ctx, domain.TradeIntent{})
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	boom := errors.New("flaky")
	gw := &scriptedGateway{name: "paper", errs: []error{boom, nil, boom, nil, boom}}
	b := NewBreaker(gw, 3, time.Hour, discardLogger())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		b.Submit(ctx, domain.TradeIntent{})
	}
	// Failures never ran consecutively, so the circuit stays closed.
	assert.Equal(t, BreakerClosed, b.State())
}
