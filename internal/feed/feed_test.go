package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/ordergate/internal/cache/memory"
	"github.com/alanyoungcy/ordergate/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type captureEnqueuer struct {
	mu      sync.Mutex
	intents []domain.TradeIntent
}

func (c *captureEnqueuer) Enqueue(ctx context.Context, intent domain.TradeIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, intent)
	return nil
}

func (c *captureEnqueuer) snapshot() []domain.TradeIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TradeIntent(nil), c.intents...)
}

func TestIntentIntakeForwardsToExecutor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memcache.NewSignalBus()
	exec := &captureEnqueuer{}
	intake := NewIntentIntake(bus, exec, discardLogger())

	done := make(chan error, 1)
	go func() { done <- intake.Run(ctx) }()

	// Give the subscription a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)

	intent := domain.TradeIntent{
		ID:        "intent-1",
		AccountID: "acct-1",
		Symbol:    "BTCUSDT",
		Side:      domain.OrderSideBuy,
		Type:      domain.OrderTypeMarket,
		Quantity:  decimal.NewFromInt(5),
	}
	payload, err := json.Marshal(intent)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelIntents, payload))
	require.NoError(t, bus.Publish(ctx, domain.ChannelIntents, []byte("{not json")))

	assert.Eventually(t, func() bool {
		got := exec.snapshot()
		return len(got) == 1 && got[0].ID == "intent-1"
	}, 2*time.Second, 10*time.Millisecond, "exactly the valid intent should arrive")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("intake did not stop")
	}
}

func TestPriceFeedHandleMessage(t *testing.T) {
	ctx := context.Background()
	prices := memcache.NewPriceCache()
	bus := memcache.NewSignalBus()
	f := NewPriceFeed(PriceFeedConfig{Symbols: []string{"BTCUSDT"}}, prices, bus, discardLogger())

	sub, err := bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	raw := []byte(`{"stream":"btcusdt@miniTicker","data":{"E":1700000000000,"s":"BTCUSDT","c":"43250.5"}}`)
	f.handleMessage(ctx, raw)

	price, ts, err := prices.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 43250.5, price)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ts)

	select {
	case payload := <-sub:
		var evt priceEvent
		require.NoError(t, json.Unmarshal(payload, &evt))
		assert.Equal(t, "price", evt.Event)
		assert.Equal(t, "BTCUSDT", evt.Symbol)
		assert.Equal(t, 43250.5, evt.Price)
	case <-time.After(time.Second):
		t.Fatal("no price event published")
	}
}

func TestPriceFeedIgnoresBadTicks(t *testing.T) {
	ctx := context.Background()
	prices := memcache.NewPriceCache()
	f := NewPriceFeed(PriceFeedConfig{Symbols: []string{"BTCUSDT"}}, prices, nil, discardLogger())

	f.handleMessage(ctx, []byte(`not json`))
	f.handleMessage(ctx, []byte(`{"stream":"x","data":{"s":"","c":"1"}}`))
	f.handleMessage(ctx, []byte(`{"stream":"x","data":{"s":"BTCUSDT","c":"zero"}}`))
	f.handleMessage(ctx, []byte(`{"stream":"x","data":{"s":"BTCUSDT","c":"-5"}}`))

	_, _, err := prices.GetPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceFeedStreamURL(t *testing.T) {
	f := NewPriceFeed(PriceFeedConfig{Symbols: []string{"BTCUSDT", " ethusdt ", ""}}, nil, nil, discardLogger())
	assert.Equal(t,
		"wss://stream.binance.com:9443/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker",
		f.streamURL())

	f = NewPriceFeed(PriceFeedConfig{URL: "wss://testnet.example/stream", Symbols: []string{"SOLUSDT"}}, nil, nil, discardLogger())
	assert.Equal(t, "wss://testnet.example/stream?streams=solusdt@miniTicker", f.streamURL())
}
