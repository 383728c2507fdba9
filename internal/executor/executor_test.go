package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/ordergate/internal/cache/memory"
	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/exchange"
	"github.com/alanyoungcy/ordergate/internal/service"
	memstore "github.com/alanyoungcy/ordergate/internal/store/memory"
)

// scriptedGateway returns errs[i] on call i; past the script it fills the
// intent at the configured price.
type scriptedGateway struct {
	name      string
	fillPrice decimal.Decimal

	mu    sync.Mutex
	calls int
	errs  []error
}

func (g *scriptedGateway) Name() string { return g.name }

func (g *scriptedGateway) Submit(ctx context.Context, intent domain.TradeIntent) (domain.FillReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.calls
	g.calls++
	if idx < len(g.errs) && g.errs[idx] != nil {
		return domain.FillReport{}, g.errs[idx]
	}
	price := g.fillPrice
	if price.IsZero() {
		price = intent.Price
	}
	return domain.FillReport{
		OrderID:        fmt.Sprintf("ord-%d", idx),
		FilledQuantity: intent.Quantity,
		AvgPrice:       price,
	}, nil
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fastRetryPolicy keeps production attempt bounds but collapses delays so
// retry tests finish instantly.
func fastRetryPolicy() exchange.RetryPolicy {
	return exchange.RetryPolicy{
		MaxAttempts: map[domain.ErrorKind]int{
			domain.ErrorKindNetwork:    5,
			domain.ErrorKindRateLimit:  3,
			domain.ErrorKindAuth:       1,
			domain.ErrorKindValidation: 1,
		},
		BaseDelay:       map[domain.ErrorKind]time.Duration{},
		MaxDelay:        time.Millisecond,
		DefaultAttempts: 3,
		DefaultBase:     time.Microsecond,
	}
}

type fixture struct {
	accounts  *memstore.AccountStore
	positions *memstore.PositionStore
	execs     *memstore.ExecutionStore
	audit     *memstore.AuditStore
	gateway   *scriptedGateway
	executor  *Executor
}

func newFixture(t *testing.T, gw *scriptedGateway, cfg Config) *fixture {
	t.Helper()
	if gw == nil {
		gw = &scriptedGateway{name: "paper", fillPrice: decimal.NewFromInt(50)}
	}
	if cfg.Retry.DefaultAttempts == 0 {
		cfg.Retry = fastRetryPolicy()
	}

	f := &fixture{
		accounts:  memstore.NewAccountStore(),
		positions: memstore.NewPositionStore(),
		execs:     memstore.NewExecutionStore(),
		audit:     memstore.NewAuditStore(),
		gateway:   gw,
	}
	risk := service.NewRiskEvaluator(service.RiskConfig{MarginFactor: cfg.MarginFactor}, discardLogger())
	f.executor = New(
		f.accounts, f.positions, f.execs, f.audit,
		memcache.NewLockManager(), risk,
		map[string]domain.ExchangeGateway{"paper": gw},
		memcache.NewSignalBus(), nil,
		cfg, discardLogger(),
	)
	return f
}

func (f *fixture) fundAccount(t *testing.T, id string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{
		ID:       id,
		Type:     domain.AccountTypeSpot,
		Exchange: "paper",
	})
	require.NoError(t, err)
	if amount > 0 {
		_, err = f.accounts.MutateBalance(ctx, id, domain.BalanceOpDeposit, decimal.NewFromInt(amount))
		require.NoError(t, err)
	}
}

func (f *fixture) balance(t *testing.T, id string) domain.Balance {
	t.Helper()
	snap, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return snap.Balance
}

func marketBuy(id string, qty int64) domain.TradeIntent {
	return domain.TradeIntent{
		ID:        id,
		AccountID: "acct-1",
		Symbol:    "BTCUSDT",
		Side:      domain.OrderSideBuy,
		Type:      domain.OrderTypeMarket,
		Quantity:  decimal.NewFromInt(qty),
	}
}

func TestExecuteFillsAndSettles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	f.fundAccount(t, "acct-1", 1000)

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptFilled, rec.State)
	assert.Equal(t, 0, rec.RetryCount)
	assert.True(t, rec.Reserved.Equal(decimal.NewFromInt(10)), "reserved %s", rec.Reserved)
	require.NotNil(t, rec.Fill)
	assert.True(t, rec.Fill.AvgPrice.Equal(decimal.NewFromInt(50)))

	// Margin-scaled cost: 100 * 50 * 0.1 = 500; nothing stays frozen.
	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(500)), "available %s", b.Available)
	assert.True(t, b.Frozen.IsZero())
	assert.True(t, b.Total.Equal(b.Available))

	pos, err := f.positions.Get(ctx, "acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(50)))

	stored, err := f.execs.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptFilled, stored.State)
}

func TestExecuteSellCreditsProceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	f.fundAccount(t, "acct-1", 1000)

	intent := marketBuy("intent-sell", 100)
	intent.Side = domain.OrderSideSell

	rec, err := f.executor.Execute(ctx, intent)
	require.NoError(t, err)
	require.Equal(t, domain.AttemptFilled, rec.State)

	// Proceeds: 100 * 50 * 0.1 = 500 credited.
	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1500)), "available %s", b.Available)

	pos, err := f.positions.Get(ctx, "acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(-100)))
}

func TestExecuteDeniedTouchesNoFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	f.fundAccount(t, "acct-1", 1000)
	require.NoError(t, f.accounts.SetStatus(ctx, "acct-1", domain.AccountStatusSuspended))

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptFailed, rec.State)
	assert.Equal(t, domain.DenyAccountInactive, rec.DenyReason)
	assert.Equal(t, 0, f.gateway.callCount(), "denied intents must never reach the gateway")

	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1000)))
	assert.True(t, b.Frozen.IsZero())
}

type fixedMarginRisk struct {
	margin decimal.Decimal
}

func (r fixedMarginRisk) Evaluate(domain.AccountSnapshot, domain.Position, domain.TradeIntent) domain.RiskDecision {
	return domain.RiskDecision{Allowed: true, RequiredMargin: r.margin}
}

func TestExecuteFreezeRaceFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	f.fundAccount(t, "acct-1", 1000)

	// A checker that demands more than the account holds exercises the
	// freeze guard directly.
	f.executor.risk = fixedMarginRisk{margin: decimal.NewFromInt(5000)}

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptFailed, rec.State)
	assert.Equal(t, domain.DenyInsufficientFunds, rec.DenyReason)
	assert.Equal(t, 0, f.gateway.callCount())

	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1000)))
}

func TestExecuteRateLimitExhaustsAtThreeCalls(t *testing.T) {
	ctx := context.Background()
	rlErr := &domain.GatewayError{Exchange: "paper", Kind: domain.ErrorKindRateLimit, Message: "too many requests"}
	gw := &scriptedGateway{
		name:      "paper",
		fillPrice: decimal.NewFromInt(50),
		errs:      []error{rlErr, rlErr, rlErr, rlErr}, // one more than the budget will consume
	}
	f := newFixture(t, gw, Config{})
	f.fundAccount(t, "acct-1", 1000)

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptRolledBack, rec.State)
	assert.Equal(t, domain.ErrorKindRateLimit, rec.ErrorKind)
	assert.Equal(t, 3, f.gateway.callCount(), "rate limit budget is three total calls")
	assert.Equal(t, 2, rec.RetryCount)

	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1000)), "rollback must restore available funds")
	assert.True(t, b.Frozen.IsZero())
}

func TestExecuteNetworkErrorRecovers(t *testing.T) {
	ctx := context.Background()
	netErr := &domain.GatewayError{Exchange: "paper", Kind: domain.ErrorKindNetwork, Message: "connection reset"}
	gw := &scriptedGateway{name: "paper", fillPrice: decimal.NewFromInt(50), errs: []error{netErr, netErr}}
	f := newFixture(t, gw, Config{})
	f.fundAccount(t, "acct-1", 1000)

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptFilled, rec.State)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, 3, f.gateway.callCount())
}

func TestExecuteAuthErrorNeverRetries(t *testing.T) {
	ctx := context.Background()
	authErr := &domain.GatewayError{Exchange: "paper", Kind: domain.ErrorKindAuth, Message: "invalid api key"}
	gw := &scriptedGateway{name: "paper", fillPrice: decimal.NewFromInt(50), errs: []error{authErr, nil}}
	f := newFixture(t, gw, Config{})
	f.fundAccount(t, "acct-1", 1000)

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptRolledBack, rec.State)
	assert.Equal(t, domain.ErrorKindAuth, rec.ErrorKind)
	assert.Equal(t, 1, f.gateway.callCount())
	assert.Equal(t, 0, rec.RetryCount)

	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1000)))
}

func TestExecuteValidationErrorNeverRetries(t *testing.T) {
	ctx := context.Background()
	valErr := &domain.GatewayError{Exchange: "paper", Kind: domain.ErrorKindValidation, Message: "unsupported order type"}
	gw := &scriptedGateway{name: "paper", errs: []error{valErr}}
	f := newFixture(t, gw, Config{})
	f.fundAccount(t, "acct-1", 1000)

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptRolledBack, rec.State)
	assert.Equal(t, domain.ErrorKindValidation, rec.ErrorKind)
	assert.Equal(t, 1, f.gateway.callCount())
}

func TestExecuteRejectsDuplicateIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	f.fundAccount(t, "acct-1", 1000)

	_, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	_, err = f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.ErrorIs(t, err, domain.ErrDuplicateIntent)
}

func TestExecuteRejectsInvalidIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	f.fundAccount(t, "acct-1", 1000)

	_, err := f.executor.Execute(ctx, marketBuy("intent-1", 0))
	require.ErrorIs(t, err, domain.ErrInvalidIntent)

	recs, err := f.execs.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, recs, "precondition violations must not produce records")
}

func TestExecuteUnknownExchange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})
	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{
		ID:       "acct-okx",
		Type:     domain.AccountTypeSpot,
		Exchange: "okx", // no gateway wired for it
	})
	require.NoError(t, err)

	intent := marketBuy("intent-1", 100)
	intent.AccountID = "acct-okx"
	_, err = f.executor.Execute(ctx, intent)
	require.ErrorIs(t, err, domain.ErrUnknownExchange)
}

func TestExecuteUnknownAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, Config{})

	_, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteCancelledDuringBackoffRollsBack(t *testing.T) {
	rlErr := &domain.GatewayError{Exchange: "paper", Kind: domain.ErrorKindRateLimit, Message: "throttled"}
	gw := &scriptedGateway{name: "paper", errs: []error{rlErr, rlErr, rlErr}}

	slowRetry := fastRetryPolicy()
	slowRetry.BaseDelay = map[domain.ErrorKind]time.Duration{domain.ErrorKindRateLimit: 500 * time.Millisecond}
	slowRetry.MaxDelay = time.Second
	f := newFixture(t, gw, Config{Retry: slowRetry})
	f.fundAccount(t, "acct-1", 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec, err := f.executor.Execute(ctx, marketBuy("intent-1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.AttemptRolledBack, rec.State)
	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1000)), "cancellation must not leak frozen funds")
	assert.True(t, b.Frozen.IsZero())
}

// With 100 available and a margin of 30 per intent (and a settlement cost
// of 30 per fill), five concurrent intents must produce exactly three
// fills; approvals can never outrun available funds.
func TestExecuteConcurrentIntentsRespectFunds(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{name: "paper", fillPrice: decimal.NewFromInt(1)}
	f := newFixture(t, gw, Config{})
	f.fundAccount(t, "acct-1", 100)

	const n = 5
	results := make([]domain.ExecutionRecord, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.executor.Execute(ctx, marketBuy(fmt.Sprintf("intent-%d", i), 300))
			if err != nil {
				t.Errorf("execute %d: %v", i, err)
				return
			}
			results[i] = rec
		}(i)
	}
	wg.Wait()

	var filled, denied int
	for _, rec := range results {
		switch rec.State {
		case domain.AttemptFilled:
			filled++
		case domain.AttemptFailed:
			denied++
			assert.Equal(t, domain.DenyInsufficientFunds, rec.DenyReason)
		default:
			t.Errorf("unexpected state %s", rec.State)
		}
	}
	assert.Equal(t, 3, filled)
	assert.Equal(t, 2, denied)

	b := f.balance(t, "acct-1")
	assert.True(t, b.Available.Equal(decimal.NewFromInt(10)), "available %s", b.Available)
	assert.True(t, b.Frozen.IsZero())
	assert.True(t, b.Total.Equal(b.Available.Add(b.Frozen)))

	pos, err := f.positions.Get(ctx, "acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(900)))
}

// The margin factor decides how many orders the same balance admits: two
// 600 unit buys against 1000 available both clear at 0.1 but not at 1.0.
func TestExecuteMarginFactorGatesSecondBuy(t *testing.T) {
	cases := []struct {
		name          string
		factor        string
		secondState   domain.AttemptState
		wantAvailable int64
		wantPosition  int64
	}{
		{"factor 0.1 admits both", "0.1", domain.AttemptFilled, 880, 1200},
		{"factor 1.0 denies the second", "1", domain.AttemptFailed, 400, 600},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			gw := &scriptedGateway{name: "paper", fillPrice: decimal.NewFromInt(1)}
			f := newFixture(t, gw, Config{MarginFactor: decimal.RequireFromString(tc.factor)})
			f.fundAccount(t, "acct-1", 1000)

			first, err := f.executor.Execute(ctx, marketBuy("intent-a", 600))
			require.NoError(t, err)
			require.Equal(t, domain.AttemptFilled, first.State)

			second, err := f.executor.Execute(ctx, marketBuy("intent-b", 600))
			require.NoError(t, err)
			assert.Equal(t, tc.secondState, second.State)
			if tc.secondState == domain.AttemptFailed {
				assert.Equal(t, domain.DenyInsufficientFunds, second.DenyReason)
			}

			b := f.balance(t, "acct-1")
			assert.True(t, b.Available.Equal(decimal.NewFromInt(tc.wantAvailable)), "available %s", b.Available)
			assert.True(t, b.Frozen.IsZero())
			assert.True(t, b.Total.Equal(b.Available.Add(b.Frozen)))

			pos, err := f.positions.Get(ctx, "acct-1", "BTCUSDT")
			require.NoError(t, err)
			assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(tc.wantPosition)))
		})
	}
}

func TestRunConsumesQueue(t *testing.T) {
	f := newFixture(t, nil, Config{})
	f.fundAccount(t, "acct-1", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.executor.Run(ctx) }()

	require.NoError(t, f.executor.Enqueue(ctx, marketBuy("intent-run", 100)))

	assert.Eventually(t, func() bool {
		recs, err := f.execs.List(context.Background(), domain.ListOpts{})
		return err == nil && len(recs) == 1 && recs[0].State == domain.AttemptFilled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
