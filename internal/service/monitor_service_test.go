package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/ordergate/internal/cache/memory"
	"github.com/alanyoungcy/ordergate/internal/domain"
	memstore "github.com/alanyoungcy/ordergate/internal/store/memory"
)

type monitorFixture struct {
	monitor   *RiskMonitor
	accounts  *memstore.AccountStore
	positions *memstore.PositionStore
	prices    *memcache.PriceCache
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	accounts := memstore.NewAccountStore()
	positions := memstore.NewPositionStore()
	prices := memcache.NewPriceCache()
	monitor := NewRiskMonitor(
		accounts, positions, prices,
		memcache.NewSignalBus(), memstore.NewAuditStore(), nil,
		MonitorConfig{Interval: time.Minute, StaleAfter: 5 * time.Minute, AlertCooldown: 10 * time.Minute},
		discardLogger(),
	)
	return &monitorFixture{monitor: monitor, accounts: accounts, positions: positions, prices: prices}
}

func alertTypes(alerts []domain.RiskAlert) []string {
	var out []string
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestSweepDailyLoss(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{ID: "acct-1", Type: domain.AccountTypeSpot})
	require.NoError(t, err)
	_, err = f.accounts.MutateBalance(ctx, "acct-1", domain.BalanceOpDeposit, decimal.NewFromInt(1000))
	require.NoError(t, err)

	// First sweep records the day-start equity; no alerts yet.
	alerts, err := f.monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Lose 15% of equity; the spot limit is 10%.
	_, err = f.accounts.MutateBalance(ctx, "acct-1", domain.BalanceOpWithdraw, decimal.NewFromInt(150))
	require.NoError(t, err)

	alerts, err = f.monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "daily_loss", alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "acct-1", alerts[0].AccountID)
	assert.InDelta(t, 0.15, alerts[0].Value, 0.001)
}

func TestSweepDailyLossWarnsNearLimit(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{ID: "acct-1", Type: domain.AccountTypeSpot})
	require.NoError(t, err)
	_, err = f.accounts.MutateBalance(ctx, "acct-1", domain.BalanceOpDeposit, decimal.NewFromInt(1000))
	require.NoError(t, err)
	_, err = f.monitor.Sweep(ctx)
	require.NoError(t, err)

	// 9% loss: at 80% of the 10% limit, high severity.
	_, err = f.accounts.MutateBalance(ctx, "acct-1", domain.BalanceOpWithdraw, decimal.NewFromInt(90))
	require.NoError(t, err)

	alerts, err := f.monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
}

func TestSweepPositionConcentration(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{ID: "acct-1", Type: domain.AccountTypeSpot})
	require.NoError(t, err)
	_, err = f.positions.ApplyFill(ctx, "acct-1", "BTCUSDT", domain.OrderSideBuy,
		decimal.NewFromInt(4500), decimal.NewFromInt(10))
	require.NoError(t, err)

	// 4500 of the default 5000 cap: 90%, high severity.
	alerts, err := f.monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"position_concentration"}, alertTypes(alerts))
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "BTCUSDT", alerts[0].Symbol)
}

func TestSweepStalePrice(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{ID: "acct-1", Type: domain.AccountTypeSpot})
	require.NoError(t, err)
	_, err = f.positions.ApplyFill(ctx, "acct-1", "ETHUSDT", domain.OrderSideBuy,
		decimal.NewFromInt(10), decimal.NewFromInt(100))
	require.NoError(t, err)

	require.NoError(t, f.prices.SetPrice(ctx, "ETHUSDT", 3000, time.Now().Add(-time.Hour)))

	alerts, err := f.monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"stale_price"}, alertTypes(alerts))
	assert.Equal(t, domain.SeverityMedium, alerts[0].Severity)
}

func TestSweepPremiumExposure(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{ID: "acct-1", Type: domain.AccountTypeOptions})
	require.NoError(t, err)
	_, err = f.accounts.MutateBalance(ctx, "acct-1", domain.BalanceOpDeposit, decimal.NewFromInt(1000))
	require.NoError(t, err)
	_, err = f.monitor.Sweep(ctx) // record day start
	require.NoError(t, err)

	// 10 contracts at entry 50: premium 500 on equity 1000 is 50%,
	// far above the 10% options limit.
	_, err = f.positions.ApplyFill(ctx, "acct-1", "BTC-CALL", domain.OrderSideBuy,
		decimal.NewFromInt(10), decimal.NewFromInt(50))
	require.NoError(t, err)

	alerts, err := f.monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"premium_exposure"}, alertTypes(alerts))
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	assert.InDelta(t, 0.5, alerts[0].Value, 0.001)
}

func TestSweepCooldownSuppressesRepeats(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t)

	_, err := f.accounts.Create(ctx, domain.CreateAccountParams{ID: "acct-1", Type: domain.AccountTypeSpot})
	require.NoError(t, err)
	_, err = f.positions.ApplyFill(ctx, "acct-1", "BTCUSDT", domain.OrderSideBuy,
		decimal.NewFromInt(6000), decimal.NewFromInt(10))
	require.NoError(t, err)

	alerts, err := f.monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	alerts, err = f.monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts, "repeat within cooldown must be suppressed")
}

func TestCheckLedgerFlagsCorruption(t *testing.T) {
	f := newMonitorFixture(t)

	snap := domain.AccountSnapshot{
		Account: domain.Account{ID: "acct-1", Status: domain.AccountStatusActive},
		Balance: domain.Balance{
			Total:     decimal.NewFromInt(100),
			Available: decimal.NewFromInt(90),
			Frozen:    decimal.NewFromInt(20),
		},
	}
	alerts := f.monitor.checkLedger(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, "balance_mismatch", alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
}
