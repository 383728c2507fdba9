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

func newAccountService(t *testing.T) (*AccountService, *memstore.AuditStore, *memcache.SignalBus) {
	t.Helper()
	audit := memstore.NewAuditStore()
	bus := memcache.NewSignalBus()
	svc := NewAccountService(
		memstore.NewAccountStore(),
		memstore.NewPositionStore(),
		bus,
		audit,
		discardLogger(),
	)
	return svc, audit, bus
}

func TestAccountServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, audit, bus := newAccountService(t)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	balanceEvents, err := bus.Subscribe(subCtx, domain.ChannelBalances)
	require.NoError(t, err)

	snap, err := svc.Create(ctx, domain.CreateAccountParams{
		ID:       "acct-1",
		Type:     domain.AccountTypeSpot,
		Exchange: "paper",
	})
	require.NoError(t, err)
	require.Equal(t, domain.AccountStatusActive, snap.Account.Status)

	balance, err := svc.Deposit(ctx, "acct-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(100)))

	balance, err = svc.Withdraw(ctx, "acct-1", decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(60)))

	_, err = svc.Withdraw(ctx, "acct-1", decimal.NewFromInt(1000))
	require.ErrorIs(t, err, domain.ErrInsufficientAvailable)

	select {
	case msg := <-balanceEvents:
		assert.Contains(t, string(msg), "balance_changed")
	case <-time.After(time.Second):
		t.Fatal("no balance event published")
	}

	entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestAccountServiceUpdateLimits(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAccountService(t)

	_, err := svc.Create(ctx, domain.CreateAccountParams{ID: "acct-1", Type: domain.AccountTypeSpot})
	require.NoError(t, err)

	limits := domain.DefaultRiskLimits(domain.AccountTypeSpot)
	limits.MaxPositionPerTrade = decimal.NewFromInt(200)
	require.NoError(t, svc.UpdateLimits(ctx, "acct-1", limits))

	snap, err := svc.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, snap.Limits.MaxPositionPerTrade.Equal(decimal.NewFromInt(200)))

	limits.MaxDailyLossRatio = 1.5
	err = svc.UpdateLimits(ctx, "acct-1", limits)
	require.ErrorIs(t, err, domain.ErrInvalidLimits)

	limits.MaxDailyLossRatio = 0.1
	limits.MaxPositionPerTrade = decimal.NewFromInt(-1)
	err = svc.UpdateLimits(ctx, "acct-1", limits)
	require.ErrorIs(t, err, domain.ErrInvalidLimits)
}

func TestAccountServicePositionsChecksAccount(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAccountService(t)

	_, err := svc.Positions(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
