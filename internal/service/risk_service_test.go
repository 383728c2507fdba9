package service

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func spotSnapshot(available int64) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		Account: domain.Account{
			ID:       "acct-1",
			Type:     domain.AccountTypeSpot,
			Exchange: "paper",
			Status:   domain.AccountStatusActive,
			Leverage: 1,
		},
		Balance: domain.Balance{
			Total:     decimal.NewFromInt(available),
			Available: decimal.NewFromInt(available),
		},
		Limits: domain.DefaultRiskLimits(domain.AccountTypeSpot),
	}
}

func buyIntent(qty int64) domain.TradeIntent {
	return domain.TradeIntent{
		ID:        "intent-1",
		AccountID: "acct-1",
		Symbol:    "BTCUSDT",
		Side:      domain.OrderSideBuy,
		Type:      domain.OrderTypeMarket,
		Quantity:  decimal.NewFromInt(qty),
	}
}

func TestEvaluateAllows(t *testing.T) {
	e := NewRiskEvaluator(DefaultRiskConfig(), discardLogger())

	decision := e.Evaluate(spotSnapshot(1000), domain.Position{}, buyIntent(100))
	require.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
	// 100 * 0.1
	assert.True(t, decision.RequiredMargin.Equal(decimal.NewFromInt(10)), "margin %s", decision.RequiredMargin)
}

func TestEvaluateDenialOrder(t *testing.T) {
	e := NewRiskEvaluator(DefaultRiskConfig(), discardLogger())

	tests := []struct {
		name     string
		snapshot func() domain.AccountSnapshot
		position domain.Position
		intent   func() domain.TradeIntent
		reason   domain.DenyReason
	}{
		{
			name: "suspended account",
			snapshot: func() domain.AccountSnapshot {
				s := spotSnapshot(1000)
				s.Account.Status = domain.AccountStatusSuspended
				return s
			},
			intent: func() domain.TradeIntent { return buyIntent(100) },
			reason: domain.DenyAccountInactive,
		},
		{
			name:     "stop order on spot account",
			snapshot: func() domain.AccountSnapshot { return spotSnapshot(1000) },
			intent: func() domain.TradeIntent {
				i := buyIntent(100)
				i.Type = domain.OrderTypeStop
				i.Price = decimal.NewFromInt(50)
				return i
			},
			reason: domain.DenyUnsupportedOrderType,
		},
		{
			name:     "insufficient available funds",
			snapshot: func() domain.AccountSnapshot { return spotSnapshot(5) },
			intent:   func() domain.TradeIntent { return buyIntent(100) }, // needs 10
			reason:   domain.DenyInsufficientFunds,
		},
		{
			name: "per-trade limit",
			snapshot: func() domain.AccountSnapshot {
				s := spotSnapshot(100000)
				s.Limits.MaxPositionPerTrade = decimal.NewFromInt(500)
				return s
			},
			intent: func() domain.TradeIntent { return buyIntent(501) },
			reason: domain.DenyExceedsTradeLimit,
		},
		{
			name: "leverage above futures limit",
			snapshot: func() domain.AccountSnapshot {
				s := spotSnapshot(100000)
				s.Account.Type = domain.AccountTypeFutures
				s.Account.Leverage = 12
				s.Limits = domain.DefaultRiskLimits(domain.AccountTypeFutures)
				s.Limits.MaxLeverage = 10
				return s
			},
			intent: func() domain.TradeIntent { return buyIntent(100) },
			reason: domain.DenyExceedsLeverageLimit,
		},
		{
			name: "projected position above symbol cap",
			snapshot: func() domain.AccountSnapshot {
				s := spotSnapshot(100000)
				s.Limits.MaxPositionPerTrade = decimal.NewFromInt(1000)
				s.Limits.MaxSymbolPosition = decimal.NewFromInt(150)
				return s
			},
			position: domain.Position{
				AccountID: "acct-1",
				Symbol:    "BTCUSDT",
				Quantity:  decimal.NewFromInt(100),
			},
			intent: func() domain.TradeIntent { return buyIntent(51) },
			reason: domain.DenyExceedsPositionLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := e.Evaluate(tt.snapshot(), tt.position, tt.intent())
			require.False(t, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestEvaluateLeverageCheckSkipsSpot(t *testing.T) {
	e := NewRiskEvaluator(DefaultRiskConfig(), discardLogger())

	snap := spotSnapshot(1000)
	snap.Account.Leverage = 50
	snap.Limits.MaxLeverage = 10 // ignored for spot

	decision := e.Evaluate(snap, domain.Position{}, buyIntent(100))
	assert.True(t, decision.Allowed)
}

func TestEvaluateSellReducesProjectedPosition(t *testing.T) {
	e := NewRiskEvaluator(DefaultRiskConfig(), discardLogger())

	snap := spotSnapshot(100000)
	snap.Limits.MaxPositionPerTrade = decimal.NewFromInt(5000)
	snap.Limits.MaxSymbolPosition = decimal.NewFromInt(100)
	position := domain.Position{Quantity: decimal.NewFromInt(100)}

	sell := buyIntent(50)
	sell.Side = domain.OrderSideSell
	decision := e.Evaluate(snap, position, sell)
	assert.True(t, decision.Allowed, "sell shrinks the position toward the cap")

	// A short past the cap in the other direction is still denied.
	bigSell := buyIntent(250)
	bigSell.Side = domain.OrderSideSell
	decision = e.Evaluate(snap, position, bigSell)
	require.False(t, decision.Allowed)
	assert.Equal(t, domain.DenyExceedsPositionLimit, decision.Reason)
}

func TestEvaluateStopAllowedForFuturesAndOptions(t *testing.T) {
	e := NewRiskEvaluator(DefaultRiskConfig(), discardLogger())

	for _, typ := range []domain.AccountType{domain.AccountTypeFutures, domain.AccountTypeOptions} {
		snap := spotSnapshot(100000)
		snap.Account.Type = typ
		snap.Account.Leverage = 1
		snap.Limits = domain.DefaultRiskLimits(typ)

		intent := buyIntent(50)
		intent.Type = domain.OrderTypeStop
		intent.Price = decimal.NewFromInt(40000)

		decision := e.Evaluate(snap, domain.Position{}, intent)
		assert.True(t, decision.Allowed, "account type %s", typ)
	}
}

// Evaluate must be a pure function of its inputs.
func TestEvaluateDeterministic(t *testing.T) {
	e := NewRiskEvaluator(DefaultRiskConfig(), discardLogger())

	snap := spotSnapshot(5)
	position := domain.Position{Quantity: decimal.NewFromInt(10)}
	intent := buyIntent(100)

	first := e.Evaluate(snap, position, intent)
	for i := 0; i < 10; i++ {
		again := e.Evaluate(snap, position, intent)
		assert.Equal(t, first.Allowed, again.Allowed)
		assert.Equal(t, first.Reason, again.Reason)
		assert.True(t, first.RequiredMargin.Equal(again.RequiredMargin))
	}
}
