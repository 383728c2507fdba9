package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

func TestPositionGetMissingIsFlat(t *testing.T) {
	store := NewPositionStore()
	p, err := store.Get(context.Background(), "acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.IsFlat())
	assert.Equal(t, "acct-1", p.AccountID)
	assert.Equal(t, "BTCUSDT", p.Symbol)
}

func TestApplyFillWeightsEntry(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()

	_, err := store.ApplyFill(ctx, "acct-1", "BTCUSDT", domain.OrderSideBuy, decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)
	p, err := store.ApplyFill(ctx, "acct-1", "BTCUSDT", domain.OrderSideBuy, decimal.NewFromInt(2), decimal.NewFromInt(200))
	require.NoError(t, err)

	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(4)))
	assert.True(t, p.EntryPrice.Equal(decimal.NewFromInt(150)), "entry %s", p.EntryPrice)
}

func TestApplyFillFullCloseRemoves(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()

	_, err := store.ApplyFill(ctx, "acct-1", "ETHUSDT", domain.OrderSideBuy, decimal.NewFromInt(3), decimal.NewFromInt(1000))
	require.NoError(t, err)
	p, err := store.ApplyFill(ctx, "acct-1", "ETHUSDT", domain.OrderSideSell, decimal.NewFromInt(3), decimal.NewFromInt(1100))
	require.NoError(t, err)
	assert.True(t, p.IsFlat())

	positions, err := store.List(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestApplyFillRejectsNonPositiveQty(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyFill(context.Background(), "acct-1", "BTCUSDT", domain.OrderSideBuy, decimal.Zero, decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestListSortsBySymbolAndScopesByAccount(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()

	one := decimal.NewFromInt(1)
	price := decimal.NewFromInt(10)
	_, err := store.ApplyFill(ctx, "acct-1", "ETHUSDT", domain.OrderSideBuy, one, price)
	require.NoError(t, err)
	_, err = store.ApplyFill(ctx, "acct-1", "BTCUSDT", domain.OrderSideBuy, one, price)
	require.NoError(t, err)
	_, err = store.ApplyFill(ctx, "acct-2", "BTCUSDT", domain.OrderSideBuy, one, price)
	require.NoError(t, err)

	positions, err := store.List(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, "ETHUSDT", positions[1].Symbol)
}
