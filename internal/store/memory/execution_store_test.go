package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

func insertRecord(t *testing.T, store *ExecutionStore, id, accountID string, at time.Time) {
	t.Helper()
	err := store.Insert(context.Background(), domain.ExecutionRecord{
		ID: id,
		Intent: domain.TradeIntent{
			ID:        "intent-" + id,
			AccountID: accountID,
			Symbol:    "BTCUSDT",
			Side:      domain.OrderSideBuy,
			Type:      domain.OrderTypeMarket,
			Quantity:  decimal.NewFromInt(1),
		},
		State:     domain.AttemptFilled,
		CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestExecutionInsertGet(t *testing.T) {
	store := NewExecutionStore()
	insertRecord(t, store, "rec-1", "acct-1", time.Now())

	rec, err := store.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptFilled, rec.State)

	_, err = store.Get(context.Background(), "rec-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = store.Insert(context.Background(), domain.ExecutionRecord{ID: "rec-1"})
	assert.Error(t, err)
}

func TestExecutionListNewestFirst(t *testing.T) {
	store := NewExecutionStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		insertRecord(t, store, fmt.Sprintf("rec-%d", i), "acct-1", base.Add(time.Duration(i)*time.Minute))
	}

	recs, err := store.List(context.Background(), domain.ListOpts{Limit: 3})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "rec-4", recs[0].ID)
	assert.Equal(t, "rec-2", recs[2].ID)

	recs, err = store.List(context.Background(), domain.ListOpts{Limit: 3, Offset: 3})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec-1", recs[0].ID)
}

func TestExecutionListTimeWindow(t *testing.T) {
	store := NewExecutionStore()
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		insertRecord(t, store, fmt.Sprintf("rec-%d", i), "acct-1", base.Add(time.Duration(i)*time.Hour))
	}

	since := base.Add(time.Hour)
	until := base.Add(3 * time.Hour)
	recs, err := store.List(context.Background(), domain.ListOpts{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec-2", recs[0].ID)
	assert.Equal(t, "rec-1", recs[1].ID)
}

func TestExecutionListByAccount(t *testing.T) {
	store := NewExecutionStore()
	now := time.Now().UTC()
	insertRecord(t, store, "rec-1", "acct-1", now)
	insertRecord(t, store, "rec-2", "acct-2", now.Add(time.Second))
	insertRecord(t, store, "rec-3", "acct-1", now.Add(2*time.Second))

	recs, err := store.ListByAccount(context.Background(), "acct-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec-3", recs[0].ID)
	assert.Equal(t, "rec-1", recs[1].ID)
}
