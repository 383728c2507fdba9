package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// PositionStore keeps signed positions keyed by (account, symbol). Flat
// positions are removed rather than stored at zero.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates an empty position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Get returns the position, or a flat zero-quantity position when none is
// held.
func (s *PositionStore) Get(ctx context.Context, accountID, symbol string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[positionKey(accountID, symbol)]; ok {
		return p, nil
	}
	return domain.Position{AccountID: accountID, Symbol: symbol}, nil
}

// ApplyFill folds a fill into the position and returns the result.
func (s *PositionStore) ApplyFill(ctx context.Context, accountID, symbol string, side domain.OrderSide, qty, price decimal.Decimal) (domain.Position, error) {
	if !qty.IsPositive() {
		return domain.Position{}, fmt.Errorf("memory: apply fill: %w", domain.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(accountID, symbol)
	cur, ok := s.positions[key]
	if !ok {
		cur = domain.Position{AccountID: accountID, Symbol: symbol}
	}

	next := cur.ApplyFill(side, qty, price, time.Now().UTC())
	if next.IsFlat() {
		delete(s.positions, key)
	} else {
		s.positions[key] = next
	}
	return next, nil
}

// List returns the account's open positions ordered by symbol.
func (s *PositionStore) List(ctx context.Context, accountID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func positionKey(accountID, symbol string) string {
	return accountID + "|" + symbol
}
