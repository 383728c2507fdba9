package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceCache keeps the latest mark price per symbol in a map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates an empty price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

// SetPrice stores the latest price for the symbol.
func (c *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = pricePoint{price: price, ts: ts}
	return nil
}

// GetPrice returns the latest price and its timestamp.
func (c *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("memory: price %s: %w", symbol, domain.ErrNotFound)
	}
	return p.price, p.ts, nil
}
