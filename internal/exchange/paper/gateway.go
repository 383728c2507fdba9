// Package paper implements a simulated exchange gateway. Orders fill
// immediately at the cached mark price, so the rest of the engine runs
// unchanged against live market data without touching a venue.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

const defaultFeeRate = "0.001"

// Config tunes the simulated venue.
type Config struct {
	// FeeRate is charged on notional, e.g. 0.001 for 10 bps.
	FeeRate decimal.Decimal
}

// Gateway implements domain.ExchangeGateway against a price cache.
type Gateway struct {
	prices  domain.PriceCache
	feeRate decimal.Decimal
	logger  *slog.Logger
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

// New creates a paper gateway. prices may be nil, in which case only
// priced intents can fill.
func New(cfg Config, prices domain.PriceCache, logger *slog.Logger) *Gateway {
	feeRate := cfg.FeeRate
	if feeRate.IsZero() {
		feeRate = decimal.RequireFromString(defaultFeeRate)
	}
	return &Gateway{
		prices:  prices,
		feeRate: feeRate,
		logger:  logger.With(slog.String("component", "gateway"), slog.String("exchange", "paper")),
	}
}

// Name returns the gateway routing key.
func (g *Gateway) Name() string { return "paper" }

// Submit fills the intent at the cached mark price, falling back to the
// intent's own price when no mark is known. An unpriced intent with no
// cached mark cannot fill and is rejected as a validation error.
func (g *Gateway) Submit(ctx context.Context, intent domain.TradeIntent) (domain.FillReport, error) {
	price, err := g.markPrice(ctx, intent)
	if err != nil {
		return domain.FillReport{}, err
	}

	notional := intent.Quantity.Mul(price)
	fill := domain.FillReport{
		OrderID:        "paper-" + uuid.NewString(),
		FilledQuantity: intent.Quantity,
		AvgPrice:       price,
		Fee:            notional.Mul(g.feeRate),
	}

	g.logger.InfoContext(ctx, "paper fill",
		slog.String("intent_id", intent.ID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side)),
		slog.String("qty", fill.FilledQuantity.String()),
		slog.String("price", fill.AvgPrice.String()),
	)
	return fill, nil
}

func (g *Gateway) markPrice(ctx context.Context, intent domain.TradeIntent) (decimal.Decimal, error) {
	if g.prices != nil {
		mark, _, err := g.prices.GetPrice(ctx, intent.Symbol)
		switch {
		case err == nil:
			return decimal.NewFromFloat(mark), nil
		case !errors.Is(err, domain.ErrNotFound):
			return decimal.Zero, fmt.Errorf("paper: mark price: %w", err)
		}
	}
	if intent.Price.IsPositive() {
		return intent.Price, nil
	}
	return decimal.Zero, &domain.GatewayError{
		Exchange: "paper",
		Kind:     domain.ErrorKindValidation,
		Message:  fmt.Sprintf("no mark price for %s and intent carries none", intent.Symbol),
	}
}
