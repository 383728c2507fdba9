// Package binance submits orders to Binance spot through the official REST
// API. Venue rejections surface as *common.APIError so the classifier can
// map the venue's numeric codes.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// Config selects the Binance endpoint and credentials.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // overrides the production endpoint (e.g. testnet)
}

// Gateway implements domain.ExchangeGateway for Binance spot.
type Gateway struct {
	client *binance.Client
	logger *slog.Logger
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

// New creates a Binance gateway.
func New(cfg Config, logger *slog.Logger) *Gateway {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	return &Gateway{
		client: client,
		logger: logger.With(slog.String("component", "gateway"), slog.String("exchange", "binance")),
	}
}

// Name returns the gateway routing key.
func (g *Gateway) Name() string { return "binance" }

// Submit places the order and reports the fill. The intent id doubles as
// the venue client order id so a retried submit cannot double-place.
func (g *Gateway) Submit(ctx context.Context, intent domain.TradeIntent) (domain.FillReport, error) {
	side := binance.SideTypeBuy
	if intent.Side == domain.OrderSideSell {
		side = binance.SideTypeSell
	}

	svc := g.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(side).
		Quantity(intent.Quantity.String()).
		NewClientOrderID(intent.ID).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	switch intent.Type {
	case domain.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	case domain.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(intent.Price.String())
	case domain.OrderTypeStop:
		svc = svc.Type(binance.OrderTypeStopLoss).
			StopPrice(intent.Price.String())
	default:
		return domain.FillReport{}, &domain.GatewayError{
			Exchange: "binance",
			Kind:     domain.ErrorKindValidation,
			Message:  fmt.Sprintf("unsupported order type %q", intent.Type),
		}
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return domain.FillReport{}, fmt.Errorf("binance: submit order: %w", err)
	}

	fill := domain.FillReport{
		OrderID:        fmt.Sprintf("%d", res.OrderID),
		FilledQuantity: parseDecimal(res.ExecutedQuantity),
		AvgPrice:       avgFillPrice(res, intent.Price),
	}
	for _, f := range res.Fills {
		fill.Fee = fill.Fee.Add(parseDecimal(f.Commission))
	}

	g.logger.DebugContext(ctx, "order submitted",
		slog.String("intent_id", intent.ID),
		slog.String("venue_order_id", fill.OrderID),
		slog.String("filled", fill.FilledQuantity.String()),
	)
	return fill, nil
}

// avgFillPrice prefers the trade-weighted average across fills, falls back
// to cumulative quote / executed quantity, then to the intent price for
// resting orders with no fills yet.
func avgFillPrice(res *binance.CreateOrderResponse, intentPrice decimal.Decimal) decimal.Decimal {
	var notional, qty decimal.Decimal
	for _, f := range res.Fills {
		q := parseDecimal(f.Quantity)
		notional = notional.Add(q.Mul(parseDecimal(f.Price)))
		qty = qty.Add(q)
	}
	if qty.IsPositive() {
		return notional.Div(qty)
	}

	executed := parseDecimal(res.ExecutedQuantity)
	quote := parseDecimal(res.CummulativeQuoteQuantity)
	if executed.IsPositive() && quote.IsPositive() {
		return quote.Div(executed)
	}
	return intentPrice
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
