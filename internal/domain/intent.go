package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a trade intent.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known order side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType is the execution style requested by a trade intent.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
		return true
	}
	return false
}

// RequiresPrice reports whether the order type cannot be submitted without
// a price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStop
}

// TradeIntent is a request to trade on behalf of one account. Intents are
// immutable once submitted; the executor turns each one into exactly one
// attempt.
type TradeIntent struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Type      OrderType       `json:"order_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // required for limit and stop
	CreatedAt time.Time       `json:"created_at"`
}

// Normalize fills in the generated fields of a caller-supplied intent: a
// uuid when ID is empty, the current time when CreatedAt is zero, and an
// upper-cased symbol.
func (i *TradeIntent) Normalize() {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	i.Symbol = strings.ToUpper(strings.TrimSpace(i.Symbol))
}

// Validate checks the intent's preconditions. A failing intent is rejected
// before any account state is touched and never becomes an attempt. All
// returned errors wrap ErrInvalidIntent.
func (i TradeIntent) Validate() error {
	if strings.TrimSpace(i.AccountID) == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidIntent)
	}
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidIntent)
	}
	if !i.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidIntent, i.Side)
	}
	if !i.Type.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidIntent, i.Type)
	}
	if !i.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidIntent, i.Quantity)
	}
	if i.Type.RequiresPrice() && !i.Price.IsPositive() {
		return fmt.Errorf("%w: %s orders require a positive price", ErrInvalidIntent, i.Type)
	}
	return nil
}

// AttemptState is the executor's state machine for one intent.
//
//	pending -> reserved -> submitted -> filled
//	        \> failed              \> rolled_back
//
// filled, failed and rolled_back are terminal.
type AttemptState string

const (
	AttemptPending    AttemptState = "pending"
	AttemptReserved   AttemptState = "reserved"
	AttemptSubmitted  AttemptState = "submitted"
	AttemptFilled     AttemptState = "filled"
	AttemptFailed     AttemptState = "failed"
	AttemptRolledBack AttemptState = "rolled_back"
)

// Terminal reports whether the state ends an attempt.
func (s AttemptState) Terminal() bool {
	switch s {
	case AttemptFilled, AttemptFailed, AttemptRolledBack:
		return true
	}
	return false
}

// FillReport is what a gateway returns for an accepted order.
type FillReport struct {
	OrderID        string          `json:"order_id"` // venue-assigned
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	Fee            decimal.Decimal `json:"fee"`
}

// ExecutionRecord is the immutable terminal record of one attempt. Exactly
// one is emitted per attempt that progressed past validation.
type ExecutionRecord struct {
	ID           string          `json:"id"`
	Intent       TradeIntent     `json:"intent"`
	State        AttemptState    `json:"state"`
	DenyReason   DenyReason      `json:"deny_reason,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Reserved     decimal.Decimal `json:"reserved"` // margin frozen for the attempt; zero if never reserved
	RetryCount   int             `json:"retry_count"` // submit calls beyond the first
	Fill         *FillReport     `json:"fill,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}
