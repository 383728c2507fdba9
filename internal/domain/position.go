package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the signed per-(account, symbol) inventory: buys add to
// Quantity, sells subtract. EntryPrice is volume-weighted over the fills
// that built the current direction. A missing position reads as the zero
// value, never an error.
type Position struct {
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsFlat reports whether the position holds no inventory.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// ApplyFill returns the position after a fill of qty at price on the given
// side. The entry-price rules:
//
//   - flat before the fill: entry = fill price
//   - fill grows the current direction: entry = volume-weighted average
//   - fill partially reduces: entry unchanged
//   - fill closes exactly: position is flat (stores remove it)
//   - fill flips the sign: entry = fill price, quantity = remainder
//
// Both store implementations share this function so the math lives in one
// place; callers hold the account lock.
func (p Position) ApplyFill(side OrderSide, qty, price decimal.Decimal, now time.Time) Position {
	delta := qty
	if side == OrderSideSell {
		delta = qty.Neg()
	}
	next := p.Quantity.Add(delta)

	out := Position{
		AccountID:  p.AccountID,
		Symbol:     p.Symbol,
		Quantity:   next,
		EntryPrice: p.EntryPrice,
		UpdatedAt:  now,
	}

	switch {
	case next.IsZero():
		out.EntryPrice = decimal.Zero
	case p.Quantity.IsZero():
		out.EntryPrice = price
	case p.Quantity.Sign() == delta.Sign():
		// Growing: weight the old entry by the old size and the fill by its size.
		oldAbs := p.Quantity.Abs()
		notional := oldAbs.Mul(p.EntryPrice).Add(qty.Mul(price))
		out.EntryPrice = notional.Div(oldAbs.Add(qty))
	case p.Quantity.Sign() != next.Sign():
		// Flipped through zero: the remainder opened at the fill price.
		out.EntryPrice = price
	}
	// Partial reduction keeps the entry price.

	return out
}
