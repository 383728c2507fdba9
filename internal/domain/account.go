package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies what instruments an account may trade.
type AccountType string

const (
	AccountTypeSpot    AccountType = "spot"
	AccountTypeFutures AccountType = "futures"
	AccountTypeOptions AccountType = "options"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeSpot, AccountTypeFutures, AccountTypeOptions:
		return true
	}
	return false
}

// AccountStatus gates whether an account may trade. Only active accounts
// pass the risk evaluator.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
)

// Valid reports whether s is a known account status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusSuspended, AccountStatusClosed:
		return true
	}
	return false
}

// BalanceOp is one of the four fund mutations accepted by MutateBalance,
// the sole mutation path for account funds.
type BalanceOp string

const (
	BalanceOpDeposit  BalanceOp = "deposit"
	BalanceOpWithdraw BalanceOp = "withdraw"
	BalanceOpFreeze   BalanceOp = "freeze"
	BalanceOpUnfreeze BalanceOp = "unfreeze"
)

// Valid reports whether op is a known balance operation.
func (op BalanceOp) Valid() bool {
	switch op {
	case BalanceOpDeposit, BalanceOpWithdraw, BalanceOpFreeze, BalanceOpUnfreeze:
		return true
	}
	return false
}

// Balance is an account's fund ledger. Total == Available + Frozen holds at
// every observable point; all three are non-negative.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Frozen    decimal.Decimal `json:"frozen"`
}

// RiskLimits are the per-account bounds consulted by the risk evaluator and
// the risk monitor. Zero-valued fields mean "not applicable" except
// MaxSymbolPosition, where zero means "use the engine default".
type RiskLimits struct {
	MaxPositionPerTrade decimal.Decimal `json:"max_position_per_trade"`
	MaxLeverage         float64         `json:"max_leverage,omitempty"` // futures accounts only
	MaxDailyLossRatio   float64         `json:"max_daily_loss_ratio"`
	MaxPremiumRatio     float64         `json:"max_premium_ratio,omitempty"` // options accounts only
	StopLossRatio       float64         `json:"stop_loss_ratio"`
	MaxSymbolPosition   decimal.Decimal `json:"max_symbol_position"`
}

// DefaultRiskLimits returns the limit set applied to a freshly created
// account of the given type.
func DefaultRiskLimits(t AccountType) RiskLimits {
	switch t {
	case AccountTypeFutures:
		return RiskLimits{
			MaxPositionPerTrade: decimal.NewFromInt(500),
			MaxLeverage:         20,
			MaxDailyLossRatio:   0.20,
			StopLossRatio:       0.03,
			MaxSymbolPosition:   decimal.NewFromInt(5000),
		}
	case AccountTypeOptions:
		return RiskLimits{
			MaxPositionPerTrade: decimal.NewFromInt(100),
			MaxPremiumRatio:     0.10,
			MaxDailyLossRatio:   0.15,
			MaxSymbolPosition:   decimal.NewFromInt(5000),
		}
	default: // spot
		return RiskLimits{
			MaxPositionPerTrade: decimal.NewFromInt(1000),
			MaxDailyLossRatio:   0.10,
			StopLossRatio:       0.05,
			MaxSymbolPosition:   decimal.NewFromInt(5000),
		}
	}
}

// DefaultLeverage returns the leverage assigned to new accounts: 1x for
// spot, 10x otherwise.
func DefaultLeverage(t AccountType) float64 {
	if t == AccountTypeSpot {
		return 1.0
	}
	return 10.0
}

// Account is the identity and trading profile of a single exchange account.
// Funds live in Balance and are only reachable through MutateBalance.
type Account struct {
	ID        string        `json:"id"`
	Type      AccountType   `json:"type"`
	Exchange  string        `json:"exchange"` // gateway routing key, e.g. "binance", "okx", "paper"
	Status    AccountStatus `json:"status"`
	Leverage  float64       `json:"leverage"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// AccountSnapshot is an immutable point-in-time view of an account, its
// balance, and its risk limits. Mutating a snapshot never affects the store.
type AccountSnapshot struct {
	Account Account    `json:"account"`
	Balance Balance    `json:"balance"`
	Limits  RiskLimits `json:"limits"`
}

// CreateAccountParams carries the caller-supplied fields for a new account.
// Balance starts at zero; limits and leverage default by type.
type CreateAccountParams struct {
	ID       string      `json:"id"`
	Type     AccountType `json:"type"`
	Exchange string      `json:"exchange"`
}
