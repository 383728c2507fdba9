package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// RiskConfig holds the tunable parameters for pre-trade risk checks.
type RiskConfig struct {
	// MarginFactor is the fraction of order quantity reserved as margin.
	MarginFactor decimal.Decimal
	// DefaultSymbolCap bounds the absolute per-symbol position when the
	// account's limits carry no override.
	DefaultSymbolCap decimal.Decimal
}

// DefaultRiskConfig returns the engine defaults: 0.1 margin factor, 5000
// unit symbol cap.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MarginFactor:     decimal.RequireFromString("0.1"),
		DefaultSymbolCap: decimal.NewFromInt(5000),
	}
}

// RiskEvaluator decides whether a trade intent may execute against an
// account snapshot. Evaluate is deterministic over its inputs and mutates
// nothing, so a denied intent can be cheaply re-evaluated after conditions
// change.
type RiskEvaluator struct {
	marginFactor decimal.Decimal
	symbolCap    decimal.Decimal
	logger       *slog.Logger
}

// NewRiskEvaluator creates an evaluator, falling back to defaults for
// zero-valued config fields.
func NewRiskEvaluator(cfg RiskConfig, logger *slog.Logger) *RiskEvaluator {
	defaults := DefaultRiskConfig()
	if cfg.MarginFactor.IsZero() {
		cfg.MarginFactor = defaults.MarginFactor
	}
	if cfg.DefaultSymbolCap.IsZero() {
		cfg.DefaultSymbolCap = defaults.DefaultSymbolCap
	}
	return &RiskEvaluator{
		marginFactor: cfg.MarginFactor,
		symbolCap:    cfg.DefaultSymbolCap,
		logger:       logger.With(slog.String("component", "risk")),
	}
}

// Evaluate runs the pre-trade checks in a fixed order; the first failing
// check determines the denial reason. RequiredMargin is populated on every
// decision so the executor can reserve it when allowed.
//
// Checks performed:
//  1. Account status must be active
//  2. Order type legal for the account type
//  3. Required margin (quantity * marginFactor) within available funds
//  4. Quantity within the per-trade position limit
//  5. Account leverage within the limit (futures only)
//  6. Projected position within the per-symbol cap
func (e *RiskEvaluator) Evaluate(snap domain.AccountSnapshot, position domain.Position, intent domain.TradeIntent) domain.RiskDecision {
	required := intent.Quantity.Mul(e.marginFactor)

	// Check 1: account status.
	if snap.Account.Status != domain.AccountStatusActive {
		return e.deny(domain.DenyAccountInactive, required, intent)
	}

	// Check 2: order type legal for the account type.
	if !orderTypeAllowed(snap.Account.Type, intent.Type) {
		return e.deny(domain.DenyUnsupportedOrderType, required, intent)
	}

	// Check 3: required margin within available funds.
	if required.GreaterThan(snap.Balance.Available) {
		return e.deny(domain.DenyInsufficientFunds, required, intent)
	}

	// Check 4: per-trade position limit.
	if snap.Limits.MaxPositionPerTrade.IsPositive() && intent.Quantity.GreaterThan(snap.Limits.MaxPositionPerTrade) {
		return e.deny(domain.DenyExceedsTradeLimit, required, intent)
	}

	// Check 5: leverage limit, futures accounts only.
	if snap.Account.Type == domain.AccountTypeFutures && snap.Limits.MaxLeverage > 0 &&
		snap.Account.Leverage > snap.Limits.MaxLeverage {
		return e.deny(domain.DenyExceedsLeverageLimit, required, intent)
	}

	// Check 6: projected position within the per-symbol cap.
	delta := intent.Quantity
	if intent.Side == domain.OrderSideSell {
		delta = delta.Neg()
	}
	limit := snap.Limits.MaxSymbolPosition
	if !limit.IsPositive() {
		limit = e.symbolCap
	}
	if position.Quantity.Add(delta).Abs().GreaterThan(limit) {
		return e.deny(domain.DenyExceedsPositionLimit, required, intent)
	}

	return domain.RiskDecision{Allowed: true, RequiredMargin: required}
}

func (e *RiskEvaluator) deny(reason domain.DenyReason, required decimal.Decimal, intent domain.TradeIntent) domain.RiskDecision {
	e.logger.Debug("intent denied",
		slog.String("intent_id", intent.ID),
		slog.String("account_id", intent.AccountID),
		slog.String("reason", string(reason)),
	)
	return domain.RiskDecision{Allowed: false, Reason: reason, RequiredMargin: required}
}

// orderTypeAllowed encodes which order types each account type may place:
// spot accounts trade market and limit; futures and options additionally
// take stop orders.
func orderTypeAllowed(acct domain.AccountType, ot domain.OrderType) bool {
	switch acct {
	case domain.AccountTypeSpot:
		return ot == domain.OrderTypeMarket || ot == domain.OrderTypeLimit
	case domain.AccountTypeFutures, domain.AccountTypeOptions:
		return ot == domain.OrderTypeMarket || ot == domain.OrderTypeLimit || ot == domain.OrderTypeStop
	}
	return false
}

// RiskCheckService runs the evaluator against live store state without
// executing anything, for the dry-run API. The answer is advisory: by the
// time a real intent runs, funds and positions may have moved.
type RiskCheckService struct {
	accounts  domain.AccountStore
	positions domain.PositionStore
	evaluator *RiskEvaluator
}

// NewRiskCheckService creates a RiskCheckService.
func NewRiskCheckService(accounts domain.AccountStore, positions domain.PositionStore, evaluator *RiskEvaluator) *RiskCheckService {
	return &RiskCheckService{
		accounts:  accounts,
		positions: positions,
		evaluator: evaluator,
	}
}

// Check evaluates an intent against the current account and position state.
func (s *RiskCheckService) Check(ctx context.Context, intent domain.TradeIntent) (domain.RiskDecision, error) {
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return domain.RiskDecision{}, fmt.Errorf("service: risk check: %w", err)
	}

	snap, err := s.accounts.Get(ctx, intent.AccountID)
	if err != nil {
		return domain.RiskDecision{}, fmt.Errorf("service: risk check: %w", err)
	}
	position, err := s.positions.Get(ctx, intent.AccountID, intent.Symbol)
	if err != nil {
		return domain.RiskDecision{}, fmt.Errorf("service: risk check: %w", err)
	}

	return s.evaluator.Evaluate(snap, position, intent), nil
}
