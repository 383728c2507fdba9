package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// AccountService is the administrative surface over accounts: creation,
// deposits and withdrawals, limit updates, and status changes. Executor
// traffic bypasses it and mutates the store directly under the account
// lock; this service is for the API and for operators.
type AccountService struct {
	accounts  domain.AccountStore
	positions domain.PositionStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewAccountService creates an AccountService. bus and audit may be nil
// when those sinks are not wired.
func NewAccountService(
	accounts domain.AccountStore,
	positions domain.PositionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts:  accounts,
		positions: positions,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "account_service")),
	}
}

// Create provisions a new account with type defaults.
func (s *AccountService) Create(ctx context.Context, params domain.CreateAccountParams) (domain.AccountSnapshot, error) {
	snap, err := s.accounts.Create(ctx, params)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("account_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "account created",
		slog.String("account_id", snap.Account.ID),
		slog.String("type", string(snap.Account.Type)),
		slog.String("exchange", snap.Account.Exchange),
	)
	s.auditLog(ctx, "account_created", map[string]any{
		"account_id": snap.Account.ID,
		"type":       string(snap.Account.Type),
		"exchange":   snap.Account.Exchange,
	})
	s.publishStatus(ctx, "account_created", snap.Account.ID)
	return snap, nil
}

// Get returns a point-in-time snapshot of the account.
func (s *AccountService) Get(ctx context.Context, id string) (domain.AccountSnapshot, error) {
	return s.accounts.Get(ctx, id)
}

// List returns snapshots of all accounts.
func (s *AccountService) List(ctx context.Context) ([]domain.AccountSnapshot, error) {
	return s.accounts.List(ctx)
}

// Positions returns the account's open positions.
func (s *AccountService) Positions(ctx context.Context, id string) ([]domain.Position, error) {
	if _, err := s.accounts.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.positions.List(ctx, id)
}

// Deposit credits available funds.
func (s *AccountService) Deposit(ctx context.Context, id string, amount decimal.Decimal) (domain.Balance, error) {
	return s.mutate(ctx, id, domain.BalanceOpDeposit, amount)
}

// Withdraw debits available funds.
func (s *AccountService) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (domain.Balance, error) {
	return s.mutate(ctx, id, domain.BalanceOpWithdraw, amount)
}

func (s *AccountService) mutate(ctx context.Context, id string, op domain.BalanceOp, amount decimal.Decimal) (domain.Balance, error) {
	balance, err := s.accounts.MutateBalance(ctx, id, op, amount)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("account_service: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "balance mutated",
		slog.String("account_id", id),
		slog.String("op", string(op)),
		slog.String("amount", amount.String()),
		slog.String("available", balance.Available.String()),
	)
	s.auditLog(ctx, "balance_"+string(op), map[string]any{
		"account_id": id,
		"amount":     amount.String(),
		"available":  balance.Available.String(),
		"frozen":     balance.Frozen.String(),
	})
	s.publishBalance(ctx, id, op, amount, balance)
	return balance, nil
}

// UpdateLimits replaces the account's risk limits after validating them.
func (s *AccountService) UpdateLimits(ctx context.Context, id string, limits domain.RiskLimits) error {
	if err := validateLimits(limits); err != nil {
		return fmt.Errorf("account_service: update limits: %w", err)
	}
	if err := s.accounts.UpdateLimits(ctx, id, limits); err != nil {
		return fmt.Errorf("account_service: update limits: %w", err)
	}
	s.auditLog(ctx, "limits_updated", map[string]any{
		"account_id":             id,
		"max_position_per_trade": limits.MaxPositionPerTrade.String(),
		"max_symbol_position":    limits.MaxSymbolPosition.String(),
		"max_daily_loss_ratio":   limits.MaxDailyLossRatio,
	})
	return nil
}

// SetStatus switches the account between active, suspended, and closed.
func (s *AccountService) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	if err := s.accounts.SetStatus(ctx, id, status); err != nil {
		return fmt.Errorf("account_service: set status: %w", err)
	}
	s.logger.InfoContext(ctx, "account status changed",
		slog.String("account_id", id),
		slog.String("status", string(status)),
	)
	s.auditLog(ctx, "status_changed", map[string]any{
		"account_id": id,
		"status":     string(status),
	})
	s.publishStatus(ctx, "account_"+string(status), id)
	return nil
}

// SetLeverage changes the account's leverage multiplier.
func (s *AccountService) SetLeverage(ctx context.Context, id string, leverage float64) error {
	if err := s.accounts.SetLeverage(ctx, id, leverage); err != nil {
		return fmt.Errorf("account_service: set leverage: %w", err)
	}
	s.auditLog(ctx, "leverage_changed", map[string]any{
		"account_id": id,
		"leverage":   leverage,
	})
	return nil
}

func validateLimits(limits domain.RiskLimits) error {
	if limits.MaxPositionPerTrade.IsNegative() || limits.MaxSymbolPosition.IsNegative() {
		return fmt.Errorf("%w: position limits must not be negative", domain.ErrInvalidLimits)
	}
	if limits.MaxLeverage < 0 {
		return fmt.Errorf("%w: max leverage must not be negative", domain.ErrInvalidLimits)
	}
	if limits.MaxDailyLossRatio < 0 || limits.MaxDailyLossRatio > 1 {
		return fmt.Errorf("%w: max daily loss ratio must be within [0, 1]", domain.ErrInvalidLimits)
	}
	if limits.MaxPremiumRatio < 0 || limits.MaxPremiumRatio > 1 {
		return fmt.Errorf("%w: max premium ratio must be within [0, 1]", domain.ErrInvalidLimits)
	}
	if limits.StopLossRatio < 0 || limits.StopLossRatio > 1 {
		return fmt.Errorf("%w: stop loss ratio must be within [0, 1]", domain.ErrInvalidLimits)
	}
	return nil
}

func (s *AccountService) publishBalance(ctx context.Context, id string, op domain.BalanceOp, amount decimal.Decimal, balance domain.Balance) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":      "balance_changed",
		"account_id": id,
		"op":         string(op),
		"amount":     amount.String(),
		"total":      balance.Total.String(),
		"available":  balance.Available.String(),
		"frozen":     balance.Frozen.String(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, domain.ChannelBalances, evt); err != nil {
		s.logger.WarnContext(ctx, "publish balance event failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AccountService) publishStatus(ctx context.Context, event, id string) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":      event,
		"account_id": id,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, domain.ChannelStatus, evt); err != nil {
		s.logger.WarnContext(ctx, "publish status event failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AccountService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
