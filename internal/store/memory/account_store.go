// Package memory provides in-process store implementations. They back unit
// tests and the paper mode, where running without Postgres keeps setup to a
// single binary. Semantics mirror the postgres package.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// accountEntry pairs an account with its own mutex so balance mutations on
// different accounts never contend.
type accountEntry struct {
	mu      sync.Mutex
	account domain.Account
	balance domain.Balance
	limits  domain.RiskLimits
}

func (e *accountEntry) snapshot() domain.AccountSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.AccountSnapshot{
		Account: e.account,
		Balance: e.balance,
		Limits:  e.limits,
	}
}

// AccountStore keeps accounts in a map guarded by a read-write mutex.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry
}

var _ domain.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates an empty account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*accountEntry)}
}

// Create initializes an account with zero balance and type defaults.
func (s *AccountStore) Create(ctx context.Context, params domain.CreateAccountParams) (domain.AccountSnapshot, error) {
	if !params.Type.Valid() {
		return domain.AccountSnapshot{}, fmt.Errorf("memory: create account: %w: %q", domain.ErrInvalidAccountType, params.Type)
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	entry := &accountEntry{
		account: domain.Account{
			ID:        id,
			Type:      params.Type,
			Exchange:  strings.ToLower(strings.TrimSpace(params.Exchange)),
			Status:    domain.AccountStatusActive,
			Leverage:  domain.DefaultLeverage(params.Type),
			CreatedAt: now,
			UpdatedAt: now,
		},
		limits: domain.DefaultRiskLimits(params.Type),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[id]; exists {
		return domain.AccountSnapshot{}, fmt.Errorf("memory: create account %s: %w", id, domain.ErrDuplicateAccount)
	}
	s.accounts[id] = entry
	return entry.snapshot(), nil
}

// Get returns a point-in-time snapshot of the account.
func (s *AccountStore) Get(ctx context.Context, id string) (domain.AccountSnapshot, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	return e.snapshot(), nil
}

// List returns snapshots of all accounts ordered by creation time.
func (s *AccountStore) List(ctx context.Context) ([]domain.AccountSnapshot, error) {
	s.mu.RLock()
	entries := make([]*accountEntry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.AccountSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account.CreatedAt.Equal(out[j].Account.CreatedAt) {
			return out[i].Account.ID < out[j].Account.ID
		}
		return out[i].Account.CreatedAt.Before(out[j].Account.CreatedAt)
	})
	return out, nil
}

// MutateBalance applies one fund operation atomically under the account's
// mutex. A failed guard leaves the balance untouched.
func (s *AccountStore) MutateBalance(ctx context.Context, id string, op domain.BalanceOp, amount decimal.Decimal) (domain.Balance, error) {
	if !op.Valid() {
		return domain.Balance{}, fmt.Errorf("memory: mutate balance: unknown op %q", op)
	}
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("memory: mutate balance: %w", domain.ErrInvalidAmount)
	}
	e, err := s.entry(id)
	if err != nil {
		return domain.Balance{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.balance
	switch op {
	case domain.BalanceOpDeposit:
		b.Available = b.Available.Add(amount)
	case domain.BalanceOpWithdraw:
		if b.Available.LessThan(amount) {
			return domain.Balance{}, fmt.Errorf("memory: withdraw %s: %w", amount, domain.ErrInsufficientAvailable)
		}
		b.Available = b.Available.Sub(amount)
	case domain.BalanceOpFreeze:
		if b.Available.LessThan(amount) {
			return domain.Balance{}, fmt.Errorf("memory: freeze %s: %w", amount, domain.ErrInsufficientAvailable)
		}
		b.Available = b.Available.Sub(amount)
		b.Frozen = b.Frozen.Add(amount)
	case domain.BalanceOpUnfreeze:
		if b.Frozen.LessThan(amount) {
			return domain.Balance{}, fmt.Errorf("memory: unfreeze %s: %w", amount, domain.ErrInsufficientFrozen)
		}
		b.Frozen = b.Frozen.Sub(amount)
		b.Available = b.Available.Add(amount)
	}
	b.Total = b.Available.Add(b.Frozen)

	e.balance = b
	e.account.UpdatedAt = time.Now().UTC()
	return b, nil
}

// UpdateLimits replaces the account's risk limits.
func (s *AccountStore) UpdateLimits(ctx context.Context, id string, limits domain.RiskLimits) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = limits
	e.account.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus changes the account's trading status.
func (s *AccountStore) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("memory: set status: unknown status %q", status)
	}
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.Status = status
	e.account.UpdatedAt = time.Now().UTC()
	return nil
}

// SetLeverage changes the account's leverage multiplier.
func (s *AccountStore) SetLeverage(ctx context.Context, id string, leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("memory: set leverage: %w", domain.ErrInvalidAmount)
	}
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.Leverage = leverage
	e.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *AccountStore) entry(id string) (*accountEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("memory: account %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}
