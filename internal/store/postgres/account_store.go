package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Balance
// mutations run as single guarded UPDATE statements, so they are atomic per
// account without explicit transactions and the ledger identity
// total = available + frozen can never be observed broken.
type AccountStore struct {
	pool *pgxpool.Pool
}

var _ domain.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates an AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `id, type, exchange, status, leverage,
	total::text, available::text, frozen::text, limits, created_at, updated_at`

func scanAccountRow(row pgx.Row) (domain.AccountSnapshot, error) {
	var snap domain.AccountSnapshot
	var typ, status string
	var total, available, frozen string
	var limitsJSON []byte

	err := row.Scan(
		&snap.Account.ID, &typ, &snap.Account.Exchange, &status, &snap.Account.Leverage,
		&total, &available, &frozen, &limitsJSON,
		&snap.Account.CreatedAt, &snap.Account.UpdatedAt,
	)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	snap.Account.Type = domain.AccountType(typ)
	snap.Account.Status = domain.AccountStatus(status)

	if snap.Balance, err = parseBalance(total, available, frozen); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if err := json.Unmarshal(limitsJSON, &snap.Limits); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("unmarshal limits: %w", err)
	}
	return snap, nil
}

func parseBalance(total, available, frozen string) (domain.Balance, error) {
	var b domain.Balance
	var err error
	if b.Total, err = decimal.NewFromString(total); err != nil {
		return domain.Balance{}, fmt.Errorf("parse total %q: %w", total, err)
	}
	if b.Available, err = decimal.NewFromString(available); err != nil {
		return domain.Balance{}, fmt.Errorf("parse available %q: %w", available, err)
	}
	if b.Frozen, err = decimal.NewFromString(frozen); err != nil {
		return domain.Balance{}, fmt.Errorf("parse frozen %q: %w", frozen, err)
	}
	return b, nil
}

// Create inserts an account with zero balance, type-default limits and
// leverage, and active status.
func (s *AccountStore) Create(ctx context.Context, params domain.CreateAccountParams) (domain.AccountSnapshot, error) {
	if !params.Type.Valid() {
		return domain.AccountSnapshot{}, fmt.Errorf("postgres: create account: type %q: %w", params.Type, domain.ErrInvalidAccountType)
	}

	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	exchange := strings.ToLower(strings.TrimSpace(params.Exchange))
	limits := domain.DefaultRiskLimits(params.Type)
	leverage := domain.DefaultLeverage(params.Type)
	now := time.Now().UTC()

	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("postgres: create account %s: marshal limits: %w", id, err)
	}

	const query = `
		INSERT INTO accounts (id, type, exchange, status, leverage, limits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		id, string(params.Type), exchange, string(domain.AccountStatusActive),
		leverage, limitsJSON, now,
	)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("postgres: create account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.AccountSnapshot{}, fmt.Errorf("postgres: create account %s: %w", id, domain.ErrDuplicateAccount)
	}

	return domain.AccountSnapshot{
		Account: domain.Account{
			ID:        id,
			Type:      params.Type,
			Exchange:  exchange,
			Status:    domain.AccountStatusActive,
			Leverage:  leverage,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Balance: domain.Balance{
			Total:     decimal.Zero,
			Available: decimal.Zero,
			Frozen:    decimal.Zero,
		},
		Limits: limits,
	}, nil
}

// Get returns the account snapshot by id.
func (s *AccountStore) Get(ctx context.Context, id string) (domain.AccountSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)

	snap, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccountSnapshot{}, fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
		}
		return domain.AccountSnapshot{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return snap, nil
}

// List returns all accounts ordered by id.
func (s *AccountStore) List(ctx context.Context) ([]domain.AccountSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountSelectCols+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var snaps []domain.AccountSnapshot
	for rows.Next() {
		snap, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return snaps, nil
}

// balanceUpdates holds the guarded UPDATE per balance operation. Each
// statement both applies the mutation and enforces the operation's guard in
// its WHERE clause; a guard miss affects zero rows.
var balanceUpdates = map[domain.BalanceOp]string{
	domain.BalanceOpDeposit: `
		UPDATE accounts SET
			total = total + $2::numeric,
			available = available + $2::numeric,
			updated_at = NOW()
		WHERE id = $1
		RETURNING total::text, available::text, frozen::text`,
	domain.BalanceOpWithdraw: `
		UPDATE accounts SET
			total = total - $2::numeric,
			available = available - $2::numeric,
			updated_at = NOW()
		WHERE id = $1 AND available >= $2::numeric
		RETURNING total::text, available::text, frozen::text`,
	domain.BalanceOpFreeze: `
		UPDATE accounts SET
			available = available - $2::numeric,
			frozen = frozen + $2::numeric,
			updated_at = NOW()
		WHERE id = $1 AND available >= $2::numeric
		RETURNING total::text, available::text, frozen::text`,
	domain.BalanceOpUnfreeze: `
		UPDATE accounts SET
			frozen = frozen - $2::numeric,
			available = available + $2::numeric,
			updated_at = NOW()
		WHERE id = $1 AND frozen >= $2::numeric
		RETURNING total::text, available::text, frozen::text`,
}

// MutateBalance applies one fund operation atomically and returns the
// resulting balance. A failed guard leaves the row untouched.
func (s *AccountStore) MutateBalance(ctx context.Context, id string, op domain.BalanceOp, amount decimal.Decimal) (domain.Balance, error) {
	if !op.Valid() {
		return domain.Balance{}, fmt.Errorf("postgres: mutate balance %s: unknown operation %q", id, op)
	}
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("postgres: mutate balance %s: amount %s: %w", id, amount, domain.ErrInvalidAmount)
	}

	var total, available, frozen string
	err := s.pool.QueryRow(ctx, balanceUpdates[op], id, amount.String()).
		Scan(&total, &available, &frozen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Balance{}, s.guardFailure(ctx, id, op)
		}
		return domain.Balance{}, fmt.Errorf("postgres: mutate balance %s (%s): %w", id, op, err)
	}

	balance, err := parseBalance(total, available, frozen)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: mutate balance %s (%s): %w", id, op, err)
	}
	return balance, nil
}

// guardFailure distinguishes a missing account from a guard miss after a
// zero-row UPDATE.
func (s *AccountStore) guardFailure(ctx context.Context, id string, op domain.BalanceOp) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: mutate balance %s (%s): %w", id, op, err)
	}
	if !exists {
		return fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
	}
	if op == domain.BalanceOpUnfreeze {
		return fmt.Errorf("postgres: mutate balance %s (%s): %w", id, op, domain.ErrInsufficientFrozen)
	}
	return fmt.Errorf("postgres: mutate balance %s (%s): %w", id, op, domain.ErrInsufficientAvailable)
}

// UpdateLimits replaces the account's risk limits.
func (s *AccountStore) UpdateLimits(ctx context.Context, id string, limits domain.RiskLimits) error {
	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("postgres: update limits %s: marshal: %w", id, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET limits = $2, updated_at = NOW() WHERE id = $1`,
		id, limitsJSON)
	if err != nil {
		return fmt.Errorf("postgres: update limits %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetStatus updates the account's trading status.
func (s *AccountStore) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("postgres: set status %s: unknown status %q", id, status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetLeverage updates the account's leverage.
func (s *AccountStore) SetLeverage(ctx context.Context, id string, leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("postgres: set leverage %s: %v: %w", id, leverage, domain.ErrInvalidAmount)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET leverage = $2, updated_at = NOW() WHERE id = $1`,
		id, leverage)
	if err != nil {
		return fmt.Errorf("postgres: set leverage %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
