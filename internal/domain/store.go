package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists accounts, balances, and risk limits. MutateBalance
// is the sole path through which funds change; each mutation is atomic per
// account regardless of caller locking.
type AccountStore interface {
	// Create initializes an account with zero balance, type-default limits,
	// type-default leverage, and active status. Returns
	// ErrInvalidAccountType or ErrDuplicateAccount on bad input.
	Create(ctx context.Context, params CreateAccountParams) (AccountSnapshot, error)
	Get(ctx context.Context, id string) (AccountSnapshot, error)
	List(ctx context.Context) ([]AccountSnapshot, error)

	// MutateBalance applies one fund operation and returns the resulting
	// balance. Amount must be positive (ErrInvalidAmount). withdraw and
	// freeze require available >= amount (ErrInsufficientAvailable);
	// unfreeze requires frozen >= amount (ErrInsufficientFrozen). A failed
	// guard leaves the balance unchanged.
	MutateBalance(ctx context.Context, id string, op BalanceOp, amount decimal.Decimal) (Balance, error)

	UpdateLimits(ctx context.Context, id string, limits RiskLimits) error
	SetStatus(ctx context.Context, id string, status AccountStatus) error
	SetLeverage(ctx context.Context, id string, leverage float64) error
}

// PositionStore persists signed per-(account, symbol) positions. Get on a
// missing position returns the zero value, not an error. ApplyFill is
// called only by the executor's settle step, under the account lock.
type PositionStore interface {
	Get(ctx context.Context, accountID, symbol string) (Position, error)
	ApplyFill(ctx context.Context, accountID, symbol string, side OrderSide, qty, price decimal.Decimal) (Position, error)
	List(ctx context.Context, accountID string) ([]Position, error)
}

// ExecutionStore persists terminal execution records.
type ExecutionStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	Get(ctx context.Context, id string) (ExecutionRecord, error)
	List(ctx context.Context, opts ListOpts) ([]ExecutionRecord, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]ExecutionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
