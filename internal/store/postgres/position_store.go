package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. ApplyFill
// reads the row FOR UPDATE inside a transaction; the executor additionally
// holds the account lock, so the row lock only matters for out-of-engine
// writers.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `account_id, symbol, quantity::text, entry_price::text, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var qty, entry string

	if err := row.Scan(&p.AccountID, &p.Symbol, &qty, &entry, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}

	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.Position{}, fmt.Errorf("parse quantity %q: %w", qty, err)
	}
	if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return domain.Position{}, fmt.Errorf("parse entry price %q: %w", entry, err)
	}
	return p, nil
}

// Get returns the position for (accountID, symbol). A missing row reads as
// the zero position, not an error.
func (s *PositionStore) Get(ctx context.Context, accountID, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE account_id = $1 AND symbol = $2`,
		accountID, symbol)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{AccountID: accountID, Symbol: symbol}, nil
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", accountID, symbol, err)
	}
	return p, nil
}

// ApplyFill folds a fill into the position and returns the result. A
// position that goes flat is deleted.
func (s *PositionStore) ApplyFill(ctx context.Context, accountID, symbol string, side domain.OrderSide, qty, price decimal.Decimal) (domain.Position, error) {
	if !qty.IsPositive() {
		return domain.Position{}, fmt.Errorf("postgres: apply fill %s/%s: qty %s: %w", accountID, symbol, qty, domain.ErrInvalidAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: apply fill %s/%s: begin: %w", accountID, symbol, err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op after commit

	current := domain.Position{AccountID: accountID, Symbol: symbol}
	row := tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account_id = $1 AND symbol = $2 FOR UPDATE`,
		accountID, symbol)
	if p, err := scanPosition(row); err == nil {
		current = p
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: apply fill %s/%s: read: %w", accountID, symbol, err)
	}

	next := current.ApplyFill(side, qty, price, time.Now().UTC())

	if next.IsFlat() {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND symbol = $2`,
			accountID, symbol); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: apply fill %s/%s: delete: %w", accountID, symbol, err)
		}
	} else {
		const upsert = `
			INSERT INTO positions (account_id, symbol, quantity, entry_price, updated_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5)
			ON CONFLICT (account_id, symbol) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				entry_price = EXCLUDED.entry_price,
				updated_at = EXCLUDED.updated_at`
		if _, err := tx.Exec(ctx, upsert,
			accountID, symbol, next.Quantity.String(), next.EntryPrice.String(), next.UpdatedAt,
		); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: apply fill %s/%s: upsert: %w", accountID, symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: apply fill %s/%s: commit: %w", accountID, symbol, err)
	}
	return next, nil
}

// List returns the account's open positions ordered by symbol.
func (s *PositionStore) List(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE account_id = $1 ORDER BY symbol`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", accountID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions %s rows: %w", accountID, err)
	}
	return positions, nil
}
