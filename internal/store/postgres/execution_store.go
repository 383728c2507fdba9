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

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Records
// are immutable once inserted; ListBefore and DeleteBefore support the
// archiver.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, intent_id, account_id, symbol, side, order_type,
	quantity::text, price::text, state, deny_reason, error_kind, error_message,
	reserved::text, retry_count, order_id, filled_qty::text, avg_price::text, fee::text,
	created_at, finished_at`

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var side, orderType, state, denyReason, errorKind string
	var qty, price, reserved string
	var orderID, filledQty, avgPrice, fee *string

	err := row.Scan(
		&rec.ID, &rec.Intent.ID, &rec.Intent.AccountID, &rec.Intent.Symbol, &side, &orderType,
		&qty, &price, &state, &denyReason, &errorKind, &rec.ErrorMessage,
		&reserved, &rec.RetryCount, &orderID, &filledQty, &avgPrice, &fee,
		&rec.CreatedAt, &rec.FinishedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}

	rec.Intent.Side = domain.OrderSide(side)
	rec.Intent.Type = domain.OrderType(orderType)
	rec.Intent.CreatedAt = rec.CreatedAt
	rec.State = domain.AttemptState(state)
	rec.DenyReason = domain.DenyReason(denyReason)
	rec.ErrorKind = domain.ErrorKind(errorKind)

	if rec.Intent.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("parse quantity %q: %w", qty, err)
	}
	if rec.Intent.Price, err = decimal.NewFromString(price); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if rec.Reserved, err = decimal.NewFromString(reserved); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("parse reserved %q: %w", reserved, err)
	}

	if orderID != nil {
		fill := domain.FillReport{OrderID: *orderID}
		if filledQty != nil {
			if fill.FilledQuantity, err = decimal.NewFromString(*filledQty); err != nil {
				return domain.ExecutionRecord{}, fmt.Errorf("parse filled_qty %q: %w", *filledQty, err)
			}
		}
		if avgPrice != nil {
			if fill.AvgPrice, err = decimal.NewFromString(*avgPrice); err != nil {
				return domain.ExecutionRecord{}, fmt.Errorf("parse avg_price %q: %w", *avgPrice, err)
			}
		}
		if fee != nil {
			if fill.Fee, err = decimal.NewFromString(*fee); err != nil {
				return domain.ExecutionRecord{}, fmt.Errorf("parse fee %q: %w", *fee, err)
			}
		}
		rec.Fill = &fill
	}

	return rec, nil
}

func scanExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var recs []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Insert stores a terminal record. Record ids are unique.
func (s *ExecutionStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	var orderID, filledQty, avgPrice, fee *string
	if rec.Fill != nil {
		oid := rec.Fill.OrderID
		fq := rec.Fill.FilledQuantity.String()
		ap := rec.Fill.AvgPrice.String()
		f := rec.Fill.Fee.String()
		orderID, filledQty, avgPrice, fee = &oid, &fq, &ap, &f
	}

	const query = `
		INSERT INTO executions (
			id, intent_id, account_id, symbol, side, order_type,
			quantity, price, state, deny_reason, error_kind, error_message,
			reserved, retry_count, order_id, filled_qty, avg_price, fee,
			created_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9, $10, $11, $12,
			$13::numeric, $14, $15, $16::numeric, $17::numeric, $18::numeric,
			$19, $20
		) ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Intent.ID, rec.Intent.AccountID, rec.Intent.Symbol,
		string(rec.Intent.Side), string(rec.Intent.Type),
		rec.Intent.Quantity.String(), rec.Intent.Price.String(),
		string(rec.State), string(rec.DenyReason), string(rec.ErrorKind), rec.ErrorMessage,
		rec.Reserved.String(), rec.RetryCount, orderID, filledQty, avgPrice, fee,
		rec.CreatedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert execution %s: duplicate id", rec.ID)
	}
	return nil
}

// Get returns the record by id.
func (s *ExecutionStore) Get(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id)

	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, fmt.Errorf("postgres: execution %s: %w", id, domain.ErrNotFound)
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *ExecutionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	query, args := buildExecutionQuery("", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	recs, err := scanExecutions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions: %w", err)
	}
	return recs, nil
}

// ListByAccount returns the account's records newest first.
func (s *ExecutionStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	query, args := buildExecutionQuery(accountID, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions for %s: %w", accountID, err)
	}
	defer rows.Close()

	recs, err := scanExecutions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions for %s: %w", accountID, err)
	}
	return recs, nil
}

// buildExecutionQuery assembles the list query. Since is inclusive, Until
// exclusive; the limit defaults to 100.
func buildExecutionQuery(accountID string, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if accountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argIdx)
		args = append(args, accountID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)
	argIdx++

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return query, args
}

// ListBefore returns all records finished strictly before the given time,
// oldest first, for archiving.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE finished_at < $1 ORDER BY finished_at ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	defer rows.Close()

	recs, err := scanExecutions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions before: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes records finished before the given time and returns
// the number deleted. Called by the archiver after a successful upload.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM executions WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}
