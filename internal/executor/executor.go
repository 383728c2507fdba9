// Package executor drives one trade intent to a terminal state: risk
// evaluation, margin reservation, gateway submission with classified
// retries, and settlement. All balance and position mutation for an
// account happens under that account's lock, so two intents for the same
// account can never pass the funds check against the same available
// balance.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/exchange"
)

// RiskChecker decides whether an intent may execute. It is implemented by
// the service layer's risk evaluator.
type RiskChecker interface {
	Evaluate(snap domain.AccountSnapshot, position domain.Position, intent domain.TradeIntent) domain.RiskDecision
}

// Notifier pushes terminal execution outcomes to external channels.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the executor's tunables. Zero values fall back to defaults.
type Config struct {
	// MarginFactor scales notional fill cost into the amount settled
	// against available funds. Matches the risk evaluator's factor.
	MarginFactor decimal.Decimal
	// SubmitTimeout bounds each individual gateway submit call.
	SubmitTimeout time.Duration
	// LockTTL is passed to the lock manager; only distributed lock
	// implementations use it.
	LockTTL time.Duration
	// DedupTTL is the window within which a reused intent ID is rejected.
	DedupTTL time.Duration
	// QueueSize is the intake channel capacity for Run/Enqueue.
	QueueSize int
	// Retry overrides the retry policy; zero means defaults.
	Retry exchange.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.MarginFactor.IsZero() {
		c.MarginFactor = decimal.RequireFromString("0.1")
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 2 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Retry.DefaultAttempts == 0 {
		c.Retry = exchange.DefaultRetryPolicy()
	}
	return c
}

// Executor is the order execution engine. Execute runs one intent
// synchronously; Run consumes intents queued via Enqueue until its context
// is done.
type Executor struct {
	accounts   domain.AccountStore
	positions  domain.PositionStore
	executions domain.ExecutionStore
	audit      domain.AuditStore
	locks      domain.LockManager
	risk       RiskChecker
	gateways   map[string]domain.ExchangeGateway
	bus        domain.SignalBus
	notifier   Notifier
	dedup      *Dedup
	queue      chan domain.TradeIntent
	cfg        Config
	logger     *slog.Logger
}

// New creates an Executor. executions, audit, bus, and notifier may be nil;
// the corresponding sinks are skipped. gateways maps an account's exchange
// key to the gateway that serves it.
func New(
	accounts domain.AccountStore,
	positions domain.PositionStore,
	executions domain.ExecutionStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	risk RiskChecker,
	gateways map[string]domain.ExchangeGateway,
	bus domain.SignalBus,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		accounts:   accounts,
		positions:  positions,
		executions: executions,
		audit:      audit,
		locks:      locks,
		risk:       risk,
		gateways:   gateways,
		bus:        bus,
		notifier:   notifier,
		dedup:      NewDedup(cfg.DedupTTL),
		queue:      make(chan domain.TradeIntent, cfg.QueueSize),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "executor")),
	}
}

// Enqueue hands an intent to the Run loop.
func (e *Executor) Enqueue(ctx context.Context, intent domain.TradeIntent) error {
	select {
	case e.queue <- intent:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: enqueue: %w", ctx.Err())
	}
}

// Run processes queued intents until ctx is done, then drains whatever is
// already buffered so accepted intents are not silently dropped.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case intent := <-e.queue:
			e.runOne(ctx, intent)
		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) runOne(ctx context.Context, intent domain.TradeIntent) {
	rec, err := e.Execute(ctx, intent)
	if err != nil {
		e.logger.ErrorContext(ctx, "intent not executed",
			slog.String("intent_id", intent.ID),
			slog.String("account_id", intent.AccountID),
			slog.String("error", err.Error()),
		)
		return
	}
	_ = rec
}

// drain processes intents already buffered after ctx cancellation, each
// under a short-lived context so shutdown cannot hang on a venue.
func (e *Executor) drain() {
	for {
		select {
		case intent := <-e.queue:
			e.logger.Warn("draining intent after shutdown",
				slog.String("intent_id", intent.ID),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.runOne(drainCtx, intent)
			cancel()
		default:
			return
		}
	}
}

// Execute drives one intent to a terminal state and returns its execution
// record. A denied or rolled-back attempt is a normal record, not an
// error; errors mean the engine could not run the attempt at all (bad
// intent, unknown account, lock failure) and no record was produced.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent) (domain.ExecutionRecord, error) {
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: %w", err)
	}
	if e.dedup.IsDuplicate(intent.ID) {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: intent %s: %w", intent.ID, domain.ErrDuplicateIntent)
	}

	log := e.logger.With(
		slog.String("intent_id", intent.ID),
		slog.String("account_id", intent.AccountID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side)),
	)

	// Serialize all attempts for this account. The lock covers every read
	// and mutation below, so the risk check's view of available funds and
	// position cannot go stale before settlement.
	release, err := e.locks.Acquire(ctx, "account:"+intent.AccountID, e.cfg.LockTTL)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: %w", err)
	}
	defer release()

	snap, err := e.accounts.Get(ctx, intent.AccountID)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: %w", err)
	}
	gateway, ok := e.gateways[snap.Account.Exchange]
	if !ok {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: gateway %q: %w", snap.Account.Exchange, domain.ErrUnknownExchange)
	}
	position, err := e.positions.Get(ctx, intent.AccountID, intent.Symbol)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: %w", err)
	}

	rec := domain.ExecutionRecord{
		ID:        uuid.NewString(),
		Intent:    intent,
		State:     domain.AttemptPending,
		Reserved:  decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}

	decision := e.risk.Evaluate(snap, position, intent)
	if !decision.Allowed {
		rec.State = domain.AttemptFailed
		rec.DenyReason = decision.Reason
		log.WarnContext(ctx, "intent denied", slog.String("reason", string(decision.Reason)))
		return e.finish(ctx, rec), nil
	}

	// Reserve the margin. The evaluator checked available funds an instant
	// ago under this same lock, but the freeze itself is the authoritative
	// guard.
	if decision.RequiredMargin.IsPositive() {
		if _, err := e.accounts.MutateBalance(ctx, intent.AccountID, domain.BalanceOpFreeze, decision.RequiredMargin); err != nil {
			if errors.Is(err, domain.ErrInsufficientAvailable) {
				rec.State = domain.AttemptFailed
				rec.DenyReason = domain.DenyInsufficientFunds
				log.WarnContext(ctx, "reserve failed, insufficient funds")
				return e.finish(ctx, rec), nil
			}
			return domain.ExecutionRecord{}, fmt.Errorf("executor: reserve: %w", err)
		}
		rec.Reserved = decision.RequiredMargin
	}
	rec.State = domain.AttemptReserved

	fill, kind, submitErr := e.submit(ctx, gateway, intent, &rec, log)
	if submitErr != nil {
		e.rollback(ctx, &rec, log)
		rec.State = domain.AttemptRolledBack
		rec.ErrorKind = kind
		rec.ErrorMessage = submitErr.Error()
		log.WarnContext(ctx, "intent rolled back",
			slog.String("error_kind", string(kind)),
			slog.Int("retries", rec.RetryCount),
			slog.String("error", submitErr.Error()),
		)
		return e.finish(ctx, rec), nil
	}

	e.settle(ctx, &rec, fill, log)
	rec.State = domain.AttemptFilled
	rec.Fill = &fill
	log.InfoContext(ctx, "intent filled",
		slog.String("order_id", fill.OrderID),
		slog.String("filled_qty", fill.FilledQuantity.String()),
		slog.String("avg_price", fill.AvgPrice.String()),
		slog.Int("retries", rec.RetryCount),
	)
	return e.finish(ctx, rec), nil
}

// submit calls the gateway until it succeeds, the error kind's attempt
// budget is spent, or the error is not retryable. It returns the
// classified kind of the final error. rec.RetryCount counts submit calls
// beyond the first.
func (e *Executor) submit(ctx context.Context, gateway domain.ExchangeGateway, intent domain.TradeIntent, rec *domain.ExecutionRecord, log *slog.Logger) (domain.FillReport, domain.ErrorKind, error) {
	rec.State = domain.AttemptSubmitted

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		fill, err := gateway.Submit(callCtx, intent)
		cancel()
		if err == nil {
			return fill, "", nil
		}

		kind := exchange.Classify(err, gateway.Name())
		if !exchange.IsRetryable(kind) {
			return domain.FillReport{}, kind, err
		}
		if attempt >= e.cfg.Retry.MaxAttemptsFor(kind) {
			return domain.FillReport{}, kind, err
		}
		if ctx.Err() != nil {
			return domain.FillReport{}, kind, err
		}

		delay := e.cfg.Retry.Delay(kind, attempt-1)
		log.WarnContext(ctx, "submit failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error_kind", string(kind)),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(delay):
			rec.RetryCount++
		case <-ctx.Done():
			return domain.FillReport{}, kind, err
		}
	}
}

// rollback restores the reservation. It runs on a context detached from
// cancellation: a caller timing out mid-attempt must never leak frozen
// funds.
func (e *Executor) rollback(ctx context.Context, rec *domain.ExecutionRecord, log *slog.Logger) {
	if !rec.Reserved.IsPositive() {
		return
	}
	noCancel := context.WithoutCancel(ctx)
	if _, err := e.accounts.MutateBalance(noCancel, rec.Intent.AccountID, domain.BalanceOpUnfreeze, rec.Reserved); err != nil {
		log.ErrorContext(ctx, "rollback unfreeze failed",
			slog.String("reserved", rec.Reserved.String()),
			slog.String("error", err.Error()),
		)
		e.auditLog(noCancel, "rollback_failed", map[string]any{
			"record_id":  rec.ID,
			"account_id": rec.Intent.AccountID,
			"reserved":   rec.Reserved.String(),
			"error":      err.Error(),
		})
	}
}

// settle releases the reservation and books the fill: buys pay the
// margin-scaled cost plus fee from available funds, sells credit the
// margin-scaled proceeds net of fee (floored at zero). The position is
// updated last, still under the account lock. Settlement runs detached
// from cancellation because the venue fill has already happened.
func (e *Executor) settle(ctx context.Context, rec *domain.ExecutionRecord, fill domain.FillReport, log *slog.Logger) {
	noCancel := context.WithoutCancel(ctx)
	intent := rec.Intent

	if rec.Reserved.IsPositive() {
		if _, err := e.accounts.MutateBalance(noCancel, intent.AccountID, domain.BalanceOpUnfreeze, rec.Reserved); err != nil {
			log.ErrorContext(ctx, "settle unfreeze failed",
				slog.String("reserved", rec.Reserved.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	qty := fill.FilledQuantity
	if !qty.IsPositive() {
		qty = intent.Quantity
	}
	price := fill.AvgPrice
	if !price.IsPositive() {
		price = intent.Price
	}

	cost := qty.Mul(price).Mul(e.cfg.MarginFactor)
	switch intent.Side {
	case domain.OrderSideBuy:
		charge := cost.Add(fill.Fee)
		if charge.IsPositive() {
			if _, err := e.accounts.MutateBalance(noCancel, intent.AccountID, domain.BalanceOpWithdraw, charge); err != nil {
				// The venue filled regardless; record the ledger shortfall
				// instead of un-filling the order.
				log.ErrorContext(ctx, "settlement withdraw failed",
					slog.String("charge", charge.String()),
					slog.String("error", err.Error()),
				)
				e.auditLog(noCancel, "settlement_discrepancy", map[string]any{
					"record_id":  rec.ID,
					"account_id": intent.AccountID,
					"charge":     charge.String(),
					"error":      err.Error(),
				})
			}
		}
	case domain.OrderSideSell:
		proceeds := cost.Sub(fill.Fee)
		if proceeds.IsPositive() {
			if _, err := e.accounts.MutateBalance(noCancel, intent.AccountID, domain.BalanceOpDeposit, proceeds); err != nil {
				log.ErrorContext(ctx, "settlement deposit failed",
					slog.String("proceeds", proceeds.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if _, err := e.positions.ApplyFill(noCancel, intent.AccountID, intent.Symbol, intent.Side, qty, price); err != nil {
		log.ErrorContext(ctx, "position update failed", slog.String("error", err.Error()))
		e.auditLog(noCancel, "position_update_failed", map[string]any{
			"record_id":  rec.ID,
			"account_id": intent.AccountID,
			"symbol":     intent.Symbol,
			"error":      err.Error(),
		})
	}
}

// finish stamps the record terminal and emits it to the execution store,
// audit log, signal bus, and notifier. Every sink is fire-and-forget: a
// failing sink is logged, never propagated into the attempt's outcome.
func (e *Executor) finish(ctx context.Context, rec domain.ExecutionRecord) domain.ExecutionRecord {
	rec.FinishedAt = time.Now().UTC()
	noCancel := context.WithoutCancel(ctx)

	if e.executions != nil {
		if err := e.executions.Insert(noCancel, rec); err != nil {
			e.logger.ErrorContext(ctx, "execution record insert failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.auditLog(noCancel, "execution_"+string(rec.State), map[string]any{
		"record_id":  rec.ID,
		"intent_id":  rec.Intent.ID,
		"account_id": rec.Intent.AccountID,
		"symbol":     rec.Intent.Symbol,
		"state":      string(rec.State),
		"reason":     string(rec.DenyReason),
		"error_kind": string(rec.ErrorKind),
	})

	if e.bus != nil {
		evt, _ := json.Marshal(rec)
		if err := e.bus.Publish(noCancel, domain.ChannelExecutions, evt); err != nil {
			e.logger.WarnContext(ctx, "publish execution failed", slog.String("error", err.Error()))
		}
		if err := e.bus.StreamAppend(noCancel, "stream:"+domain.ChannelExecutions, evt); err != nil {
			e.logger.WarnContext(ctx, "append execution stream failed", slog.String("error", err.Error()))
		}
	}

	e.notify(noCancel, rec)
	return rec
}

func (e *Executor) notify(ctx context.Context, rec domain.ExecutionRecord) {
	if e.notifier == nil {
		return
	}
	var event, title, message string
	switch rec.State {
	case domain.AttemptFilled:
		event = "order_filled"
		title = fmt.Sprintf("Order filled: %s", rec.Intent.Symbol)
		message = fmt.Sprintf("%s %s %s at %s (account %s)",
			rec.Intent.Side, rec.Fill.FilledQuantity, rec.Intent.Symbol, rec.Fill.AvgPrice, rec.Intent.AccountID)
	case domain.AttemptFailed:
		event = "order_failed"
		title = fmt.Sprintf("Order denied: %s", rec.Intent.Symbol)
		message = fmt.Sprintf("%s %s %s denied: %s (account %s)",
			rec.Intent.Side, rec.Intent.Quantity, rec.Intent.Symbol, rec.DenyReason, rec.Intent.AccountID)
	case domain.AttemptRolledBack:
		event = "order_failed"
		title = fmt.Sprintf("Order rolled back: %s", rec.Intent.Symbol)
		message = fmt.Sprintf("%s %s %s rolled back after %d retries: %s (account %s)",
			rec.Intent.Side, rec.Intent.Quantity, rec.Intent.Symbol, rec.RetryCount, rec.ErrorKind, rec.Intent.AccountID)
	default:
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
