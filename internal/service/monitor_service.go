package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// MonitorConfig tunes the background risk sweep.
type MonitorConfig struct {
	Interval      time.Duration // sweep cadence
	StaleAfter    time.Duration // mark price age that counts as stale
	AlertCooldown time.Duration // suppression window for repeated alerts
}

// DefaultMonitorConfig returns the engine defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:      time.Minute,
		StaleAfter:    5 * time.Minute,
		AlertCooldown: 10 * time.Minute,
	}
}

// Notifier pushes alerts to external channels. The notify package satisfies
// this.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RiskMonitor periodically sweeps every account for conditions the
// pre-trade evaluator cannot see: intraday drawdown, position
// concentration, options premium exposure, stale mark prices, and ledger
// corruption. Alerts go to the signal bus, the audit log, and the
// notifier; the monitor never blocks trading itself.
type RiskMonitor struct {
	accounts  domain.AccountStore
	positions domain.PositionStore
	prices    domain.PriceCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	notifier  Notifier
	cfg       MonitorConfig
	logger    *slog.Logger

	mu        sync.Mutex
	dayStart  map[string]dayEquity
	lastAlert map[string]time.Time

	now func() time.Time
}

type dayEquity struct {
	day    string
	equity decimal.Decimal
}

// NewRiskMonitor creates a monitor. prices, bus, audit, and notifier may
// each be nil; the corresponding checks or sinks are skipped.
func NewRiskMonitor(
	accounts domain.AccountStore,
	positions domain.PositionStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	cfg MonitorConfig,
	logger *slog.Logger,
) *RiskMonitor {
	defaults := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = defaults.AlertCooldown
	}
	return &RiskMonitor{
		accounts:  accounts,
		positions: positions,
		prices:    prices,
		bus:       bus,
		audit:     audit,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk_monitor")),
		dayStart:  make(map[string]dayEquity),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (m *RiskMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "risk monitor started",
		slog.Duration("interval", m.cfg.Interval),
	)
	if _, err := m.Sweep(ctx); err != nil {
		m.logger.ErrorContext(ctx, "risk sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("risk monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.ErrorContext(ctx, "risk sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep evaluates every account once and returns the alerts raised, after
// cooldown suppression.
func (m *RiskMonitor) Sweep(ctx context.Context) ([]domain.RiskAlert, error) {
	snaps, err := m.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk_monitor: list accounts: %w", err)
	}

	var raised []domain.RiskAlert
	for _, snap := range snaps {
		var alerts []domain.RiskAlert
		alerts = append(alerts, m.checkLedger(snap)...)
		alerts = append(alerts, m.checkDailyLoss(snap)...)

		positions, posErr := m.positions.List(ctx, snap.Account.ID)
		if posErr != nil {
			m.logger.WarnContext(ctx, "list positions failed",
				slog.String("account_id", snap.Account.ID),
				slog.String("error", posErr.Error()),
			)
		} else {
			alerts = append(alerts, m.checkPositions(ctx, snap, positions)...)
			if snap.Account.Type == domain.AccountTypeOptions {
				alerts = append(alerts, m.checkPremium(ctx, snap, positions)...)
			}
		}

		for _, alert := range alerts {
			if m.suppressed(alert) {
				continue
			}
			m.emit(ctx, alert)
			raised = append(raised, alert)
		}
	}
	return raised, nil
}

// checkLedger verifies the balance identity. A violation means a store bug
// and is always critical.
func (m *RiskMonitor) checkLedger(snap domain.AccountSnapshot) []domain.RiskAlert {
	b := snap.Balance
	if b.Total.Equal(b.Available.Add(b.Frozen)) && !b.Available.IsNegative() && !b.Frozen.IsNegative() {
		return nil
	}
	return []domain.RiskAlert{m.newAlert(
		"balance_mismatch", domain.SeverityCritical, snap.Account.ID, "",
		fmt.Sprintf("balance identity violated: total=%s available=%s frozen=%s",
			b.Total, b.Available, b.Frozen),
		b.Total.InexactFloat64(), 0,
	)}
}

func (m *RiskMonitor) checkDailyLoss(snap domain.AccountSnapshot) []domain.RiskAlert {
	limit := snap.Limits.MaxDailyLossRatio
	if limit <= 0 {
		return nil
	}
	start := m.dayStartEquity(snap.Account.ID, snap.Balance.Total)
	if !start.IsPositive() {
		return nil
	}

	loss := start.Sub(snap.Balance.Total)
	ratio, _ := loss.Div(start).Float64()
	switch {
	case ratio >= limit:
		return []domain.RiskAlert{m.newAlert(
			"daily_loss", domain.SeverityCritical, snap.Account.ID, "",
			fmt.Sprintf("daily loss %.1f%% breaches the %.1f%% limit", ratio*100, limit*100),
			ratio, limit,
		)}
	case ratio >= limit*0.8:
		return []domain.RiskAlert{m.newAlert(
			"daily_loss", domain.SeverityHigh, snap.Account.ID, "",
			fmt.Sprintf("daily loss %.1f%% approaching the %.1f%% limit", ratio*100, limit*100),
			ratio, limit,
		)}
	}
	return nil
}

func (m *RiskMonitor) checkPositions(ctx context.Context, snap domain.AccountSnapshot, positions []domain.Position) []domain.RiskAlert {
	limit := snap.Limits.MaxSymbolPosition
	var alerts []domain.RiskAlert
	for _, pos := range positions {
		if limit.IsPositive() {
			ratio, _ := pos.Quantity.Abs().Div(limit).Float64()
			switch {
			case ratio > 1:
				alerts = append(alerts, m.newAlert(
					"position_concentration", domain.SeverityCritical, snap.Account.ID, pos.Symbol,
					fmt.Sprintf("%s position %s exceeds the %s cap", pos.Symbol, pos.Quantity.Abs(), limit),
					ratio, 1,
				))
			case ratio >= 0.8:
				alerts = append(alerts, m.newAlert(
					"position_concentration", domain.SeverityHigh, snap.Account.ID, pos.Symbol,
					fmt.Sprintf("%s position %s at %.0f%% of the %s cap", pos.Symbol, pos.Quantity.Abs(), ratio*100, limit),
					ratio, 0.8,
				))
			}
		}
		if alert, ok := m.checkStalePrice(ctx, snap.Account.ID, pos.Symbol); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func (m *RiskMonitor) checkStalePrice(ctx context.Context, accountID, symbol string) (domain.RiskAlert, bool) {
	if m.prices == nil {
		return domain.RiskAlert{}, false
	}
	_, ts, err := m.prices.GetPrice(ctx, symbol)
	if err != nil {
		// Symbols outside the feed's universe have no mark at all; that is
		// not staleness.
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.WarnContext(ctx, "price lookup failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		return domain.RiskAlert{}, false
	}
	age := m.now().Sub(ts)
	if age <= m.cfg.StaleAfter {
		return domain.RiskAlert{}, false
	}
	return m.newAlert(
		"stale_price", domain.SeverityMedium, accountID, symbol,
		fmt.Sprintf("mark price for %s is %s old", symbol, age.Round(time.Second)),
		age.Seconds(), m.cfg.StaleAfter.Seconds(),
	), true
}

// checkPremium estimates options premium exposure as the marked notional of
// all open positions relative to account equity.
func (m *RiskMonitor) checkPremium(ctx context.Context, snap domain.AccountSnapshot, positions []domain.Position) []domain.RiskAlert {
	limit := snap.Limits.MaxPremiumRatio
	if limit <= 0 || !snap.Balance.Total.IsPositive() {
		return nil
	}

	premium := decimal.Zero
	for _, pos := range positions {
		price := pos.EntryPrice
		if m.prices != nil {
			if mark, _, err := m.prices.GetPrice(ctx, pos.Symbol); err == nil && mark > 0 {
				price = decimal.NewFromFloat(mark)
			}
		}
		premium = premium.Add(pos.Quantity.Abs().Mul(price))
	}

	ratio, _ := premium.Div(snap.Balance.Total).Float64()
	if ratio <= limit {
		return nil
	}
	return []domain.RiskAlert{m.newAlert(
		"premium_exposure", domain.SeverityHigh, snap.Account.ID, "",
		fmt.Sprintf("premium exposure %.1f%% breaches the %.1f%% limit", ratio*100, limit*100),
		ratio, limit,
	)}
}

// dayStartEquity returns the account's equity at first observation of the
// current UTC day, recording it when the day rolls over.
func (m *RiskMonitor) dayStartEquity(accountID string, total decimal.Decimal) decimal.Decimal {
	day := m.now().UTC().Format("2006-01-02")
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dayStart[accountID]
	if !ok || e.day != day {
		m.dayStart[accountID] = dayEquity{day: day, equity: total}
		return total
	}
	return e.equity
}

func (m *RiskMonitor) newAlert(typ string, severity domain.AlertSeverity, accountID, symbol, message string, value, threshold float64) domain.RiskAlert {
	return domain.RiskAlert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  severity,
		Message:   message,
		AccountID: accountID,
		Symbol:    symbol,
		Value:     value,
		Threshold: threshold,
		Time:      m.now().UTC(),
	}
}

func (m *RiskMonitor) suppressed(alert domain.RiskAlert) bool {
	key := alert.Type + "|" + alert.AccountID + "|" + alert.Symbol
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastAlert[key]; ok && m.now().Sub(last) < m.cfg.AlertCooldown {
		return true
	}
	m.lastAlert[key] = m.now()
	return false
}

func (m *RiskMonitor) emit(ctx context.Context, alert domain.RiskAlert) {
	m.logger.WarnContext(ctx, "risk alert",
		slog.String("type", alert.Type),
		slog.String("severity", string(alert.Severity)),
		slog.String("account_id", alert.AccountID),
		slog.String("symbol", alert.Symbol),
		slog.String("message", alert.Message),
	)

	if m.bus != nil {
		evt, _ := json.Marshal(alert)
		if err := m.bus.Publish(ctx, domain.ChannelRiskAlerts, evt); err != nil {
			m.logger.WarnContext(ctx, "publish alert failed", slog.String("error", err.Error()))
		}
		if err := m.bus.StreamAppend(ctx, "stream:"+domain.ChannelRiskAlerts, evt); err != nil {
			m.logger.WarnContext(ctx, "append alert stream failed", slog.String("error", err.Error()))
		}
	}
	if m.audit != nil {
		if err := m.audit.Log(ctx, "risk_alert", map[string]any{
			"alert_id":   alert.ID,
			"type":       alert.Type,
			"severity":   string(alert.Severity),
			"account_id": alert.AccountID,
			"symbol":     alert.Symbol,
			"message":    alert.Message,
		}); err != nil {
			m.logger.WarnContext(ctx, "audit alert failed", slog.String("error", err.Error()))
		}
	}
	if m.notifier != nil {
		title := fmt.Sprintf("Risk alert (%s): %s", alert.Severity, alert.Type)
		if err := m.notifier.Notify(ctx, "risk_alert", title, alert.Message); err != nil {
			m.logger.WarnContext(ctx, "notify alert failed", slog.String("error", err.Error()))
		}
	}
}
