// Package app provides the top-level application lifecycle for the order
// execution engine. It wires together all dependencies (stores, caches,
// gateways, archival, and notifications) and starts the goroutines for the
// configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/config"
	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/service"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	version   string
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration, build version, and
// logger.
func New(cfg *config.Config, version string, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		version:   version,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run is the main entry point. It wires all dependencies, seeds configured
// accounts, starts the goroutines for the operating mode, and blocks until
// the context is cancelled. On return it runs all registered cleanup
// functions via Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("version", a.version),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.seedAccounts(ctx, deps); err != nil {
		return err
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "serve", "paper":
		return a.ServeMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// seedAccounts creates the configured accounts if they do not exist yet. An
// account that already exists is left untouched, including its balance, so
// restarts do not re-apply deposits.
func (a *App) seedAccounts(ctx context.Context, deps *Dependencies) error {
	if len(a.cfg.Accounts) == 0 {
		return nil
	}

	svc := service.NewAccountService(deps.Accounts, deps.Positions, deps.Bus, deps.Audit, a.logger)
	for _, seed := range a.cfg.Accounts {
		_, err := svc.Create(ctx, domain.CreateAccountParams{
			ID:       seed.ID,
			Type:     domain.AccountType(seed.Type),
			Exchange: seed.Exchange,
		})
		if errors.Is(err, domain.ErrDuplicateAccount) {
			a.logger.DebugContext(ctx, "seed account already exists",
				slog.String("account_id", seed.ID),
			)
			continue
		}
		if err != nil {
			return fmt.Errorf("app: seed account %s: %w", seed.ID, err)
		}
		if seed.Deposit > 0 {
			if _, err := svc.Deposit(ctx, seed.ID, decimal.NewFromFloat(seed.Deposit)); err != nil {
				return fmt.Errorf("app: seed deposit %s: %w", seed.ID, err)
			}
		}
		a.logger.InfoContext(ctx, "seeded account",
			slog.String("account_id", seed.ID),
			slog.String("exchange", seed.Exchange),
			slog.Float64("deposit", seed.Deposit),
		)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
