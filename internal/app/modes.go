package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/exchange"
	"github.com/alanyoungcy/ordergate/internal/executor"
	"github.com/alanyoungcy/ordergate/internal/feed"
	"github.com/alanyoungcy/ordergate/internal/notify"
	"github.com/alanyoungcy/ordergate/internal/server"
	"github.com/alanyoungcy/ordergate/internal/server/handler"
	"github.com/alanyoungcy/ordergate/internal/server/ws"
	"github.com/alanyoungcy/ordergate/internal/service"
)

// ServeMode runs the full execution engine: the executor loop, intent intake
// from the signal bus, the optional price feed and risk monitor, execution
// archival, and the HTTP/WebSocket API. Paper mode reuses this path with
// every routing key pointing at the simulator.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("mode", a.cfg.Mode),
		slog.Int("gateways", len(deps.Gateways)),
	)

	g, ctx := errgroup.WithContext(ctx)

	evaluator := service.NewRiskEvaluator(a.riskConfig(), a.logger)

	engine := executor.New(
		deps.Accounts,
		deps.Positions,
		deps.Executions,
		deps.Audit,
		deps.Locks,
		evaluator,
		deps.Gateways,
		deps.Bus,
		deps.Notifier,
		executor.Config{
			MarginFactor:  decimal.NewFromFloat(a.cfg.Engine.MarginFactor),
			SubmitTimeout: a.cfg.Engine.SubmitTimeout.Duration,
			LockTTL:       a.cfg.Engine.LockTTL.Duration,
			DedupTTL:      a.cfg.Engine.DedupTTL.Duration,
			QueueSize:     a.cfg.Engine.QueueSize,
			Retry:         a.retryPolicy(),
		},
		a.logger,
	)
	g.Go(func() error { return engine.Run(ctx) })

	intake := feed.NewIntentIntake(deps.Bus, engine, a.logger)
	g.Go(func() error { return intake.Run(ctx) })

	if a.cfg.Feed.Enabled {
		prices := feed.NewPriceFeed(feed.PriceFeedConfig{
			URL:     a.cfg.Feed.URL,
			Symbols: a.cfg.Feed.Symbols,
		}, deps.Prices, deps.Bus, a.logger)
		g.Go(func() error { return prices.Run(ctx) })
	}

	if a.cfg.RiskMonitor.Enabled {
		monitor := a.newRiskMonitor(deps)
		g.Go(func() error { return monitor.Run(ctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, evaluator, engine)
	}

	a.notifyLifecycle(ctx, deps, notify.EventEngineStarted, "Engine started")
	err := g.Wait()
	a.notifyLifecycle(ctx, deps, notify.EventEngineStopped, "Engine stopped")
	return err
}

// MonitorMode runs the risk sweep loop and the read-only API. No gateways
// are connected and the order submission route is absent, so the process
// can observe a shared store without being able to trade against it.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting risk monitor",
		slog.String("mode", a.cfg.Mode),
	)

	g, ctx := errgroup.WithContext(ctx)

	if !a.cfg.RiskMonitor.Enabled {
		a.logger.WarnContext(ctx, "risk_monitor.enabled is false, but monitor mode always runs the sweep loop")
	}
	monitor := a.newRiskMonitor(deps)
	g.Go(func() error { return monitor.Run(ctx) })

	if a.cfg.Feed.Enabled {
		prices := feed.NewPriceFeed(feed.PriceFeedConfig{
			URL:     a.cfg.Feed.URL,
			Symbols: a.cfg.Feed.Symbols,
		}, deps.Prices, deps.Bus, a.logger)
		g.Go(func() error { return prices.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		evaluator := service.NewRiskEvaluator(a.riskConfig(), a.logger)
		a.startHTTPServer(ctx, g, deps, evaluator, nil)
	}

	return g.Wait()
}

// startHTTPServer wires the handler set and runs the HTTP server and the
// WebSocket hub on the group. engine is nil in monitor mode, which leaves
// the order submission route unregistered.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, evaluator *service.RiskEvaluator, engine *executor.Executor) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error { return hub.Run(ctx) })

	accountSvc := service.NewAccountService(deps.Accounts, deps.Positions, deps.Bus, deps.Audit, a.logger)
	riskSvc := service.NewRiskCheckService(deps.Accounts, deps.Positions, evaluator)

	var orders *handler.OrderHandler
	if engine != nil {
		orders = handler.NewOrderHandler(engine, a.logger)
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, a.version, a.startedAt),
		Accounts:   handler.NewAccountHandler(accountSvc, a.logger),
		Orders:     orders,
		Executions: handler.NewExecutionHandler(deps.Executions, a.logger),
		Positions:  handler.NewPositionHandler(accountSvc, a.logger),
		Risk:       handler.NewRiskHandler(riskSvc, deps.Bus, a.logger),
		Audit:      handler.NewAuditHandler(deps.Audit, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) riskConfig() service.RiskConfig {
	return service.RiskConfig{
		MarginFactor:     decimal.NewFromFloat(a.cfg.Engine.MarginFactor),
		DefaultSymbolCap: decimal.NewFromFloat(a.cfg.Engine.DefaultSymbolCap),
	}
}

func (a *App) newRiskMonitor(deps *Dependencies) *service.RiskMonitor {
	return service.NewRiskMonitor(
		deps.Accounts,
		deps.Positions,
		deps.Prices,
		deps.Bus,
		deps.Audit,
		deps.Notifier,
		service.MonitorConfig{
			Interval:      a.cfg.RiskMonitor.Interval.Duration,
			StaleAfter:    a.cfg.RiskMonitor.StaleAfter.Duration,
			AlertCooldown: a.cfg.RiskMonitor.AlertCooldown.Duration,
		},
		a.logger,
	)
}

// retryPolicy translates the configured retry knobs onto the built-in
// policy. Zero-valued fields keep their defaults; auth and validation
// failures always stop after the first call.
func (a *App) retryPolicy() exchange.RetryPolicy {
	p := exchange.DefaultRetryPolicy()
	r := a.cfg.Engine.Retry
	if r.NetworkAttempts > 0 {
		p.MaxAttempts[domain.ErrorKindNetwork] = r.NetworkAttempts
	}
	if r.RateLimitAttempts > 0 {
		p.MaxAttempts[domain.ErrorKindRateLimit] = r.RateLimitAttempts
	}
	if r.DefaultAttempts > 0 {
		p.DefaultAttempts = r.DefaultAttempts
	}
	if r.NetworkBase.Duration > 0 {
		p.BaseDelay[domain.ErrorKindNetwork] = r.NetworkBase.Duration
	}
	if r.RateLimitBase.Duration > 0 {
		p.BaseDelay[domain.ErrorKindRateLimit] = r.RateLimitBase.Duration
	}
	if r.DefaultBase.Duration > 0 {
		p.DefaultBase = r.DefaultBase.Duration
	}
	if r.MaxDelay.Duration > 0 {
		p.MaxDelay = r.MaxDelay.Duration
	}
	return p
}

// notifyLifecycle sends an engine lifecycle notification on a short,
// cancellation-independent context so the stopped event still goes out
// during shutdown.
func (a *App) notifyLifecycle(ctx context.Context, deps *Dependencies, event, title string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	message := fmt.Sprintf("mode=%s version=%s", a.cfg.Mode, a.version)
	if err := deps.Notifier.Notify(nctx, event, title, message); err != nil {
		a.logger.WarnContext(nctx, "lifecycle notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
