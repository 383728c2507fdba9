// Package server exposes the execution engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/server/handler"
	"github.com/alanyoungcy/ordergate/internal/server/middleware"
	"github.com/alanyoungcy/ordergate/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting even when a limiter is supplied.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Accounts   *handler.AccountHandler
	Orders     *handler.OrderHandler
	Executions *handler.ExecutionHandler
	Positions  *handler.PositionHandler
	Risk       *handler.RiskHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API for the execution engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain wired: CORS, request logging, rate limiting, and
// API-key auth, outermost first. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (bypasses auth).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Account endpoints.
	mux.HandleFunc("POST /api/accounts", handlers.Accounts.CreateAccount)
	mux.HandleFunc("GET /api/accounts", handlers.Accounts.ListAccounts)
	mux.HandleFunc("GET /api/accounts/{id}", handlers.Accounts.GetAccount)
	mux.HandleFunc("POST /api/accounts/{id}/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("POST /api/accounts/{id}/withdraw", handlers.Accounts.Withdraw)
	mux.HandleFunc("PUT /api/accounts/{id}/limits", handlers.Accounts.UpdateLimits)
	mux.HandleFunc("PUT /api/accounts/{id}/status", handlers.Accounts.SetStatus)
	mux.HandleFunc("PUT /api/accounts/{id}/leverage", handlers.Accounts.SetLeverage)
	mux.HandleFunc("GET /api/accounts/{id}/positions", handlers.Positions.ListAccountPositions)
	mux.HandleFunc("GET /api/accounts/{id}/executions", handlers.Executions.ListAccountExecutions)

	// Order submission (absent when the engine runs without an executor).
	if handlers.Orders != nil {
		mux.HandleFunc("POST /api/orders", handlers.Orders.SubmitOrder)
	}

	// Execution history.
	mux.HandleFunc("GET /api/executions", handlers.Executions.ListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", handlers.Executions.GetExecution)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)

	// Risk endpoints.
	mux.HandleFunc("POST /api/risk/check", handlers.Risk.CheckIntent)
	mux.HandleFunc("GET /api/risk/alerts", handlers.Risk.ListAlerts)

	// Audit log.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey, "/api/health")(h)

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)

	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
