package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/ordergate/internal/cache/memory"
	"github.com/alanyoungcy/ordergate/internal/domain"
	"github.com/alanyoungcy/ordergate/internal/exchange"
	"github.com/alanyoungcy/ordergate/internal/exchange/paper"
	"github.com/alanyoungcy/ordergate/internal/executor"
	"github.com/alanyoungcy/ordergate/internal/server/handler"
	"github.com/alanyoungcy/ordergate/internal/server/ws"
	"github.com/alanyoungcy/ordergate/internal/service"
	memstore "github.com/alanyoungcy/ordergate/internal/store/memory"
)

// newTestServer wires the whole API against in-memory backends: one funded
// paper account and a live price for BTCUSDT.
func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelError}))

	accounts := memstore.NewAccountStore()
	positions := memstore.NewPositionStore()
	executions := memstore.NewExecutionStore()
	audit := memstore.NewAuditStore()
	bus := memcache.NewSignalBus()
	prices := memcache.NewPriceCache()
	locks := memcache.NewLockManager()

	ctx := context.Background()
	_, err := accounts.Create(ctx, domain.CreateAccountParams{
		ID: "acct-1", Type: domain.AccountTypeSpot, Exchange: "paper",
	})
	require.NoError(t, err)
	_, err = accounts.MutateBalance(ctx, "acct-1", domain.BalanceOpDeposit, decimal.NewFromInt(10000))
	require.NoError(t, err)
	require.NoError(t, prices.SetPrice(ctx, "BTCUSDT", 50.0, time.Now().UTC()))

	evaluator := service.NewRiskEvaluator(service.DefaultRiskConfig(), logger)
	gateway := paper.New(paper.Config{}, prices, logger)
	engine := executor.New(
		accounts, positions, executions, audit, locks, evaluator,
		map[string]domain.ExchangeGateway{"paper": gateway},
		bus, nil,
		executor.Config{Retry: exchange.RetryPolicy{DefaultAttempts: 1, DefaultBase: time.Millisecond, MaxDelay: time.Millisecond}},
		logger,
	)

	accountSvc := service.NewAccountService(accounts, positions, bus, audit, logger)
	riskSvc := service.NewRiskCheckService(accounts, positions, evaluator)

	handlers := Handlers{
		Health:     handler.NewHealthHandler(logger),
		Status:     handler.NewStatusHandler("paper", "test", time.Now()),
		Accounts:   handler.NewAccountHandler(accountSvc, logger),
		Orders:     handler.NewOrderHandler(engine, logger),
		Executions: handler.NewExecutionHandler(executions, logger),
		Positions:  handler.NewPositionHandler(accountSvc, logger),
		Risk:       handler.NewRiskHandler(riskSvc, bus, logger),
		Audit:      handler.NewAuditHandler(audit, logger),
	}

	hub := ws.NewHub(bus, logger, ws.Config{Mode: "paper", StartedAt: time.Now()})
	srv := NewServer(Config{Port: 0, APIKey: apiKey}, handlers, hub, nil, logger)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path, apiKey string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func post(t *testing.T, ts *httptest.Server, path, apiKey, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func TestHealthBypassesAuth(t *testing.T) {
	ts := newTestServer(t, "secret")

	resp, _ := get(t, ts, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts, "/api/accounts", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts, "/api/accounts", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrderRoundTrip(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := post(t, ts, "/api/orders", "",
		`{"account_id":"acct-1","symbol":"BTCUSDT","side":"buy","order_type":"market","quantity":"100"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var rec domain.ExecutionRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, domain.AttemptFilled, rec.State)
	require.NotNil(t, rec.Fill)
	assert.True(t, rec.Fill.FilledQuantity.Equal(decimal.NewFromInt(100)))

	// The record is queryable afterwards.
	resp, body = get(t, ts, "/api/executions/"+rec.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// And the position reflects the fill.
	resp, body = get(t, ts, "/api/accounts/acct-1/positions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var positions struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(body, &positions))
	require.Len(t, positions.Positions, 1)
	assert.True(t, positions.Positions[0].Quantity.Equal(decimal.NewFromInt(100)))
}

func TestOrderDeniedReturns422(t *testing.T) {
	ts := newTestServer(t, "")

	// Quantity beyond the per-trade default limit for spot accounts.
	resp, body := post(t, ts, "/api/orders", "",
		`{"account_id":"acct-1","symbol":"BTCUSDT","side":"buy","order_type":"market","quantity":"5000"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var rec domain.ExecutionRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, domain.AttemptFailed, rec.State)
	assert.Equal(t, domain.DenyExceedsTradeLimit, rec.DenyReason)
}

func TestUnknownRouteIs404(t *testing.T) {
	ts := newTestServer(t, "")
	resp, _ := get(t, ts, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
