package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// OrderService defines the methods that the order handler requires from the
// execution engine.
type OrderService interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (domain.ExecutionRecord, error)
	Enqueue(ctx context.Context, intent domain.TradeIntent) error
}

// OrderHandler serves the order submission endpoint.
type OrderHandler struct {
	engine OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given engine and logger.
func NewOrderHandler(engine OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: engine,
		logger: logger,
	}
}

// enqueuedResponse acknowledges an asynchronous submission.
type enqueuedResponse struct {
	Status   string `json:"status"`
	IntentID string `json:"intent_id"`
}

// SubmitOrder runs a trade intent through the risk gate and out to the
// exchange. By default the call is synchronous and returns the terminal
// execution record: 201 when the order filled, 422 when it was denied or
// rolled back. With ?async=true the intent is queued and acknowledged with
// 202 before any work happens.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var intent domain.TradeIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if r.URL.Query().Get("async") == "true" {
		intent.Normalize()
		if err := intent.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.engine.Enqueue(r.Context(), intent); err != nil {
			h.writeEngineError(w, r, intent, err)
			return
		}
		writeJSON(w, http.StatusAccepted, enqueuedResponse{
			Status:   "accepted",
			IntentID: intent.ID,
		})
		return
	}

	rec, err := h.engine.Execute(r.Context(), intent)
	if err != nil {
		h.writeEngineError(w, r, intent, err)
		return
	}

	// A terminal record is returned even when the order did not fill, so
	// callers can inspect the deny reason or error kind.
	status := http.StatusCreated
	if rec.State != domain.AttemptFilled {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, rec)
}

func (h *OrderHandler) writeEngineError(w http.ResponseWriter, r *http.Request, intent domain.TradeIntent, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidIntent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateIntent):
		writeError(w, http.StatusConflict, "duplicate intent id")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, domain.ErrUnknownExchange):
		writeError(w, http.StatusBadRequest, "unknown exchange")
	case errors.Is(err, domain.ErrLockNotAcquired):
		writeError(w, http.StatusServiceUnavailable, "account busy, retry later")
	default:
		h.logger.ErrorContext(r.Context(), "handler: submit order failed",
			slog.String("intent_id", intent.ID),
			slog.String("account_id", intent.AccountID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit order")
	}
}
