package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// RiskService defines the methods that the risk handler requires.
type RiskService interface {
	Check(ctx context.Context, intent domain.TradeIntent) (domain.RiskDecision, error)
}

// AlertStream reads back the durable tail of published risk alerts.
type AlertStream interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// RiskHandler serves the risk dry-run and alert history endpoints.
type RiskHandler struct {
	risk   RiskService
	alerts AlertStream
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler with the given service, stream, and logger.
func NewRiskHandler(risk RiskService, alerts AlertStream, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		risk:   risk,
		alerts: alerts,
		logger: logger,
	}
}

// CheckIntent runs the full risk gate against an intent without reserving
// funds or submitting anything. The decision reflects current balances and
// positions and can go stale the moment it is returned.
// POST /api/risk/check
func (h *RiskHandler) CheckIntent(w http.ResponseWriter, r *http.Request) {
	var intent domain.TradeIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision, err := h.risk.Check(r.Context(), intent)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidIntent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		default:
			h.logger.ErrorContext(r.Context(), "handler: risk check failed",
				slog.String("account_id", intent.AccountID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to run risk check")
		}
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// alertMessage is one stream entry with its payload embedded as raw JSON.
type alertMessage struct {
	ID    string          `json:"id"`
	Alert json.RawMessage `json:"alert"`
}

// listAlertsResponse wraps the alert history response. LastID is the cursor
// to pass as last_id on the next call.
type listAlertsResponse struct {
	Alerts []alertMessage `json:"alerts"`
	LastID string         `json:"last_id,omitempty"`
}

// ListAlerts returns risk monitor alerts from the durable stream, oldest
// first, starting after the last_id cursor.
// GET /api/risk/alerts?last_id=0&limit=50
func (h *RiskHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lastID := q.Get("last_id")
	if lastID == "" {
		lastID = "0"
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	msgs, err := h.alerts.StreamRead(r.Context(), "stream:"+domain.ChannelRiskAlerts, lastID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list alerts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read alerts")
		return
	}

	resp := listAlertsResponse{Alerts: make([]alertMessage, 0, len(msgs))}
	for _, m := range msgs {
		resp.Alerts = append(resp.Alerts, alertMessage{ID: m.ID, Alert: json.RawMessage(m.Payload)})
	}
	if len(msgs) > 0 {
		resp.LastID = msgs[len(msgs)-1].ID
	}

	writeJSON(w, http.StatusOK, resp)
}
