package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// ExecutionQuery defines the read methods that the execution handler
// requires from the execution store.
type ExecutionQuery interface {
	Get(ctx context.Context, id string) (domain.ExecutionRecord, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error)
	ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error)
}

// ExecutionHandler serves execution history endpoints.
type ExecutionHandler struct {
	executions ExecutionQuery
	logger     *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler with the given store and logger.
func NewExecutionHandler(executions ExecutionQuery, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		executions: executions,
		logger:     logger,
	}
}

// listExecutionsResponse wraps the list executions response.
type listExecutionsResponse struct {
	Executions []domain.ExecutionRecord `json:"executions"`
}

// ListExecutions returns execution records newest first, optionally scoped
// to one account and bounded by a since/until window.
// GET /api/executions?account_id=...&since=...&until=...&limit=50&offset=0
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		records []domain.ExecutionRecord
		err     error
	)
	if accountID := r.URL.Query().Get("account_id"); accountID != "" {
		records, err = h.executions.ListByAccount(r.Context(), accountID, opts)
	} else {
		records, err = h.executions.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if records == nil {
		records = []domain.ExecutionRecord{}
	}

	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: records})
}

// ListAccountExecutions returns the execution history for one account.
// GET /api/accounts/{id}/executions
func (h *ExecutionHandler) ListAccountExecutions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	records, err := h.executions.ListByAccount(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list account executions failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if records == nil {
		records = []domain.ExecutionRecord{}
	}

	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: records})
}

// GetExecution returns a single execution record by its ID.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}

	rec, err := h.executions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get execution failed",
			slog.String("execution_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
