package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// AccountService defines the methods that the account handler requires from
// the service layer.
type AccountService interface {
	Create(ctx context.Context, params domain.CreateAccountParams) (domain.AccountSnapshot, error)
	Get(ctx context.Context, id string) (domain.AccountSnapshot, error)
	List(ctx context.Context) ([]domain.AccountSnapshot, error)
	Deposit(ctx context.Context, id string, amount decimal.Decimal) (domain.Balance, error)
	Withdraw(ctx context.Context, id string, amount decimal.Decimal) (domain.Balance, error)
	UpdateLimits(ctx context.Context, id string, limits domain.RiskLimits) error
	SetStatus(ctx context.Context, id string, status domain.AccountStatus) error
	SetLeverage(ctx context.Context, id string, leverage float64) error
}

// AccountHandler serves account management HTTP endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and logger.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// listAccountsResponse wraps the list accounts response.
type listAccountsResponse struct {
	Accounts []domain.AccountSnapshot `json:"accounts"`
}

// CreateAccount registers a new trading account.
// POST /api/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var params domain.CreateAccountParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	snap, err := h.accounts.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAccountType) {
			writeError(w, http.StatusBadRequest, "invalid account type")
			return
		}
		if errors.Is(err, domain.ErrDuplicateAccount) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create account failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// ListAccounts returns all registered accounts.
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list accounts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	if accounts == nil {
		accounts = []domain.AccountSnapshot{}
	}

	writeJSON(w, http.StatusOK, listAccountsResponse{Accounts: accounts})
}

// GetAccount returns a single account snapshot by ID.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	snap, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get account failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// fundsRequest carries the amount for deposit and withdraw calls.
type fundsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit credits available funds on an account.
// POST /api/accounts/{id}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutateFunds(w, r, h.accounts.Deposit)
}

// Withdraw debits available funds from an account.
// POST /api/accounts/{id}/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutateFunds(w, r, h.accounts.Withdraw)
}

func (h *AccountHandler) mutateFunds(w http.ResponseWriter, r *http.Request, op func(context.Context, string, decimal.Decimal) (domain.Balance, error)) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	balance, err := op(r.Context(), id, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, domain.ErrInsufficientAvailable):
			writeError(w, http.StatusUnprocessableEntity, "insufficient available balance")
		default:
			h.logger.ErrorContext(r.Context(), "handler: balance mutation failed",
				slog.String("account_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to update balance")
		}
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

// UpdateLimits replaces the risk limits on an account.
// PUT /api/accounts/{id}/limits
func (h *AccountHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var limits domain.RiskLimits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.accounts.UpdateLimits(r.Context(), id, limits); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidLimits):
			writeError(w, http.StatusBadRequest, "invalid risk limits")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		default:
			h.logger.ErrorContext(r.Context(), "handler: update limits failed",
				slog.String("account_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to update limits")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "updated",
		"account_id": id,
	})
}

// statusRequest carries the target account status.
type statusRequest struct {
	Status domain.AccountStatus `json:"status"`
}

// SetStatus changes the lifecycle status of an account.
// PUT /api/accounts/{id}/status
func (h *AccountHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be active, suspended, or closed")
		return
	}

	if err := h.accounts.SetStatus(r.Context(), id, req.Status); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		default:
			h.logger.ErrorContext(r.Context(), "handler: set status failed",
				slog.String("account_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to set status")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "updated",
		"account_id": id,
	})
}

// leverageRequest carries the target leverage multiplier.
type leverageRequest struct {
	Leverage float64 `json:"leverage"`
}

// SetLeverage changes the leverage multiplier on an account.
// PUT /api/accounts/{id}/leverage
func (h *AccountHandler) SetLeverage(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var req leverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.accounts.SetLeverage(r.Context(), id, req.Leverage); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "leverage must be positive")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		default:
			h.logger.ErrorContext(r.Context(), "handler: set leverage failed",
				slog.String("account_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to set leverage")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "updated",
		"account_id": id,
	})
}
