// Package handlers exposes the transfer engine over HTTP JSON.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/skillsbank/transaction-service/internal/domain"
	"github.com/skillsbank/transaction-service/internal/middleware"
)

const serviceName = "transaction-service"

// TransferEngine is the part of the transfer service the handlers need.
type TransferEngine interface {
	ExecuteTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error)
	ListTransactions(ctx context.Context, email string, accountID uuid.UUID, limit int) ([]domain.TransactionRecord, error)
}

// Handler serves the transaction endpoints.
type Handler struct {
	engine TransferEngine
	logger *slog.Logger
}

// NewHandler creates a Handler backed by the given engine.
func NewHandler(engine TransferEngine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

type transferRequestBody struct {
	Email           string `json:"email"`
	AccountIDSource string `json:"account_id_source"`
	AccountIDTarget string `json:"account_id_target"`
	Amount          string `json:"amount"`
}

type transferResponse struct {
	Msg           string `json:"msg"`
	TransactionID string `json:"transaction_id"`
}

// Transfer handles POST /v1/transaction/transfer.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var body transferRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to parse request body")
		return
	}

	if body.Email == "" {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "email is required")
		return
	}

	sourceID, err := uuid.Parse(body.AccountIDSource)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "account_id_source is not a valid UUID")
		return
	}

	targetID, err := uuid.Parse(body.AccountIDTarget)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "account_id_target is not a valid UUID")
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "amount is not a valid number")
		return
	}

	req := domain.TransferRequest{
		Email:          body.Email,
		SourceID:       sourceID,
		TargetID:       targetID,
		Amount:         amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}

	result, err := h.engine.ExecuteTransfer(r.Context(), req)
	if err != nil {
		middleware.TransfersTotal.WithLabelValues(outcomeLabel(err)).Inc()
		h.handleDomainError(w, r, err)
		return
	}
	middleware.TransfersTotal.WithLabelValues("completed").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transferResponse{
		Msg:           "transfer has been completed",
		TransactionID: result.TransactionID.String(),
	})
}

type transactionItem struct {
	ID              string `json:"id"`
	AccountIDFrom   string `json:"account_id_from"`
	AccountIDTo     string `json:"account_id_to"`
	Amount          string `json:"amount"`
	TransactionType string `json:"transaction_type"`
	CreatedAt       string `json:"created_at"`
}

type listTransactionsResponse struct {
	Transactions []transactionItem `json:"transactions"`
}

// ListTransactions handles GET /v1/transaction/list_transaction.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "email is required")
		return
	}

	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "account_id is not a valid UUID")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
	}

	records, err := h.engine.ListTransactions(r.Context(), email, accountID, limit)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	items := make([]transactionItem, 0, len(records))
	for _, rec := range records {
		items = append(items, transactionItem{
			ID:              rec.ID.String(),
			AccountIDFrom:   rec.FromAccountID.String(),
			AccountIDTo:     rec.ToAccountID.String(),
			Amount:          rec.Amount.StringFixed(2),
			TransactionType: string(rec.Type),
			CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(listTransactionsResponse{Transactions: items})
}

type healthcheckResponse struct {
	Msg       string `json:"msg"`
	Service   string `json:"service"`
	Timestamp int64  `json:"timestamp"`
}

// Healthcheck handles GET /v1/transaction/healthcheck.
func (h *Handler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(healthcheckResponse{
		Msg:       "OK",
		Service:   serviceName,
		Timestamp: time.Now().Unix(),
	})
}

// handleDomainError converts engine errors to HTTP responses. Storage
// failures stay opaque to the caller.
func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSameAccount):
		sendErrorResponse(w, http.StatusBadRequest, "SAME_ACCOUNT", "source and target accounts must differ")
	case errors.Is(err, domain.ErrInvalidAmount):
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a positive value with at most two decimal places")
	case errors.Is(err, domain.ErrUnauthorized):
		sendErrorResponse(w, http.StatusUnauthorized, "UNAUTHORIZED", "sender could not be verified as the source account owner")
	case errors.Is(err, domain.ErrSourceNotFound):
		sendErrorResponse(w, http.StatusBadRequest, "SOURCE_NOT_FOUND", "source account not found")
	case errors.Is(err, domain.ErrTargetNotFound):
		sendErrorResponse(w, http.StatusBadRequest, "TARGET_NOT_FOUND", "target account not found")
	case errors.Is(err, domain.ErrInsufficientFunds):
		sendErrorResponse(w, http.StatusBadRequest, "INSUFFICIENT_FUNDS", "source account balance is too low")
	case errors.Is(err, domain.ErrContention):
		sendErrorResponse(w, http.StatusServiceUnavailable, "CONTENTION", "transfer could not acquire account locks, retry later")
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sendErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrContention):
		return "contention"
	case errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSourceNotFound),
		errors.Is(err, domain.ErrTargetNotFound):
		return "rejected"
	default:
		return "error"
	}
}

type errorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	ID          string `json:"id"`
}

// sendErrorResponse sends an error response in the expected format.
func sendErrorResponse(w http.ResponseWriter, statusCode int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse{
		Code:        code,
		Description: description,
		ID:          uuid.New().String(),
	})
}
