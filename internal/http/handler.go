package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"CryptoBotListener/internal/models"
	"CryptoBotListener/internal/services"
	"CryptoBotListener/internal/store"

	"github.com/go-chi/chi/v5"
)

const OperatorTokenHeader = "X-Operator-Token"

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg services.Message) (services.Outcome, error)
}

type DepositReader interface {
	GetDeposit(ctx context.Context, id int64) (*models.DepositRequest, error)
}

type Handler struct {
	Payments MessageHandler
	Deposits DepositReader
}

type submitMessageRequest struct {
	Text        string `json:"text"`
	ReplyToText string `json:"reply_to_text"`
}

type submitMessageResponse struct {
	Outcome string `json:"outcome"`
}

type depositResponse struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	PaymentCode   string `json:"payment_code"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	ExpiresAt     string `json:"expires_at"`
	ActualAmount  string `json:"actual_amount,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

func NewHandler(payments MessageHandler, deposits DepositReader) *Handler {
	return &Handler{Payments: payments, Deposits: deposits}
}

// SubmitMessage runs an operator-supplied chat message through the pipeline. It is
// the manual redelivery path for confirmations the listener missed.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	outcome, err := h.Payments.HandleMessage(r.Context(), services.NewTextMessage(req.Text, req.ReplyToText))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "payment processing failed")
		return
	}
	writeJSON(w, http.StatusOK, submitMessageResponse{Outcome: string(outcome)})
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "depositId"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid deposit id")
		return
	}

	d, err := h.Deposits.GetDeposit(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deposit not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get deposit failed")
		return
	}

	resp := depositResponse{
		ID:          d.ID,
		UserID:      d.UserID,
		PaymentCode: d.PaymentCode,
		Status:      string(d.Status),
		Currency:    d.Currency,
		ExpiresAt:   d.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if d.ActualAmount != nil {
		resp.ActualAmount = d.ActualAmount.String()
	}
	if d.TransactionID != nil {
		resp.TransactionID = *d.TransactionID
	}
	if d.CompletedAt != nil {
		resp.CompletedAt = d.CompletedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireOperator(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(OperatorTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid operator token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
