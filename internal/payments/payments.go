package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CryptoBotListener/internal/models"
	"CryptoBotListener/internal/store"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount rejects a completion whose amount is zero or negative. Nothing
// reaches the store.
var ErrInvalidAmount = errors.New("amount must be positive")

type Store interface {
	CompleteDeposit(ctx context.Context, in store.CompleteInput) (store.CompletionResult, error)
}

type Completer struct {
	Store Store
}

// Complete credits the deposit in one store transaction. A deposit that already
// left pending yields a result with Applied=false and no error.
func (c Completer) Complete(ctx context.Context, depositID int64, amount decimal.Decimal, transactionID string, processorResponse []byte) (store.CompletionResult, error) {
	return c.CompleteWithOutbox(ctx, depositID, amount, transactionID, processorResponse, nil)
}

// CompleteWithOutbox is Complete plus an outbox message committed atomically with the credit.
func (c Completer) CompleteWithOutbox(ctx context.Context, depositID int64, amount decimal.Decimal, transactionID string, processorResponse []byte, msg *models.OutboxMessage) (store.CompletionResult, error) {
	if !amount.IsPositive() {
		return store.CompletionResult{}, fmt.Errorf("complete deposit %d: %s: %w", depositID, amount, ErrInvalidAmount)
	}
	res, err := c.Store.CompleteDeposit(ctx, store.CompleteInput{
		DepositID:         depositID,
		Amount:            amount,
		TransactionID:     transactionID,
		ProcessorResponse: processorResponse,
		Outbox:            msg,
	})
	if err != nil {
		return res, fmt.Errorf("complete deposit %d: %w", depositID, err)
	}
	return res, nil
}

type processorResponse struct {
	Raw         string              `json:"raw"`
	Parsed      models.PaymentEvent `json:"parsed"`
	ProcessedAt string              `json:"processed_at"`
}

// ProcessorResponse is the reconciliation record kept on the deposit and payment rows.
func ProcessorResponse(raw string, ev models.PaymentEvent, at time.Time) ([]byte, error) {
	return json.Marshal(processorResponse{
		Raw:         raw,
		Parsed:      ev,
		ProcessedAt: at.UTC().Format(time.RFC3339Nano),
	})
}
