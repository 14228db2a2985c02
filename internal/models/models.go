package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositCompleted DepositStatus = "completed"
	DepositExpired   DepositStatus = "expired"
	DepositCancelled DepositStatus = "cancelled"
)

// DepositRequest is issued by the main API; this service only moves it out of pending.
type DepositRequest struct {
	ID                int64
	UserID            int64
	PaymentCode       string
	ExpectedAmount    *decimal.Decimal
	Currency          string
	PaymentMethodID   int64
	Status            DepositStatus
	ExpiresAt         time.Time
	CreatedAt         time.Time
	ActualAmount      *decimal.Decimal
	TransactionID     *string
	ProcessorResponse []byte
	CompletedAt       *time.Time
}

// PaymentEvent is what a recognized processor message carries.
type PaymentEvent struct {
	SenderName string          `json:"sender_name"`
	InvoiceID  string          `json:"invoice_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	USDAmount  decimal.Decimal `json:"usd_amount"`
}

// Payment provider and status codes as stored by the main API.
const (
	ProviderCryptoBot      = 0
	PaymentStatusCompleted = 1
)

type Payment struct {
	ID                     int64
	UserID                 int64
	Amount                 decimal.Decimal
	Currency               string
	Provider               int
	TransactionID          string
	Status                 int
	DepositRequestID       int64
	PaymentMethodID        int64
	ProcessorTransactionID string
	ProcessorResponse      []byte
	CompletedAt            time.Time
	CreatedAt              time.Time
}

type OutboxStatus string

const (
	OutboxPending      OutboxStatus = "pending"
	OutboxDelivered    OutboxStatus = "delivered"
	OutboxDeadLettered OutboxStatus = "dead_lettered"
)

// OutboxMessage is a signed webhook body waiting for delivery.
type OutboxMessage struct {
	ID            uuid.UUID
	DepositID     int64
	EventType     string
	Body          []byte
	Status        OutboxStatus
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}
