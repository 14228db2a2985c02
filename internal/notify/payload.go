package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventDepositCompleted = "deposit.completed"
	SignatureHeader       = "X-Webhook-Signature"
	DeliveryHeader        = "X-Webhook-Delivery"
)

type Payload struct {
	Event         string
	DepositID     int64
	UserID        int64
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	Timestamp     time.Time
}

func NewPayload(depositID, userID int64, amount decimal.Decimal, currency, transactionID string, at time.Time) Payload {
	return Payload{
		Event:         EventDepositCompleted,
		DepositID:     depositID,
		UserID:        userID,
		Amount:        amount,
		Currency:      currency,
		TransactionID: transactionID,
		Timestamp:     at.UTC(),
	}
}

// Canonical is the exact body that is signed and sent: compact JSON with keys in
// lexicographic order (encoding/json sorts map keys).
func (p Payload) Canonical() ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":          p.Event,
		"deposit_id":     p.DepositID,
		"user_id":        p.UserID,
		"amount":         p.Amount.String(),
		"currency":       p.Currency,
		"transaction_id": p.TransactionID,
		"timestamp":      p.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
