// Package notify tells the main API about completed deposits. Delivery is
// best-effort: nothing here can undo or retry a completed credit.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Notifier struct {
	Sinks   []Sink
	Timeout time.Duration
	Now     func() time.Time
}

func New(sinks ...Sink) *Notifier {
	return &Notifier{Sinks: sinks, Timeout: DefaultTimeout, Now: time.Now}
}

// Notify builds, signs and sends the deposit.completed event. Failures are logged
// and swallowed.
func (n *Notifier) Notify(ctx context.Context, depositID, userID int64, amount decimal.Decimal, currency, transactionID string) {
	body, err := n.Body(depositID, userID, amount, currency, transactionID)
	if err != nil {
		slog.Default().ErrorContext(ctx, "webhook payload build failed", "deposit_id", depositID, "error", err)
		return
	}
	if err := n.Dispatch(ctx, uuid.NewString(), depositID, body); err != nil {
		return
	}
	slog.Default().InfoContext(ctx, "deposit notification sent", "deposit_id", depositID)
}

func (n *Notifier) Body(depositID, userID int64, amount decimal.Decimal, currency, transactionID string) ([]byte, error) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return NewPayload(depositID, userID, amount, currency, transactionID, now()).Canonical()
}

// Dispatch sends body to every sink, logging each failure, and returns them joined.
// Each send is detached from ctx cancellation and gets its own timeout, so a slow
// sink cannot use up the budget of the ones after it.
func (n *Notifier) Dispatch(ctx context.Context, deliveryID string, depositID int64, body []byte) error {
	var errs []error
	for _, sink := range n.Sinks {
		err := n.send(ctx, sink, deliveryID, depositID, body)
		if err == nil {
			continue
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			slog.Default().WarnContext(ctx, "notification rejected",
				"sink", sink.Name(),
				"deposit_id", depositID,
				"status", statusErr.Status,
				"response", statusErr.Body,
			)
		} else {
			slog.Default().ErrorContext(ctx, "notification send failed",
				"sink", sink.Name(),
				"deposit_id", depositID,
				"error", err,
			)
		}
		errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
	}
	return errors.Join(errs...)
}

func (n *Notifier) send(ctx context.Context, sink Sink, deliveryID string, depositID int64, body []byte) error {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return sink.Send(sendCtx, deliveryID, depositID, body)
}
