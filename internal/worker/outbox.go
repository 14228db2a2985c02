package worker

import (
	"context"
	"log/slog"
	"time"

	"CryptoBotListener/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultOutboxInterval    = 5 * time.Second
	DefaultOutboxBatchSize   = 20
	DefaultOutboxMaxAttempts = 8
	DefaultOutboxLease       = time.Minute

	baseBackoff = 5 * time.Second
	maxBackoff  = time.Hour
)

type OutboxStore interface {
	ClaimOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxMessage, error)
	MarkOutboxDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, errMsg string, next time.Time) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, deliveryID string, depositID int64, body []byte) error
}

// OutboxDelivery drains webhook_outbox rows written by the completion transaction.
type OutboxDelivery struct {
	Store       OutboxStore
	Dispatcher  Dispatcher
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
	Now         func() time.Time
}

func (d *OutboxDelivery) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultOutboxInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.DeliverOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Default().ErrorContext(ctx, "outbox delivery failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DeliverOnce sends one batch of due messages and returns how many were delivered.
func (d *OutboxDelivery) DeliverOnce(ctx context.Context) (int, error) {
	now := d.now()
	batch := d.BatchSize
	if batch <= 0 {
		batch = DefaultOutboxBatchSize
	}
	lease := d.Lease
	if lease <= 0 {
		lease = DefaultOutboxLease
	}

	msgs, err := d.Store.ClaimOutbox(ctx, now, batch, lease)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, m := range msgs {
		log := slog.Default().With("outbox_id", m.ID.String(), "deposit_id", m.DepositID)
		sendErr := d.Dispatcher.Dispatch(ctx, m.ID.String(), m.DepositID, m.Body)
		if sendErr == nil {
			if err := d.Store.MarkOutboxDelivered(ctx, m.ID, d.now()); err != nil {
				return delivered, err
			}
			delivered++
			log.InfoContext(ctx, "outbox message delivered", "attempts", m.Attempts+1)
			continue
		}

		attempts := m.Attempts + 1
		var next time.Time
		if attempts < d.maxAttempts() {
			next = d.now().Add(Backoff(m.Attempts))
			log.WarnContext(ctx, "outbox message rescheduled",
				"attempts", attempts,
				"next_attempt_at", next.Format(time.RFC3339),
				"error", sendErr,
			)
		} else {
			log.ErrorContext(ctx, "outbox message dead-lettered", "attempts", attempts, "error", sendErr)
		}
		if err := d.Store.MarkOutboxFailed(ctx, m.ID, sendErr.Error(), next); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

// Backoff is the wait before the retry that follows `attempts` failed sends.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= 10 {
		return maxBackoff
	}
	b := baseBackoff << attempts
	if b > maxBackoff {
		return maxBackoff
	}
	return b
}

func (d *OutboxDelivery) maxAttempts() int {
	if d.MaxAttempts <= 0 {
		return DefaultOutboxMaxAttempts
	}
	return d.MaxAttempts
}

func (d *OutboxDelivery) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
