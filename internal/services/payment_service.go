package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"CryptoBotListener/internal/deposits"
	"CryptoBotListener/internal/models"
	"CryptoBotListener/internal/notify"
	"CryptoBotListener/internal/parser"
	"CryptoBotListener/internal/payments"
	"CryptoBotListener/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is the terminal state reached by one message.
type Outcome string

const (
	OutcomeNotified         Outcome = "notified"
	OutcomeNoMatch          Outcome = "ignored_no_match"
	OutcomeDuplicate        Outcome = "ignored_duplicate"
	OutcomeNotFound         Outcome = "ignored_not_found"
	OutcomeExpired          Outcome = "ignored_expired"
	OutcomeAlreadyCompleted Outcome = "ignored_already_completed"
	OutcomeInvalidAmount    Outcome = "ignored_invalid_amount"
	OutcomeFailed           Outcome = "failed"
)

type DedupGate interface {
	IsDuplicate(ctx context.Context, invoiceID string) bool
	MarkProcessed(ctx context.Context, invoiceID string)
	Claim(ctx context.Context, invoiceID string) bool
	Release(ctx context.Context, invoiceID string)
}

type DepositMatcher interface {
	FindPending(ctx context.Context, code string) (*models.DepositRequest, error)
	CheckExpiry(ctx context.Context, d *models.DepositRequest, now time.Time) (deposits.Expiry, error)
}

type PaymentCompleter interface {
	CompleteWithOutbox(ctx context.Context, depositID int64, amount decimal.Decimal, transactionID string, processorResponse []byte, msg *models.OutboxMessage) (store.CompletionResult, error)
}

type Notifier interface {
	Notify(ctx context.Context, depositID, userID int64, amount decimal.Decimal, currency, transactionID string)
	Body(depositID, userID int64, amount decimal.Decimal, currency, transactionID string) ([]byte, error)
}

// PaymentService sequences one message through parse, dedup, match, complete and notify.
type PaymentService struct {
	Parser    parser.Parser
	Dedup     DedupGate
	Deposits  DepositMatcher
	Completer PaymentCompleter
	Notifier  Notifier
	// Outbox queues the webhook inside the completion transaction instead of posting inline.
	Outbox bool
	Now    func() time.Time
}

func (s *PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// HandleMessage returns an error only when the completion (or the lookups leading
// to it) failed against the store; every other path is an Outcome.
func (s *PaymentService) HandleMessage(ctx context.Context, msg Message) (Outcome, error) {
	log := slog.Default()
	text := msg.Text()
	log.DebugContext(ctx, "message received", "text", truncate(text, 200))

	ev, ok := s.Parser.ParsePayment(text)
	if !ok {
		log.DebugContext(ctx, "message is not a payment")
		return OutcomeNoMatch, nil
	}

	code, ok := s.Parser.ExtractPaymentCode(text)
	if !ok && msg.IsReply() {
		reply, err := msg.ReplyText(ctx)
		if err != nil {
			log.WarnContext(ctx, "reply lookup failed", "invoice_id", ev.InvoiceID, "error", err)
		} else {
			code, ok = s.Parser.ExtractPaymentCode(reply)
		}
	}
	if !ok {
		log.WarnContext(ctx, "no payment code in message", "invoice_id", ev.InvoiceID, "text", truncate(text, 100))
		return OutcomeNoMatch, nil
	}

	log = log.With("payment_code", code, "invoice_id", ev.InvoiceID)
	log.InfoContext(ctx, "processing payment")

	if !ev.USDAmount.IsPositive() {
		log.WarnContext(ctx, "payment amount is not positive", "amount", ev.USDAmount.String())
		return OutcomeInvalidAmount, nil
	}

	if s.Dedup.IsDuplicate(ctx, ev.InvoiceID) {
		log.InfoContext(ctx, "duplicate payment ignored")
		return OutcomeDuplicate, nil
	}
	if !s.Dedup.Claim(ctx, ev.InvoiceID) {
		log.InfoContext(ctx, "payment already in flight")
		return OutcomeDuplicate, nil
	}
	defer s.Dedup.Release(ctx, ev.InvoiceID)

	deposit, err := s.Deposits.FindPending(ctx, code)
	if err != nil {
		log.ErrorContext(ctx, "deposit lookup failed", "error", err)
		return OutcomeFailed, err
	}
	if deposit == nil {
		log.WarnContext(ctx, "no pending deposit for code")
		return OutcomeNotFound, nil
	}
	log = log.With("deposit_id", deposit.ID)

	now := s.now()
	expiry, err := s.Deposits.CheckExpiry(ctx, deposit, now)
	if err != nil {
		log.ErrorContext(ctx, "deposit expiry update failed", "error", err)
		return OutcomeFailed, err
	}
	if expiry == deposits.Expired {
		log.WarnContext(ctx, "deposit expired", "expires_at", deposit.ExpiresAt.Format(time.RFC3339))
		return OutcomeExpired, nil
	}

	response, err := payments.ProcessorResponse(text, *ev, now)
	if err != nil {
		return OutcomeFailed, err
	}

	var outbox *models.OutboxMessage
	if s.Outbox {
		body, err := s.Notifier.Body(deposit.ID, deposit.UserID, ev.USDAmount, ev.Currency, ev.InvoiceID)
		if err != nil {
			return OutcomeFailed, err
		}
		outbox = &models.OutboxMessage{
			ID:            uuid.New(),
			DepositID:     deposit.ID,
			EventType:     notify.EventDepositCompleted,
			Body:          body,
			NextAttemptAt: now,
		}
	}

	res, err := s.Completer.CompleteWithOutbox(ctx, deposit.ID, ev.USDAmount, ev.InvoiceID, response, outbox)
	if errors.Is(err, payments.ErrInvalidAmount) {
		log.WarnContext(ctx, "payment amount rejected", "amount", ev.USDAmount.String())
		return OutcomeInvalidAmount, nil
	}
	if err != nil {
		log.ErrorContext(ctx, "payment completion failed",
			"amount", ev.USDAmount.String(),
			"currency", ev.Currency,
			"sender", ev.SenderName,
			"error", err,
		)
		return OutcomeFailed, err
	}
	if !res.Applied {
		log.InfoContext(ctx, "deposit already completed by another delivery")
		s.Dedup.MarkProcessed(ctx, ev.InvoiceID)
		return OutcomeAlreadyCompleted, nil
	}
	log.InfoContext(ctx, "deposit completed",
		"user_id", res.UserID,
		"amount", ev.USDAmount.String(),
		"payment_id", res.PaymentID,
	)

	if s.Outbox {
		log.InfoContext(ctx, "deposit notification queued", "outbox_id", outbox.ID.String())
	} else {
		s.Notifier.Notify(ctx, deposit.ID, res.UserID, ev.USDAmount, ev.Currency, ev.InvoiceID)
	}

	s.Dedup.MarkProcessed(ctx, ev.InvoiceID)
	return OutcomeNotified, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
