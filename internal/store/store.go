package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CryptoBotListener/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUserNotFound = errors.New("deposit owner not found")
)

// CompleteInput carries the values written by the completion transaction.
// Outbox is optional; when set the message is inserted in the same transaction.
type CompleteInput struct {
	DepositID         int64
	Amount            decimal.Decimal
	TransactionID     string
	ProcessorResponse []byte
	Outbox            *models.OutboxMessage
}

// CompletionResult reports what the transaction did. Applied is false when the
// deposit had already left pending and nothing was written.
type CompletionResult struct {
	Applied         bool
	UserID          int64
	Currency        string
	PaymentMethodID int64
	PaymentID       int64
}

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Pool DB
}

func New(pool DB) *Store {
	return &Store{Pool: pool}
}

const depositColumns = `
	id, user_id, payment_code, expected_amount::text, currency,
	payment_method_id, status, expires_at, created_at,
	actual_amount::text, transaction_id, processor_response::text, completed_at`

func (s *Store) GetPendingDepositByCode(ctx context.Context, code string) (*models.DepositRequest, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+depositColumns+`
		FROM deposit_requests
		WHERE payment_code=$1 AND status='pending'
	`, code)
	d, err := scanDeposit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Store) GetDeposit(ctx context.Context, id int64) (*models.DepositRequest, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_requests WHERE id=$1`, id)
	d, err := scanDeposit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ExpireDeposit moves a pending deposit to expired. Repeating it is harmless.
func (s *Store) ExpireDeposit(ctx context.Context, id int64) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status='expired'
		WHERE id=$1 AND status='pending'
	`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// CompleteDeposit credits the deposit owner exactly once. The status guard on the
// first UPDATE is what makes concurrent completions of one deposit converge.
func (s *Store) CompleteDeposit(ctx context.Context, in CompleteInput) (CompletionResult, error) {
	var out CompletionResult

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return out, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		UPDATE deposit_requests
		SET status='completed',
			actual_amount=$2::numeric,
			transaction_id=$3,
			processor_response=$4::jsonb,
			completed_at=now()
		WHERE id=$1 AND status='pending'
		RETURNING user_id, currency, payment_method_id
	`, in.DepositID, in.Amount.String(), in.TransactionID, string(in.ProcessorResponse)).
		Scan(&out.UserID, &out.Currency, &out.PaymentMethodID)
	if errors.Is(err, pgx.ErrNoRows) {
		return CompletionResult{}, nil
	}
	if err != nil {
		return out, fmt.Errorf("update deposit %d: %w", in.DepositID, err)
	}

	res, err := tx.Exec(ctx, `
		UPDATE users
		SET balance = balance + $1::numeric
		WHERE id=$2
	`, in.Amount.String(), out.UserID)
	if err != nil {
		return out, fmt.Errorf("credit user %d: %w", out.UserID, err)
	}
	if res.RowsAffected() != 1 {
		return out, fmt.Errorf("credit user %d: %w", out.UserID, ErrUserNotFound)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO payments (
			user_id, amount, currency, provider, transaction_id,
			status, completed_at, deposit_request_id, payment_method_id,
			processor_transaction_id, processor_response, created_at
		) VALUES ($1,$2::numeric,$3,$4,$5,$6,now(),$7,$8,$5,$9::jsonb,now())
		RETURNING id
	`,
		out.UserID,
		in.Amount.String(),
		out.Currency,
		models.ProviderCryptoBot,
		in.TransactionID,
		models.PaymentStatusCompleted,
		in.DepositID,
		out.PaymentMethodID,
		string(in.ProcessorResponse),
	).Scan(&out.PaymentID)
	if err != nil {
		return out, fmt.Errorf("insert payment: %w", err)
	}

	if in.Outbox != nil {
		if err := insertOutbox(ctx, tx, in.Outbox); err != nil {
			return out, fmt.Errorf("insert outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return out, fmt.Errorf("commit: %w", err)
	}
	out.Applied = true
	return out, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, msg *models.OutboxMessage) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO webhook_outbox (id, deposit_id, event_type, body, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,'pending',0,$5)
	`, msg.ID, msg.DepositID, msg.EventType, msg.Body, msg.NextAttemptAt)
	return err
}

// ClaimOutbox locks up to limit due messages and pushes their next attempt out by
// lease so a second worker does not pick them up while they are in flight.
func (s *Store) ClaimOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		UPDATE webhook_outbox
		SET next_attempt_at=$2
		WHERE id IN (
			SELECT id FROM webhook_outbox
			WHERE status='pending' AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, deposit_id, event_type, body, status, attempts, last_error,
			next_attempt_at, delivered_at, created_at
	`, now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.OutboxMessage
	for rows.Next() {
		var msg models.OutboxMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.DepositID,
			&msg.EventType,
			&msg.Body,
			&msg.Status,
			&msg.Attempts,
			&msg.LastError,
			&msg.NextAttemptAt,
			&msg.DeliveredAt,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *Store) MarkOutboxDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_outbox
		SET status='delivered', delivered_at=$2, attempts=attempts+1, last_error=NULL
		WHERE id=$1 AND status='pending'
	`, id, at)
	return err
}

// MarkOutboxFailed records a failed attempt. A zero next moves the message to dead_lettered.
func (s *Store) MarkOutboxFailed(ctx context.Context, id uuid.UUID, errMsg string, next time.Time) error {
	status := models.OutboxPending
	if next.IsZero() {
		status = models.OutboxDeadLettered
		next = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_outbox
		SET status=$2, attempts=attempts+1, last_error=$3, next_attempt_at=$4
		WHERE id=$1 AND status='pending'
	`, id, status, errMsg, next)
	return err
}

func scanDeposit(row pgx.Row) (*models.DepositRequest, error) {
	var d models.DepositRequest
	var expected, actual, response *string

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.PaymentCode,
		&expected,
		&d.Currency,
		&d.PaymentMethodID,
		&d.Status,
		&d.ExpiresAt,
		&d.CreatedAt,
		&actual,
		&d.TransactionID,
		&response,
		&d.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.ExpectedAmount, err = parseDecimal(expected); err != nil {
		return nil, fmt.Errorf("expected_amount: %w", err)
	}
	if d.ActualAmount, err = parseDecimal(actual); err != nil {
		return nil, fmt.Errorf("actual_amount: %w", err)
	}
	if response != nil {
		d.ProcessorResponse = []byte(*response)
	}
	d.ExpiresAt = d.ExpiresAt.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func parseDecimal(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
