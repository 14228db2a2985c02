package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"CryptoBotListener/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	guardedUpdate = regexp.QuoteMeta(`UPDATE deposit_requests SET status='completed',`) + `.*` +
		regexp.QuoteMeta(`WHERE id=$1 AND status='pending' RETURNING user_id, currency, payment_method_id`)
	creditUser    = regexp.QuoteMeta(`UPDATE users SET balance = balance + $1::numeric WHERE id=$2`)
	insertPayment = regexp.QuoteMeta(`INSERT INTO payments (`) + `.*` + regexp.QuoteMeta(`RETURNING id`)
	insertOutboxQ = regexp.QuoteMeta(`INSERT INTO webhook_outbox`)
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func completeInput() CompleteInput {
	return CompleteInput{
		DepositID:         1,
		Amount:            decimal.RequireFromString("5.25"),
		TransactionID:     "IV100",
		ProcessorResponse: []byte(`{"invoice_id":"IV100"}`),
	}
}

func TestCompleteDeposit_Applied(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	in := completeInput()
	in.Outbox = &models.OutboxMessage{
		ID:            uuid.New(),
		DepositID:     1,
		EventType:     "deposit.completed",
		Body:          []byte(`{}`),
		NextAttemptAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(guardedUpdate).
		WithArgs(int64(1), "5.25", "IV100", `{"invoice_id":"IV100"}`).
		WillReturnRows(mock.NewRows([]string{"user_id", "currency", "payment_method_id"}).
			AddRow(int64(7), "USD", int64(3)))
	mock.ExpectExec(creditUser).
		WithArgs("5.25", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(insertPayment).
		WithArgs(int64(7), "5.25", "USD", models.ProviderCryptoBot, "IV100",
			models.PaymentStatusCompleted, int64(1), int64(3), `{"invoice_id":"IV100"}`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(insertOutboxQ).
		WithArgs(in.Outbox.ID, int64(1), "deposit.completed", []byte(`{}`), in.Outbox.NextAttemptAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := st.CompleteDeposit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, CompletionResult{Applied: true, UserID: 7, Currency: "USD", PaymentMethodID: 3, PaymentID: 42}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDeposit_AlreadyCompletedWritesNothing(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(guardedUpdate).
		WithArgs(int64(1), "5.25", "IV100", `{"invoice_id":"IV100"}`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	res, err := st.CompleteDeposit(context.Background(), completeInput())
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Zero(t, res.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDeposit_MissingUserRollsBack(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(guardedUpdate).
		WithArgs(int64(1), "5.25", "IV100", `{"invoice_id":"IV100"}`).
		WillReturnRows(mock.NewRows([]string{"user_id", "currency", "payment_method_id"}).
			AddRow(int64(7), "USD", int64(3)))
	mock.ExpectExec(creditUser).
		WithArgs("5.25", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	res, err := st.CompleteDeposit(context.Background(), completeInput())
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, res.Applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDeposit_PaymentInsertFailureRollsBack(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(guardedUpdate).
		WillReturnRows(mock.NewRows([]string{"user_id", "currency", "payment_method_id"}).
			AddRow(int64(7), "USD", int64(3)))
	mock.ExpectExec(creditUser).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(insertPayment).WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	res, err := st.CompleteDeposit(context.Background(), completeInput())
	require.ErrorContains(t, err, "insert payment")
	assert.False(t, res.Applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireDeposit(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	expire := regexp.QuoteMeta(`UPDATE deposit_requests SET status='expired' WHERE id=$1 AND status='pending'`)
	mock.ExpectExec(expire).WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(expire).WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := st.ExpireDeposit(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = st.ExpireDeposit(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPendingDepositByCode_NotFound(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE payment_code=$1 AND status='pending'`)).
		WithArgs("MASK-AB12CD").
		WillReturnError(pgx.ErrNoRows)

	d, err := st.GetPendingDepositByCode(context.Background(), "MASK-AB12CD")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, d)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOutbox_SkipsLockedRows(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.New()
	lastErr := "webhook: status 502"

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE webhook_outbox SET next_attempt_at=$2`) + `.*` +
		regexp.QuoteMeta(`LIMIT $3 FOR UPDATE SKIP LOCKED`)).
		WithArgs(now, now.Add(time.Minute), 20).
		WillReturnRows(mock.NewRows([]string{
			"id", "deposit_id", "event_type", "body", "status", "attempts", "last_error",
			"next_attempt_at", "delivered_at", "created_at",
		}).AddRow(id, int64(1), "deposit.completed", []byte(`{}`), models.OutboxPending, 2, &lastErr,
			now.Add(time.Minute), (*time.Time)(nil), now.Add(-time.Hour)))

	got, err := st.ClaimOutbox(context.Background(), now, 20, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, 2, got[0].Attempts)
	require.NotNil(t, got[0].LastError)
	assert.Equal(t, lastErr, *got[0].LastError)
	assert.Nil(t, got[0].DeliveredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOutbox_ZeroLimitSkipsQuery(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	got, err := st.ClaimOutbox(context.Background(), time.Now(), 0, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOutboxFailed_ZeroNextDeadLetters(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_outbox SET status=$2`)).
		WithArgs(id, models.OutboxDeadLettered, "gave up", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.MarkOutboxFailed(context.Background(), id, "gave up", time.Time{}))
	require.NoError(t, mock.ExpectationsWereMet())
}
