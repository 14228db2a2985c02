// Package memstore is an in-process store with the same semantics as the
// Postgres store: a status-guarded, all-or-nothing completion.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"CryptoBotListener/internal/models"
	"CryptoBotListener/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	deposits map[int64]*models.DepositRequest
	payments []models.Payment
	outbox   map[uuid.UUID]*models.OutboxMessage

	// FailCompletion, when set, aborts CompleteDeposit with that error before any write,
	// the way a rolled-back transaction leaves the store.
	FailCompletion error
	// Calls counts store round-trips per method name.
	Calls map[string]int
}

func New() *Store {
	return &Store{
		balances: map[int64]decimal.Decimal{},
		deposits: map[int64]*models.DepositRequest{},
		outbox:   map[uuid.UUID]*models.OutboxMessage{},
		Calls:    map[string]int{},
	}
}

func (s *Store) AddUser(id int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = balance
}

func (s *Store) AddDeposit(d models.DepositRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := d
	s.deposits[d.ID] = &cp
}

func (s *Store) Balance(userID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *Store) Deposit(id int64) models.DepositRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.deposits[id]
}

func (s *Store) Payments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Payment(nil), s.payments...)
}

func (s *Store) Outbox() []models.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) GetPendingDepositByCode(ctx context.Context, code string) (*models.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["GetPendingDepositByCode"]++
	for _, d := range s.deposits {
		if d.PaymentCode == code && d.Status == models.DepositPending {
			cp := *d
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetDeposit(ctx context.Context, id int64) (*models.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["GetDeposit"]++
	d, ok := s.deposits[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ExpireDeposit(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["ExpireDeposit"]++
	d, ok := s.deposits[id]
	if !ok || d.Status != models.DepositPending {
		return false, nil
	}
	d.Status = models.DepositExpired
	return true, nil
}

func (s *Store) CompleteDeposit(ctx context.Context, in store.CompleteInput) (store.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["CompleteDeposit"]++

	d, ok := s.deposits[in.DepositID]
	if !ok || d.Status != models.DepositPending {
		return store.CompletionResult{}, nil
	}
	if s.FailCompletion != nil {
		return store.CompletionResult{}, s.FailCompletion
	}
	balance, ok := s.balances[d.UserID]
	if !ok {
		return store.CompletionResult{}, store.ErrUserNotFound
	}

	now := time.Now().UTC()
	amount := in.Amount
	txID := in.TransactionID
	d.Status = models.DepositCompleted
	d.ActualAmount = &amount
	d.TransactionID = &txID
	d.ProcessorResponse = append([]byte(nil), in.ProcessorResponse...)
	d.CompletedAt = &now

	s.balances[d.UserID] = balance.Add(in.Amount)

	payment := models.Payment{
		ID:                     int64(len(s.payments) + 1),
		UserID:                 d.UserID,
		Amount:                 in.Amount,
		Currency:               d.Currency,
		Provider:               models.ProviderCryptoBot,
		TransactionID:          in.TransactionID,
		Status:                 models.PaymentStatusCompleted,
		DepositRequestID:       d.ID,
		PaymentMethodID:        d.PaymentMethodID,
		ProcessorTransactionID: in.TransactionID,
		ProcessorResponse:      d.ProcessorResponse,
		CompletedAt:            now,
		CreatedAt:              now,
	}
	s.payments = append(s.payments, payment)

	if in.Outbox != nil {
		msg := *in.Outbox
		msg.Status = models.OutboxPending
		msg.CreatedAt = now
		s.outbox[msg.ID] = &msg
	}

	return store.CompletionResult{
		Applied:         true,
		UserID:          d.UserID,
		Currency:        d.Currency,
		PaymentMethodID: d.PaymentMethodID,
		PaymentID:       payment.ID,
	}, nil
}

func (s *Store) ClaimOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.OutboxMessage
	for _, m := range s.outbox {
		if m.Status == models.OutboxPending && !m.NextAttemptAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*models.OutboxMessage, 0, len(due))
	for _, m := range due {
		m.NextAttemptAt = now.Add(lease)
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkOutboxDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok && m.Status == models.OutboxPending {
		m.Status = models.OutboxDelivered
		m.Attempts++
		m.DeliveredAt = &at
		m.LastError = nil
	}
	return nil
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id uuid.UUID, errMsg string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok || m.Status != models.OutboxPending {
		return nil
	}
	m.Attempts++
	m.LastError = &errMsg
	if next.IsZero() {
		m.Status = models.OutboxDeadLettered
		return nil
	}
	m.NextAttemptAt = next
	return nil
}
