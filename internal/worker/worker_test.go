package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CryptoBotListener/internal/models"
	"CryptoBotListener/internal/notify"
	"CryptoBotListener/internal/services"
	"CryptoBotListener/internal/store"
	"CryptoBotListener/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	name string
	msgs []string
}

func (s sliceSource) Name() string { return s.name }

func (s sliceSource) Run(ctx context.Context, out chan<- services.Message) error {
	for _, m := range s.msgs {
		select {
		case out <- services.NewTextMessage(m, ""):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type recordingHandler struct {
	mu       sync.Mutex
	inFlight int32
	overlap  bool
	texts    []string
}

func (h *recordingHandler) HandleMessage(_ context.Context, msg services.Message) (services.Outcome, error) {
	if atomic.AddInt32(&h.inFlight, 1) > 1 {
		h.overlap = true
	}
	defer atomic.AddInt32(&h.inFlight, -1)
	time.Sleep(time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, msg.Text())
	if msg.Text() == "boom" {
		return services.OutcomeFailed, errors.New("store unavailable")
	}
	return services.OutcomeNoMatch, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.texts)
}

func TestWorker_RunsSourcesSequentially(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	w := &Worker{
		Handler: h,
		Sources: []Source{
			sliceSource{name: "a", msgs: []string{"a1", "boom", "a3"}},
			sliceSource{name: "b", msgs: []string{"b1", "b2"}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.count() == 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.False(t, h.overlap)
	assert.ElementsMatch(t, []string{"a1", "boom", "a3", "b1", "b2"}, h.texts)
}

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func seedOutbox(t *testing.T, st *memstore.Store) uuid.UUID {
	t.Helper()
	st.AddUser(7, decimal.Zero)
	st.AddDeposit(models.DepositRequest{ID: 1, UserID: 7, PaymentCode: "MASK-AB12CD", Status: models.DepositPending, ExpiresAt: start.Add(time.Hour)})
	id := uuid.New()
	_, err := st.CompleteDeposit(context.Background(), store.CompleteInput{
		DepositID:     1,
		Amount:        decimal.NewFromInt(5),
		TransactionID: "IV100",
		Outbox: &models.OutboxMessage{
			ID:            id,
			DepositID:     1,
			EventType:     notify.EventDepositCompleted,
			Body:          []byte(`{"event":"deposit.completed"}`),
			NextAttemptAt: start,
		},
	})
	require.NoError(t, err)
	return id
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestOutbox_RetriesWithBackoffUntilDelivered(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	var deliveries []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries = append(deliveries, r.Header.Get(notify.DeliveryHeader))
		mu.Unlock()
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	st := memstore.New()
	id := seedOutbox(t, st)
	clk := &clock{now: start}
	d := &OutboxDelivery{
		Store:      st,
		Dispatcher: notify.New(notify.NewWebhook(srv.URL, "secret", time.Second)),
		Now:        clk.Now,
	}

	n, err := d.DeliverOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	msg := st.Outbox()[0]
	assert.Equal(t, models.OutboxPending, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	require.NotNil(t, msg.LastError)
	assert.Equal(t, start.Add(5*time.Second), msg.NextAttemptAt)

	// Not due yet.
	clk.Advance(time.Second)
	n, err = d.DeliverOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	status.Store(http.StatusOK)
	clk.Advance(5 * time.Second)
	n, err = d.DeliverOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg = st.Outbox()[0]
	assert.Equal(t, models.OutboxDelivered, msg.Status)
	assert.Equal(t, 2, msg.Attempts)
	assert.NotNil(t, msg.DeliveredAt)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{id.String(), id.String()}, deliveries)
}

func TestOutbox_DeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := memstore.New()
	seedOutbox(t, st)
	clk := &clock{now: start}
	d := &OutboxDelivery{
		Store:       st,
		Dispatcher:  notify.New(notify.NewWebhook(srv.URL, "secret", time.Second)),
		MaxAttempts: 2,
		Now:         clk.Now,
	}

	_, err := d.DeliverOnce(context.Background())
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = d.DeliverOnce(context.Background())
	require.NoError(t, err)

	msg := st.Outbox()[0]
	assert.Equal(t, models.OutboxDeadLettered, msg.Status)
	assert.Equal(t, 2, msg.Attempts)

	// Dead letters are never claimed again.
	clk.Advance(24 * time.Hour)
	n, err := d.DeliverOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, st.Outbox()[0].Attempts)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Second, Backoff(0))
	assert.Equal(t, 10*time.Second, Backoff(1))
	assert.Equal(t, 40*time.Second, Backoff(3))
	assert.Equal(t, 2560*time.Second, Backoff(9))
	assert.Equal(t, time.Hour, Backoff(10))
	assert.Equal(t, time.Hour, Backoff(64))
	assert.Equal(t, 5*time.Second, Backoff(-1))
}
