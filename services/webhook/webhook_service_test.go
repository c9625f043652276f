package webhook

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWebhookStore struct {
	mu   sync.Mutex
	logs map[uuid.UUID]store.WebhookLog
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{logs: make(map[uuid.UUID]store.WebhookLog)}
}

func (m *memWebhookStore) CreateWebhookLog(_ context.Context, arg store.CreateWebhookLogParams) (store.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// New rows carry no retry timestamp until an attempt schedules one.
	log := store.WebhookLog{
		ID:         arg.ID,
		MerchantID: arg.MerchantID,
		PaymentID:  arg.PaymentID,
		EventType:  arg.EventType,
		URL:        arg.URL,
		Payload:    arg.Payload,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	m.logs[arg.ID] = log
	return log, nil
}

func (m *memWebhookStore) GetWebhookLog(_ context.Context, id uuid.UUID) (store.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return store.WebhookLog{}, sql.ErrNoRows
	}
	return log, nil
}

func (m *memWebhookStore) RecordWebhookAttempt(_ context.Context, arg store.RecordWebhookAttemptParams) (store.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[arg.ID]
	if !ok || log.Status != StatusPending {
		return store.WebhookLog{}, sql.ErrNoRows
	}
	log.Attempts++
	log.Status = arg.Status
	log.Response = arg.Response
	log.NextRetryAt = arg.NextRetryAt
	m.logs[arg.ID] = log
	return log, nil
}

func (m *memWebhookStore) ListDueWebhooks(_ context.Context, _ int32) ([]store.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []store.WebhookLog
	for _, log := range m.logs {
		if log.Status == StatusPending && log.NextRetryAt.Valid && !log.NextRetryAt.Time.After(time.Now()) {
			due = append(due, log)
		}
	}
	return due, nil
}

func (m *memWebhookStore) ListWebhookLogs(_ context.Context, _ store.ListWebhookLogsParams) ([]store.WebhookLog, error) {
	return nil, nil
}

func (m *memWebhookStore) ResetWebhookLog(_ context.Context, id uuid.UUID) (store.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return store.WebhookLog{}, sql.ErrNoRows
	}
	log.Status = StatusPending
	log.Attempts = 0
	log.NextRetryAt = sql.NullTime{}
	m.logs[id] = log
	return log, nil
}

func (m *memWebhookStore) GetWebhookStats(_ context.Context, _ uuid.UUID) (store.WebhookStats, error) {
	return store.WebhookStats{}, nil
}

func (m *memWebhookStore) DeleteOldWebhookLogs(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// forceDue rewinds the retry timestamp so the next ProcessDueRetries pass
// picks the row up without waiting out the schedule.
func (m *memWebhookStore) forceDue(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.logs[id]
	if log.NextRetryAt.Valid {
		log.NextRetryAt = sql.NullTime{Time: time.Now().Add(-time.Second), Valid: true}
		m.logs[id] = log
	}
}

func (m *memWebhookStore) onlyLog(t *testing.T) store.WebhookLog {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.logs, 1)
	for _, log := range m.logs {
		return log
	}
	return store.WebhookLog{}
}

type staticSecrets struct {
	url    string
	secret string
}

func (s staticSecrets) WebhookTarget(_ context.Context, _ uuid.UUID) (string, string, error) {
	if s.url == "" {
		return "", "", ErrNoWebhookURL
	}
	return s.url, s.secret, nil
}

func testPayment() store.Payment {
	return store.Payment{
		ID:         uuid.New(),
		MerchantID: uuid.New(),
		OrderID:    "order-1",
		Amount:     decimal.RequireFromString("0.5"),
		Currency:   "ETH",
		Status:     "completed",
	}
}

func TestDeliverySucceedsAfterRetries(t *testing.T) {
	const secret = "shh"
	var (
		mu       sync.Mutex
		requests int
		lastSig  string
		lastID   string
		lastUA   string
		lastBody []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests++
		n := requests
		lastSig = r.Header.Get(HeaderSignature)
		lastID = r.Header.Get(HeaderWebhookID)
		lastUA = r.Header.Get("User-Agent")
		lastBody = body
		mu.Unlock()
		if n <= 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := newMemWebhookStore()
	svc := NewWebhookService(st, staticSecrets{url: server.URL, secret: secret}, 5, 5, logging.NewLogger())

	svc.NotifyPaymentChange(context.Background(), testPayment())

	// Four failures, then success on the fifth attempt.
	for i := 0; i < 4; i++ {
		log := st.onlyLog(t)
		require.Equal(t, StatusPending, log.Status)
		st.forceDue(log.ID)
		_, err := svc.ProcessDueRetries(context.Background())
		require.NoError(t, err)
	}

	log := st.onlyLog(t)
	assert.Equal(t, StatusSuccess, log.Status)
	assert.Equal(t, int32(5), log.Attempts)
	assert.False(t, log.NextRetryAt.Valid)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, requests)
	assert.Equal(t, "WoPay-Webhook/1.0", lastUA)
	assert.Equal(t, log.ID.String(), lastID)
	assert.True(t, VerifySignature(secret, lastBody, lastSig))
}

func TestDeliveryExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	st := newMemWebhookStore()
	svc := NewWebhookService(st, staticSecrets{url: server.URL, secret: "s"}, 2, 5, logging.NewLogger())

	svc.NotifyPaymentChange(context.Background(), testPayment())

	for i := 0; i < 2; i++ {
		log := st.onlyLog(t)
		st.forceDue(log.ID)
		_, err := svc.ProcessDueRetries(context.Background())
		require.NoError(t, err)
	}

	log := st.onlyLog(t)
	assert.Equal(t, StatusFailed, log.Status)
	assert.Equal(t, int32(3), log.Attempts) // initial attempt + two retries
	assert.False(t, log.NextRetryAt.Valid)
}

func TestInlineAttemptInvisibleToRetryPass(t *testing.T) {
	release := make(chan struct{})
	inFlight := make(chan struct{})
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			close(inFlight)
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := newMemWebhookStore()
	svc := NewWebhookService(st, staticSecrets{url: server.URL, secret: "s"}, 5, 5, logging.NewLogger())

	done := make(chan struct{})
	go func() {
		svc.NotifyPaymentChange(context.Background(), testPayment())
		close(done)
	}()
	<-inFlight

	// The row exists but carries no retry timestamp while the inline attempt
	// is still in flight, so a concurrent pass must not pick it up.
	processed, err := svc.ProcessDueRetries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)

	close(release)
	<-done

	log := st.onlyLog(t)
	assert.Equal(t, StatusSuccess, log.Status)
	assert.Equal(t, int32(1), log.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestStaleAttemptCannotUnsettleDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		requests++
		n := requests
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	st := newMemWebhookStore()
	svc := NewWebhookService(st, staticSecrets{url: server.URL, secret: "s"}, 5, 5, logging.NewLogger())

	svc.NotifyPaymentChange(context.Background(), testPayment())
	settled := st.onlyLog(t)
	require.Equal(t, StatusSuccess, settled.Status)

	// A worker holding a snapshot from before the row settled records its
	// failing attempt late. The settled outcome must win.
	stale := settled
	stale.Status = StatusPending
	stale.Attempts = 0
	svc.attempt(context.Background(), stale, "s")

	log := st.onlyLog(t)
	assert.Equal(t, StatusSuccess, log.Status)
	assert.Equal(t, int32(1), log.Attempts)
	assert.False(t, log.NextRetryAt.Valid)
}

func TestNoWebhookURLSkipsDelivery(t *testing.T) {
	st := newMemWebhookStore()
	svc := NewWebhookService(st, staticSecrets{}, 5, 5, logging.NewLogger())

	svc.NotifyPaymentChange(context.Background(), testPayment())

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.logs)
}

func TestReprocessResetsAndRedelivers(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := newMemWebhookStore()
	svc := NewWebhookService(st, staticSecrets{url: server.URL, secret: "s"}, 0, 5, logging.NewLogger())

	p := testPayment()
	svc.NotifyPaymentChange(context.Background(), p)

	// maxRetries of zero fails the delivery on the first non-2xx response.
	log := st.onlyLog(t)
	require.Equal(t, StatusFailed, log.Status)

	reprocessed, err := svc.Reprocess(context.Background(), p.MerchantID, log.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, reprocessed.Status)
	assert.Equal(t, int32(1), reprocessed.Attempts)
}

func TestReprocessScopedToMerchant(t *testing.T) {
	st := newMemWebhookStore()
	svc := NewWebhookService(st, staticSecrets{url: "http://example.invalid", secret: "s"}, 1, 1, logging.NewLogger())

	p := testPayment()
	svc.NotifyPaymentChange(context.Background(), p)
	log := st.onlyLog(t)

	_, err := svc.Reprocess(context.Background(), uuid.New(), log.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestRetryDelaySchedule(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryDelay(0))
	assert.Equal(t, 5*time.Second, RetryDelay(1))
	assert.Equal(t, 15*time.Second, RetryDelay(2))
	assert.Equal(t, 45*time.Second, RetryDelay(3))
	assert.Equal(t, 135*time.Second, RetryDelay(4))
	assert.Equal(t, 405*time.Second, RetryDelay(5))
	// The schedule clamps at its final step rather than growing unbounded.
	assert.Equal(t, 405*time.Second, RetryDelay(20))
}
