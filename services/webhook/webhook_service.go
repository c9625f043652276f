package webhook

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const maxRecordedResponseBody = 2048

// WebhookStore is the slice of the database layer the dispatcher needs.
type WebhookStore interface {
	CreateWebhookLog(ctx context.Context, arg store.CreateWebhookLogParams) (store.WebhookLog, error)
	GetWebhookLog(ctx context.Context, id uuid.UUID) (store.WebhookLog, error)
	RecordWebhookAttempt(ctx context.Context, arg store.RecordWebhookAttemptParams) (store.WebhookLog, error)
	ListDueWebhooks(ctx context.Context, limit int32) ([]store.WebhookLog, error)
	ListWebhookLogs(ctx context.Context, arg store.ListWebhookLogsParams) ([]store.WebhookLog, error)
	ResetWebhookLog(ctx context.Context, id uuid.UUID) (store.WebhookLog, error)
	GetWebhookStats(ctx context.Context, merchantID uuid.UUID) (store.WebhookStats, error)
	DeleteOldWebhookLogs(ctx context.Context, before time.Time) (int64, error)
}

// SecretSource resolves a merchant's delivery endpoint and signing secret.
type SecretSource interface {
	WebhookTarget(ctx context.Context, merchantID uuid.UUID) (url, secret string, err error)
}

// Service delivers payment notifications to merchant endpoints. Retry state
// lives in the database, not in goroutines: an attempt either succeeds,
// exhausts the schedule, or records when the next attempt is due. A periodic
// pass over due rows performs redeliveries, so pending retries survive
// restarts.
type Service struct {
	store      WebhookStore
	secrets    SecretSource
	client     *http.Client
	maxRetries int32
	logger     *logging.Logger
}

func NewWebhookService(st WebhookStore, secrets SecretSource, maxRetries, timeoutSeconds int, logger *logging.Logger) *Service {
	return &Service{
		store:   st,
		secrets: secrets,
		client: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		maxRetries: int32(maxRetries),
		logger:     logger,
	}
}

// NotifyPaymentChange enqueues and immediately attempts a delivery for a
// payment state change. Merchants without a webhook URL are skipped.
func (s *Service) NotifyPaymentChange(ctx context.Context, p store.Payment) {
	url, secret, err := s.secrets.WebhookTarget(ctx, p.MerchantID)
	if errors.Is(err, ErrNoWebhookURL) {
		return
	}
	if err != nil {
		s.logger.WithError(err).
			WithField("merchant_id", p.MerchantID).
			Error("cannot resolve webhook target")
		return
	}

	payload := Payload{
		Event:         EventForStatus(p.Status),
		PaymentID:     p.ID.String(),
		OrderID:       p.OrderID,
		Status:        p.Status,
		Amount:        p.Amount.String(),
		Currency:      p.Currency,
		Confirmations: p.Confirmations,
		Timestamp:     time.Now().Unix(),
	}
	if p.TransactionHash.Valid {
		payload.TransactionHash = p.TransactionHash.String
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Error("cannot marshal webhook payload")
		return
	}

	log, err := s.store.CreateWebhookLog(ctx, store.CreateWebhookLogParams{
		ID:         uuid.New(),
		MerchantID: p.MerchantID,
		PaymentID:  uuid.NullUUID{UUID: p.ID, Valid: true},
		EventType:  payload.Event,
		URL:        url,
		Payload:    body,
	})
	if err != nil {
		s.logger.WithError(err).Error("cannot persist webhook log")
		return
	}

	s.attempt(ctx, log, secret)
}

// SendTest delivers a sample payload to the merchant's endpoint so they can
// verify connectivity and signature handling before going live.
func (s *Service) SendTest(ctx context.Context, merchantID uuid.UUID) (store.WebhookLog, error) {
	url, secret, err := s.secrets.WebhookTarget(ctx, merchantID)
	if err != nil {
		return store.WebhookLog{}, err
	}

	body, err := json.Marshal(Payload{
		Event:     "webhook.test",
		PaymentID: uuid.Nil.String(),
		OrderID:   "test-order",
		Status:    "pending",
		Amount:    "0",
		Currency:  "ETH",
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return store.WebhookLog{}, err
	}

	log, err := s.store.CreateWebhookLog(ctx, store.CreateWebhookLogParams{
		ID:         uuid.New(),
		MerchantID: merchantID,
		EventType:  "webhook.test",
		URL:        url,
		Payload:    body,
	})
	if err != nil {
		return store.WebhookLog{}, err
	}

	s.attempt(ctx, log, secret)
	return s.store.GetWebhookLog(ctx, log.ID)
}

// ProcessDueRetries redelivers every pending webhook whose retry time has
// arrived. Safe to call from a recurring task.
func (s *Service) ProcessDueRetries(ctx context.Context) (int, error) {
	due, err := s.store.ListDueWebhooks(ctx, 50)
	if err != nil {
		return 0, err
	}
	for _, log := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		_, secret, err := s.secrets.WebhookTarget(ctx, log.MerchantID)
		if err != nil {
			s.logger.WithError(err).
				WithField("webhook_id", log.ID).
				Warn("skipping retry, cannot resolve signing secret")
			continue
		}
		s.attempt(ctx, log, secret)
	}
	return len(due), nil
}

// attempt performs one delivery and records its outcome. A 2xx response
// settles the webhook; anything else either schedules the next retry or, once
// the schedule is exhausted, marks the delivery failed.
func (s *Service) attempt(ctx context.Context, w store.WebhookLog, secret string) {
	response, delivered := s.deliver(ctx, w, secret)

	attemptsAfter := w.Attempts + 1
	arg := store.RecordWebhookAttemptParams{
		ID:       w.ID,
		Response: response,
	}
	switch {
	case delivered:
		arg.Status = StatusSuccess
	case attemptsAfter >= s.maxRetries+1:
		arg.Status = StatusFailed
	default:
		arg.Status = StatusPending
		arg.NextRetryAt = sql.NullTime{
			Time:  time.Now().Add(RetryDelay(attemptsAfter)),
			Valid: true,
		}
	}

	if _, err := s.store.RecordWebhookAttempt(ctx, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another worker settled this delivery first.
			s.logger.WithField("webhook_id", w.ID).
				Debug("webhook already settled, attempt not recorded")
			return
		}
		s.logger.WithError(err).
			WithField("webhook_id", w.ID).
			Error("cannot record webhook attempt")
		return
	}

	entry := s.logger.WithField("webhook_id", w.ID).
		WithField("event", w.EventType).
		WithField("attempt", attemptsAfter).
		WithField("status", arg.Status)
	if arg.Status == StatusFailed {
		entry.Warn("webhook delivery exhausted retries")
	} else {
		entry.Info("webhook delivery attempt recorded")
	}
}

// deliver sends the signed request and returns the recorded response plus
// whether the endpoint acknowledged with a 2xx.
func (s *Service) deliver(ctx context.Context, w store.WebhookLog, secret string) (pqtype.NullRawMessage, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(w.Payload))
	if err != nil {
		return recordedError(err), false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, Sign(secret, w.Payload))
	req.Header.Set(HeaderWebhookID, w.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return recordedError(err), false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRecordedResponseBody))
	recorded, _ := json.Marshal(map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(body),
	})
	return pqtype.NullRawMessage{RawMessage: recorded, Valid: true},
		resp.StatusCode >= 200 && resp.StatusCode < 300
}

func recordedError(err error) pqtype.NullRawMessage {
	recorded, _ := json.Marshal(map[string]string{"error": err.Error()})
	return pqtype.NullRawMessage{RawMessage: recorded, Valid: true}
}

// Reprocess rewinds a settled or stuck delivery and attempts it immediately.
func (s *Service) Reprocess(ctx context.Context, merchantID, id uuid.UUID) (store.WebhookLog, error) {
	log, err := s.store.GetWebhookLog(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.WebhookLog{}, ErrWebhookNotFound
	}
	if err != nil {
		return store.WebhookLog{}, err
	}
	if log.MerchantID != merchantID {
		return store.WebhookLog{}, ErrWebhookNotFound
	}

	log, err = s.store.ResetWebhookLog(ctx, id)
	if err != nil {
		return store.WebhookLog{}, err
	}

	_, secret, err := s.secrets.WebhookTarget(ctx, log.MerchantID)
	if err != nil {
		return log, nil
	}
	s.attempt(ctx, log, secret)
	return s.store.GetWebhookLog(ctx, id)
}

func (s *Service) List(ctx context.Context, arg store.ListWebhookLogsParams) ([]store.WebhookLog, error) {
	return s.store.ListWebhookLogs(ctx, arg)
}

func (s *Service) Get(ctx context.Context, merchantID, id uuid.UUID) (store.WebhookLog, error) {
	log, err := s.store.GetWebhookLog(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.WebhookLog{}, ErrWebhookNotFound
	}
	if err != nil {
		return store.WebhookLog{}, err
	}
	if log.MerchantID != merchantID {
		return store.WebhookLog{}, ErrWebhookNotFound
	}
	return log, nil
}

func (s *Service) Stats(ctx context.Context, merchantID uuid.UUID) (store.WebhookStats, error) {
	return s.store.GetWebhookStats(ctx, merchantID)
}

// CleanupOld prunes settled deliveries older than the retention window.
func (s *Service) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteOldWebhookLogs(ctx, time.Now().Add(-retention))
}
