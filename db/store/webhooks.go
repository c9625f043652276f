package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const webhookColumns = `id, merchant_id, payment_id, event_type, url, payload,
	status, attempts, response, next_retry_at, created_at, updated_at`

func scanWebhookLog(row interface{ Scan(...interface{}) error }) (WebhookLog, error) {
	var w WebhookLog
	err := row.Scan(
		&w.ID,
		&w.MerchantID,
		&w.PaymentID,
		&w.EventType,
		&w.URL,
		&w.Payload,
		&w.Status,
		&w.Attempts,
		&w.Response,
		&w.NextRetryAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}

type CreateWebhookLogParams struct {
	ID         uuid.UUID
	MerchantID uuid.UUID
	PaymentID  uuid.NullUUID
	EventType  string
	URL        string
	Payload    []byte
}

// CreateWebhookLog inserts a new delivery with next_retry_at NULL. The row
// stays invisible to ListDueWebhooks until the inline attempt records its
// outcome, so a concurrent retry pass cannot deliver it a second time.
func (s *Store) CreateWebhookLog(ctx context.Context, arg CreateWebhookLogParams) (WebhookLog, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO webhook_logs (id, merchant_id, payment_id, event_type, url, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+webhookColumns,
		arg.ID, arg.MerchantID, arg.PaymentID, arg.EventType, arg.URL, arg.Payload,
	)
	return scanWebhookLog(row)
}

func (s *Store) GetWebhookLog(ctx context.Context, id uuid.UUID) (WebhookLog, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook_logs WHERE id = $1`, id)
	return scanWebhookLog(row)
}

type RecordWebhookAttemptParams struct {
	ID          uuid.UUID
	Status      string
	Response    pqtype.NullRawMessage
	NextRetryAt sql.NullTime
}

// RecordWebhookAttempt stores the outcome of one delivery attempt. Attempts
// are counted server-side so concurrent workers cannot lose increments, and
// only pending rows accept an outcome: a stale worker recording against an
// already settled delivery gets sql.ErrNoRows instead of unsettling it.
func (s *Store) RecordWebhookAttempt(ctx context.Context, arg RecordWebhookAttemptParams) (WebhookLog, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE webhook_logs SET
			status = $2,
			attempts = attempts + 1,
			response = $3,
			next_retry_at = $4,
			updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+webhookColumns,
		arg.ID, arg.Status, arg.Response, arg.NextRetryAt,
	)
	return scanWebhookLog(row)
}

// ListDueWebhooks returns pending deliveries whose retry time has arrived.
func (s *Store) ListDueWebhooks(ctx context.Context, limit int32) ([]WebhookLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+webhookColumns+` FROM webhook_logs
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= now()
		ORDER BY next_retry_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []WebhookLog
	for rows.Next() {
		w, err := scanWebhookLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, w)
	}
	return logs, rows.Err()
}

type ListWebhookLogsParams struct {
	MerchantID uuid.UUID
	Status     string
	Limit      int32
	Offset     int32
}

func (s *Store) ListWebhookLogs(ctx context.Context, arg ListWebhookLogsParams) ([]WebhookLog, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_logs WHERE merchant_id = $1`
	args := []interface{}{arg.MerchantID}
	if arg.Status != "" {
		query += ` AND status = $2`
		args = append(args, arg.Status)
	}
	args = append(args, arg.Limit, arg.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []WebhookLog
	for rows.Next() {
		w, err := scanWebhookLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, w)
	}
	return logs, rows.Err()
}

// ResetWebhookLog rewinds a delivery for manual reprocessing. next_retry_at
// stays NULL: the caller attempts the delivery inline, and only that attempt's
// outcome schedules further retries.
func (s *Store) ResetWebhookLog(ctx context.Context, id uuid.UUID) (WebhookLog, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE webhook_logs SET
			status = 'pending',
			attempts = 0,
			response = NULL,
			next_retry_at = NULL,
			updated_at = now()
		WHERE id = $1
		RETURNING `+webhookColumns, id)
	return scanWebhookLog(row)
}

type WebhookStats struct {
	Total   int64
	Pending int64
	Success int64
	Failed  int64
}

func (s *Store) GetWebhookStats(ctx context.Context, merchantID uuid.UUID) (WebhookStats, error) {
	var st WebhookStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM webhook_logs WHERE merchant_id = $1`, merchantID).Scan(
		&st.Total, &st.Pending, &st.Success, &st.Failed,
	)
	return st, err
}

// DeleteOldWebhookLogs prunes settled deliveries older than the cutoff.
// Pending rows are kept regardless of age so retries are never lost.
func (s *Store) DeleteOldWebhookLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM webhook_logs
		WHERE status IN ('success', 'failed') AND created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
