package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const merchantColumns = `id, name, email, api_key, api_secret, webhook_url, status, created_at, updated_at`

func scanMerchant(row interface{ Scan(...interface{}) error }) (Merchant, error) {
	var m Merchant
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Email,
		&m.APIKey,
		&m.APISecret,
		&m.WebhookURL,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

type CreateMerchantParams struct {
	ID         uuid.UUID
	Name       string
	Email      string
	APIKey     string
	APISecret  string
	WebhookURL sql.NullString
}

func (s *Store) CreateMerchant(ctx context.Context, arg CreateMerchantParams) (Merchant, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO merchants (id, name, email, api_key, api_secret, webhook_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+merchantColumns,
		arg.ID, arg.Name, arg.Email, arg.APIKey, arg.APISecret, arg.WebhookURL,
	)
	return scanMerchant(row)
}

func (s *Store) GetMerchant(ctx context.Context, id uuid.UUID) (Merchant, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
	return scanMerchant(row)
}

func (s *Store) GetMerchantByAPIKey(ctx context.Context, apiKey string) (Merchant, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE api_key = $1`, apiKey)
	return scanMerchant(row)
}

func (s *Store) UpdateMerchantWebhookURL(ctx context.Context, id uuid.UUID, webhookURL sql.NullString) (Merchant, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE merchants SET webhook_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+merchantColumns, id, webhookURL)
	return scanMerchant(row)
}

type UpdateMerchantParams struct {
	ID         uuid.UUID
	Name       sql.NullString
	Email      sql.NullString
	WebhookURL sql.NullString
	SetWebhook bool
}

// UpdateMerchant changes profile fields. Null params keep the current value;
// the webhook URL is only touched when SetWebhook is true so it can be
// cleared explicitly.
func (s *Store) UpdateMerchant(ctx context.Context, arg UpdateMerchantParams) (Merchant, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE merchants SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			webhook_url = CASE WHEN $5 THEN $4 ELSE webhook_url END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+merchantColumns,
		arg.ID, arg.Name, arg.Email, arg.WebhookURL, arg.SetWebhook)
	return scanMerchant(row)
}

func (s *Store) SetMerchantStatus(ctx context.Context, id uuid.UUID, status string) (Merchant, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE merchants SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+merchantColumns, id, status)
	return scanMerchant(row)
}

func (s *Store) RegenerateMerchantKeys(ctx context.Context, id uuid.UUID, apiKey, apiSecret string) (Merchant, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE merchants SET api_key = $2, api_secret = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+merchantColumns, id, apiKey, apiSecret)
	return scanMerchant(row)
}

type MerchantStats struct {
	TotalPayments     int64
	CompletedPayments int64
	PendingPayments   int64
	ExpiredPayments   int64
	FailedPayments    int64
}

func (s *Store) GetMerchantStats(ctx context.Context, merchantID uuid.UUID) (MerchantStats, error) {
	var st MerchantStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status IN ('pending', 'confirmed')),
		       COUNT(*) FILTER (WHERE status = 'expired'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM payments WHERE merchant_id = $1`, merchantID).Scan(
		&st.TotalPayments,
		&st.CompletedPayments,
		&st.PendingPayments,
		&st.ExpiredPayments,
		&st.FailedPayments,
	)
	return st, err
}
