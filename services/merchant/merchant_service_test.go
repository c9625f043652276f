package merchant

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/WoPay/WoPay-Gateway/services/webhook"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memMerchantStore struct {
	byID    map[uuid.UUID]store.Merchant
	byKey   map[string]uuid.UUID
	byEmail map[string]uuid.UUID
}

func newMemMerchantStore() *memMerchantStore {
	return &memMerchantStore{
		byID:    make(map[uuid.UUID]store.Merchant),
		byKey:   make(map[string]uuid.UUID),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (m *memMerchantStore) CreateMerchant(_ context.Context, arg store.CreateMerchantParams) (store.Merchant, error) {
	if _, exists := m.byEmail[arg.Email]; exists {
		return store.Merchant{}, &pq.Error{Code: store.DuplicateEntry}
	}
	mr := store.Merchant{
		ID:         arg.ID,
		Name:       arg.Name,
		Email:      arg.Email,
		APIKey:     arg.APIKey,
		APISecret:  arg.APISecret,
		WebhookURL: arg.WebhookURL,
		Status:     "active",
	}
	m.byID[mr.ID] = mr
	m.byKey[mr.APIKey] = mr.ID
	m.byEmail[mr.Email] = mr.ID
	return mr, nil
}

func (m *memMerchantStore) GetMerchant(_ context.Context, id uuid.UUID) (store.Merchant, error) {
	mr, ok := m.byID[id]
	if !ok {
		return store.Merchant{}, sql.ErrNoRows
	}
	return mr, nil
}

func (m *memMerchantStore) GetMerchantByAPIKey(_ context.Context, apiKey string) (store.Merchant, error) {
	id, ok := m.byKey[apiKey]
	if !ok {
		return store.Merchant{}, sql.ErrNoRows
	}
	return m.byID[id], nil
}

func (m *memMerchantStore) UpdateMerchant(_ context.Context, arg store.UpdateMerchantParams) (store.Merchant, error) {
	mr, ok := m.byID[arg.ID]
	if !ok {
		return store.Merchant{}, sql.ErrNoRows
	}
	if arg.Name.Valid {
		mr.Name = arg.Name.String
	}
	if arg.Email.Valid {
		mr.Email = arg.Email.String
	}
	if arg.SetWebhook {
		mr.WebhookURL = arg.WebhookURL
	}
	m.byID[arg.ID] = mr
	return mr, nil
}

func (m *memMerchantStore) UpdateMerchantWebhookURL(_ context.Context, id uuid.UUID, webhookURL sql.NullString) (store.Merchant, error) {
	mr, ok := m.byID[id]
	if !ok {
		return store.Merchant{}, sql.ErrNoRows
	}
	mr.WebhookURL = webhookURL
	m.byID[id] = mr
	return mr, nil
}

func (m *memMerchantStore) SetMerchantStatus(_ context.Context, id uuid.UUID, status string) (store.Merchant, error) {
	mr, ok := m.byID[id]
	if !ok {
		return store.Merchant{}, sql.ErrNoRows
	}
	mr.Status = status
	m.byID[id] = mr
	return mr, nil
}

func (m *memMerchantStore) RegenerateMerchantKeys(_ context.Context, id uuid.UUID, apiKey, apiSecret string) (store.Merchant, error) {
	mr, ok := m.byID[id]
	if !ok {
		return store.Merchant{}, sql.ErrNoRows
	}
	delete(m.byKey, mr.APIKey)
	mr.APIKey = apiKey
	mr.APISecret = apiSecret
	m.byID[id] = mr
	m.byKey[apiKey] = id
	return mr, nil
}

func (m *memMerchantStore) GetMerchantStats(_ context.Context, _ uuid.UUID) (store.MerchantStats, error) {
	return store.MerchantStats{}, nil
}

func newTestService() (*Service, *memMerchantStore) {
	st := newMemMerchantStore()
	// nil Redis client: the cache helpers degrade to direct store reads.
	return NewMerchantService(st, nil, logging.NewLogger()), st
}

func TestRegisterIssuesCredentials(t *testing.T) {
	svc, _ := newTestService()

	creds, err := svc.Register(context.Background(), "Acme", "ops@acme.test", "https://acme.test/hooks")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(creds.APIKey, "wopay_"))
	assert.Len(t, creds.APIKey, len("wopay_")+32)
	assert.Len(t, creds.APISecret, 64)
	assert.Equal(t, "active", creds.Merchant.Status)
	assert.Equal(t, "https://acme.test/hooks", creds.Merchant.WebhookURL.String)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "Acme", "ops@acme.test", "")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Other", "ops@acme.test", "")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterRejectsBadWebhookURL(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Register(context.Background(), "Acme", "ops@acme.test", "not a url")
	assert.ErrorIs(t, err, ErrInvalidWebhookURL)
}

func TestLookupByAPIKey(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	creds, err := svc.Register(ctx, "Acme", "ops@acme.test", "")
	require.NoError(t, err)

	m, err := svc.LookupByAPIKey(ctx, creds.APIKey)
	require.NoError(t, err)
	assert.Equal(t, creds.Merchant.ID, m.ID)

	_, err = svc.LookupByAPIKey(ctx, "wopay_unknown")
	assert.ErrorIs(t, err, ErrMerchantNotFound)
}

func TestLookupRejectsInactiveMerchant(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	creds, err := svc.Register(ctx, "Acme", "ops@acme.test", "")
	require.NoError(t, err)
	_, err = svc.Deactivate(ctx, creds.Merchant.ID)
	require.NoError(t, err)

	_, err = svc.LookupByAPIKey(ctx, creds.APIKey)
	assert.ErrorIs(t, err, ErrMerchantInactive)
}

func TestWebhookTarget(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	withHook, err := svc.Register(ctx, "Acme", "ops@acme.test", "https://acme.test/hooks")
	require.NoError(t, err)
	url, secret, err := svc.WebhookTarget(ctx, withHook.Merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/hooks", url)
	assert.Equal(t, withHook.APISecret, secret)

	without, err := svc.Register(ctx, "Beta", "ops@beta.test", "")
	require.NoError(t, err)
	_, _, err = svc.WebhookTarget(ctx, without.Merchant.ID)
	assert.ErrorIs(t, err, webhook.ErrNoWebhookURL)
}

func TestUpdateWebhookURL(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	creds, err := svc.Register(ctx, "Acme", "ops@acme.test", "")
	require.NoError(t, err)

	m, err := svc.UpdateWebhookURL(ctx, creds.Merchant.ID, "https://acme.test/v2/hooks")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/v2/hooks", m.WebhookURL.String)

	// An empty URL clears the endpoint and disables delivery.
	m, err = svc.UpdateWebhookURL(ctx, creds.Merchant.ID, "")
	require.NoError(t, err)
	assert.False(t, m.WebhookURL.Valid)

	_, err = svc.UpdateWebhookURL(ctx, creds.Merchant.ID, "::::")
	assert.ErrorIs(t, err, ErrInvalidWebhookURL)
}

func TestRegenerateKeysInvalidatesOldKey(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	creds, err := svc.Register(ctx, "Acme", "ops@acme.test", "")
	require.NoError(t, err)

	fresh, err := svc.RegenerateKeys(ctx, creds.Merchant.ID)
	require.NoError(t, err)
	assert.NotEqual(t, creds.APIKey, fresh.APIKey)
	assert.NotEqual(t, creds.APISecret, fresh.APISecret)

	_, err = svc.LookupByAPIKey(ctx, creds.APIKey)
	assert.ErrorIs(t, err, ErrMerchantNotFound)

	m, err := svc.LookupByAPIKey(ctx, fresh.APIKey)
	require.NoError(t, err)
	assert.Equal(t, creds.Merchant.ID, m.ID)
}
