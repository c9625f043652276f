package merchant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/WoPay/WoPay-Gateway/services/webhook"
	"github.com/WoPay/WoPay-Gateway/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	apiKeyPrefix     = "wopay_"
	apiKeyCachePath  = "merchant:apikey:"
	apiKeyCacheTTL   = 5 * time.Minute
	apiKeyRandomLen  = 32
	apiSecretRandLen = 64
)

// MerchantStore is the slice of the database layer the directory needs.
type MerchantStore interface {
	CreateMerchant(ctx context.Context, arg store.CreateMerchantParams) (store.Merchant, error)
	GetMerchant(ctx context.Context, id uuid.UUID) (store.Merchant, error)
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (store.Merchant, error)
	UpdateMerchant(ctx context.Context, arg store.UpdateMerchantParams) (store.Merchant, error)
	UpdateMerchantWebhookURL(ctx context.Context, id uuid.UUID, webhookURL sql.NullString) (store.Merchant, error)
	SetMerchantStatus(ctx context.Context, id uuid.UUID, status string) (store.Merchant, error)
	RegenerateMerchantKeys(ctx context.Context, id uuid.UUID, apiKey, apiSecret string) (store.Merchant, error)
	GetMerchantStats(ctx context.Context, merchantID uuid.UUID) (store.MerchantStats, error)
}

// Service is the merchant directory. API-key lookups sit on the hot path of
// every authenticated request, so resolved merchants are cached in Redis for
// a few minutes.
type Service struct {
	store  MerchantStore
	rdb    *redis.Client
	logger *logging.Logger
}

func NewMerchantService(st MerchantStore, rdb *redis.Client, logger *logging.Logger) *Service {
	return &Service{
		store:  st,
		rdb:    rdb,
		logger: logger,
	}
}

type Credentials struct {
	Merchant  store.Merchant
	APIKey    string
	APISecret string
}

// Register creates a merchant with freshly generated credentials. The secret
// is returned once and signs all webhook deliveries to this merchant.
func (s *Service) Register(ctx context.Context, name, email, webhookURL string) (Credentials, error) {
	if webhookURL != "" && !utils.IsValidURL(webhookURL) {
		return Credentials{}, ErrInvalidWebhookURL
	}

	apiKey := apiKeyPrefix + utils.GenerateRandomString(apiKeyRandomLen)
	apiSecret := utils.GenerateRandomString(apiSecretRandLen)

	arg := store.CreateMerchantParams{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if webhookURL != "" {
		arg.WebhookURL = sql.NullString{String: webhookURL, Valid: true}
	}

	m, err := s.store.CreateMerchant(ctx, arg)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Credentials{}, ErrEmailTaken
		}
		return Credentials{}, err
	}

	s.logger.WithField("merchant_id", m.ID).Info("merchant registered")
	return Credentials{Merchant: m, APIKey: apiKey, APISecret: apiSecret}, nil
}

// LookupByAPIKey resolves an API key to an active merchant, consulting the
// cache first.
func (s *Service) LookupByAPIKey(ctx context.Context, apiKey string) (store.Merchant, error) {
	if m, ok := s.cachedMerchant(ctx, apiKey); ok {
		if m.Status != "active" {
			return store.Merchant{}, ErrMerchantInactive
		}
		return m, nil
	}

	m, err := s.store.GetMerchantByAPIKey(ctx, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Merchant{}, ErrMerchantNotFound
	}
	if err != nil {
		return store.Merchant{}, err
	}
	if m.Status != "active" {
		return store.Merchant{}, ErrMerchantInactive
	}

	s.cacheMerchant(ctx, m)
	return m, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (store.Merchant, error) {
	m, err := s.store.GetMerchant(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Merchant{}, ErrMerchantNotFound
	}
	return m, err
}

// WebhookTarget resolves the delivery endpoint and signing secret for the
// webhook dispatcher.
func (s *Service) WebhookTarget(ctx context.Context, merchantID uuid.UUID) (string, string, error) {
	m, err := s.Get(ctx, merchantID)
	if err != nil {
		return "", "", err
	}
	if !m.WebhookURL.Valid || m.WebhookURL.String == "" {
		return "", "", webhook.ErrNoWebhookURL
	}
	return m.WebhookURL.String, m.APISecret, nil
}

// UpdateWebhookURL changes where notifications are delivered. The cache entry
// for the merchant's key is dropped so the change is visible immediately.
func (s *Service) UpdateWebhookURL(ctx context.Context, id uuid.UUID, webhookURL string) (store.Merchant, error) {
	var url sql.NullString
	if webhookURL != "" {
		if !utils.IsValidURL(webhookURL) {
			return store.Merchant{}, ErrInvalidWebhookURL
		}
		url = sql.NullString{String: webhookURL, Valid: true}
	}

	m, err := s.store.UpdateMerchantWebhookURL(ctx, id, url)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Merchant{}, ErrMerchantNotFound
	}
	if err != nil {
		return store.Merchant{}, err
	}

	s.invalidateCache(ctx, m.APIKey)
	return m, nil
}

type UpdateInput struct {
	Name       string
	Email      string
	WebhookURL string
	SetWebhook bool
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (store.Merchant, error) {
	if in.SetWebhook && in.WebhookURL != "" && !utils.IsValidURL(in.WebhookURL) {
		return store.Merchant{}, ErrInvalidWebhookURL
	}

	arg := store.UpdateMerchantParams{ID: id, SetWebhook: in.SetWebhook}
	if in.Name != "" {
		arg.Name = sql.NullString{String: in.Name, Valid: true}
	}
	if in.Email != "" {
		arg.Email = sql.NullString{String: in.Email, Valid: true}
	}
	if in.SetWebhook && in.WebhookURL != "" {
		arg.WebhookURL = sql.NullString{String: in.WebhookURL, Valid: true}
	}

	m, err := s.store.UpdateMerchant(ctx, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Merchant{}, ErrMerchantNotFound
	}
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.Merchant{}, ErrEmailTaken
		}
		return store.Merchant{}, err
	}

	s.invalidateCache(ctx, m.APIKey)
	return m, nil
}

// Deactivate revokes a merchant's access. The cache entry is dropped so the
// revocation takes effect immediately rather than after the TTL.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (store.Merchant, error) {
	m, err := s.store.SetMerchantStatus(ctx, id, "inactive")
	if errors.Is(err, sql.ErrNoRows) {
		return store.Merchant{}, ErrMerchantNotFound
	}
	if err != nil {
		return store.Merchant{}, err
	}
	s.invalidateCache(ctx, m.APIKey)
	s.logger.WithField("merchant_id", id).Info("merchant deactivated")
	return m, nil
}

// RegenerateKeys issues a fresh API key pair, invalidating the old one.
func (s *Service) RegenerateKeys(ctx context.Context, id uuid.UUID) (Credentials, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return Credentials{}, err
	}

	apiKey := apiKeyPrefix + utils.GenerateRandomString(apiKeyRandomLen)
	apiSecret := utils.GenerateRandomString(apiSecretRandLen)
	m, err := s.store.RegenerateMerchantKeys(ctx, id, apiKey, apiSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrMerchantNotFound
	}
	if err != nil {
		return Credentials{}, err
	}

	s.invalidateCache(ctx, old.APIKey)
	s.logger.WithField("merchant_id", id).Info("merchant API keys regenerated")
	return Credentials{Merchant: m, APIKey: apiKey, APISecret: apiSecret}, nil
}

func (s *Service) Stats(ctx context.Context, merchantID uuid.UUID) (store.MerchantStats, error) {
	return s.store.GetMerchantStats(ctx, merchantID)
}

func (s *Service) cachedMerchant(ctx context.Context, apiKey string) (store.Merchant, bool) {
	if s.rdb == nil {
		return store.Merchant{}, false
	}
	raw, err := s.rdb.Get(ctx, apiKeyCachePath+apiKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).Debug("merchant cache read failed")
		}
		return store.Merchant{}, false
	}
	var m store.Merchant
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return store.Merchant{}, false
	}
	return m, true
}

func (s *Service) cacheMerchant(ctx context.Context, m store.Merchant) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, apiKeyCachePath+m.APIKey, raw, apiKeyCacheTTL).Err(); err != nil {
		s.logger.WithError(err).Debug("merchant cache write failed")
	}
}

func (s *Service) invalidateCache(ctx context.Context, apiKey string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, apiKeyCachePath+apiKey).Err(); err != nil {
		s.logger.WithError(err).Debug("merchant cache invalidation failed")
	}
}
