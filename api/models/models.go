package models

import (
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/google/uuid"
)

type CreateMerchantRequest struct {
	Name       string `json:"name" binding:"required,min=1,max=255"`
	Email      string `json:"email" binding:"required,email"`
	WebhookURL string `json:"webhook_url" binding:"omitempty,url"`
}

type UpdateMerchantRequest struct {
	Name       string  `json:"name" binding:"omitempty,min=1,max=255"`
	Email      string  `json:"email" binding:"omitempty,email"`
	WebhookURL *string `json:"webhook_url"`
}

type MerchantResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type MerchantCredentialsResponse struct {
	Merchant  MerchantResponse `json:"merchant"`
	APIKey    string           `json:"api_key"`
	APISecret string           `json:"api_secret"`
}

func NewMerchantResponse(m store.Merchant) MerchantResponse {
	resp := MerchantResponse{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
	if m.WebhookURL.Valid {
		resp.WebhookURL = m.WebhookURL.String
	}
	return resp
}

type CreatePaymentRequest struct {
	OrderID          string `json:"order_id" binding:"required"`
	Amount           string `json:"amount" binding:"required"`
	Currency         string `json:"currency" binding:"required,oneof=ETH USDT"`
	ExpiresInSeconds int64  `json:"expires_in_seconds" binding:"omitempty,min=60"`
}

type PaymentResponse struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         string     `json:"order_id"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	PaymentAddress  string     `json:"payment_address"`
	PaymentURI      string     `json:"payment_uri,omitempty"`
	Status          string     `json:"status"`
	TransactionHash string     `json:"transaction_hash,omitempty"`
	Confirmations   int32      `json:"confirmations"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func NewPaymentResponse(p store.Payment, paymentURI string) PaymentResponse {
	resp := PaymentResponse{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Amount:         p.Amount.String(),
		Currency:       p.Currency,
		PaymentAddress: p.PaymentAddress,
		PaymentURI:     paymentURI,
		Status:         p.Status,
		Confirmations:  p.Confirmations,
		CreatedAt:      p.CreatedAt,
	}
	if p.TransactionHash.Valid {
		resp.TransactionHash = p.TransactionHash.String
	}
	if p.ExpiresAt.Valid {
		t := p.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	return resp
}

type PaymentListResponse struct {
	Payments []PaymentResponse `json:"payments"`
	Total    int64             `json:"total"`
	Page     int32             `json:"page"`
	PageSize int32             `json:"page_size"`
}

type WebhookLogResponse struct {
	ID          uuid.UUID  `json:"id"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
	EventType   string     `json:"event_type"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	Attempts    int32      `json:"attempts"`
	Response    string     `json:"response,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func NewWebhookLogResponse(w store.WebhookLog) WebhookLogResponse {
	resp := WebhookLogResponse{
		ID:        w.ID,
		EventType: w.EventType,
		URL:       w.URL,
		Status:    w.Status,
		Attempts:  w.Attempts,
		CreatedAt: w.CreatedAt,
	}
	if w.PaymentID.Valid {
		id := w.PaymentID.UUID
		resp.PaymentID = &id
	}
	if w.Response.Valid {
		resp.Response = string(w.Response.RawMessage)
	}
	if w.NextRetryAt.Valid {
		t := w.NextRetryAt.Time
		resp.NextRetryAt = &t
	}
	return resp
}

type UpdateWalletConfigRequest struct {
	AutoCollectionEnabled     *bool  `json:"auto_collection_enabled" binding:"required"`
	CollectionThreshold       string `json:"collection_threshold" binding:"required"`
	CollectionIntervalMinutes int32  `json:"collection_interval_minutes" binding:"required,min=1"`
}

type WalletConfigResponse struct {
	AutoCollectionEnabled     bool   `json:"auto_collection_enabled"`
	CollectionThreshold       string `json:"collection_threshold"`
	CollectionIntervalMinutes int32  `json:"collection_interval_minutes"`
}

func NewWalletConfigResponse(c store.WalletConfig) WalletConfigResponse {
	return WalletConfigResponse{
		AutoCollectionEnabled:     c.AutoCollectionEnabled,
		CollectionThreshold:       c.CollectionThreshold.String(),
		CollectionIntervalMinutes: c.CollectionIntervalMinutes,
	}
}

type SweepResponse struct {
	FromAddress string `json:"from_address"`
	AmountWei   string `json:"amount_wei"`
	TxHash      string `json:"tx_hash"`
}
