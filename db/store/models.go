package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

type Merchant struct {
	ID         uuid.UUID
	Name       string
	Email      string
	APIKey     string
	APISecret  string
	WebhookURL sql.NullString
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Payment struct {
	ID              uuid.UUID
	MerchantID      uuid.UUID
	OrderID         string
	Amount          decimal.Decimal
	Currency        string
	PaymentAddress  string
	Status          string
	TransactionHash sql.NullString
	Confirmations   int32
	ExpiresAt       sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PaymentAddress struct {
	ID                  uuid.UUID
	PaymentID           uuid.UUID
	AddressIndex        int64
	Address             string
	PrivateKeyEncrypted []byte
	IsCollected         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type WebhookLog struct {
	ID          uuid.UUID
	MerchantID  uuid.UUID
	PaymentID   uuid.NullUUID
	EventType   string
	URL         string
	Payload     []byte
	Status      string
	Attempts    int32
	Response    pqtype.NullRawMessage
	NextRetryAt sql.NullTime
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type BlockchainTransaction struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	TxHash      string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	GasUsed     sql.NullInt64
	GasPrice    decimal.NullDecimal
	BlockNumber sql.NullInt64
	Status      string
	CreatedAt   time.Time
}

type CollectionTransaction struct {
	ID          uuid.UUID
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	TxHash      string
	CreatedAt   time.Time
}

type CollectionStat struct {
	CollectionDate   time.Time
	TransactionCount int32
}

type WalletConfig struct {
	AutoCollectionEnabled     bool
	CollectionThreshold       decimal.Decimal
	CollectionIntervalMinutes int32
	UpdatedAt                 time.Time
}
