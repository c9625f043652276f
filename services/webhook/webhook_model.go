package webhook

import "time"

const (
	EventPaymentCreated   = "payment.created"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentCompleted = "payment.completed"
	EventPaymentExpired   = "payment.expired"
	EventPaymentFailed    = "payment.failed"
)

// EventForStatus maps a payment status to the merchant-facing event name.
func EventForStatus(status string) string {
	switch status {
	case "confirmed":
		return EventPaymentConfirmed
	case "completed":
		return EventPaymentCompleted
	case "expired":
		return EventPaymentExpired
	case "failed":
		return EventPaymentFailed
	default:
		return EventPaymentCreated
	}
}

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const (
	HeaderSignature = "X-WoPay-Signature"
	HeaderWebhookID = "X-WoPay-Webhook-Id"
	userAgent       = "WoPay-Webhook/1.0"
)

// Payload is the JSON body delivered to merchant endpoints.
type Payload struct {
	Event           string `json:"event"`
	PaymentID       string `json:"payment_id"`
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	Confirmations   int32  `json:"confirmations"`
	Timestamp       int64  `json:"timestamp"`
}

// retryDelays spaces out redelivery attempts. Attempts past the end of the
// schedule reuse the final delay.
var retryDelays = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	135 * time.Second,
	405 * time.Second,
}

// RetryDelay returns the wait before the next attempt given how many
// attempts have already failed.
func RetryDelay(failedAttempts int32) time.Duration {
	if failedAttempts < 1 {
		return retryDelays[0]
	}
	idx := int(failedAttempts) - 1
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	return retryDelays[idx]
}
