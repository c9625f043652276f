package webhook

import "errors"

var (
	ErrWebhookNotFound = errors.New("webhook log not found")
	ErrNoWebhookURL    = errors.New("merchant has no webhook URL configured")
)
