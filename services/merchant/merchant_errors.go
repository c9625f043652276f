package merchant

import "errors"

var (
	ErrMerchantNotFound  = errors.New("merchant not found")
	ErrMerchantInactive  = errors.New("merchant account is not active")
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidWebhookURL = errors.New("webhook URL must be a valid http(s) URL")
)
