package payment

import "errors"

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrOrderIDTaken        = errors.New("order ID already used by this merchant")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrAmountTooSmall      = errors.New("amount below minimum for currency")
	ErrAmountTooLarge      = errors.New("amount above maximum for currency")
	ErrInvalidExpiry       = errors.New("expiry must be between 1 minute and 7 days")
	ErrInvalidStatus       = errors.New("invalid payment status")
)
