package utils

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var urlPattern = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)

// IsValidAddress reports whether s is a 0x-prefixed 40-hex-char account address.
func IsValidAddress(s string) bool {
	return isHexWithPrefix(s, 40)
}

func isHexWithPrefix(s string, hexLen int) bool {
	if len(s) != hexLen+2 {
		return false
	}
	if s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsValidURL reports whether s looks like an http(s) URL.
func IsValidURL(s string) bool {
	return urlPattern.MatchString(s)
}

// ValidateOrderID checks the merchant-supplied order identifier: non-empty,
// at most 255 characters, restricted to letters, digits, '_' and '-'.
func ValidateOrderID(orderID string) error {
	if orderID == "" {
		return fmt.Errorf("order ID cannot be empty")
	}
	if len(orderID) > 255 {
		return fmt.Errorf("order ID too long (max 255 characters)")
	}
	for _, c := range orderID {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return fmt.Errorf("order ID contains invalid characters")
	}
	return nil
}

// ValidateAmountScale rejects amounts whose fractional precision exceeds the
// currency's decimal count.
func ValidateAmountScale(amount decimal.Decimal, decimals int32) error {
	if amount.Exponent() < -decimals {
		return fmt.Errorf("amount precision too high (max %d decimal places)", decimals)
	}
	return nil
}
