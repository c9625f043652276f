package payment

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusCompleted PaymentStatus = "completed"
	StatusExpired   PaymentStatus = "expired"
	StatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether a payment can never leave this status.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusFailed:
		return true
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusExpired, StatusFailed:
		return true
	}
	return false
}

type Currency string

const (
	CurrencyETH  Currency = "ETH"
	CurrencyUSDT Currency = "USDT"
)

const usdtContractAddress = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case CurrencyETH:
		return CurrencyETH, nil
	case CurrencyUSDT:
		return CurrencyUSDT, nil
	}
	return "", ErrUnsupportedCurrency
}

// Decimals returns the number of fractional digits the currency carries on
// chain. ETH amounts are denominated in wei, USDT in its 6-decimal base unit.
func (c Currency) Decimals() int32 {
	switch c {
	case CurrencyUSDT:
		return 6
	default:
		return 18
	}
}

// IsNative reports whether the currency is the chain's native asset rather
// than a token contract.
func (c Currency) IsNative() bool {
	return c == CurrencyETH
}

// ContractAddress returns the token contract, or "" for the native asset.
func (c Currency) ContractAddress() string {
	if c == CurrencyUSDT {
		return usdtContractAddress
	}
	return ""
}

func (c Currency) MinAmount() decimal.Decimal {
	if c == CurrencyUSDT {
		return decimal.RequireFromString("0.01")
	}
	return decimal.RequireFromString("0.0001")
}

func (c Currency) MaxAmount() decimal.Decimal {
	if c == CurrencyUSDT {
		return decimal.NewFromInt(1_000_000)
	}
	return decimal.NewFromInt(1000)
}

// SmallestUnit converts a decimal amount into the currency's integer base
// unit. Excess precision is truncated, never rounded up, so a customer is
// never asked for more than the merchant quoted.
func (c Currency) SmallestUnit(amount decimal.Decimal) *big.Int {
	return amount.Shift(c.Decimals()).Truncate(0).BigInt()
}

// FromSmallestUnit converts an on-chain integer value back into a decimal
// amount of the currency.
func (c Currency) FromSmallestUnit(value *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(value, 0).Shift(-c.Decimals())
}

// PaymentURI renders an EIP-681 request URI for wallets. Native transfers
// embed the wei value directly; token transfers route through the contract's
// transfer function on the configured chain.
func PaymentURI(c Currency, chainID uint64, address string, amount decimal.Decimal) string {
	units := c.SmallestUnit(amount)
	if c.IsNative() {
		return fmt.Sprintf("ethereum:%s?value=%s", address, units.String())
	}
	return fmt.Sprintf("ethereum:%s@%d/transfer?address=%s&uint256=%s",
		c.ContractAddress(), chainID, address, units.String())
}

const (
	// DefaultExpiry is applied when a merchant does not request a window.
	DefaultExpiry = time.Hour
	// MaxExpiry bounds merchant-requested payment windows.
	MaxExpiry = 7 * 24 * time.Hour
)
