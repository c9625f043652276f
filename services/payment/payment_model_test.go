package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency("ETH")
	require.NoError(t, err)
	assert.Equal(t, CurrencyETH, c)

	c, err = ParseCurrency("USDT")
	require.NoError(t, err)
	assert.Equal(t, CurrencyUSDT, c)

	_, err = ParseCurrency("DOGE")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = ParseCurrency("eth")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestSmallestUnitTruncates(t *testing.T) {
	// 1.5 ETH is exactly 1.5e18 wei.
	wei := CurrencyETH.SmallestUnit(decimal.RequireFromString("1.5"))
	assert.Equal(t, "1500000000000000000", wei.String())

	// Excess precision is cut off, never rounded up.
	units := CurrencyUSDT.SmallestUnit(decimal.RequireFromString("1.2345678"))
	assert.Equal(t, "1234567", units.String())

	units = CurrencyUSDT.SmallestUnit(decimal.RequireFromString("0.0000009"))
	assert.Equal(t, "0", units.String())
}

func TestFromSmallestUnitRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("0.25")
	wei := CurrencyETH.SmallestUnit(amount)
	assert.True(t, amount.Equal(CurrencyETH.FromSmallestUnit(wei)))
}

func TestPaymentURI(t *testing.T) {
	address := "0x1111111111111111111111111111111111111111"

	uri := PaymentURI(CurrencyETH, 1, address, decimal.RequireFromString("0.5"))
	assert.Equal(t, "ethereum:"+address+"?value=500000000000000000", uri)

	uri = PaymentURI(CurrencyUSDT, 1, address, decimal.RequireFromString("25"))
	assert.Equal(t,
		"ethereum:0xdAC17F958D2ee523a2206206994597C13D831ec7@1/transfer?address="+address+"&uint256=25000000",
		uri)

	// The chain ID in the URI follows configuration, not a hardcoded mainnet.
	uri = PaymentURI(CurrencyUSDT, 5, address, decimal.RequireFromString("25"))
	assert.Contains(t, uri, "@5/transfer")
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusExpired.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, PaymentStatus("bogus").Valid())
}

func TestCurrencyLimits(t *testing.T) {
	assert.Equal(t, int32(18), CurrencyETH.Decimals())
	assert.Equal(t, int32(6), CurrencyUSDT.Decimals())
	assert.True(t, CurrencyETH.IsNative())
	assert.False(t, CurrencyUSDT.IsNative())
	assert.Empty(t, CurrencyETH.ContractAddress())
	assert.Equal(t, "0xdAC17F958D2ee523a2206206994597C13D831ec7", CurrencyUSDT.ContractAddress())
	assert.True(t, CurrencyETH.MinAmount().Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, CurrencyUSDT.MaxAmount().Equal(decimal.NewFromInt(1_000_000)))
}
