package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/revenue-ledger/ledger"
)

func TestRoundToCurrency(t *testing.T) {
	assert.True(t, ledger.RoundToCurrency(d("10.005"), "USD").Equal(d("10.01")))
	assert.True(t, ledger.RoundToCurrency(d("10.4"), "JPY").Equal(d("10")))
	assert.True(t, ledger.RoundToCurrency(d("10.5"), "JPY").Equal(d("11")))
	// Unknown currency falls back to 2 decimals
	assert.True(t, ledger.RoundToCurrency(d("1.239"), "XYZ").Equal(d("1.24")))
}

func TestFormatMonetaryAmount(t *testing.T) {
	got, err := ledger.FormatMonetaryAmount(d("1234.5"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "$1,234.50", got)

	got, err = ledger.FormatMonetaryAmount(d("-98765.4"), "EUR")
	require.NoError(t, err)
	assert.Equal(t, "-€98,765.40", got)

	got, err = ledger.FormatMonetaryAmount(d("1000000"), "JPY")
	require.NoError(t, err)
	assert.Equal(t, "¥1,000,000", got, "0-decimal currency has no fraction")

	_, err = ledger.FormatMonetaryAmount(d("1"), "XYZ")
	assert.True(t, ledger.IsNotFound(err))
}

func TestParseMonetaryAmount_RoundTrips(t *testing.T) {
	formatted, err := ledger.FormatMonetaryAmount(d("1234567.89"), "INR")
	require.NoError(t, err)

	parsed, err := ledger.ParseMonetaryAmount(formatted, "INR")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(d("1234567.89")))

	// Plain numbers parse too
	parsed, err = ledger.ParseMonetaryAmount("42.50", "USD")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(d("42.50")))

	_, err = ledger.ParseMonetaryAmount("not a number", "USD")
	assert.Error(t, err)
}

func TestLookupCurrency_CaseAndSpaceInsensitive(t *testing.T) {
	info, ok := ledger.LookupCurrency(" usd ")
	require.True(t, ok)
	assert.Equal(t, "USD", info.Code)

	_, ok = ledger.LookupCurrency("BTC")
	assert.False(t, ok)
}
