package wallet

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscoin/internal/apperr"
	"campuscoin/internal/validate"
)

func TestParseKeyIsStable(t *testing.T) {
	raw := strings.Repeat("1f", 32)

	plain, err := ParseKey(raw)
	require.NoError(t, err)
	prefixed, err := ParseKey("0x" + strings.ToUpper(raw))
	require.NoError(t, err)

	assert.Equal(t, plain, prefixed)
	assert.Len(t, plain.Formatted, 66)
	assert.NoError(t, validate.Address(plain.Address))
	assert.NotContains(t, plain.Fingerprint, raw)

	other, err := ParseKey(strings.Repeat("2e", 32))
	require.NoError(t, err)
	assert.NotEqual(t, plain.Address, other.Address)
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	_, err := ParseKey(strings.Repeat("a", 63))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDebitCredit(t *testing.T) {
	balance := decimal.RequireFromString("10")

	next, err := Debit(balance, decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	assert.Equal(t, "7.5", next.String())

	_, err = Debit(balance, decimal.RequireFromString("10.00000001"))
	assert.True(t, apperr.HasCode(err, "insufficient_funds"))

	_, err = Debit(balance, decimal.Zero)
	assert.True(t, apperr.HasCode(err, "invalid_amount"))

	assert.Equal(t, "10.12345679", Format(Credit(balance, decimal.RequireFromString("0.123456789"))))
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xABCDEF", "0xabcdef"))
	assert.False(t, SameAddress("0xabc", "0xabd"))
}

func TestParseStored(t *testing.T) {
	assert.Equal(t, "12.5", ParseStored("12.50000000").String())
	assert.True(t, ParseStored("garbage").IsZero())
}
