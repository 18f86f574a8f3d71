// Package wallet holds the wallet rules that do not need storage: key
// handling, address derivation and balance arithmetic.
package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"campuscoin/internal/apperr"
	"campuscoin/internal/validate"
)

// Scale is the number of fractional digits kept on balances and amounts.
const Scale = 8

const (
	TxSend    = "send"
	TxReceive = "receive"
	TxPending = "pending"

	TxConfirmed     = "confirmed"
	TxStatusPending = "pending"
	TxFailed        = "failed"
)

type Key struct {
	Formatted   string
	Address     string
	Fingerprint string
}

// ParseKey validates a private key and derives its address and the
// fingerprint stored in place of the key.
func ParseKey(raw string) (Key, error) {
	formatted, err := validate.FormatPrivateKey(raw)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Formatted:   formatted,
		Address:     DeriveAddress(formatted),
		Fingerprint: Fingerprint(formatted),
	}, nil
}

// DeriveAddress maps a formatted key to the last 20 bytes of its Keccak-256
// digest. It is a stable identifier, not an elliptic curve public address.
func DeriveAddress(formattedKey string) string {
	raw, err := hex.DecodeString(strings.TrimPrefix(formattedKey, "0x"))
	if err != nil {
		raw = []byte(formattedKey)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

func Fingerprint(formattedKey string) string {
	sum := sha256.Sum256([]byte(formattedKey))
	return hex.EncodeToString(sum[:])
}

// SameAddress compares addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Normalize rounds an amount to the ledger scale.
func Normalize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}

// Debit subtracts amount from balance, refusing to go negative.
func Debit(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return balance, apperr.Validation("amount", "invalid_amount", "Amount must be a positive number")
	}
	next := balance.Sub(Normalize(amount))
	if next.IsNegative() {
		return balance, apperr.Conflict("insufficient_funds", "Insufficient balance")
	}
	return next, nil
}

func Credit(balance, amount decimal.Decimal) decimal.Decimal {
	return balance.Add(Normalize(amount))
}

// Format renders an amount the way the API returns it.
func Format(amount decimal.Decimal) string {
	return amount.Round(Scale).String()
}

// ParseStored parses a numeric column rendered as text.
func ParseStored(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}
