package validate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"campuscoin/internal/apperr"
)

var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern       = regexp.MustCompile(`^[0-9]{6}$`)
	privateKeyPattern = regexp.MustCompile(`^(0x)?[a-fA-F0-9]{64}$`)
	addressPattern    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

const (
	RoleStudent    = "student"
	RoleSeller     = "seller"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

func Name(name string) error {
	if len([]rune(strings.TrimSpace(name))) < 2 {
		return apperr.Validation("name", "invalid_name", "Name must be at least 2 characters")
	}
	return nil
}

func Email(email string) error {
	if !emailPattern.MatchString(email) {
		return apperr.Validation("email", "invalid_email", "Please enter a valid email address")
	}
	return nil
}

// Password requires at least 8 characters with a lower-case letter, an
// upper-case letter, a digit and a symbol.
func Password(password string) error {
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSpace(r):
		default:
			symbol = true
		}
	}
	if len([]rune(password)) < 8 || !lower || !upper || !digit || !symbol {
		return apperr.Validation("password", "weak_password", "Password must be at least 8 characters with upper, lower, number and symbol")
	}
	return nil
}

// RegistrationRole accepts the roles a user may pick at sign-up.
func RegistrationRole(role string) error {
	switch role {
	case RoleStudent, RoleAdmin, RoleSeller:
		return nil
	default:
		return apperr.Validation("role", "invalid_role", "Role must be student, admin or seller")
	}
}

func IsRole(role string) bool {
	switch role {
	case RoleStudent, RoleSeller, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

func VerificationCode(code string) error {
	if !codePattern.MatchString(code) {
		return apperr.Validation("code", "invalid_code", "Verification code must be 6 digits")
	}
	return nil
}

func PrivateKey(key string) error {
	if !privateKeyPattern.MatchString(strings.TrimSpace(key)) {
		return apperr.Validation("privateKey", "invalid_private_key", "Private key must be 64 hexadecimal characters")
	}
	return nil
}

// FormatPrivateKey normalizes a valid key to 0x followed by 64 lower-case hex
// characters.
func FormatPrivateKey(key string) (string, error) {
	if err := PrivateKey(key); err != nil {
		return "", err
	}
	key = strings.ToLower(strings.TrimSpace(key))
	return "0x" + strings.TrimPrefix(key, "0x"), nil
}

func Address(address string) error {
	if !addressPattern.MatchString(address) {
		return apperr.Validation("toAddress", "invalid_address", "Invalid recipient address")
	}
	return nil
}

// Amount parses a strictly positive decimal amount.
func Amount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, apperr.Validation("amount", "invalid_amount", "Amount must be a positive number")
	}
	return amount, nil
}
