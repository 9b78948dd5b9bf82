package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is the wire representation of a monetary value. It accepts both
// JSON strings and JSON numbers so clients are free to send "10.50" or 10.5.
type Amount struct {
	raw string
	set bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.raw = s
		a.set = true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	a.raw = n.String()
	a.set = true
	return nil
}

func (a Amount) String() string { return a.raw }

func (a Amount) IsSet() bool { return a.set && strings.TrimSpace(a.raw) != "" }

func parseScaledAmount(raw string, field string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, NewValidationError(field, "Amount is required")
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, NewValidationError(field, "Amount is required")
	}

	if d.Exponent() < -2 {
		// Exponent alone over-rejects values like "1.100"; compare against
		// the 2-dp truncation to decide whether precision is actually lost.
		if !d.Equal(d.Truncate(2)) {
			return decimal.Zero, NewValidationError(field, "Amount must have at most 2 decimal places")
		}
	}

	return d.Round(2), nil
}

// ParsePositiveAmount validates and normalizes a raw monetary value: it must
// parse as a decimal, carry at most 2 fractional digits, and be strictly
// positive. Values with more precision are rejected, never rounded.
func ParsePositiveAmount(raw string, field string) (decimal.Decimal, error) {
	normalized, err := parseScaledAmount(raw, field)
	if err != nil {
		return decimal.Zero, err
	}
	if normalized.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, NewValidationError(field, "Amount must be greater than zero")
	}
	return normalized, nil
}

// ParseNonNegativeAmount is ParsePositiveAmount with zero allowed; opening
// balances use it.
func ParseNonNegativeAmount(raw string, field string) (decimal.Decimal, error) {
	normalized, err := parseScaledAmount(raw, field)
	if err != nil {
		return decimal.Zero, err
	}
	if normalized.LessThan(decimal.Zero) {
		return decimal.Zero, NewValidationError(field, "Amount must be zero or greater")
	}
	return normalized, nil
}

// FormatAmount renders a monetary value with exactly 2 decimal places, the
// only representation monetary fields ever serialize with.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// RequestHash fingerprints a transfer request so an idempotency key reused
// with a different payload can be detected. The amount is normalized to its
// 2-dp rendering before hashing so "10.5" and "10.50" fingerprint equally.
func RequestHash(fromAccountID, toAccountID string, amount decimal.Decimal, description string) string {
	sum := sha256.Sum256([]byte(fromAccountID + "|" + toAccountID + "|" + FormatAmount(amount) + "|" + description))
	return hex.EncodeToString(sum[:])
}
