// Package money provides fixed-point parsing and formatting for monetary
// amounts.
//
// Amounts use 6 decimal places and are stored as big.Int in the smallest
// unit (1 unit of currency = 1,000,000 micro-units). The currency itself is
// a display concern configured at the boundary; nothing in this package is
// currency-specific.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 6

// Parse converts a decimal string (e.g. "30.00") to its smallest-unit
// big.Int representation (30000000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 6 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a decimal string with exactly
// 6 decimal places (e.g. "30.000000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// MustParse is Parse for trusted literals (configuration defaults, tests).
// It panics on invalid input.
func MustParse(s string) *big.Int {
	v, ok := Parse(s)
	if !ok {
		panic("money: invalid amount literal: " + s)
	}
	return v
}
