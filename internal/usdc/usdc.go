// Package usdc parses and formats stablecoin amounts.
//
// The fiat-denominated side of a swap is settled in a 6-decimal stablecoin.
// Every amount that reaches an authorization or a settlement is a big.Int in
// the smallest unit (1 USDC = 1,000,000 units); decimal strings exist only at
// the API boundary.
package usdc

import (
	"errors"
	"math/big"
	"strings"
)

const Decimals = 6

// One is 1.000000 in smallest units.
var One = big.NewInt(1_000_000)

// Limit is the exclusive upper bound on an amount in smallest units. It is
// the capacity of the NUMERIC(20,6) columns amounts are stored in, and keeps
// every amount well inside a 32-byte word.
var Limit = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

var ErrInvalidAmount = errors.New("usdc: invalid amount")

// InRange reports whether amount is non-negative and below Limit.
func InRange(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0 && amount.Cmp(Limit) < 0
}

// Parse converts a decimal string (e.g. "1.50") to smallest units (1500000).
//
// Rules:
//   - Empty, signed, or non-digit input is rejected
//   - Multiple decimal points are rejected
//   - More than 6 fractional digits is rejected (no silent truncation)
func Parse(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
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
	if whole == "" && frac == "" {
		return nil, false
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals || !digits(whole) || !digits(frac) {
		return nil, false
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	return result, ok
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(s string) *big.Int {
	v, ok := Parse(s)
	if !ok {
		panic("usdc: invalid amount " + s)
	}
	return v
}

// ParseUnits parses a base-10 integer string already expressed in smallest units.
func ParseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || !digits(s) {
		return nil, ErrInvalidAmount
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// Format converts smallest units to a decimal string with exactly 6 places
// (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	point := len(s) - Decimals
	result := s[:point] + "." + s[point:]
	if neg {
		result = "-" + result
	}
	return result
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
