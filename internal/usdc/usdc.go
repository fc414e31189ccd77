// Package usdc implements exact-precision USDC amount arithmetic.
//
// Every amount that crosses a boundary (API, store, chain) is a decimal
// string; arithmetic happens on big.Int values in the token's smallest
// unit (USDC has 6 decimals, so 1 USDC = 1,000,000 units). Binary floats
// are never used; repeated micro-charges must not accumulate rounding
// drift.
package usdc

import (
	"math/big"
	"strings"
)

// Decimals is the USDC token precision.
const Decimals = 6

// Parse converts a decimal string (e.g. "0.001") to its smallest-unit
// representation (1000). Returns (nil, false) on invalid input.
//
// Rules:
//   - empty string parses as zero
//   - negative amounts are rejected
//   - at most one decimal point
//   - fractional digits beyond 6 places are truncated, shorter ones padded
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

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	result, ok := new(big.Int).SetString(whole+frac, 10)
	return result, ok
}

// Format converts a smallest-unit value back to a decimal string with
// exactly 6 fractional digits (e.g. 1500000 → "1.500000").
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
	cut := len(s) - Decimals
	out := s[:cut] + "." + s[cut:]
	if neg {
		out = "-" + out
	}
	return out
}

// Add returns a+b as a formatted decimal string. Invalid inputs are
// treated as zero; validate at the boundary, not here.
func Add(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = new(big.Int)
	}
	if y == nil {
		y = new(big.Int)
	}
	return Format(new(big.Int).Add(x, y))
}

// Sub returns a−b as a formatted decimal string.
func Sub(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = new(big.Int)
	}
	if y == nil {
		y = new(big.Int)
	}
	return Format(new(big.Int).Sub(x, y))
}

// Cmp compares two decimal strings: -1 if a<b, 0 if equal, 1 if a>b.
// Invalid inputs compare as zero.
func Cmp(a, b string) int {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = new(big.Int)
	}
	if y == nil {
		y = new(big.Int)
	}
	return x.Cmp(y)
}

// IsPositive reports whether s parses to a strictly positive amount.
func IsPositive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}
