// Package core provides money parsing and handling utilities.
//
// Amounts travel as float64 (the wire format is a JSON number) but every
// aggregation goes through shopspring/decimal so sums do not drift.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount a single entry may carry.
var MaxAmount = decimal.New(1, 12)

const (
	maxAmountLen = 64
	minExponent  = -64
)

// ParseAmount converts the textual form of a submitted amount to a strictly
// positive number no larger than MaxAmount. Only plain decimal notation,
// optionally with an exponent, is accepted.
//
// Examples:
//
//	ParseAmount("100")   -> 100, nil
//	ParseAmount("12.5")  -> 12.5, nil
//	ParseAmount("0")     -> 0, ErrInvalidDateOrAmount
//	ParseAmount("-5")    -> 0, ErrInvalidDateOrAmount
//	ParseAmount("NaN")   -> 0, ErrInvalidDateOrAmount
//	ParseAmount("0x1p4") -> 0, ErrInvalidDateOrAmount
//	ParseAmount("1e13")  -> 0, ErrInvalidDateOrAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxAmountLen {
		return 0, ErrInvalidDateOrAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidDateOrAmount
	}
	// Comparisons rescale to the smaller exponent, so bound it first.
	if exp := d.Exponent(); exp < minExponent || exp > MaxAmount.Exponent() {
		return 0, ErrInvalidDateOrAmount
	}
	if !d.IsPositive() || d.GreaterThan(MaxAmount) {
		return 0, ErrInvalidDateOrAmount
	}
	v := d.InexactFloat64()
	if v <= 0 {
		return 0, ErrInvalidDateOrAmount
	}
	return v, nil
}

// RoundCents rounds d to two decimal places, half away from zero, and
// returns it as a float for the JSON surface.
func RoundCents(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
