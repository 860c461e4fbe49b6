// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts and plain numbers
// from user input into decimals.
package core

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidNumber = errors.New("invalid number")
)

// ParseAmount converts a decimal string to a currency amount rounded to two
// places, halves away from zero.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional sign, so refunds can be recorded as negative amounts. Exponent
// notation and thousands separators are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35
//	ParseAmount("-7,5")   -> -7.50
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	digits := 0
	for _, p := range parts {
		for _, r := range p {
			if r < '0' || r > '9' {
				return decimal.Zero, ErrInvalidAmount
			}
			digits++
		}
	}
	if digits == 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	if parts[0] == "" {
		s = "0" + s
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !fitsFloat64(d) {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// ParseNumber parses a signed decimal number. A lone comma is read as the
// decimal separator; exponent notation is accepted as long as the value is
// representable as a spreadsheet number.
func ParseNumber(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidNumber
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !fitsFloat64(d) {
		return decimal.Zero, ErrInvalidNumber
	}
	return d, nil
}

// fitsFloat64 reports whether d is within the finite float64 range, which
// is what spreadsheet cells can hold.
func fitsFloat64(d decimal.Decimal) bool {
	f, _ := d.Float64()
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// IsNumber reports whether s parses with ParseNumber.
func IsNumber(s string) bool {
	_, err := ParseNumber(s)
	return err == nil
}
