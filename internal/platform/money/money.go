// Package money converts between client-facing major-unit amounts and stored minor units.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrInvalidAmount reports a negative amount or one with more precision than the currency allows.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrUnknownCurrency reports a code that is not a valid ISO 4217 currency.
	ErrUnknownCurrency = errors.New("money: unknown currency")
)

// Currency wraps an ISO 4217 unit together with its minor-unit scale.
type Currency struct {
	unit  currency.Unit
	scale int32
}

// ParseCurrency resolves an ISO code such as "BRL".
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Currency{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Currency{unit: unit, scale: int32(scale)}, nil
}

// MustCurrency is ParseCurrency for compile-time constants.
func MustCurrency(code string) Currency {
	c, err := ParseCurrency(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Code returns the ISO code.
func (c Currency) Code() string { return c.unit.String() }

// Scale returns the number of minor-unit digits (2 for BRL, 0 for JPY).
func (c Currency) Scale() int32 { return c.scale }

// ToMinor converts a major-unit amount to minor units. Sub-minor precision is rejected rather
// than rounded so that client and server never disagree silently.
func (c Currency) ToMinor(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	shifted := amount.Shift(c.scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, c.scale)
	}
	if !shifted.LessThanOrEqual(decimal.NewFromInt(1 << 53)) {
		return 0, fmt.Errorf("%w: %s is too large", ErrInvalidAmount, amount)
	}
	return shifted.IntPart(), nil
}

// ToMinorRounded converts like ToMinor but rounds sub-minor precision half away from zero.
// Used for informational amounts such as client-asserted prices.
func (c Currency) ToMinorRounded(amount decimal.Decimal) (int64, error) {
	return c.ToMinor(amount.Round(c.scale))
}

// ParseMinor parses a decimal string in major units.
func (c Currency) ParseMinor(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return c.ToMinor(amount)
}

// ToMajor converts minor units back to a major-unit decimal.
func (c Currency) ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.scale)
}

// Format renders minor units as "BRL 10.50".
func (c Currency) Format(minor int64) string {
	return c.Code() + " " + c.ToMajor(minor).StringFixed(c.scale)
}
