// Package money provides integer minor-unit monetary arithmetic.
// All checkout amounts are carried as int64 minor units (cents for USD)
// to keep totals exact and reproducible; floating point never appears
// on an arithmetic path.
package money

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money represents a monetary value in a specific currency.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code
}

// New creates a new Money instance.
func New(amount int64, currency string) Money {
	return Money{AmountMinor: amount, Currency: currency}
}

// Add adds two Money amounts. Returns error on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts other Money from m. Returns error on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Mul multiplies the amount by an integer factor (e.g. a line quantity).
func (m Money) Mul(factor int64) Money {
	return Money{AmountMinor: m.AmountMinor * factor, Currency: m.Currency}
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// FloorZero returns m with the amount raised to 0 if it is negative.
func (m Money) FloorZero() Money {
	if m.AmountMinor < 0 {
		return Money{AmountMinor: 0, Currency: m.Currency}
	}
	return m
}

// ClampMinor limits amount to at most max minor units. Used to keep a
// discount from exceeding the subtotal it applies to.
func ClampMinor(amount, max int64) int64 {
	if amount > max {
		return max
	}
	return amount
}

// Format renders the amount for buyer display, e.g. "$4.99".
// Unknown currency codes fall back to "<minor> <CODE>".
func (m Money) Format() string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return fmt.Sprintf("%d %s", m.AmountMinor, m.Currency)
	}
	p := message.NewPrinter(language.English)
	sym := p.Sprintf("%v", currency.Symbol(unit))
	v, neg := m.AmountMinor, ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%s%d.%02d", neg, sym, v/100, v%100)
}
