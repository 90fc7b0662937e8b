// Package money provides a minor-unit monetary amount used for payment
// amounts and fixed discounts. Amounts are stored as int64 minor units
// (kopecks/cents) to stay exact across storage and arithmetic.
package money

import (
	"encoding/json"
	"fmt"
	"math"
)

// Currency is a 3-letter ISO 4217 code.
type Currency string

const (
	RUB Currency = "RUB"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// minorUnits maps currencies to their number of decimal places.
var minorUnits = map[Currency]int{
	RUB: 2,
	USD: 2,
	EUR: 2,
}

// Money represents a monetary amount in minor units.
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a Money value from minor units.
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// FromMajor creates Money from major units (e.g. rubles), rounding to the
// nearest minor unit.
func FromMajor(amountMajor float64, currency Currency) Money {
	units, ok := minorUnits[currency]
	if !ok {
		units = 2
	}
	multiplier := math.Pow(10, float64(units))
	return Money{
		AmountMinor: int64(math.Round(amountMajor * multiplier)),
		Currency:    currency,
	}
}

// Zero returns a zero amount for a currency.
func Zero(currency Currency) Money {
	return Money{AmountMinor: 0, Currency: currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive reports whether the amount is strictly positive.
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// Add adds two money values (must be same currency).
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts other from m (must be same currency).
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Percentage calculates a percentage expressed in basis points (1% = 100 bp),
// rounding to the nearest minor unit.
func (m Money) Percentage(basisPoints int64) Money {
	return Money{
		AmountMinor: int64(math.Round(float64(m.AmountMinor) * float64(basisPoints) / 10000)),
		Currency:    m.Currency,
	}
}

// ToMajor converts to major units as a float. Display only; never feed the
// result back into arithmetic.
func (m Money) ToMajor() float64 {
	units, ok := minorUnits[m.Currency]
	if !ok {
		units = 2
	}
	return float64(m.AmountMinor) / math.Pow(10, float64(units))
}

// Equal checks equality of amount and currency.
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// String returns a human-readable representation.
func (m Money) String() string {
	units, ok := minorUnits[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	return fmt.Sprintf("%.*f %s", units, m.ToMajor(), m.Currency)
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}{m.AmountMinor, string(m.Currency)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}
