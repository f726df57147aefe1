package models

import (
	"math"
	"strconv"
)

// Money holds currency in minor units (cents) so mid-calculation arithmetic
// never touches floating point. Values are rendered as two-decimal numbers
// only at the JSON boundary.
type Money int64

// MoneyFromFloat converts a decimal amount to cents, rounding half away
// from zero.
func MoneyFromFloat(f float64) Money {
	return Money(math.Round(f * 100.0))
}

func (m Money) Float64() float64 {
	return float64(m) / 100.0
}

// Mul scales the amount by an integer quantity.
func (m Money) Mul(quantity int) Money {
	return m * Money(quantity)
}

func (m Money) String() string {
	return strconv.FormatFloat(m.Float64(), 'f', 2, 64)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*m = MoneyFromFloat(f)
	return nil
}
