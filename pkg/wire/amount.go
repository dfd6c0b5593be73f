package wire

import "github.com/shopspring/decimal"

// Amount is a decimal that is written as a bare JSON number. It reads
// both numbers and quoted strings.
type Amount decimal.Decimal

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount { return Amount(d) }

// Decimal unwraps the amount.
func (a Amount) Decimal() decimal.Decimal { return decimal.Decimal(a) }

// MarshalJSON writes the amount in plain decimal notation.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).String()), nil
}

// UnmarshalJSON parses a JSON number or string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Amount(decimal.Zero)
		return nil
	}
	return (*decimal.Decimal)(a).UnmarshalJSON(data)
}
