// Package money holds the exact-decimal amount and currency value objects used
// by every ledger aggregate.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/shopspring/decimal"
)

const (
	// Scale is the number of fractional digits kept.
	Scale = 2
	// IntegerDigits is the maximum number of integer digits.
	IntegerDigits = 10
)

var upperBound = decimal.New(1, IntegerDigits)

// Money is a non-negative amount with a fixed scale of two decimals.
// The zero value is 0.00.
type Money struct {
	amount decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// Of builds Money from d, rounding half-up to two decimals.
func Of(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Zero, apperr.New(apperr.CodeInvalidAmount, "amount must not be negative", map[string]any{
			"amount": d.String(),
		})
	}

	rounded := d.Round(Scale)
	if rounded.GreaterThanOrEqual(upperBound) {
		return Zero, apperr.New(apperr.CodeInvalidAmount, "amount exceeds supported precision", map[string]any{
			"amount": d.String(),
		})
	}

	return Money{amount: rounded}, nil
}

// Parse builds Money from its decimal text form.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, apperr.Wrap(apperr.CodeInvalidAmount, "amount is not a decimal number", map[string]any{
			"amount": s,
		}, err)
	}

	return Of(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return m
}

// FromCents builds Money from an amount in minor units.
func FromCents(cents int64) (Money, error) {
	return Of(decimal.New(cents, -Scale))
}

// Add returns m + o, failing with INVALID_AMOUNT when the sum no longer
// fits the supported precision.
func (m Money) Add(o Money) (Money, error) {
	return Of(m.amount.Add(o.amount))
}

// Subtract returns m - o, failing with NEGATIVE_RESULT below zero.
func (m Money) Subtract(o Money) (Money, error) {
	d := m.amount.Sub(o.amount)
	if d.IsNegative() {
		return Zero, apperr.New(apperr.CodeNegativeResult, "", map[string]any{
			"minuend":    m.String(),
			"subtrahend": o.String(),
		})
	}

	return Money{amount: d}, nil
}

// Multiply returns m * factor rounded half-up.
func (m Money) Multiply(factor decimal.Decimal) (Money, error) {
	return Of(m.amount.Mul(factor))
}

func (m Money) Cmp(o Money) int                 { return m.amount.Cmp(o.amount) }
func (m Money) Equal(o Money) bool              { return m.amount.Equal(o.amount) }
func (m Money) LessThan(o Money) bool           { return m.amount.LessThan(o.amount) }
func (m Money) GreaterThan(o Money) bool        { return m.amount.GreaterThan(o.amount) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.amount.GreaterThanOrEqual(o.amount) }
func (m Money) IsZero() bool                    { return m.amount.IsZero() }
func (m Money) IsPositive() bool                { return m.amount.IsPositive() }

// Decimal exposes the underlying value.
func (m Money) Decimal() decimal.Decimal { return m.amount }

// Cents returns the amount in minor units.
func (m Money) Cents() int64 {
	return m.amount.Shift(Scale).IntPart()
}

// String renders the amount with exactly two decimals.
func (m Money) String() string {
	return m.amount.StringFixed(Scale)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var d decimal.Decimal
		if derr := d.UnmarshalJSON(b); derr != nil {
			return fmt.Errorf("decode money: %w", err)
		}

		s = d.String()
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

// Value stores Money as a NUMERIC literal.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads a NUMERIC column.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}

	parsed, err := Of(d)
	if err != nil {
		return fmt.Errorf("scan money: %w", err)
	}

	*m = parsed

	return nil
}

// Sum adds all amounts.
func Sum(amounts ...Money) (Money, error) {
	total := Zero

	for _, a := range amounts {
		var err error

		total, err = total.Add(a)
		if err != nil {
			return Zero, err
		}
	}

	return total, nil
}
