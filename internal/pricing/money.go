package pricing

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places every monetary value is rounded to.
const MoneyPlaces = 2

// Money is a fixed-point amount in the store currency, always held at two
// decimal places. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// NewMoney rounds d to two places.
func NewMoney(d decimal.Decimal) Money {
	return Money{d: round2(d)}
}

// MoneyFromInt returns a whole-unit amount.
func MoneyFromInt(v int64) Money {
	return NewMoney(decimal.NewFromInt(v))
}

// MoneyFromFloat converts a float at the boundary; pricing never does float arithmetic.
func MoneyFromFloat(v float64) Money {
	return NewMoney(decimal.NewFromFloat(v))
}

// MustMoney parses s and panics on malformed input. Intended for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return NewMoney(d)
}

// ParseMoney parses a decimal string.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, err
	}
	return NewMoney(d), nil
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Decimal exposes the underlying value for intermediate arithmetic.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return NewMoney(m.d.Add(o.d)) }
func (m Money) Sub(o Money) Money { return NewMoney(m.d.Sub(o.d)) }

// MulInt multiplies by a quantity.
func (m Money) MulInt(n int) Money { return NewMoney(m.d.Mul(decimal.NewFromInt(int64(n)))) }

func (m Money) IsZero() bool { return m.d.IsZero() }

func (m Money) IsPositive() bool { return m.d.IsPositive() }

func (m Money) IsNegative() bool { return m.d.IsNegative() }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.d.IsNegative() {
		return Zero
	}
	return m
}

// MinMoney returns the smaller of a and b.
func MinMoney(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// String renders the amount with exactly two decimals.
func (m Money) String() string { return m.d.StringFixed(MoneyPlaces) }

// Float64 is for metrics and logs only.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// MarshalJSON writes a bare number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*m = Zero
		return nil
	}
	s = strings.Trim(s, `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: cannot parse %q: %w", s, err)
	}
	*m = NewMoney(d)
	return nil
}

// Value implements driver.Valuer for NUMERIC columns.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	*m = NewMoney(d)
	return nil
}
