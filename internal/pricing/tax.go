package pricing

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTaxRatePercent is the store-wide rate applied when a catalog record carries none.
const DefaultTaxRatePercent = 18

var (
	defaultTaxRate = decimal.NewFromInt(DefaultTaxRatePercent)
	hundred        = decimal.NewFromInt(100)
	one            = decimal.NewFromInt(1)
)

// NormalizeTaxRate canonicalizes a stored tax rate into a percentage in [0, 100].
//
// Values strictly between 0 and 1 are fractions (0.18 -> 18). Values of 1 or
// more are already percentages. Missing or non-numeric input yields the
// store default. Negative input clamps to 0. This is the only place a rate is
// interpreted; downstream code must use the returned percentage as-is.
func NormalizeTaxRate(input interface{}) decimal.Decimal {
	rate, ok := toDecimal(input)
	if !ok {
		return defaultTaxRate
	}
	switch {
	case rate.Sign() <= 0:
		return decimal.Zero
	case rate.LessThan(one):
		return rate.Mul(hundred)
	case rate.GreaterThan(hundred):
		return hundred
	default:
		return rate
	}
}

func toDecimal(input interface{}) (decimal.Decimal, bool) {
	switch v := input.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case float64:
		return fromFloat(v)
	case float32:
		return fromFloat(float64(v))
	case *float64:
		if v == nil {
			return decimal.Zero, false
		}
		return fromFloat(*v)
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int8:
		return decimal.NewFromInt(int64(v)), true
	case int16:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint:
		return decimal.NewFromUint64(uint64(v)), true
	case uint8:
		return decimal.NewFromUint64(uint64(v)), true
	case uint16:
		return decimal.NewFromUint64(uint64(v)), true
	case uint32:
		return decimal.NewFromUint64(uint64(v)), true
	case uint64:
		return decimal.NewFromUint64(v), true
	case json.Number:
		return fromString(string(v))
	case string:
		return fromString(v)
	default:
		return decimal.Zero, false
	}
}

func fromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func fromString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Percent is a normalized tax rate percentage. It encodes as a bare JSON number.
type Percent struct {
	d decimal.Decimal
}

// NewPercent wraps an already-normalized percentage.
func NewPercent(d decimal.Decimal) Percent { return Percent{d: d} }

func (p Percent) Decimal() decimal.Decimal { return p.d }

func (p Percent) String() string { return p.d.String() }

func (p Percent) MarshalJSON() ([]byte, error) { return []byte(p.d.String()), nil }

func (p *Percent) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "null" || s == "" {
		*p = Percent{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*p = Percent{d: d}
	return nil
}
