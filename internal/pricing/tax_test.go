package pricing

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeTaxRate(t *testing.T) {
	f := 0.05
	d := decimal.RequireFromString("28")

	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"nil defaults", nil, "18"},
		{"fraction", 0.18, "18"},
		{"percentage", 18.0, "18"},
		{"int percentage", 12, "12"},
		{"exactly one is a percentage", 1, "1"},
		{"zero is exempt", 0, "0"},
		{"negative clamps to zero", -5, "0"},
		{"above hundred caps", 250, "100"},
		{"numeric string", "0.12", "12"},
		{"padded string", " 5 ", "5"},
		{"json number", json.Number("28"), "28"},
		{"non-numeric string", "eighteen", "18"},
		{"empty string", "", "18"},
		{"NaN", math.NaN(), "18"},
		{"infinity", math.Inf(1), "18"},
		{"pointer float", &f, "5"},
		{"nil pointer", (*float64)(nil), "18"},
		{"decimal", d, "28"},
		{"int8", int8(5), "5"},
		{"int16", int16(5), "5"},
		{"negative int16", int16(-3), "0"},
		{"uint8", uint8(12), "12"},
		{"uint16", uint16(28), "28"},
		{"uint32", uint32(5), "5"},
		{"uint64", uint64(18), "18"},
		{"huge uint64 caps", uint64(math.MaxUint64), "100"},
		{"huge uint caps", ^uint(0), "100"},
		{"unsupported type", []int{1}, "18"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTaxRate(tt.input)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNormalizeTaxRate_FractionAndPercentAgree(t *testing.T) {
	assert.True(t, NormalizeTaxRate(0.18).Equal(NormalizeTaxRate(18)))
}

func TestPercent_JSON(t *testing.T) {
	b, err := json.Marshal(NewPercent(decimal.RequireFromString("12.5")))
	assert.NoError(t, err)
	assert.Equal(t, "12.5", string(b))

	var p Percent
	assert.NoError(t, json.Unmarshal([]byte(`"18"`), &p))
	assert.Equal(t, "18", p.String())
}
