package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, "INR", cfg.Pricing.Currency)
	assert.True(t, cfg.Pricing.ShippingFlatFee.Equal(decimal.NewFromInt(100)))
	assert.True(t, cfg.Pricing.FreeShippingThreshold.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 3, cfg.Pricing.CouponCommitRetries)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_PricingOverrides(t *testing.T) {
	t.Setenv("SHIPPING_FLAT_FEE", "49.50")
	t.Setenv("SHIPPING_FREE_THRESHOLD", "500")
	t.Setenv("PRICING_FALLBACK_PRICE", "-1")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ENABLE_ORDER_EVENTS", "false")

	cfg := Load()

	assert.Equal(t, "49.5", cfg.Pricing.ShippingFlatFee.String())
	assert.Equal(t, "500", cfg.Pricing.FreeShippingThreshold.String())
	// negative values are rejected in favour of the default
	assert.Equal(t, "999", cfg.Pricing.FallbackPrice.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Features.EnableOrderEvents)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", d.ConnectionString())
}
