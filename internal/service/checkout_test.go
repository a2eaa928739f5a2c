package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
)

func testPricingConfig() config.PricingConfig {
	return config.PricingConfig{
		Currency:              "INR",
		ShippingFlatFee:       decimal.NewFromInt(100),
		FreeShippingThreshold: decimal.NewFromInt(1000),
		FallbackPrice:         decimal.NewFromInt(999),
		CouponCommitRetries:   3,
	}
}

func newTestCheckout(store *memStore) *CheckoutService {
	cfg := testPricingConfig()
	valuator := pricing.NewValuator(pricing.NewMoney(cfg.FallbackPrice), nil, nil)
	svc := NewCheckoutService(store, store, store, valuator, nil, cfg, nil)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

// mixedCart prices to subtotal 750, tax 120 (90 + 30) and shipping 100, with one skipped entry.
func mixedCart(userID string) *models.Cart {
	return &models.Cart{
		UserID: userID,
		Entries: []pricing.CartEntry{
			{RefID: "toy-1", RefType: pricing.RefTypeProduct, Quantity: 1},
			{RefID: "gone", RefType: pricing.RefTypeProduct, Quantity: 1},
			{RefID: "toy-2", RefType: pricing.RefTypeProduct, Quantity: 1},
		},
	}
}

func TestCheckoutService_PreviewCart(t *testing.T) {
	store := seededStore()
	store.carts["u1"] = mixedCart("u1")
	svc := newTestCheckout(store)

	q, err := svc.PreviewCart(context.Background(), "u1")
	require.NoError(t, err)

	assert.False(t, q.Empty)
	assert.Len(t, q.Items, 2)
	assert.Equal(t, 1, q.SkippedCount)
	assert.Equal(t, pricing.SkipReasonReferenceMissing, q.Skipped[0].Reason)
	assert.Equal(t, "750.00", q.Breakdown.Subtotal.String())
	assert.Equal(t, "120.00", q.Breakdown.Tax.String())
	assert.Equal(t, "100.00", q.Breakdown.Shipping.String())
	assert.Equal(t, "970.00", q.Breakdown.AmountDue.String())
	assert.Equal(t, "100.00", q.TotalSavings.String())
	assert.Equal(t, "INR", q.Currency)
	assert.Nil(t, q.Coupon)
}

func TestCheckoutService_PreviewEmptyCart(t *testing.T) {
	svc := newTestCheckout(seededStore())

	q, err := svc.PreviewCart(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, q.Empty)
	assert.True(t, q.Breakdown.Equal(pricing.Breakdown{}))
	assert.Empty(t, q.Items)
}

func TestCheckoutService_PreviewAllEntriesSkipped(t *testing.T) {
	store := seededStore()
	store.carts["u1"] = &models.Cart{UserID: "u1", Entries: []pricing.CartEntry{{RefID: "gone", Quantity: 1}}}

	q, err := newTestCheckout(store).PreviewCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, q.Empty)
	assert.Equal(t, 1, q.SkippedCount)
	assert.True(t, q.Breakdown.AmountDue.IsZero())
}

func TestCheckoutService_PreviewRequiresUser(t *testing.T) {
	_, err := newTestCheckout(seededStore()).PreviewCart(context.Background(), " ")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestCheckoutService_Calculate(t *testing.T) {
	store := seededStore()
	store.carts["u1"] = mixedCart("u1")
	svc := newTestCheckout(store)

	tests := []struct {
		name        string
		code        string
		wantDue     string
		wantCoupon  bool
		wantCodeErr string
	}{
		{"no coupon", "", "970.00", false, ""},
		{"valid coupon", "save10", "895.00", true, ""},
		{"unknown coupon is reported", "NOPE", "970.00", false, "coupon does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := svc.Calculate(context.Background(), "u1", tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDue, q.Breakdown.AmountDue.String())
			assert.Equal(t, "970.00", q.Breakdown.Total.String())
			assert.Equal(t, tt.wantCoupon, q.Coupon != nil)
			assert.Equal(t, tt.wantCodeErr, q.CouponError)
			assert.NoError(t, q.Breakdown.Verify())
		})
	}
}

func TestCheckoutService_ApplyCoupon(t *testing.T) {
	store := seededStore()
	store.carts["u1"] = mixedCart("u1")
	svc := newTestCheckout(store)

	q, err := svc.ApplyCoupon(context.Background(), "u1", "FREESHIP")
	require.NoError(t, err)
	require.NotNil(t, q.Coupon)
	assert.True(t, q.Coupon.FreeShipping)
	assert.Equal(t, "0.00", q.Breakdown.Shipping.String())
	assert.Equal(t, "870.00", q.Breakdown.AmountDue.String())

	_, err = svc.ApplyCoupon(context.Background(), "u1", "NOPE")
	assert.True(t, errors.Is(err, errors.ErrCouponInvalid))

	_, err = svc.ApplyCoupon(context.Background(), "u1", "bad code!")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = svc.ApplyCoupon(context.Background(), "nobody", "SAVE10")
	assert.True(t, errors.Is(err, errors.ErrEmptyCart))
}

func TestShippingPolicyFrom(t *testing.T) {
	p := ShippingPolicyFrom(testPricingConfig())
	assert.Equal(t, "100.00", p.Fee(pricing.MustMoney("999.99")).String())
	assert.Equal(t, "0.00", p.Fee(pricing.MustMoney("1000")).String())
}
