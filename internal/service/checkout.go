package service

import (
	"context"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// Quote is a priced view of a user's cart. It is never persisted.
type Quote struct {
	UserID            string                  `json:"user_id"`
	Items             []pricing.LineItem      `json:"items"`
	Skipped           []pricing.SkippedEntry  `json:"skipped,omitempty"`
	SkippedCount      int                     `json:"skipped_count"`
	Breakdown         pricing.Breakdown       `json:"breakdown"`
	TotalSavings      pricing.Money           `json:"total_savings"`
	Currency          string                  `json:"currency"`
	Coupon            *pricing.CouponDiscount `json:"coupon,omitempty"`
	CouponError       string                  `json:"coupon_error,omitempty"`
	HasFallbackPrices bool                    `json:"has_fallback_prices"`
	Empty             bool                    `json:"empty"`
}

// CheckoutService prices carts for preview, checkout calculation and coupon
// application. It reads catalog records through the cache and never writes.
type CheckoutService struct {
	carts    repository.CartRepository
	catalog  repository.CatalogRepository
	coupons  repository.CouponRepository
	valuator *pricing.Valuator
	shipping pricing.ShippingPolicy
	metrics  *pricing.Metrics
	currency string
	now      func() time.Time
	logger   *logging.Logger
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(
	carts repository.CartRepository,
	catalog repository.CatalogRepository,
	coupons repository.CouponRepository,
	valuator *pricing.Valuator,
	metrics *pricing.Metrics,
	cfg config.PricingConfig,
	logger *logging.Logger,
) *CheckoutService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CheckoutService{
		carts:    carts,
		catalog:  catalog,
		coupons:  coupons,
		valuator: valuator,
		shipping: ShippingPolicyFrom(cfg),
		metrics:  metrics,
		currency: cfg.Currency,
		now:      time.Now,
		logger:   logger,
	}
}

// ShippingPolicyFrom builds the shipping policy from pricing configuration.
func ShippingPolicyFrom(cfg config.PricingConfig) pricing.ShippingPolicy {
	return pricing.ShippingPolicy{
		FlatFee:       pricing.NewMoney(cfg.ShippingFlatFee),
		FreeThreshold: pricing.NewMoney(cfg.FreeShippingThreshold),
	}
}

// PreviewCart prices the user's cart without a coupon. Entries that cannot be
// priced are skipped and counted; a cart with nothing priceable yields a
// zeroed breakdown marked empty.
func (s *CheckoutService) PreviewCart(ctx context.Context, userID string) (*Quote, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	q, _, err := s.quote(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.Empty {
		return q, nil
	}

	q.Breakdown = pricing.Calculate(q.Items, pricing.Zero, s.shipping.Fee(q.Breakdown.Subtotal))

	s.logger.Debug("Cart previewed", logging.Fields{
		"user_id":    userID,
		"items":      len(q.Items),
		"skipped":    q.SkippedCount,
		"amount_due": q.Breakdown.AmountDue.String(),
	})
	return q, nil
}

// Calculate prices the user's cart with an optional coupon. An invalid coupon
// does not fail the calculation; its reason is reported on the quote and the
// breakdown is computed without a discount.
func (s *CheckoutService) Calculate(ctx context.Context, userID, couponCode string) (*Quote, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	q, items, err := s.quote(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.Empty {
		return q, nil
	}

	var discount *pricing.CouponDiscount
	if couponCode != "" {
		discount, err = s.resolveCoupon(ctx, userID, couponCode, items)
		if err != nil {
			var invalid *errors.CouponInvalidError
			if !errors.As(err, &invalid) {
				return nil, err
			}
			q.CouponError = invalid.Reason
			discount = nil
		}
	}

	s.applyDiscount(q, discount)
	return q, nil
}

// ApplyCoupon prices the user's cart with couponCode. Unlike Calculate, an
// invalid coupon is returned as *errors.CouponInvalidError.
func (s *CheckoutService) ApplyCoupon(ctx context.Context, userID, couponCode string) (*Quote, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := ValidateCouponCode(couponCode); err != nil {
		return nil, err
	}

	q, items, err := s.quote(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.Empty {
		return nil, errors.ErrEmptyCart
	}

	discount, err := s.resolveCoupon(ctx, userID, couponCode, items)
	if err != nil {
		return nil, err
	}

	s.applyDiscount(q, discount)

	s.logger.Info("Coupon applied", logging.Fields{
		"user_id":  userID,
		"code":     discount.Code,
		"discount": q.Breakdown.Discount.String(),
	})
	return q, nil
}

// quote loads and valuates the cart. The returned quote carries the items and
// the subtotal; callers compute the final breakdown.
func (s *CheckoutService) quote(ctx context.Context, userID string) (*Quote, []pricing.LineItem, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	q := &Quote{UserID: userID, Currency: s.currency, Items: []pricing.LineItem{}}
	if cart.IsEmpty() {
		q.Empty = true
		q.Breakdown = pricing.Breakdown{}
		return q, nil, nil
	}

	priced, err := valuateCart(ctx, s.catalog, s.valuator, cart)
	if err != nil {
		return nil, nil, err
	}

	q.Skipped = priced.Skipped
	q.SkippedCount = len(priced.Skipped)
	if len(priced.Items) == 0 {
		q.Empty = true
		return q, nil, nil
	}

	q.Items = priced.Items
	q.TotalSavings = pricing.TotalSavings(priced.Items)
	q.HasFallbackPrices = hasFallbackPrices(priced.Items)
	q.Breakdown.Subtotal = pricing.Subtotal(priced.Items)
	return q, priced.Items, nil
}

func (s *CheckoutService) applyDiscount(q *Quote, discount *pricing.CouponDiscount) {
	shipping := s.shipping.Fee(q.Breakdown.Subtotal)
	amount := pricing.Zero
	if discount != nil {
		amount = discount.DiscountAmount
		if discount.FreeShipping {
			shipping = pricing.Zero
		}
	}
	q.Coupon = discount
	q.Breakdown = pricing.Calculate(q.Items, amount, shipping)
}

func (s *CheckoutService) resolveCoupon(ctx context.Context, userID, code string, items []pricing.LineItem) (*pricing.CouponDiscount, error) {
	coupon, err := s.coupons.GetCoupon(ctx, code)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	discount, err := pricing.ResolveCoupon(code, coupon, pricing.UserContext{UserID: userID, Now: s.now()}, items, pricing.Subtotal(items))
	if err != nil {
		var dt pricing.DiscountType
		if coupon != nil {
			dt = coupon.DiscountType
		}
		s.metrics.CouponRejected(dt)
		s.logger.Info("Coupon rejected", logging.Fields{
			"user_id": userID,
			"code":    code,
			"reason":  err.Error(),
		})
		return nil, err
	}
	return &discount, nil
}
