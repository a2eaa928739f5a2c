package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Applicability restricts which line items a coupon discounts.
type Applicability string

const (
	ApplicableAllProducts      Applicability = "all_products"
	ApplicableSpecificProducts Applicability = "specific_products"
)

// Coupon is a coupon record as administered in the store. The resolver only reads it.
type Coupon struct {
	Code             string        `json:"code"`
	DiscountType     DiscountType  `json:"discount_type"`
	Value            Money         `json:"value"`
	MaxDiscount      *Money        `json:"max_discount,omitempty"`
	ApplicableTo     Applicability `json:"applicable_to"`
	ProductAllowList []string      `json:"product_allow_list,omitempty"`
	MinSubtotal      Money         `json:"min_subtotal"`
	UsageLimit       int           `json:"usage_limit"`
	PerUserLimit     int           `json:"per_user_limit"`
	UsedCount        int           `json:"used_count"`
	UsedBy           []string      `json:"used_by,omitempty"`
	ValidFrom        *time.Time    `json:"valid_from,omitempty"`
	ValidTo          *time.Time    `json:"valid_to,omitempty"`
	Active           bool          `json:"active"`
	Version          int64         `json:"version"`
}

// UsesBy counts how many times userID has redeemed the coupon.
func (c *Coupon) UsesBy(userID string) int {
	n := 0
	for _, u := range c.UsedBy {
		if u == userID {
			n++
		}
	}
	return n
}

// UserContext is the caller identity and clock a coupon is validated against.
type UserContext struct {
	UserID string
	Now    time.Time
}

// CouponDiscount is the outcome of a successful coupon resolution.
type CouponDiscount struct {
	Code           string       `json:"code"`
	DiscountType   DiscountType `json:"discount_type"`
	DiscountAmount Money        `json:"discount_amount"`
	AppliesTo      []string     `json:"applies_to,omitempty"`
	FreeShipping   bool         `json:"free_shipping"`
}

// NormalizeCouponCode trims and upper-cases a user-entered code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ResolveCoupon validates coupon for the given user and cart and computes the
// discount against the taxable base. coupon is nil when no record matched code.
//
// A free_shipping coupon yields a zero discount with FreeShipping set; the
// caller must then pass a zero shipping fee to Calculate.
func ResolveCoupon(code string, coupon *Coupon, user UserContext, items []LineItem, subtotal Money) (CouponDiscount, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon code is required")
	}
	if coupon == nil || NormalizeCouponCode(coupon.Code) != code {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon does not exist")
	}
	if !coupon.Active {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon is not active")
	}

	now := user.Now
	if now.IsZero() {
		now = time.Now()
	}
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon is not yet valid")
	}
	if coupon.ValidTo != nil && now.After(*coupon.ValidTo) {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon has expired")
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon usage limit reached")
	}
	if coupon.PerUserLimit > 0 && user.UserID != "" && coupon.UsesBy(user.UserID) >= coupon.PerUserLimit {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon already used the maximum number of times by this user")
	}
	if subtotal.LessThan(coupon.MinSubtotal) {
		return CouponDiscount{}, errors.NewCouponInvalid(code, "cart subtotal is below the coupon minimum of "+coupon.MinSubtotal.String())
	}

	base, appliesTo, err := discountBase(code, coupon, items, subtotal)
	if err != nil {
		return CouponDiscount{}, err
	}

	result := CouponDiscount{
		Code:         code,
		DiscountType: coupon.DiscountType,
		AppliesTo:    appliesTo,
	}

	switch coupon.DiscountType {
	case DiscountPercentage:
		pct := coupon.Value.Decimal()
		if pct.Sign() <= 0 || pct.GreaterThan(hundred) {
			return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon percentage is misconfigured")
		}
		amount := NewMoney(base.Decimal().Mul(pct).Div(hundred))
		if coupon.MaxDiscount != nil && coupon.MaxDiscount.IsPositive() {
			amount = MinMoney(amount, *coupon.MaxDiscount)
		}
		result.DiscountAmount = amount
	case DiscountFixed:
		if !coupon.Value.IsPositive() {
			return CouponDiscount{}, errors.NewCouponInvalid(code, "coupon amount is misconfigured")
		}
		result.DiscountAmount = MinMoney(coupon.Value, base)
	case DiscountFreeShipping:
		result.DiscountAmount = Zero
		result.FreeShipping = true
	default:
		return CouponDiscount{}, errors.NewCouponInvalid(code, "unsupported discount type "+string(coupon.DiscountType))
	}

	return result, nil
}

func discountBase(code string, coupon *Coupon, items []LineItem, subtotal Money) (Money, []string, error) {
	switch coupon.ApplicableTo {
	case ApplicableAllProducts, "":
		refs := make([]string, 0, len(items))
		for _, item := range items {
			refs = append(refs, item.RefID)
		}
		return subtotal, refs, nil
	case ApplicableSpecificProducts:
		allowed := make(map[string]struct{}, len(coupon.ProductAllowList))
		for _, id := range coupon.ProductAllowList {
			allowed[id] = struct{}{}
		}
		base := decimal.Zero
		var refs []string
		for _, item := range items {
			if _, ok := allowed[item.RefID]; !ok {
				continue
			}
			base = base.Add(item.LineTotal.Decimal())
			refs = append(refs, item.RefID)
		}
		if len(refs) == 0 {
			return Zero, nil, errors.NewCouponInvalid(code, "coupon does not apply to any item in the cart")
		}
		return NewMoney(base), refs, nil
	default:
		return Zero, nil, errors.NewCouponInvalid(code, "coupon applicability is misconfigured")
	}
}
