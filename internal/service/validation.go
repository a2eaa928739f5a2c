package service

import (
	"strings"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxCouponCodeLen = 64
)

// ValidateUserID rejects a blank user ID.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.NewValidationError("user_id", "user ID is required")
	}
	return nil
}

// ValidateCouponCode checks the shape of a user-entered coupon code. Whether
// the coupon exists is decided by the resolver.
func ValidateCouponCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.NewValidationError("coupon_code", "coupon code is required")
	}
	if len(code) > maxCouponCodeLen {
		return errors.NewValidationError("coupon_code", "coupon code too long (max 64 characters)")
	}
	for _, r := range code {
		if !isCodeRune(r) {
			return errors.NewValidationError("coupon_code", "coupon code may only contain letters, digits, '-' and '_'")
		}
	}
	return nil
}

func isCodeRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// ValidateOrderListFilter validates a list filter and applies the default and
// maximum page size.
func ValidateOrderListFilter(filter *models.OrderListFilter) error {
	if err := ValidateUserID(filter.UserID); err != nil {
		return err
	}

	if filter.Limit < 0 {
		return errors.NewValidationError("limit", "limit cannot be negative")
	}

	if filter.Offset < 0 {
		return errors.NewValidationError("offset", "offset cannot be negative")
	}

	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	return nil
}

// ValidateFinalizeRequest validates an order placement request.
func ValidateFinalizeRequest(req *FinalizeRequest) error {
	if err := ValidateUserID(req.UserID); err != nil {
		return err
	}
	if req.CouponCode != "" {
		return ValidateCouponCode(req.CouponCode)
	}
	return nil
}
