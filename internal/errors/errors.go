// Package errors defines the error taxonomy shared by the checkout service.
package errors

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyCart is returned when checkout is attempted on a cart with no priceable entries.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrReferenceMissing marks a cart entry whose catalog record was deleted.
	ErrReferenceMissing = errors.New("catalog reference missing")
	// ErrStockInsufficient is returned when requested quantity exceeds available stock.
	ErrStockInsufficient = errors.New("insufficient stock")
	// ErrCouponInvalid is returned when a coupon fails validation.
	ErrCouponInvalid = errors.New("coupon invalid")
	// ErrPricingInconsistency signals a computed breakdown that violates an invariant.
	ErrPricingInconsistency = errors.New("pricing inconsistency")
	// ErrConcurrentUpdate is returned when an optimistic write lost a race.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrCartChanged is returned when the cart was modified or already checked
	// out after it was priced. It matches ErrConcurrentUpdate.
	ErrCartChanged = errors.Wrap(ErrConcurrentUpdate, "cart changed")
)

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field   string            `json:"field"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: map[string]string{field: message},
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// CouponInvalidError carries the human-readable reason a coupon was rejected.
type CouponInvalidError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// NewCouponInvalid creates a coupon rejection.
func NewCouponInvalid(code, reason string) *CouponInvalidError {
	return &CouponInvalidError{Code: code, Reason: reason}
}

func (e *CouponInvalidError) Error() string {
	if e.Code == "" {
		return "coupon invalid: " + e.Reason
	}
	return fmt.Sprintf("coupon %s invalid: %s", e.Code, e.Reason)
}

// Unwrap lets errors.Is match ErrCouponInvalid.
func (e *CouponInvalidError) Unwrap() error { return ErrCouponInvalid }

// StockInsufficientError reports the first catalog record that cannot cover its quantity.
type StockInsufficientError struct {
	RefID     string `json:"ref_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *StockInsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.RefID, e.Requested, e.Available)
}

// Unwrap lets errors.Is match ErrStockInsufficient.
func (e *StockInsufficientError) Unwrap() error { return ErrStockInsufficient }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// Wrap annotates err with msg. Returns nil if err is nil.
func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

// Wrapf annotates err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error { return errors.Wrapf(err, format, args...) }

// Errorf formats a new error, supporting %w.
func Errorf(format string, args ...any) error { return errors.Errorf(format, args...) }

// New returns an error with the supplied message.
func New(msg string) error { return errors.New(msg) }
