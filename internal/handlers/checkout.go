package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
)

// CouponRequest is the body of the calculate and coupon endpoints.
type CouponRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	CouponCode string `json:"coupon_code"`
}

// PreviewCart handles GET /api/v2/users/:user_id/cart/preview
func (h *Handlers) PreviewCart(c *gin.Context) {
	quote, err := h.checkout.PreviewCart(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// Calculate handles POST /api/v2/checkout/calculate
func (h *Handlers) Calculate(c *gin.Context) {
	var req CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	quote, err := h.checkout.Calculate(c.Request.Context(), req.UserID, req.CouponCode)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// ApplyCoupon handles POST /api/v2/checkout/coupon
func (h *Handlers) ApplyCoupon(c *gin.Context) {
	var req CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	quote, err := h.checkout.ApplyCoupon(c.Request.Context(), req.UserID, req.CouponCode)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}
