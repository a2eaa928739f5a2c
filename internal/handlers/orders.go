package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// CreateOrder handles POST /api/v2/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req service.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.placer.Finalize(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// GetOrder handles GET /api/v2/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// GetInvoice handles GET /api/v2/orders/:id/invoice
func (h *Handlers) GetInvoice(c *gin.Context) {
	invoice, err := h.orders.Invoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, invoice)
}

// ListUserOrders handles GET /api/v2/users/:user_id/orders
func (h *Handlers) ListUserOrders(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		handleError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		handleError(c, err)
		return
	}

	list, err := h.orders.ListUserOrders(c.Request.Context(), models.OrderListFilter{
		UserID: c.Param("user_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(name, "must be an integer")
	}
	return v, nil
}
