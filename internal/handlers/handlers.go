package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

const serviceName = "checkout-service"

// CheckoutService prices carts without committing anything.
type CheckoutService interface {
	PreviewCart(ctx context.Context, userID string) (*service.Quote, error)
	Calculate(ctx context.Context, userID, couponCode string) (*service.Quote, error)
	ApplyCoupon(ctx context.Context, userID, couponCode string) (*service.Quote, error)
}

// OrderPlacer turns a cart into a committed order.
type OrderPlacer interface {
	Finalize(ctx context.Context, req service.FinalizeRequest) (*models.Order, error)
}

// OrderReader serves committed orders.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListUserOrders(ctx context.Context, filter models.OrderListFilter) (*service.OrderList, error)
	Invoice(ctx context.Context, id string) (*models.Invoice, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers for the checkout service.
type Handlers struct {
	checkout CheckoutService
	placer   OrderPlacer
	orders   OrderReader
	checks   map[string]Pinger
	logger   *logging.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	checkout CheckoutService,
	placer OrderPlacer,
	orders OrderReader,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		checkout: checkout,
		placer:   placer,
		orders:   orders,
		checks:   make(map[string]Pinger),
		logger:   logger,
	}
}

// WithReadinessCheck registers a dependency for GET /ready.
func (h *Handlers) WithReadinessCheck(name string, p Pinger) *Handlers {
	h.checks[name] = p
	return h
}

func handleError(c *gin.Context, err error) {
	var (
		validationErr *errors.ValidationError
		couponErr     *errors.CouponInvalidError
		stockErr      *errors.StockInsufficientError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   validationErr.Message,
			"field":   validationErr.Field,
			"details": validationErr.Details,
		})
	case errors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &couponErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "coupon invalid",
			"code":   couponErr.Code,
			"reason": couponErr.Reason,
		})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient stock",
			"ref_id":    stockErr.RefID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
	case errors.Is(err, errors.ErrEmptyCart):
		c.JSON(http.StatusConflict, gin.H{"error": "cart is empty"})
	case errors.Is(err, errors.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, please retry"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
