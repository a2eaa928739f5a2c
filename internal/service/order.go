package service

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// OrderList is a page of a user's orders.
type OrderList struct {
	Orders []*models.Order `json:"orders"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// OrderService serves committed orders. cache may be nil when order caching
// is disabled.
type OrderService struct {
	orders repository.OrderRepository
	cache  repository.OrderCache
	logger *logging.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(orders repository.OrderRepository, cache repository.OrderCache, logger *logging.Logger) *OrderService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OrderService{
		orders: orders,
		cache:  cache,
		logger: logger,
	}
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if id == "" {
		return nil, errors.NewValidationError("id", "order ID is required")
	}

	if s.cache != nil {
		if order, err := s.cache.GetOrder(ctx, id); err == nil && order != nil {
			return order, nil
		}
	}

	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetOrder(ctx, order); err != nil {
			s.logger.Warn("Failed to cache order", logging.Fields{
				"order_id": id,
				"error":    err.Error(),
			})
		}
	}
	return order, nil
}

// ListUserOrders returns a page of the user's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, filter models.OrderListFilter) (*OrderList, error) {
	if err := ValidateOrderListFilter(&filter); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if page, err := s.cache.GetUserOrders(ctx, filter); err == nil && page != nil {
			return &OrderList{Orders: page.Orders, Total: page.Total, Limit: filter.Limit, Offset: filter.Offset}, nil
		}
	}

	orders, total, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetUserOrders(ctx, filter, &repository.OrderPage{Orders: orders, Total: total}); err != nil {
			s.logger.Warn("Failed to cache user orders", logging.Fields{
				"user_id": filter.UserID,
				"error":   err.Error(),
			})
		}
	}

	return &OrderList{Orders: orders, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Invoice builds the invoice of an order. Per-line tax is recomputed with the
// same rounding as the stored aggregate, so the lines always add up to it.
func (s *OrderService) Invoice(ctx context.Context, id string) (*models.Invoice, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	inv := models.NewInvoice(order)

	sum := pricing.Zero
	for _, line := range inv.Lines {
		sum = sum.Add(line.Tax)
	}
	if !sum.Equal(order.Pricing.Tax) {
		s.logger.Error("Invoice tax does not match order tax", logging.Fields{
			"order_id":  id,
			"line_sum":  sum.String(),
			"order_tax": order.Pricing.Tax.String(),
		})
		return nil, errors.Wrapf(errors.ErrPricingInconsistency, "invoice for order %s", id)
	}
	return inv, nil
}
