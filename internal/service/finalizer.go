package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// Stage names the step an order placement has reached.
type Stage string

const (
	StageCartLoaded           Stage = "cart_loaded"
	StageLineItemsRevalidated Stage = "line_items_revalidated"
	StageStockChecked         Stage = "stock_checked"
	StageDiscountResolved     Stage = "discount_resolved"
	StageBreakdownComputed    Stage = "breakdown_computed"
	StageRecordCommitted      Stage = "record_committed"
)

// OrderEventPublisher publishes order lifecycle events.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *models.Order) error
}

// FinalizeRequest asks to place an order from the user's current cart.
type FinalizeRequest struct {
	UserID     string `json:"user_id"`
	CouponCode string `json:"coupon_code,omitempty"`
}

// Finalizer places orders. It re-prices the cart from the authoritative store,
// checks stock, resolves the coupon and commits everything in one transaction.
type Finalizer struct {
	carts        repository.CartRepository
	catalog      repository.CatalogRepository
	coupons      repository.CouponRepository
	committer    repository.OrderCommitter
	valuator     *pricing.Valuator
	shipping     pricing.ShippingPolicy
	currency     string
	retries      int
	publisher    OrderEventPublisher
	catalogCache repository.CatalogCache
	orderCache   repository.OrderCache
	metrics      *Metrics
	now          func() time.Time
	newID        func() string
	logger       *logging.Logger
}

// NewFinalizer creates an order finalizer. catalog must read the database
// directly, never a cache. publisher, catalogCache and orderCache may be nil.
func NewFinalizer(
	carts repository.CartRepository,
	catalog repository.CatalogRepository,
	coupons repository.CouponRepository,
	committer repository.OrderCommitter,
	valuator *pricing.Valuator,
	cfg config.PricingConfig,
	logger *logging.Logger,
) *Finalizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	retries := cfg.CouponCommitRetries
	if retries < 0 {
		retries = 0
	}
	return &Finalizer{
		carts:     carts,
		catalog:   catalog,
		coupons:   coupons,
		committer: committer,
		valuator:  valuator,
		shipping:  ShippingPolicyFrom(cfg),
		currency:  cfg.Currency,
		retries:   retries,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		logger:    logger,
	}
}

// WithEvents sets the publisher notified after each commit.
func (f *Finalizer) WithEvents(p OrderEventPublisher) *Finalizer {
	f.publisher = p
	return f
}

// WithCaches sets the caches invalidated after each commit.
func (f *Finalizer) WithCaches(catalog repository.CatalogCache, orders repository.OrderCache) *Finalizer {
	f.catalogCache = catalog
	f.orderCache = orders
	return f
}

// WithMetrics sets the commit counters.
func (f *Finalizer) WithMetrics(m *Metrics) *Finalizer {
	f.metrics = m
	return f
}

// Finalize places an order from the user's cart. Nothing is written unless
// every stage succeeds.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (*models.Order, error) {
	if err := ValidateFinalizeRequest(&req); err != nil {
		return nil, err
	}
	code := pricing.NormalizeCouponCode(req.CouponCode)
	log := logging.Fields{"user_id": req.UserID}

	cart, err := f.carts.GetCart(ctx, req.UserID)
	if err != nil {
		return nil, f.fail("cart_load", err)
	}
	if cart.IsEmpty() {
		return nil, f.fail("empty_cart", errors.ErrEmptyCart)
	}
	f.stage(StageCartLoaded, log, logging.Fields{"entries": len(cart.Entries)})

	priced, err := valuateCart(ctx, f.catalog, f.valuator, cart)
	if err != nil {
		return nil, f.fail("catalog_load", err)
	}
	if len(priced.Items) == 0 {
		return nil, f.fail("empty_cart", errors.Wrapf(errors.ErrEmptyCart, "all %d cart entries were skipped", len(priced.Skipped)))
	}
	if len(priced.Skipped) > 0 {
		f.logger.Warn("Cart entries dropped from order", logging.Fields{
			"user_id": req.UserID,
			"skipped": len(priced.Skipped),
		})
	}
	f.stage(StageLineItemsRevalidated, log, logging.Fields{
		"items":          len(priced.Items),
		"skipped":        len(priced.Skipped),
		"fallback_price": hasFallbackPrices(priced.Items),
	})

	stock, err := checkStock(priced.Items, priced.Records)
	if err != nil {
		return nil, f.fail("stock", err)
	}
	f.stage(StageStockChecked, log, logging.Fields{"records": len(stock)})

	subtotal := pricing.Subtotal(priced.Items)
	for attempt := 0; ; attempt++ {
		order, commit, err := f.prepare(ctx, req.UserID, code, priced.Items, subtotal, stock, log)
		if err != nil {
			return nil, err
		}
		commit.CartUpdatedAt = cart.UpdatedAt

		err = f.committer.CommitOrder(ctx, commit)
		if err == nil {
			f.stage(StageRecordCommitted, log, logging.Fields{
				"order_id":   order.ID,
				"amount_due": order.Pricing.AmountDue.String(),
				"attempt":    attempt + 1,
			})
			f.afterCommit(ctx, order, stock)
			return order, nil
		}

		if code != "" && isCouponConflict(err) && attempt < f.retries {
			f.metrics.couponRetry()
			f.logger.Warn("Coupon changed during commit, retrying", logging.Fields{
				"user_id": req.UserID,
				"code":    code,
				"attempt": attempt + 1,
			})
			continue
		}
		return nil, f.fail(failureReason(err), err)
	}
}

// prepare resolves the coupon against its current state and builds the order
// and the commit request. It runs again on every coupon retry.
func (f *Finalizer) prepare(
	ctx context.Context,
	userID, code string,
	items []pricing.LineItem,
	subtotal pricing.Money,
	stock []repository.StockDecrement,
	log logging.Fields,
) (*models.Order, repository.CommitRequest, error) {
	now := f.now().UTC()

	var (
		discount   pricing.CouponDiscount
		redemption *repository.CouponRedemption
	)
	if code != "" {
		coupon, err := f.coupons.GetCoupon(ctx, code)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, repository.CommitRequest{}, f.fail("coupon_load", err)
		}
		discount, err = pricing.ResolveCoupon(code, coupon, pricing.UserContext{UserID: userID, Now: now}, items, subtotal)
		if err != nil {
			return nil, repository.CommitRequest{}, f.fail("coupon_invalid", err)
		}
		redemption = &repository.CouponRedemption{Code: coupon.Code, UserID: userID, Version: coupon.Version}
	}
	f.stage(StageDiscountResolved, log, logging.Fields{
		"code":     code,
		"discount": discount.DiscountAmount.String(),
	})

	shipping := f.shipping.Fee(subtotal)
	if discount.FreeShipping {
		shipping = pricing.Zero
	}
	breakdown := pricing.Calculate(items, discount.DiscountAmount, shipping)
	if err := breakdown.Verify(); err != nil {
		f.logger.Error("Computed breakdown is inconsistent", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, repository.CommitRequest{}, f.fail("pricing_inconsistency", err)
	}
	f.stage(StageBreakdownComputed, log, logging.Fields{
		"subtotal":   breakdown.Subtotal.String(),
		"tax":        breakdown.Tax.String(),
		"shipping":   breakdown.Shipping.String(),
		"amount_due": breakdown.AmountDue.String(),
	})

	lines := make([]pricing.LineItem, len(items))
	copy(lines, items)

	order := &models.Order{
		ID:     f.newID(),
		UserID: userID,
		Status: models.OrderStatusPlaced,
		Lines:  lines,
		Pricing: pricing.OrderPricingRecord{
			Breakdown:    breakdown,
			TotalSavings: pricing.TotalSavings(items),
			Currency:     f.currency,
		},
		CouponCode: code,
		CreatedAt:  now,
	}
	return order, repository.CommitRequest{Order: order, Stock: stock, Coupon: redemption}, nil
}

// checkStock aggregates requested quantity per catalog record and compares
// it with the stock read at revalidation. Decrements are sorted by key so
// concurrent commits lock rows in the same order.
func checkStock(items []pricing.LineItem, records map[repository.RecordKey]*pricing.CatalogRecord) ([]repository.StockDecrement, error) {
	requested := make(map[repository.RecordKey]int)
	for _, item := range items {
		requested[repository.RecordKey{Type: item.RefType, ID: item.RefID}] += item.Quantity
	}

	out := make([]repository.StockDecrement, 0, len(requested))
	for key, qty := range requested {
		rec := records[key]
		if rec == nil {
			return nil, errors.Wrapf(errors.ErrReferenceMissing, "%s", key)
		}
		if rec.StockQuantity < qty {
			return nil, &errors.StockInsufficientError{RefID: key.ID, Requested: qty, Available: rec.StockQuantity}
		}
		out = append(out, repository.StockDecrement{Key: key, Quantity: qty})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out, nil
}

// afterCommit runs the best-effort follow-ups of a committed order. Failures
// are logged and never undo the order.
func (f *Finalizer) afterCommit(ctx context.Context, order *models.Order, stock []repository.StockDecrement) {
	f.metrics.committed()

	if f.publisher != nil {
		if err := f.publisher.PublishOrderPlaced(ctx, order); err != nil {
			f.logger.Error("Failed to publish order placed event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}

	if f.orderCache != nil {
		if err := f.orderCache.InvalidateUser(ctx, order.UserID); err != nil {
			f.logger.Warn("Failed to invalidate user orders cache", logging.Fields{
				"user_id": order.UserID,
				"error":   err.Error(),
			})
		}
	}

	if f.catalogCache != nil && len(stock) > 0 {
		keys := make([]repository.RecordKey, len(stock))
		for i, d := range stock {
			keys[i] = d.Key
		}
		if err := f.catalogCache.InvalidateRecords(ctx, keys...); err != nil {
			f.logger.Warn("Failed to invalidate catalog cache", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
}

func (f *Finalizer) stage(s Stage, base logging.Fields, extra logging.Fields) {
	fields := make(logging.Fields, len(base)+len(extra)+1)
	for k, v := range base {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	fields["stage"] = string(s)
	f.logger.Info("Order placement stage reached", fields)
}

func (f *Finalizer) fail(reason string, err error) error {
	f.metrics.failed(reason)
	return err
}

// isCouponConflict reports a lost coupon race. A changed cart is never
// retried: the order would be priced from a cart that no longer exists.
func isCouponConflict(err error) bool {
	return errors.Is(err, errors.ErrConcurrentUpdate) && !errors.Is(err, errors.ErrCartChanged)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrStockInsufficient):
		return "stock"
	case errors.Is(err, errors.ErrCartChanged):
		return "cart_changed"
	case errors.Is(err, errors.ErrConcurrentUpdate):
		return "coupon_conflict"
	default:
		return "commit"
	}
}
