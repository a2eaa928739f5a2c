package repository

import (
	"context"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
)

// Ensure the stores implement their interfaces.
var (
	_ CartRepository    = (*PostgresStore)(nil)
	_ CatalogRepository = (*PostgresStore)(nil)
	_ CouponRepository  = (*PostgresStore)(nil)
	_ OrderRepository   = (*PostgresStore)(nil)
	_ OrderCommitter    = (*PostgresStore)(nil)
	_ CatalogRepository = (*CachedCatalog)(nil)
	_ CatalogCache      = (*RedisCache)(nil)
	_ OrderCache        = (*RedisCache)(nil)
)

// RecordKey addresses a catalog record in its collection.
type RecordKey struct {
	Type pricing.RefType
	ID   string
}

func (k RecordKey) String() string {
	return string(k.Type) + ":" + k.ID
}

// KeyFor returns the catalog key a cart entry points to. Entries without a
// type are treated as products.
func KeyFor(e pricing.CartEntry) RecordKey {
	t := e.RefType
	if t == "" {
		t = pricing.RefTypeProduct
	}
	return RecordKey{Type: t, ID: e.RefID}
}

// CartRepository reads cart documents.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
}

// CatalogRepository reads catalog records in bulk. Missing records are absent
// from the returned map.
type CatalogRepository interface {
	GetRecords(ctx context.Context, keys []RecordKey) (map[RecordKey]*pricing.CatalogRecord, error)
}

// CouponRepository reads coupons by code.
type CouponRepository interface {
	GetCoupon(ctx context.Context, code string) (*pricing.Coupon, error)
}

// OrderRepository reads committed orders.
type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, int, error)
}

// StockDecrement is the quantity to take from one catalog record.
type StockDecrement struct {
	Key      RecordKey
	Quantity int
}

// CouponRedemption records a coupon use guarded by the version the discount
// was resolved against.
type CouponRedemption struct {
	Code    string
	UserID  string
	Version int64
}

// CommitRequest is everything written atomically when an order is placed.
// CartUpdatedAt is the version of the cart the order was priced from; the
// commit only clears that exact cart.
type CommitRequest struct {
	Order         *models.Order
	CartUpdatedAt time.Time
	Stock         []StockDecrement
	Coupon        *CouponRedemption
}

// OrderCommitter writes an order and its side effects in one transaction.
type OrderCommitter interface {
	CommitOrder(ctx context.Context, req CommitRequest) error
}
