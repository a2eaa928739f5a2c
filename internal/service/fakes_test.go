package service

import (
	"context"
	"sync"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// memStore is an in-memory stand-in for the PostgreSQL store.
type memStore struct {
	mu      sync.Mutex
	carts   map[string]*models.Cart
	records map[repository.RecordKey]*pricing.CatalogRecord
	coupons map[string]*pricing.Coupon
	orders  map[string]*models.Order

	commitErrs   []error
	beforeCommit func()
	commits      []repository.CommitRequest
	catalogReads int
}

func newMemStore() *memStore {
	return &memStore{
		carts:   make(map[string]*models.Cart),
		records: make(map[repository.RecordKey]*pricing.CatalogRecord),
		coupons: make(map[string]*pricing.Coupon),
		orders:  make(map[string]*models.Order),
	}
}

func (m *memStore) GetCart(_ context.Context, userID string) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[userID]; ok {
		return c, nil
	}
	return &models.Cart{UserID: userID}, nil
}

func (m *memStore) GetRecords(_ context.Context, keys []repository.RecordKey) (map[repository.RecordKey]*pricing.CatalogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogReads++
	out := make(map[repository.RecordKey]*pricing.CatalogRecord)
	for _, k := range keys {
		if r, ok := m.records[k]; ok {
			cp := *r
			out[k] = &cp
		}
	}
	return out, nil
}

func (m *memStore) GetCoupon(_ context.Context, code string) (*pricing.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[pricing.NormalizeCouponCode(code)]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return o, nil
}

func (m *memStore) ListOrders(_ context.Context, filter models.OrderListFilter) ([]*models.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.UserID == filter.UserID {
			out = append(out, o)
		}
	}
	total := len(out)
	if filter.Offset >= len(out) {
		return []*models.Order{}, total, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// CommitOrder pops the next scripted error, if any, before applying the commit.
func (m *memStore) CommitOrder(_ context.Context, req repository.CommitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, req)
	if len(m.commitErrs) > 0 {
		err := m.commitErrs[0]
		m.commitErrs = m.commitErrs[1:]
		if err != nil {
			return err
		}
	}
	if m.beforeCommit != nil {
		m.beforeCommit()
	}
	cart, ok := m.carts[req.Order.UserID]
	if !ok || !cart.UpdatedAt.Equal(req.CartUpdatedAt) {
		return errors.ErrCartChanged
	}
	for _, d := range req.Stock {
		m.records[d.Key].StockQuantity -= d.Quantity
	}
	if req.Coupon != nil {
		c := m.coupons[req.Coupon.Code]
		c.UsedCount++
		c.UsedBy = append(c.UsedBy, req.Coupon.UserID)
		c.Version++
	}
	m.orders[req.Order.ID] = req.Order
	delete(m.carts, req.Order.UserID)
	return nil
}

type recordingPublisher struct {
	placed []*models.Order
	err    error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, o *models.Order) error {
	p.placed = append(p.placed, o)
	return p.err
}

type memOrderCache struct {
	orders      map[string]*models.Order
	pages       map[models.OrderListFilter]*repository.OrderPage
	invalidated []string
}

func newMemOrderCache() *memOrderCache {
	return &memOrderCache{
		orders: make(map[string]*models.Order),
		pages:  make(map[models.OrderListFilter]*repository.OrderPage),
	}
}

func (c *memOrderCache) GetOrder(_ context.Context, id string) (*models.Order, error) {
	return c.orders[id], nil
}

func (c *memOrderCache) SetOrder(_ context.Context, o *models.Order) error {
	c.orders[o.ID] = o
	return nil
}

func (c *memOrderCache) GetUserOrders(_ context.Context, f models.OrderListFilter) (*repository.OrderPage, error) {
	return c.pages[f], nil
}

func (c *memOrderCache) SetUserOrders(_ context.Context, f models.OrderListFilter, p *repository.OrderPage) error {
	c.pages[f] = p
	return nil
}

func (c *memOrderCache) InvalidateUser(_ context.Context, userID string) error {
	c.invalidated = append(c.invalidated, userID)
	for f := range c.pages {
		if f.UserID == userID {
			delete(c.pages, f)
		}
	}
	return nil
}

type memCatalogCache struct {
	invalidated []repository.RecordKey
}

func (c *memCatalogCache) GetRecords(context.Context, []repository.RecordKey) (map[repository.RecordKey]*pricing.CatalogRecord, error) {
	return map[repository.RecordKey]*pricing.CatalogRecord{}, nil
}

func (c *memCatalogCache) SetRecords(context.Context, map[repository.RecordKey]*pricing.CatalogRecord) error {
	return nil
}

func (c *memCatalogCache) InvalidateRecords(_ context.Context, keys ...repository.RecordKey) error {
	c.invalidated = append(c.invalidated, keys...)
	return nil
}

func mp(s string) *pricing.Money {
	m := pricing.MustMoney(s)
	return &m
}

func fp(f float64) *float64 { return &f }

func productKey(id string) repository.RecordKey {
	return repository.RecordKey{Type: pricing.RefTypeProduct, ID: id}
}

// seededStore has two products, one bundle and a 10% coupon.
func seededStore() *memStore {
	s := newMemStore()
	s.records[productKey("toy-1")] = &pricing.CatalogRecord{
		ID: "toy-1", Kind: pricing.RefTypeProduct, Name: "Wooden Train",
		BasePrice: mp("500"), OriginalPrice: mp("600"), TaxRate: fp(0.18), StockQuantity: 5,
	}
	s.records[productKey("toy-2")] = &pricing.CatalogRecord{
		ID: "toy-2", Kind: pricing.RefTypeProduct, Name: "Puzzle",
		BasePrice: mp("250"), TaxRate: fp(12), StockQuantity: 1,
	}
	s.records[repository.RecordKey{Type: pricing.RefTypeBundle, ID: "box-1"}] = &pricing.CatalogRecord{
		ID: "box-1", Kind: pricing.RefTypeBundle, Name: "Gift Box",
		BasePrice: mp("900"), StockQuantity: 2,
	}
	s.coupons["SAVE10"] = &pricing.Coupon{
		Code:         "SAVE10",
		DiscountType: pricing.DiscountPercentage,
		Value:        pricing.MoneyFromInt(10),
		ApplicableTo: pricing.ApplicableAllProducts,
		Active:       true,
		Version:      1,
	}
	s.coupons["FREESHIP"] = &pricing.Coupon{
		Code:         "FREESHIP",
		DiscountType: pricing.DiscountFreeShipping,
		ApplicableTo: pricing.ApplicableAllProducts,
		Active:       true,
	}
	return s
}
