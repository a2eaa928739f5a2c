package models

import (
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
)

// Cart is the authoritative cart document of a user.
type Cart struct {
	UserID    string              `json:"user_id"`
	Entries   []pricing.CartEntry `json:"entries"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// IsEmpty reports whether the cart has no entries at all.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Entries) == 0
}

type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a committed order. Its Lines and Pricing never change after commit.
type Order struct {
	ID         string                     `json:"id"`
	UserID     string                     `json:"user_id"`
	Status     OrderStatus                `json:"status"`
	Lines      []pricing.LineItem         `json:"lines"`
	Pricing    pricing.OrderPricingRecord `json:"pricing"`
	CouponCode string                     `json:"coupon_code,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// OrderListFilter selects a page of a user's orders.
type OrderListFilter struct {
	UserID string
	Limit  int
	Offset int
}

// InvoiceLine is one priced line of an order invoice.
type InvoiceLine struct {
	RefID          string          `json:"ref_id"`
	Name           string          `json:"name"`
	VariantSKU     string          `json:"variant_sku,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      pricing.Money   `json:"unit_price"`
	LineTotal      pricing.Money   `json:"line_total"`
	TaxRatePercent pricing.Percent `json:"tax_rate_percent"`
	Tax            pricing.Money   `json:"tax"`
}

// Invoice lists an order's lines with their individual tax. The sum of the
// line taxes equals Pricing.Tax.
type Invoice struct {
	OrderID  string                     `json:"order_id"`
	UserID   string                     `json:"user_id"`
	Lines    []InvoiceLine              `json:"lines"`
	Pricing  pricing.OrderPricingRecord `json:"pricing"`
	IssuedAt time.Time                  `json:"issued_at"`
}

// NewInvoice builds the invoice of o.
func NewInvoice(o *Order) *Invoice {
	lines := make([]InvoiceLine, 0, len(o.Lines))
	for _, li := range o.Lines {
		lines = append(lines, InvoiceLine{
			RefID:          li.RefID,
			Name:           li.Name,
			VariantSKU:     li.VariantSKU,
			Quantity:       li.Quantity,
			UnitPrice:      li.SellingPrice,
			LineTotal:      li.LineTotal,
			TaxRatePercent: li.TaxRatePercent,
			Tax:            pricing.ItemTax(li),
		})
	}
	return &Invoice{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Lines:    lines,
		Pricing:  o.Pricing,
		IssuedAt: o.CreatedAt,
	}
}
