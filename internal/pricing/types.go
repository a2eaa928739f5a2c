// Package pricing is the pricing and tax computation core shared by cart
// preview, checkout calculation, coupon application and order placement.
//
// Everything in this package is pure: no I/O, no shared mutable state. The
// only side effects are log lines and Prometheus counters emitted by the
// Valuator when it has to fall back or skip an entry.
package pricing

import (
	"time"
)

// RefType identifies which catalog collection a cart entry points to.
type RefType string

const (
	RefTypeProduct RefType = "product"
	RefTypeBundle  RefType = "bundle"
)

// Valid reports whether t is a known catalog collection.
func (t RefType) Valid() bool {
	return t == RefTypeProduct || t == RefTypeBundle
}

// CartEntry is one raw entry of a cart document.
type CartEntry struct {
	RefID       string            `json:"ref_id"`
	RefType     RefType           `json:"ref_type"`
	Variant     *VariantSelection `json:"variant,omitempty"`
	Quantity    int               `json:"quantity"`
	StoredPrice *Money            `json:"stored_price,omitempty"`
}

// VariantSelection identifies a variant of a product, by SKU or by attributes.
type VariantSelection struct {
	SKU        string            `json:"sku,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CatalogRecord is a product or bundle as stored in the catalog.
type CatalogRecord struct {
	ID            string    `json:"id"`
	Kind          RefType   `json:"kind"`
	Name          string    `json:"name"`
	BasePrice     *Money    `json:"base_price,omitempty"`
	OriginalPrice *Money    `json:"original_price,omitempty"`
	TaxRate       *float64  `json:"tax_rate,omitempty"`
	Variants      []Variant `json:"variants,omitempty"`
	StockQuantity int       `json:"stock_quantity"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Variant is a purchasable variation of a catalog record that may override pricing.
type Variant struct {
	SKU           string            `json:"sku"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Price         *Money            `json:"price,omitempty"`
	OriginalPrice *Money            `json:"original_price,omitempty"`
	TaxRate       *float64          `json:"tax_rate,omitempty"`
}

// FindVariant returns the variant matching sel, by SKU first and then by attributes.
func (r *CatalogRecord) FindVariant(sel *VariantSelection) *Variant {
	if r == nil || sel == nil {
		return nil
	}
	if sel.SKU != "" {
		for i := range r.Variants {
			if r.Variants[i].SKU == sel.SKU {
				return &r.Variants[i]
			}
		}
		return nil
	}
	if len(sel.Attributes) == 0 {
		return nil
	}
	for i := range r.Variants {
		if sameAttributes(r.Variants[i].Attributes, sel.Attributes) {
			return &r.Variants[i]
		}
	}
	return nil
}

func sameAttributes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// PriceSource records where a line item's selling price came from.
type PriceSource string

const (
	PriceSourceVariant  PriceSource = "variant"
	PriceSourceCatalog  PriceSource = "catalog"
	PriceSourceSnapshot PriceSource = "cart_snapshot"
	PriceSourceFallback PriceSource = "fallback"
)

// LineItem is a normalized cart entry with resolved prices and tax rate.
// LineTotal is pre-discount and tax-exclusive.
type LineItem struct {
	RefID          string      `json:"ref_id"`
	RefType        RefType     `json:"ref_type"`
	Name           string      `json:"name"`
	VariantSKU     string      `json:"variant_sku,omitempty"`
	Quantity       int         `json:"quantity"`
	SellingPrice   Money       `json:"selling_price"`
	OriginalPrice  Money       `json:"original_price"`
	TaxRatePercent Percent     `json:"tax_rate_percent"`
	LineTotal      Money       `json:"line_total"`
	PriceSource    PriceSource `json:"price_source"`
}

// Savings is (original - selling) * quantity for this line.
func (li LineItem) Savings() Money {
	return li.OriginalPrice.Sub(li.SellingPrice).ClampZero().MulInt(li.Quantity)
}

// SkipReason explains why a cart entry produced no line item.
type SkipReason string

const (
	SkipReasonReferenceMissing SkipReason = "reference_missing"
	SkipReasonInvalidEntry     SkipReason = "invalid_entry"
)

// SkippedEntry reports a cart entry that was left out of pricing.
type SkippedEntry struct {
	Index   int        `json:"index"`
	RefID   string     `json:"ref_id"`
	RefType RefType    `json:"ref_type"`
	Reason  SkipReason `json:"reason"`
}
