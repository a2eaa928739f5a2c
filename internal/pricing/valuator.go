package pricing

import (
	"strings"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
)

// Valuator turns raw cart entries into normalized line items.
type Valuator struct {
	fallbackPrice Money
	logger        *logging.Logger
	metrics       *Metrics
}

// NewValuator creates a valuator. fallbackPrice is used only when neither the
// catalog nor the cart snapshot carries a positive price.
func NewValuator(fallbackPrice Money, logger *logging.Logger, metrics *Metrics) *Valuator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Valuator{
		fallbackPrice: fallbackPrice.ClampZero(),
		logger:        logger,
		metrics:       metrics,
	}
}

// Valuate resolves the price and tax rate of a single cart entry against its
// catalog record. A nil record means the reference no longer exists; the entry
// is skipped and reported, never priced at zero.
func (v *Valuator) Valuate(entry CartEntry, record *CatalogRecord) (LineItem, *SkippedEntry) {
	if strings.TrimSpace(entry.RefID) == "" || entry.Quantity <= 0 {
		return LineItem{}, v.skip(entry, SkipReasonInvalidEntry)
	}
	if record == nil {
		return LineItem{}, v.skip(entry, SkipReasonReferenceMissing)
	}

	variant := record.FindVariant(entry.Variant)

	selling, source := v.sellingPrice(entry, record, variant)
	if source == PriceSourceFallback {
		v.metrics.fallbackPrice()
		v.logger.Warn("Cart entry priced with fallback constant", logging.Fields{
			"ref_id":         entry.RefID,
			"ref_type":       entry.RefType,
			"fallback_price": selling.String(),
		})
	}

	original := selling
	if variant != nil && positive(variant.OriginalPrice) {
		original = *variant.OriginalPrice
	} else if positive(record.OriginalPrice) {
		original = *record.OriginalPrice
	}
	if original.LessThan(selling) {
		original = selling
	}

	var rateInput interface{}
	switch {
	case variant != nil && variant.TaxRate != nil:
		rateInput = *variant.TaxRate
	case record.TaxRate != nil:
		rateInput = *record.TaxRate
	}

	item := LineItem{
		RefID:          entry.RefID,
		RefType:        entry.RefType,
		Name:           record.Name,
		Quantity:       entry.Quantity,
		SellingPrice:   selling,
		OriginalPrice:  original,
		TaxRatePercent: NewPercent(NormalizeTaxRate(rateInput)),
		LineTotal:      selling.MulInt(entry.Quantity),
		PriceSource:    source,
	}
	if item.RefType == "" {
		item.RefType = record.Kind
	}
	if variant != nil {
		item.VariantSKU = variant.SKU
	}
	return item, nil
}

// ValuateCart valuates entries in cart order. lookup returns the catalog
// record for an entry, or nil when it cannot be resolved.
func (v *Valuator) ValuateCart(entries []CartEntry, lookup func(CartEntry) *CatalogRecord) ([]LineItem, []SkippedEntry) {
	items := make([]LineItem, 0, len(entries))
	var skipped []SkippedEntry
	for i, entry := range entries {
		item, skip := v.Valuate(entry, lookup(entry))
		if skip != nil {
			skip.Index = i
			skipped = append(skipped, *skip)
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}

func (v *Valuator) sellingPrice(entry CartEntry, record *CatalogRecord, variant *Variant) (Money, PriceSource) {
	switch {
	case variant != nil && positive(variant.Price):
		return *variant.Price, PriceSourceVariant
	case positive(record.BasePrice):
		return *record.BasePrice, PriceSourceCatalog
	case positive(entry.StoredPrice):
		return *entry.StoredPrice, PriceSourceSnapshot
	default:
		return v.fallbackPrice, PriceSourceFallback
	}
}

func (v *Valuator) skip(entry CartEntry, reason SkipReason) *SkippedEntry {
	v.metrics.skipped(reason)
	v.logger.Warn("Cart entry skipped", logging.Fields{
		"ref_id":   entry.RefID,
		"ref_type": entry.RefType,
		"reason":   reason,
	})
	return &SkippedEntry{RefID: entry.RefID, RefType: entry.RefType, Reason: reason}
}

func positive(m *Money) bool {
	return m != nil && m.IsPositive()
}
