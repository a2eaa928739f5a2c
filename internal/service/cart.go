package service

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// pricedCart is a cart after every entry has been valuated.
type pricedCart struct {
	Items   []pricing.LineItem
	Skipped []pricing.SkippedEntry
	Records map[repository.RecordKey]*pricing.CatalogRecord
}

// valuateCart loads the catalog records the cart points to and turns its
// entries into line items.
func valuateCart(ctx context.Context, catalog repository.CatalogRepository, valuator *pricing.Valuator, cart *models.Cart) (*pricedCart, error) {
	keys := make([]repository.RecordKey, 0, len(cart.Entries))
	seen := make(map[repository.RecordKey]struct{}, len(cart.Entries))
	for _, e := range cart.Entries {
		k := repository.KeyFor(e)
		if _, ok := seen[k]; ok || e.RefID == "" {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	records, err := catalog.GetRecords(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(err, "load catalog records")
	}

	items, skipped := valuator.ValuateCart(cart.Entries, func(e pricing.CartEntry) *pricing.CatalogRecord {
		return records[repository.KeyFor(e)]
	})
	return &pricedCart{Items: items, Skipped: skipped, Records: records}, nil
}

func hasFallbackPrices(items []pricing.LineItem) bool {
	for _, item := range items {
		if item.PriceSource == pricing.PriceSourceFallback {
			return true
		}
	}
	return false
}
