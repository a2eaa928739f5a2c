package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
)

// Breakdown is the monetary summary of a cart or order.
//
// Total = Subtotal + Tax + Shipping, Discount <= Total and
// AmountDue = Total - Discount hold for every value produced by Calculate.
type Breakdown struct {
	Subtotal  Money `json:"subtotal"`
	Discount  Money `json:"discount"`
	Tax       Money `json:"tax"`
	Shipping  Money `json:"shipping"`
	Total     Money `json:"total"`
	AmountDue Money `json:"amount_due"`
}

// ItemTax is the rounded tax on a single line. Invoices use it so that the
// per-line figures add up to the aggregate tax.
func ItemTax(item LineItem) Money {
	return NewMoney(item.LineTotal.Decimal().Mul(item.TaxRatePercent.Decimal()).Div(hundred))
}

// Calculate computes the breakdown for items. Each line's tax is rounded
// before summing. Negative discount or shipping is treated as zero and the
// discount never exceeds the total.
func Calculate(items []LineItem, discount Money, shipping Money) Breakdown {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal.Decimal())
		tax = tax.Add(ItemTax(item).Decimal())
	}

	b := Breakdown{
		Subtotal: NewMoney(subtotal),
		Tax:      NewMoney(tax),
		Shipping: shipping.ClampZero(),
	}
	b.Total = b.Subtotal.Add(b.Tax).Add(b.Shipping)
	b.Discount = MinMoney(b.Total, discount.ClampZero())
	b.AmountDue = b.Total.Sub(b.Discount)
	return b
}

// Verify checks the breakdown invariants and returns ErrPricingInconsistency
// when any of them is violated.
func (b Breakdown) Verify() error {
	parts := []struct {
		name  string
		value Money
	}{
		{"subtotal", b.Subtotal},
		{"discount", b.Discount},
		{"tax", b.Tax},
		{"shipping", b.Shipping},
		{"total", b.Total},
		{"amount_due", b.AmountDue},
	}
	for _, p := range parts {
		if p.value.IsNegative() {
			return errors.Wrapf(errors.ErrPricingInconsistency, "%s is negative (%s)", p.name, p.value)
		}
	}
	if !b.Total.Equal(b.Subtotal.Add(b.Tax).Add(b.Shipping)) {
		return errors.Wrapf(errors.ErrPricingInconsistency, "total %s != subtotal %s + tax %s + shipping %s",
			b.Total, b.Subtotal, b.Tax, b.Shipping)
	}
	if b.Discount.GreaterThan(b.Total) {
		return errors.Wrapf(errors.ErrPricingInconsistency, "discount %s exceeds total %s", b.Discount, b.Total)
	}
	if !b.AmountDue.Equal(b.Total.Sub(b.Discount)) {
		return errors.Wrapf(errors.ErrPricingInconsistency, "amount due %s != total %s - discount %s",
			b.AmountDue, b.Total, b.Discount)
	}
	return nil
}

// Equal reports whether every component of b and o is the same amount.
func (b Breakdown) Equal(o Breakdown) bool {
	return b.Subtotal.Equal(o.Subtotal) &&
		b.Discount.Equal(o.Discount) &&
		b.Tax.Equal(o.Tax) &&
		b.Shipping.Equal(o.Shipping) &&
		b.Total.Equal(o.Total) &&
		b.AmountDue.Equal(o.AmountDue)
}

// ShippingPolicy decides the shipping fee for a subtotal.
type ShippingPolicy struct {
	FlatFee       Money
	FreeThreshold Money
}

// DefaultShippingPolicy charges 100 below a subtotal of 1000.
var DefaultShippingPolicy = ShippingPolicy{
	FlatFee:       MoneyFromInt(100),
	FreeThreshold: MoneyFromInt(1000),
}

// Fee returns zero once subtotal reaches the free threshold, the flat fee otherwise.
func (p ShippingPolicy) Fee(subtotal Money) Money {
	if p.FreeThreshold.IsPositive() && !subtotal.LessThan(p.FreeThreshold) {
		return Zero
	}
	return p.FlatFee.ClampZero()
}

// TotalSavings sums (original - selling) * quantity over items.
func TotalSavings(items []LineItem) Money {
	total := Zero
	for _, item := range items {
		total = total.Add(item.Savings())
	}
	return total
}

// Subtotal is the rounded sum of line totals.
func Subtotal(items []LineItem) Money {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.LineTotal.Decimal())
	}
	return NewMoney(sum)
}

// OrderPricingRecord is the pricing snapshot frozen onto an order at commit.
type OrderPricingRecord struct {
	Breakdown
	TotalSavings Money  `json:"total_savings"`
	Currency     string `json:"currency"`
}
