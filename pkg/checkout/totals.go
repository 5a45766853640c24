package checkout

import (
	"strings"

	"github.com/cymbal-labs/ucp-engine/pkg/money"
)

// freeShippingCode zeroes the fulfillment charge when applied.
const freeShippingCode = "FREESHIP"

// Subtotal sums line totals.
func Subtotal(items []LineItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.TotalPrice
	}
	return sum
}

// DiscountTotal sums applied discounts, clamped so the discount never
// exceeds the subtotal it applies to.
func DiscountTotal(discounts []Discount, subtotal int64) int64 {
	var sum int64
	for _, d := range discounts {
		sum += d.Amount
	}
	return money.ClampMinor(sum, subtotal)
}

// ShippingCost is the price of the selected fulfillment option, zeroed
// by a free-shipping discount, or 0 when nothing is selected.
func ShippingCost(f *Fulfillment, discounts []Discount) int64 {
	opt := f.SelectedOption()
	if opt == nil {
		return 0
	}
	for _, d := range discounts {
		if strings.EqualFold(d.Code, freeShippingCode) {
			return 0
		}
	}
	return opt.Price
}

// TaxableAmount is the input handed to the tax-rules collaborator.
func TaxableAmount(items []LineItem, discounts []Discount) int64 {
	subtotal := Subtotal(items)
	return subtotal - DiscountTotal(discounts, subtotal)
}

// CalculateTotals derives the totals block. Pure: identical inputs
// (including the externally computed tax) always produce identical
// output, and the total never goes below zero.
func CalculateTotals(items []LineItem, discounts []Discount, f *Fulfillment, taxMinor int64, currency string) Totals {
	subtotal := Subtotal(items)
	discount := DiscountTotal(discounts, subtotal)
	shipping := ShippingCost(f, discounts)

	total := money.New(subtotal-discount+shipping+taxMinor, currency).FloorZero()

	return Totals{
		Subtotal:     subtotal,
		Discount:     discount,
		Shipping:     shipping,
		Tax:          taxMinor,
		Total:        total.AmountMinor,
		Currency:     currency,
		DisplayTotal: total.Format(),
	}
}
