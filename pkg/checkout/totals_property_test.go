//go:build property
// +build property

package checkout_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
)

func genItems(prices []int64, quantities []int) []checkout.LineItem {
	n := len(prices)
	if len(quantities) < n {
		n = len(quantities)
	}
	items := make([]checkout.LineItem, 0, n)
	for i := 0; i < n; i++ {
		price := prices[i] % 100_000
		if price < 0 {
			price = -price
		}
		qty := quantities[i]%20 + 1
		if qty < 1 {
			qty = 1
		}
		items = append(items, checkout.LineItem{
			ID:         "li_prop",
			Quantity:   qty,
			UnitPrice:  price,
			TotalPrice: price * int64(qty),
			Currency:   "USD",
		})
	}
	return items
}

func genDiscounts(amounts []int64) []checkout.Discount {
	ds := make([]checkout.Discount, 0, len(amounts))
	for _, a := range amounts {
		if a < 0 {
			a = -a
		}
		ds = append(ds, checkout.Discount{Code: "PROP", Amount: a % 200_000, Currency: "USD"})
	}
	return ds
}

func TestTotalsProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("total is never negative", prop.ForAll(
		func(prices []int64, quantities []int, amounts []int64, tax int64) bool {
			items := genItems(prices, quantities)
			totals := checkout.CalculateTotals(items, genDiscounts(amounts), nil, tax%10_000, "USD")
			return totals.Total >= 0
		},
		gen.SliceOf(gen.Int64()), gen.SliceOf(gen.Int()), gen.SliceOf(gen.Int64()), gen.Int64(),
	))

	properties.Property("discount never exceeds subtotal", prop.ForAll(
		func(prices []int64, quantities []int, amounts []int64) bool {
			items := genItems(prices, quantities)
			totals := checkout.CalculateTotals(items, genDiscounts(amounts), nil, 0, "USD")
			return totals.Discount <= totals.Subtotal && totals.Discount >= 0
		},
		gen.SliceOf(gen.Int64()), gen.SliceOf(gen.Int()), gen.SliceOf(gen.Int64()),
	))

	properties.Property("totals are deterministic", prop.ForAll(
		func(prices []int64, quantities []int, amounts []int64) bool {
			items := genItems(prices, quantities)
			discounts := genDiscounts(amounts)
			a := checkout.CalculateTotals(items, discounts, nil, 0, "USD")
			b := checkout.CalculateTotals(items, discounts, nil, 0, "USD")
			return a == b
		},
		gen.SliceOf(gen.Int64()), gen.SliceOf(gen.Int()), gen.SliceOf(gen.Int64()),
	))

	properties.Property("subtotal equals sum of line totals", prop.ForAll(
		func(prices []int64, quantities []int) bool {
			items := genItems(prices, quantities)
			var want int64
			for _, it := range items {
				want += it.TotalPrice
			}
			return checkout.Subtotal(items) == want
		},
		gen.SliceOf(gen.Int64()), gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
