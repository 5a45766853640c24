// Package catalog is the demo coffee-shop catalog: products, discount
// codes, and fulfillment options. It backs the checkout engine's
// collaborator interfaces with fixed in-memory data.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
	"github.com/cymbal-labs/ucp-engine/pkg/money"
)

// DiscountKind selects how a code's value applies to the subtotal.
type DiscountKind string

const (
	DiscountPercentage  DiscountKind = "percentage"
	DiscountFixed       DiscountKind = "fixed"
	DiscountFreeShipped DiscountKind = "free_shipping"
)

// DiscountCode is a redeemable code definition.
type DiscountCode struct {
	Code  string
	Title string
	Kind  DiscountKind
	// Value is a percentage (0-100) for percentage codes and a
	// minor-unit amount for fixed codes.
	Value int64
}

// Catalog holds the demo shop's data.
type Catalog struct {
	products    map[string]checkout.Product
	discounts   map[string]DiscountCode
	fulfillment []checkout.FulfillmentOption
}

// NewDemo builds the Cymbal Coffee Shop demo catalog.
func NewDemo() *Catalog {
	c := &Catalog{
		products:  make(map[string]checkout.Product),
		discounts: make(map[string]DiscountCode),
	}
	for _, p := range demoProducts {
		c.products[p.ID] = p
	}
	for _, d := range demoDiscounts {
		c.discounts[d.Code] = d
	}
	c.fulfillment = demoFulfillment
	return c
}

// Lookup implements checkout.CatalogLookup.
func (c *Catalog) Lookup(_ context.Context, productID string) (checkout.Product, error) {
	p, ok := c.products[productID]
	if !ok {
		return checkout.Product{}, fmt.Errorf("%w: %s", checkout.ErrUnknownProduct, productID)
	}
	return p, nil
}

// All returns every product, ordered by id for stable listings.
func (c *Catalog) All() []checkout.Product {
	products := make([]checkout.Product, 0, len(c.products))
	for _, p := range c.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products
}

// Resolve implements checkout.DiscountResolver. Percentage codes apply
// to the current subtotal; fixed codes carry their face value, clamped
// later against the subtotal by the totals calculator.
func (c *Catalog) Resolve(_ context.Context, code string, subtotalMinor int64) (checkout.Discount, error) {
	d, ok := c.discounts[strings.ToUpper(code)]
	if !ok {
		return checkout.Discount{}, fmt.Errorf("%w: %s", checkout.ErrUnknownDiscountCode, code)
	}

	var amount int64
	switch d.Kind {
	case DiscountPercentage:
		amount = subtotalMinor * d.Value / 100
	case DiscountFixed:
		amount = money.ClampMinor(d.Value, subtotalMinor)
	case DiscountFreeShipped:
		// Carries no amount of its own; the totals calculator zeroes
		// the shipping line when the code is present.
		amount = 0
	}

	return checkout.Discount{
		Code:     d.Code,
		Title:    d.Title,
		Amount:   amount,
		Currency: "USD",
	}, nil
}

// Options implements checkout.FulfillmentProvider.
func (c *Catalog) Options(context.Context) ([]checkout.FulfillmentOption, error) {
	options := make([]checkout.FulfillmentOption, len(c.fulfillment))
	copy(options, c.fulfillment)
	return options, nil
}

var demoProducts = []checkout.Product{
	{ID: "coffee_small", Title: "Small Coffee", Description: "8oz freshly brewed coffee", ImageURL: "/images/coffee.jpeg", Price: 299, Currency: "USD"},
	{ID: "coffee_medium", Title: "Medium Coffee", Description: "12oz freshly brewed coffee", ImageURL: "/images/coffee.jpeg", Price: 399, Currency: "USD"},
	{ID: "coffee_large", Title: "Large Coffee", Description: "16oz freshly brewed coffee", ImageURL: "/images/coffee.jpeg", Price: 499, Currency: "USD"},
	{ID: "latte_medium", Title: "Medium Latte", Description: "12oz espresso with steamed milk", ImageURL: "/images/latte.jpeg", Price: 549, Currency: "USD"},
	{ID: "latte_large", Title: "Large Latte", Description: "16oz espresso with steamed milk", ImageURL: "/images/latte.jpeg", Price: 649, Currency: "USD"},
	{ID: "cappuccino", Title: "Cappuccino", Description: "Espresso with foamed milk", ImageURL: "/images/cappuccino.jpeg", Price: 549, Currency: "USD"},
	{ID: "espresso_single", Title: "Single Espresso", Description: "Single shot of espresso", ImageURL: "/images/espresso.jpeg", Price: 299, Currency: "USD"},
	{ID: "espresso_double", Title: "Double Espresso", Description: "Double shot of espresso", ImageURL: "/images/espresso.jpeg", Price: 399, Currency: "USD"},
	{ID: "muffin_blueberry", Title: "Blueberry Muffin", Description: "Fresh baked blueberry muffin", ImageURL: "/images/muffin_blueberry.jpeg", Price: 349, Currency: "USD"},
	{ID: "muffin_chocolate", Title: "Chocolate Chip Muffin", Description: "Fresh baked chocolate chip muffin", ImageURL: "/images/muffin_chocolate.jpeg", Price: 349, Currency: "USD"},
	{ID: "croissant", Title: "Butter Croissant", Description: "Flaky butter croissant", ImageURL: "/images/croissant.jpeg", Price: 399, Currency: "USD"},
	{ID: "bagel", Title: "Everything Bagel", Description: "Everything bagel with cream cheese", ImageURL: "/images/bagel.jpeg", Price: 449, Currency: "USD"},
}

var demoDiscounts = []DiscountCode{
	{Code: "DEMO20", Title: "Demo Discount", Kind: DiscountPercentage, Value: 20},
	{Code: "SAVE5", Title: "Save $5", Kind: DiscountFixed, Value: 500},
	{Code: "FREESHIP", Title: "Free Shipping", Kind: DiscountFreeShipped, Value: 0},
}

var demoFulfillment = []checkout.FulfillmentOption{
	{ID: "pickup", Type: "pickup", Title: "In-Store Pickup", Description: "Pick up at our location", Price: 0, Currency: "USD", EstimatedDelivery: "Ready in 15 minutes"},
	{ID: "standard", Type: "shipping", Title: "Standard Delivery", Description: "Delivered to your door", Price: 499, Currency: "USD", EstimatedDelivery: "30-45 minutes"},
	{ID: "express", Type: "shipping", Title: "Express Delivery", Description: "Priority delivery", Price: 899, Currency: "USD", EstimatedDelivery: "15-20 minutes"},
}
