package checkout

import (
	"context"
	"time"
)

// Product is a catalog entry as the engine sees it.
type Product struct {
	ID                   string
	Title                string
	Description          string
	ImageURL             string
	Price                int64 // minor units
	Currency             string
	RequiresBuyerContact bool
}

// CatalogLookup resolves product ids to priced products. Returns
// ErrUnknownProduct (possibly wrapped) for unknown ids.
type CatalogLookup interface {
	Lookup(ctx context.Context, productID string) (Product, error)
}

// DiscountResolver resolves a discount code against the current
// subtotal. Returns ErrUnknownDiscountCode for codes it cannot resolve.
type DiscountResolver interface {
	Resolve(ctx context.Context, code string, subtotalMinor int64) (Discount, error)
}

// FulfillmentProvider lists the options available to a session.
type FulfillmentProvider interface {
	Options(ctx context.Context) ([]FulfillmentOption, error)
}

// TaxRules computes tax on the taxable amount (subtotal minus
// discount). Injected, never computed internally.
type TaxRules interface {
	Tax(ctx context.Context, taxableMinor int64, addr *PostalAddress) (int64, error)
}

// OrderSigner mints the signed confirmation token attached to a placed
// order. Optional; a nil signer leaves the token empty.
type OrderSigner interface {
	SignOrder(ctx context.Context, sessionID, orderID string, amountMinor int64, currency string) (string, error)
}

// Event is the before/after snapshot pair emitted on every mutating
// operation. Before is nil for creation.
type Event struct {
	Op        string
	SessionID string
	Before    *Session
	After     *Session
	At        time.Time
}

// EventSink receives operation events for display. Fire-and-forget:
// sink failure must never affect the operation's result, so Publish
// returns nothing and implementations must not block.
type EventSink interface {
	Publish(ev Event)
}

// Store persists sessions. Get returns ErrNotFound for unknown ids.
// Put replaces the stored session atomically.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
}
