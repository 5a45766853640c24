// Package negotiate computes the capability set shared by a business
// and a calling platform.
//
// Negotiation is pure set arithmetic over the two profiles: intersect
// capability registries by name, then iteratively drop extensions whose
// parent did not survive, until a fixed point. The result gates which
// extension operations (fulfillment, discount) are legal for a session.
package negotiate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cymbal-labs/ucp-engine/pkg/profile"
)

// Result is a negotiated capability set. Immutable once computed; a
// session keeps the pointer it was created with and never mutates it.
type Result struct {
	Version         string                              `json:"version"`
	Capabilities    map[string][]profile.Capability     `json:"capabilities,omitempty"`
	PaymentHandlers map[string][]profile.PaymentHandler `json:"payment_handlers,omitempty"`
}

// Has reports whether a capability name survived negotiation.
func (r *Result) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Capabilities[name]
	return ok
}

// HasHandler reports whether a payment handler instance id is in the
// negotiated handler set. Completion routes credentials only to
// handlers that pass this check.
func (r *Result) HasHandler(id string) bool {
	if r == nil {
		return false
	}
	for _, handlers := range r.PaymentHandlers {
		for _, h := range handlers {
			if h.ID == id {
				return true
			}
		}
	}
	return false
}

// HandlerIDs returns the negotiated payment handler ids, sorted.
func (r *Result) HandlerIDs() []string {
	var ids []string
	for _, handlers := range r.PaymentHandlers {
		for _, h := range handlers {
			ids = append(ids, h.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// CapabilityRef is the slim per-capability entry in response metadata.
type CapabilityRef struct {
	Version string `json:"version"`
}

// HandlerRef is the slim per-handler entry in response metadata.
type HandlerRef struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// ResponseMetadata is the ucp block attached to every session response:
// the protocol version plus the capabilities and payment handlers
// actually in effect for the session.
type ResponseMetadata struct {
	Version         string                     `json:"version"`
	Capabilities    map[string][]CapabilityRef `json:"capabilities,omitempty"`
	PaymentHandlers map[string][]HandlerRef    `json:"payment_handlers,omitempty"`
}

// ResponseMetadata projects the result into the response ucp block.
func (r *Result) ResponseMetadata() ResponseMetadata {
	meta := ResponseMetadata{
		Version:         r.Version,
		Capabilities:    make(map[string][]CapabilityRef, len(r.Capabilities)),
		PaymentHandlers: make(map[string][]HandlerRef, len(r.PaymentHandlers)),
	}
	for name, entries := range r.Capabilities {
		refs := make([]CapabilityRef, len(entries))
		for i, c := range entries {
			refs[i] = CapabilityRef{Version: c.Version}
		}
		meta.Capabilities[name] = refs
	}
	for name, handlers := range r.PaymentHandlers {
		refs := make([]HandlerRef, len(handlers))
		for i, h := range handlers {
			refs[i] = HandlerRef{ID: h.ID, Version: h.Version}
		}
		meta.PaymentHandlers[name] = refs
	}
	return meta
}

// Negotiate computes the intersection of the business's declared
// capabilities with the platform's. Name equality alone decides the
// intersection: version mismatches are tolerated and the business's
// descriptor (and version) wins. A nil platform mirrors the business.
//
// Pruning runs to a fixed point, so extension chains of arbitrary depth
// collapse correctly: a grandchild whose parent is pruned in pass one
// is pruned in pass two.
func Negotiate(business, platform *profile.Profile) *Result {
	included := make(map[string][]profile.Capability, len(business.UCP.Capabilities))
	for name, entries := range business.UCP.Capabilities {
		if platform != nil {
			if _, ok := platform.UCP.Capabilities[name]; !ok {
				continue
			}
		}
		included[name] = append([]profile.Capability(nil), entries...)
	}

	for {
		removed := false
		for name, entries := range included {
			kept := entries[:0]
			for _, c := range entries {
				if c.Extends == "" {
					kept = append(kept, c)
					continue
				}
				if _, ok := included[c.Extends]; ok {
					kept = append(kept, c)
				} else {
					removed = true
				}
			}
			if len(kept) == 0 {
				delete(included, name)
				removed = true
			} else {
				included[name] = kept
			}
		}
		if !removed {
			break
		}
	}

	handlers := make(map[string][]profile.PaymentHandler, len(business.UCP.PaymentHandlers))
	platformDeclaresHandlers := platform != nil && len(platform.UCP.PaymentHandlers) > 0
	for name, entries := range business.UCP.PaymentHandlers {
		if platformDeclaresHandlers {
			if _, ok := platform.UCP.PaymentHandlers[name]; !ok {
				continue
			}
		}
		handlers[name] = append([]profile.PaymentHandler(nil), entries...)
	}

	return &Result{
		Version:         business.UCP.Version,
		Capabilities:    included,
		PaymentHandlers: handlers,
	}
}

// Negotiator negotiates against a fixed business profile and caches
// results per platform profile hash. Profiles are immutable once
// loaded, so cache entries never need invalidation within a process
// lifetime.
type Negotiator struct {
	business *profile.Profile
	cache    Cache
	logger   *slog.Logger
}

// New creates a Negotiator. A nil cache disables caching.
func New(business *profile.Profile, cache Cache) *Negotiator {
	return &Negotiator{
		business: business,
		cache:    cache,
		logger:   slog.Default().With("component", "negotiate"),
	}
}

// Business returns the profile this negotiator serves.
func (n *Negotiator) Business() *profile.Profile {
	return n.business
}

// For returns the negotiated set for the given platform profile,
// consulting the cache first.
func (n *Negotiator) For(ctx context.Context, platform *profile.Profile) (*Result, error) {
	hash, err := profile.CanonicalHash(platform)
	if err != nil {
		return nil, fmt.Errorf("hash platform profile: %w", err)
	}
	key := n.business.UCP.Version + ":" + hash

	if n.cache != nil {
		if cached, ok := n.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	result := Negotiate(n.business, platform)
	n.logger.Debug("negotiated capability set",
		"platform_hash", hash,
		"capabilities", len(result.Capabilities),
		"payment_handlers", len(result.PaymentHandlers))

	if n.cache != nil {
		n.cache.Put(ctx, key, result)
	}
	return result, nil
}
