// Package profile defines UCP discovery profiles: the registries of
// services, capabilities, and payment handlers a business or platform
// declares, plus the signing keys published alongside them.
//
// Registries are keyed by reverse-domain name (e.g.
// "dev.ucp.shopping.checkout"). Extension capabilities reference their
// parent by name, never by pointer, so the capability graph stays a
// plain indexed map.
package profile

import (
	"fmt"
	"sort"
)

// Version is the protocol version this engine speaks, in YYYY-MM-DD form.
const Version = "2026-01-11"

// Capability names used by the demo business.
const (
	CapCheckout    = "dev.ucp.shopping.checkout"
	CapFulfillment = "dev.ucp.shopping.fulfillment"
	CapDiscount    = "dev.ucp.shopping.discount"
)

// Service is a transport binding for a capability.
type Service struct {
	Version   string `json:"version" yaml:"version"`
	Spec      string `json:"spec,omitempty" yaml:"spec,omitempty"`
	Transport string `json:"transport" yaml:"transport"` // "rest", "mcp", "a2a", "embedded"
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Schema    string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Capability declares a supported feature. Extensions name their parent
// capability in Extends.
type Capability struct {
	Version string         `json:"version" yaml:"version"`
	Spec    string         `json:"spec,omitempty" yaml:"spec,omitempty"`
	Schema  string         `json:"schema,omitempty" yaml:"schema,omitempty"`
	Extends string         `json:"extends,omitempty" yaml:"extends,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PaymentHandler is a named routing target for opaque payment
// credentials. The handler config tells platforms how to acquire a
// credential; the engine itself never inspects credential payloads.
type PaymentHandler struct {
	ID      string         `json:"id" yaml:"id"`
	Version string         `json:"version" yaml:"version"`
	Spec    string         `json:"spec,omitempty" yaml:"spec,omitempty"`
	Schema  string         `json:"schema,omitempty" yaml:"schema,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// SigningKey is a public JWK published for webhook/receipt verification.
type SigningKey struct {
	KID string `json:"kid" yaml:"kid"`
	Kty string `json:"kty" yaml:"kty"`
	Crv string `json:"crv,omitempty" yaml:"crv,omitempty"`
	X   string `json:"x,omitempty" yaml:"x,omitempty"`
	Y   string `json:"y,omitempty" yaml:"y,omitempty"`
	Use string `json:"use" yaml:"use"`
	Alg string `json:"alg" yaml:"alg"`
}

// Metadata is the ucp block shared by discovery profiles and responses.
type Metadata struct {
	Version         string                      `json:"version" yaml:"version"`
	Services        map[string][]Service        `json:"services,omitempty" yaml:"services,omitempty"`
	Capabilities    map[string][]Capability     `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	PaymentHandlers map[string][]PaymentHandler `json:"payment_handlers,omitempty" yaml:"payment_handlers,omitempty"`
}

// Profile is a full UCP profile as published by a business (at
// /.well-known/ucp) or supplied by a platform per request.
type Profile struct {
	UCP         Metadata     `json:"ucp" yaml:"ucp"`
	SigningKeys []SigningKey `json:"signing_keys,omitempty" yaml:"signing_keys,omitempty"`
}

// CapabilityNames returns the declared capability names in sorted order.
func (p *Profile) CapabilityNames() []string {
	names := make([]string, 0, len(p.UCP.Capabilities))
	for name := range p.UCP.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandlerIDs returns every declared payment handler instance id, sorted.
func (p *Profile) HandlerIDs() []string {
	var ids []string
	for _, handlers := range p.UCP.PaymentHandlers {
		for _, h := range handlers {
			ids = append(ids, h.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ValidateExtends checks that every extension's parent exists in the
// same capability registry. Run once at profile load; request-time
// negotiation assumes a well-formed graph.
func (p *Profile) ValidateExtends() error {
	for name, entries := range p.UCP.Capabilities {
		for _, c := range entries {
			if c.Extends == "" {
				continue
			}
			if _, ok := p.UCP.Capabilities[c.Extends]; !ok {
				return fmt.Errorf("capability %s extends unknown capability %s", name, c.Extends)
			}
		}
	}
	return nil
}

// DefaultBusinessProfile builds the demo coffee-shop profile: the
// checkout capability plus the fulfillment and discount extensions, and
// a single mock tokenizer payment handler.
func DefaultBusinessProfile(businessURL string) *Profile {
	return &Profile{
		UCP: Metadata{
			Version: Version,
			Services: map[string][]Service{
				"dev.ucp.shopping": {
					{
						Version:   Version,
						Spec:      "https://ucp.dev/specification/overview",
						Transport: "rest",
						Endpoint:  businessURL + "/api/v1",
						Schema:    "https://ucp.dev/services/shopping/openapi.json",
					},
				},
			},
			Capabilities: map[string][]Capability{
				CapCheckout: {
					{
						Version: Version,
						Spec:    "https://ucp.dev/specification/checkout",
						Schema:  "https://ucp.dev/schemas/shopping/checkout.json",
					},
				},
				CapFulfillment: {
					{
						Version: Version,
						Spec:    "https://ucp.dev/specification/fulfillment",
						Schema:  "https://ucp.dev/schemas/shopping/fulfillment.json",
						Extends: CapCheckout,
					},
				},
				CapDiscount: {
					{
						Version: Version,
						Spec:    "https://ucp.dev/specification/discount",
						Schema:  "https://ucp.dev/schemas/shopping/discount.json",
						Extends: CapCheckout,
					},
				},
			},
			PaymentHandlers: map[string][]PaymentHandler{
				"dev.ucp.demo.mock_tokenizer": {
					{ID: "mock_tokenizer_001", Version: Version},
				},
			},
		},
	}
}
