// Package checkout implements the commerce checkout session engine:
// the session state machine, the totals calculator, and completion.
//
// A session's status is derived from its data after every mutation,
// never stored as an independently settable flag; the only exceptions
// are the operation-driven transitions to complete_in_progress,
// completed, and canceled. Totals are always the output of a fresh
// recompute over line items, discounts, and fulfillment.
package checkout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cymbal-labs/ucp-engine/pkg/negotiate"
)

// Status is the checkout session lifecycle state.
type Status string

const (
	StatusIncomplete         Status = "incomplete"
	StatusRequiresEscalation Status = "requires_escalation"
	StatusReadyForComplete   Status = "ready_for_complete"
	StatusCompleteInProgress Status = "complete_in_progress"
	StatusCompleted          Status = "completed"
	StatusCanceled           Status = "canceled"
)

// Terminal reports whether the status permits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// MessageType classifies a session message.
type MessageType string

const (
	MessageError   MessageType = "error"
	MessageWarning MessageType = "warning"
	MessageInfo    MessageType = "info"
)

// Severity indicates who can resolve an error message.
type Severity string

const (
	SeverityRecoverable        Severity = "recoverable"
	SeverityRequiresBuyerInput Severity = "requires_buyer_input"
	SeverityRequiresBuyerRev   Severity = "requires_buyer_review"
)

// Message describes why a status is blocked. Messages are transient:
// every mutating operation clears and repopulates them.
type Message struct {
	Type     MessageType `json:"type"`
	Code     string      `json:"code"`
	Content  string      `json:"content"`
	Severity Severity    `json:"severity,omitempty"`
}

// Escalates reports whether this message forces buyer involvement.
func (m Message) Escalates() bool {
	return m.Type == MessageError &&
		(m.Severity == SeverityRequiresBuyerInput || m.Severity == SeverityRequiresBuyerRev)
}

// PostalAddress is a shipping or billing address.
type PostalAddress struct {
	StreetAddress   string `json:"street_address,omitempty"`
	ExtendedAddress string `json:"extended_address,omitempty"`
	AddressLocality string `json:"address_locality,omitempty"`
	AddressRegion   string `json:"address_region,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	AddressCountry  string `json:"address_country,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
}

// Buyer is the buyer contact block.
type Buyer struct {
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
	BillingAddress *PostalAddress `json:"billing_address,omitempty"`
}

// HasContact reports whether any contact channel is present.
func (b *Buyer) HasContact() bool {
	return b != nil && (b.Email != "" || b.Phone != "")
}

// LineItemInput references a catalog product in a create/update request.
type LineItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is a priced cart entry. Owned exclusively by its session.
type LineItem struct {
	ID                   string `json:"id"`
	ProductID            string `json:"product_id"`
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	ImageURL             string `json:"image_url,omitempty"`
	Quantity             int    `json:"quantity"`
	UnitPrice            int64  `json:"unit_price"`
	TotalPrice           int64  `json:"total_price"`
	Currency             string `json:"currency"`
	RequiresBuyerContact bool   `json:"requires_buyer_contact,omitempty"`
}

// FulfillmentOption is an available shipping/pickup method.
type FulfillmentOption struct {
	ID                string `json:"id"`
	Type              string `json:"type"` // "pickup" or "shipping"
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	Price             int64  `json:"price"`
	Currency          string `json:"currency"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
}

// Fulfillment is the fulfillment block, present only when the
// fulfillment capability was negotiated for the session.
type Fulfillment struct {
	Type             string              `json:"type"`
	Address          *PostalAddress      `json:"address,omitempty"`
	SelectedOptionID string              `json:"selected_option_id,omitempty"`
	AvailableOptions []FulfillmentOption `json:"available_options,omitempty"`
}

// SelectedOption returns the descriptor of the selected option, or nil.
func (f *Fulfillment) SelectedOption() *FulfillmentOption {
	if f == nil || f.SelectedOptionID == "" {
		return nil
	}
	for i := range f.AvailableOptions {
		if f.AvailableOptions[i].ID == f.SelectedOptionID {
			return &f.AvailableOptions[i]
		}
	}
	return nil
}

// FulfillmentSelection is the fulfillment slice of a request patch.
type FulfillmentSelection struct {
	Address          *PostalAddress `json:"address,omitempty"`
	SelectedOptionID string         `json:"selected_option_id,omitempty"`
}

// Discount is an applied discount. Codes are unique within a session.
type Discount struct {
	Code     string `json:"code"`
	Title    string `json:"title"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Totals is the derived money summary of a session. Callers never set
// it; the engine recomputes it after every mutation.
type Totals struct {
	Subtotal     int64  `json:"subtotal"`
	Discount     int64  `json:"discount"`
	Shipping     int64  `json:"shipping"`
	Tax          int64  `json:"tax"`
	Total        int64  `json:"total"`
	Currency     string `json:"currency"`
	DisplayTotal string `json:"display_total,omitempty"`
}

// Link points at a business policy page.
type Link struct {
	Type  string `json:"type"`
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
}

// Order is the confirmation produced by a successful completion. Set
// exactly once; immutable thereafter.
type Order struct {
	ID                string    `json:"id"`
	PermalinkURL      string    `json:"permalink_url,omitempty"`
	ConfirmationToken string    `json:"confirmation_token,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Session is the checkout session entity.
type Session struct {
	UCP         negotiate.ResponseMetadata `json:"ucp"`
	ID          string                     `json:"id"`
	Status      Status                     `json:"status"`
	LineItems   []LineItem                 `json:"line_items"`
	Buyer       *Buyer                     `json:"buyer,omitempty"`
	Fulfillment *Fulfillment               `json:"fulfillment,omitempty"`
	Discounts   []Discount                 `json:"discounts,omitempty"`
	Totals      *Totals                    `json:"totals,omitempty"`
	Messages    []Message                  `json:"messages,omitempty"`
	Links       []Link                     `json:"links,omitempty"`
	ContinueURL string                     `json:"continue_url,omitempty"`
	ExpiresAt   *time.Time                 `json:"expires_at,omitempty"`
	Order       *Order                     `json:"order,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`

	// Negotiated is the capability set computed at session creation.
	// Not part of the wire snapshot; stores persist it separately.
	Negotiated *negotiate.Result `json:"-"`
}

// Clone returns a deep copy of the session. The negotiated set is
// shared: it is immutable once computed.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("session %s not serializable: %v", s.ID, err))
	}
	var clone Session
	if err := json.Unmarshal(raw, &clone); err != nil {
		panic(fmt.Sprintf("session %s clone failed: %v", s.ID, err))
	}
	clone.Negotiated = s.Negotiated
	return &clone
}

// DiscountCodes returns the applied codes in order.
func (s *Session) DiscountCodes() []string {
	codes := make([]string, len(s.Discounts))
	for i, d := range s.Discounts {
		codes[i] = d.Code
	}
	return codes
}
