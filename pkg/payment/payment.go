// Package payment defines payment instruments and the settlement
// boundary. Credentials are opaque: the engine routes them by handler
// id and otherwise never inspects, stores, or logs their payload. That
// opacity is the PCI-scope-minimization guarantee of the protocol.
package payment

import (
	"log/slog"
)

// InstrumentType classifies a payment instrument.
type InstrumentType string

const (
	InstrumentCard          InstrumentType = "card"
	InstrumentBankAccount   InstrumentType = "bank_account"
	InstrumentDigitalWallet InstrumentType = "digital_wallet"
)

// CredentialType tags the opaque credential payload.
type CredentialType string

const (
	CredentialPaymentGateway CredentialType = "PAYMENT_GATEWAY"
	CredentialDirect         CredentialType = "DIRECT"
	CredentialToken          CredentialType = "TOKEN"
)

// Credential is an opaque payment credential. Only the tag is ever
// examined; the token payload passes through to the settlement handler
// untouched.
type Credential struct {
	Type  CredentialType `json:"type"`
	Token string         `json:"token"`
}

// LogValue redacts the credential payload. Logging a credential through
// slog yields only its tag, never the token.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue("[redacted:" + string(c.Type) + "]")
}

// Display carries receipt-friendly instrument info (never credentials).
type Display struct {
	Brand      string `json:"brand,omitempty"`
	LastDigits string `json:"last_digits,omitempty"`
}

// Instrument is a payment instrument submitted for completion.
type Instrument struct {
	ID             string         `json:"id"`
	HandlerID      string         `json:"handler_id"`
	Type           InstrumentType `json:"type"`
	Selected       bool           `json:"selected"`
	Display        *Display       `json:"display,omitempty"`
	BillingAddress map[string]any `json:"billing_address,omitempty"`
	Credential     Credential     `json:"credential"`
}

// Payment is the payment block of a complete-checkout request.
type Payment struct {
	Instruments []Instrument `json:"instruments,omitempty"`
}

// SelectedInstrument returns the first selected instrument, or the
// first instrument when none is marked selected, or nil when empty.
func (p Payment) SelectedInstrument() *Instrument {
	for i := range p.Instruments {
		if p.Instruments[i].Selected {
			return &p.Instruments[i]
		}
	}
	if len(p.Instruments) > 0 {
		return &p.Instruments[0]
	}
	return nil
}
