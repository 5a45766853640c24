package checkout

import "errors"

// Failure classes declared by the operation surface. Handlers map each
// to a distinct HTTP status; callers branch on them with errors.Is.
var (
	// ErrNotFound: no session with the given id.
	ErrNotFound = errors.New("checkout session not found")

	// ErrInvalidLineItem: a line item failed validation (negative
	// quantity, unresolvable product).
	ErrInvalidLineItem = errors.New("invalid line item")

	// ErrUnknownProduct is returned by catalog lookups; the engine
	// surfaces it wrapped in ErrInvalidLineItem.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrUnknownDiscountCode: a discount code did not resolve.
	ErrUnknownDiscountCode = errors.New("unknown discount code")

	// ErrUnknownFulfillmentOption: a selection referenced an option id
	// the business does not offer.
	ErrUnknownFulfillmentOption = errors.New("unknown fulfillment option")

	// ErrFulfillmentNotNegotiated: a fulfillment selection was
	// attempted but the capability was pruned during negotiation.
	ErrFulfillmentNotNegotiated = errors.New("fulfillment capability not negotiated")

	// ErrCapabilityNotNegotiated: an operation referenced a capability
	// outside the session's negotiated set.
	ErrCapabilityNotNegotiated = errors.New("capability not negotiated")

	// ErrSessionBusy: a completion is outstanding; retry after backoff.
	ErrSessionBusy = errors.New("checkout session busy")

	// ErrSessionTerminal: the session is completed or canceled.
	ErrSessionTerminal = errors.New("checkout session is terminal")

	// ErrInvalidStateForCompletion: complete requires ready_for_complete.
	ErrInvalidStateForCompletion = errors.New("session not ready for completion")

	// ErrUnknownPaymentHandler: the instrument's handler id is not in
	// the negotiated payment-handler set.
	ErrUnknownPaymentHandler = errors.New("unknown payment handler")

	// ErrAlreadyCompleted: the order was already placed.
	ErrAlreadyCompleted = errors.New("checkout session already completed")

	// ErrPaymentRequired: the complete request carried no instrument.
	ErrPaymentRequired = errors.New("payment information required")
)
