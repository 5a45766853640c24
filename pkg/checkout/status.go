package checkout

// BuildMessages rebuilds the transient message list from the session's
// current data. Called on every mutating operation; messages never
// accumulate across calls.
func BuildMessages(items []LineItem, buyer *Buyer, f *Fulfillment, fulfillmentNegotiated bool) []Message {
	var msgs []Message

	if len(items) == 0 {
		msgs = append(msgs, Message{
			Type:    MessageWarning,
			Code:    "empty_cart",
			Content: "Your cart is empty. Add some items to continue.",
		})
	}

	if fulfillmentNegotiated {
		switch {
		case f == nil:
			msgs = append(msgs, Message{
				Type:    MessageInfo,
				Code:    "select_fulfillment",
				Content: "Please select a fulfillment option.",
			})
		case f.SelectedOptionID == "":
			msgs = append(msgs, Message{
				Type:     MessageError,
				Code:     "fulfillment_required",
				Content:  "Please select a fulfillment option to continue.",
				Severity: SeverityRecoverable,
			})
		default:
			if opt := f.SelectedOption(); opt != nil && opt.Type == "shipping" && f.Address == nil {
				msgs = append(msgs, Message{
					Type:     MessageError,
					Code:     "address_required",
					Content:  "Please provide a delivery address.",
					Severity: SeverityRecoverable,
				})
			}
		}
	}

	for _, it := range items {
		if it.RequiresBuyerContact && !buyer.HasContact() {
			msgs = append(msgs, Message{
				Type:     MessageError,
				Code:     "buyer_contact_required",
				Content:  "This item requires buyer contact information.",
				Severity: SeverityRecoverable,
			})
			break
		}
	}

	return msgs
}

// DeriveStatus computes the session status from its data. Pure: the
// same inputs always yield the same status, with no hidden history.
// The operation-driven states (complete_in_progress, completed,
// canceled) are never derived here; they are set only by the complete
// and cancel operations.
//
// Any error with a buyer-facing severity forces requires_escalation,
// regardless of other messages; no finer precedence is defined.
func DeriveStatus(items []LineItem, buyer *Buyer, f *Fulfillment, msgs []Message, fulfillmentNegotiated bool) Status {
	for _, m := range msgs {
		if m.Escalates() {
			return StatusRequiresEscalation
		}
	}

	for _, m := range msgs {
		if m.Type == MessageError && m.Severity == SeverityRecoverable {
			return StatusIncomplete
		}
	}

	if len(items) == 0 {
		return StatusIncomplete
	}

	if fulfillmentNegotiated {
		if f == nil || f.SelectedOptionID == "" {
			return StatusIncomplete
		}
		if opt := f.SelectedOption(); opt != nil && opt.Type == "shipping" && f.Address == nil {
			return StatusIncomplete
		}
	}

	for _, it := range items {
		if it.RequiresBuyerContact && !buyer.HasContact() {
			return StatusIncomplete
		}
	}

	return StatusReadyForComplete
}
