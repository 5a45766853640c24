package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cymbal-labs/ucp-engine/pkg/negotiate"
	"github.com/cymbal-labs/ucp-engine/pkg/payment"
	"github.com/cymbal-labs/ucp-engine/pkg/profile"
)

// CreateRequest creates a session.
type CreateRequest struct {
	LineItems     []LineItemInput       `json:"line_items"`
	Buyer         *Buyer                `json:"buyer,omitempty"`
	Fulfillment   *FulfillmentSelection `json:"fulfillment,omitempty"`
	DiscountCodes []string              `json:"discount_codes,omitempty"`
	Context       map[string]any        `json:"context,omitempty"`
}

// UpdateRequest is a patch. A nil field leaves the session's value
// unchanged; a present field fully replaces it (a present line-item
// list is the entire new cart, not a delta).
type UpdateRequest struct {
	LineItems     *[]LineItemInput      `json:"line_items,omitempty"`
	Buyer         *Buyer                `json:"buyer,omitempty"`
	Fulfillment   *FulfillmentSelection `json:"fulfillment,omitempty"`
	DiscountCodes *[]string             `json:"discount_codes,omitempty"`
}

// CompleteRequest finalizes a session.
type CompleteRequest struct {
	Payment     payment.Payment `json:"payment"`
	RiskSignals map[string]any  `json:"risk_signals,omitempty"`
}

// EngineConfig wires the engine's collaborators. Each collaborator is a
// narrow one-method interface so tests substitute deterministic fakes.
type EngineConfig struct {
	Store       Store
	Negotiator  *negotiate.Negotiator
	Catalog     CatalogLookup
	Discounts   DiscountResolver
	Fulfillment FulfillmentProvider
	Tax         TaxRules
	Settlements map[string]payment.Settlement
	Events      EventSink
	Signer      OrderSigner
	Links       []Link

	// ContinueBase prefixes buyer handoff and order permalink URLs.
	ContinueBase string
	// Currency is the session currency (default USD).
	Currency string
	// SessionTTL sets expires_at (default 24h).
	SessionTTL time.Duration
	// CollaboratorTimeout bounds every external collaborator call
	// (default 5s). A timeout is a failure outcome, never a pending one.
	CollaboratorTimeout time.Duration
}

// Engine drives checkout sessions through their lifecycle. Mutations on
// one session id serialize through a per-session lock; operations on
// different ids proceed fully in parallel.
type Engine struct {
	cfg    EngineConfig
	locks  *sessionLocks
	clock  func() time.Time
	newID  func(prefix string) string
	logger *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.CollaboratorTimeout == 0 {
		cfg.CollaboratorTimeout = 5 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		locks:  newSessionLocks(),
		clock:  time.Now,
		newID:  newID,
		logger: slog.Default().With("component", "checkout"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithIDGenerator overrides id generation for deterministic testing.
func (e *Engine) WithIDGenerator(gen func(prefix string) string) *Engine {
	e.newID = gen
	return e
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Create validates the requested line items against the catalog,
// negotiates capabilities for the calling platform, and opens a new
// session with a derived status.
func (e *Engine) Create(ctx context.Context, platform *profile.Profile, req CreateRequest) (*Session, error) {
	negotiated, err := e.cfg.Negotiator.For(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("negotiate: %w", err)
	}

	now := e.clock().UTC()
	expires := now.Add(e.cfg.SessionTTL)
	s := &Session{
		ID:         e.newID("cs"),
		LineItems:  []LineItem{},
		Buyer:      req.Buyer,
		Links:      e.cfg.Links,
		ExpiresAt:  &expires,
		CreatedAt:  now,
		UpdatedAt:  now,
		Negotiated: negotiated,
	}

	items, err := e.buildLineItems(ctx, req.LineItems)
	if err != nil {
		return nil, err
	}
	s.LineItems = items

	if req.Fulfillment != nil && !negotiated.Has(profile.CapFulfillment) {
		return nil, fmt.Errorf("%w: %s", ErrFulfillmentNotNegotiated, profile.CapFulfillment)
	}
	if negotiated.Has(profile.CapFulfillment) {
		f, err := e.buildFulfillment(ctx, req.Fulfillment)
		if err != nil {
			return nil, err
		}
		s.Fulfillment = f
	}

	if err := e.applyDiscounts(ctx, s, req.DiscountCodes); err != nil {
		return nil, err
	}

	if err := e.refresh(ctx, s); err != nil {
		return nil, err
	}
	if err := e.cfg.Store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	e.publish("create_checkout", nil, s)
	e.logger.Info("checkout session created", "session_id", s.ID, "status", s.Status, "line_items", len(s.LineItems))
	return s, nil
}

// Get returns the committed session snapshot. Read-only: it never
// touches updated_at and may run concurrently with mutations.
func (e *Engine) Get(ctx context.Context, id string) (*Session, error) {
	return e.cfg.Store.Get(ctx, id)
}

// Update applies a patch with full-replace-per-field semantics, then
// recomputes discounts, totals, messages, and status. The patch either
// commits as a whole or fails with no visible change.
func (e *Engine) Update(ctx context.Context, id string, patch UpdateRequest) (*Session, error) {
	release := e.locks.acquire(id)
	defer release()

	stored, err := e.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutationGuard(stored.Status); err != nil {
		return nil, err
	}

	work := stored.Clone()

	if patch.LineItems != nil {
		items, err := e.buildLineItems(ctx, *patch.LineItems)
		if err != nil {
			return nil, err
		}
		work.LineItems = items
	}
	if patch.Buyer != nil {
		work.Buyer = patch.Buyer
	}
	if patch.Fulfillment != nil {
		if !work.Negotiated.Has(profile.CapFulfillment) {
			return nil, fmt.Errorf("%w: %s", ErrFulfillmentNotNegotiated, profile.CapFulfillment)
		}
		if work.Fulfillment == nil {
			f, err := e.buildFulfillment(ctx, patch.Fulfillment)
			if err != nil {
				return nil, err
			}
			work.Fulfillment = f
		} else {
			work.Fulfillment.Address = patch.Fulfillment.Address
			work.Fulfillment.SelectedOptionID = patch.Fulfillment.SelectedOptionID
			if id := work.Fulfillment.SelectedOptionID; id != "" && work.Fulfillment.SelectedOption() == nil {
				return nil, fmt.Errorf("%w: %q", ErrUnknownFulfillmentOption, id)
			}
		}
	}

	// Discounts re-resolve on every update so percentage amounts track
	// the new subtotal and stay clamped to it.
	codes := work.DiscountCodes()
	if patch.DiscountCodes != nil {
		codes = *patch.DiscountCodes
	}
	work.Discounts = nil
	if err := e.applyDiscounts(ctx, work, codes); err != nil {
		return nil, err
	}

	work.UpdatedAt = e.clock().UTC()
	if err := e.refresh(ctx, work); err != nil {
		return nil, err
	}
	if err := e.cfg.Store.Put(ctx, work); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	e.publish("update_checkout", stored, work)
	return work, nil
}

// Cancel moves a session to canceled. Idempotent: canceling an
// already-canceled session returns the same snapshot with no error and
// no updated_at change.
func (e *Engine) Cancel(ctx context.Context, id string) (*Session, error) {
	release := e.locks.acquire(id)
	defer release()

	stored, err := e.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch stored.Status {
	case StatusCanceled:
		return stored, nil
	case StatusCompleted:
		return nil, fmt.Errorf("%w: cannot cancel a completed session", ErrSessionTerminal)
	case StatusCompleteInProgress:
		return nil, fmt.Errorf("%w: completion in progress", ErrSessionBusy)
	}

	work := stored.Clone()
	work.Status = StatusCanceled
	work.Messages = nil
	work.ContinueURL = ""
	work.UpdatedAt = e.clock().UTC()
	if err := e.cfg.Store.Put(ctx, work); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	e.publish("cancel_checkout", stored, work)
	e.logger.Info("checkout session canceled", "session_id", id)
	return work, nil
}

// Complete exchanges the payment instrument's opaque credential for a
// placed order. The credential payload is handed to the settlement
// handler matching the instrument's handler id and is never inspected,
// stored, or logged here.
//
// The session transitions to complete_in_progress before settlement and
// the per-session lock is released for the settlement call, so
// concurrent operations fail fast with SessionBusy instead of queueing
// behind the provider. Settlement failure (including timeout) reverts
// to ready_for_complete with a recoverable message; there is no pending
// outcome.
func (e *Engine) Complete(ctx context.Context, id string, req CompleteRequest) (*Session, error) {
	instrument := req.Payment.SelectedInstrument()

	release := e.locks.acquire(id)
	stored, err := e.cfg.Store.Get(ctx, id)
	if err != nil {
		release()
		return nil, err
	}

	if err := func() error {
		switch stored.Status {
		case StatusCompleted:
			return ErrAlreadyCompleted
		case StatusCanceled:
			return fmt.Errorf("%w: session is canceled", ErrSessionTerminal)
		case StatusCompleteInProgress:
			return fmt.Errorf("%w: completion in progress", ErrSessionBusy)
		case StatusReadyForComplete:
		default:
			return fmt.Errorf("%w: status is %s", ErrInvalidStateForCompletion, stored.Status)
		}
		if instrument == nil {
			return ErrPaymentRequired
		}
		if !stored.Negotiated.HasHandler(instrument.HandlerID) {
			return fmt.Errorf("%w: %s", ErrUnknownPaymentHandler, instrument.HandlerID)
		}
		if _, ok := e.cfg.Settlements[instrument.HandlerID]; !ok {
			return fmt.Errorf("%w: no settlement route for %s", ErrUnknownPaymentHandler, instrument.HandlerID)
		}
		return nil
	}(); err != nil {
		release()
		return nil, err
	}

	guard := stored.Clone()
	guard.Status = StatusCompleteInProgress
	guard.UpdatedAt = e.clock().UTC()
	if err := e.cfg.Store.Put(ctx, guard); err != nil {
		release()
		return nil, fmt.Errorf("store session: %w", err)
	}
	release()

	var amount int64
	if guard.Totals != nil {
		amount = guard.Totals.Total
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.CollaboratorTimeout)
	result, settleErr := e.cfg.Settlements[instrument.HandlerID].Settle(sctx, payment.SettlementRequest{
		SessionID:   id,
		AmountMinor: amount,
		Currency:    e.cfg.Currency,
		Credential:  instrument.Credential,
	})
	cancel()

	release = e.locks.acquire(id)
	defer release()
	current, err := e.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	final := current.Clone()
	now := e.clock().UTC()

	if settleErr != nil {
		e.logger.Warn("settlement failed",
			"session_id", id, "handler_id", instrument.HandlerID, "error", settleErr)
		final.Status = StatusReadyForComplete
		final.Messages = append(
			BuildMessages(final.LineItems, final.Buyer, final.Fulfillment, final.Negotiated.Has(profile.CapFulfillment)),
			Message{
				Type:     MessageError,
				Code:     "payment_failed",
				Content:  "Payment could not be completed: " + settleErr.Error(),
				Severity: SeverityRecoverable,
			})
		final.UpdatedAt = now
		if err := e.cfg.Store.Put(ctx, final); err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
		e.publish("complete_checkout", stored, final)
		return final, nil
	}

	orderID := e.newID("ord")
	order := &Order{
		ID:           orderID,
		PermalinkURL: e.cfg.ContinueBase + "/orders/" + orderID,
		CreatedAt:    now,
	}
	if e.cfg.Signer != nil {
		token, err := e.cfg.Signer.SignOrder(ctx, id, orderID, amount, e.cfg.Currency)
		if err != nil {
			e.logger.Warn("order confirmation signing failed", "session_id", id, "error", err)
		} else {
			order.ConfirmationToken = token
		}
	}

	final.Order = order
	final.Status = StatusCompleted
	final.Messages = nil
	final.ContinueURL = ""
	final.UpdatedAt = now
	if err := e.cfg.Store.Put(ctx, final); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	e.publish("complete_checkout", stored, final)
	e.logger.Info("checkout session completed",
		"session_id", id, "order_id", orderID, "settlement_ref", result.Reference, "total", amount)
	return final, nil
}

func mutationGuard(status Status) error {
	switch status {
	case StatusCompleted, StatusCanceled:
		return fmt.Errorf("%w: status is %s", ErrSessionTerminal, status)
	case StatusCompleteInProgress:
		return fmt.Errorf("%w: completion in progress", ErrSessionBusy)
	}
	return nil
}

func (e *Engine) collabCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CollaboratorTimeout)
}

func (e *Engine) buildLineItems(ctx context.Context, inputs []LineItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity < 0 {
			return nil, fmt.Errorf("%w: negative quantity %d for %s", ErrInvalidLineItem, in.Quantity, in.ProductID)
		}
		if in.Quantity == 0 {
			// Zero quantity means "remove": the item simply does not
			// appear in the replacement cart.
			continue
		}

		lctx, cancel := e.collabCtx(ctx)
		product, err := e.cfg.Catalog.Lookup(lctx, in.ProductID)
		cancel()
		if err != nil {
			if errors.Is(err, ErrUnknownProduct) {
				return nil, fmt.Errorf("%w: product not found: %s", ErrInvalidLineItem, in.ProductID)
			}
			return nil, fmt.Errorf("catalog lookup %s: %w", in.ProductID, err)
		}

		items = append(items, LineItem{
			ID:                   e.newID("li"),
			ProductID:            product.ID,
			Title:                product.Title,
			Description:          product.Description,
			ImageURL:             product.ImageURL,
			Quantity:             in.Quantity,
			UnitPrice:            product.Price,
			TotalPrice:           product.Price * int64(in.Quantity),
			Currency:             product.Currency,
			RequiresBuyerContact: product.RequiresBuyerContact,
		})
	}
	return items, nil
}

func (e *Engine) buildFulfillment(ctx context.Context, sel *FulfillmentSelection) (*Fulfillment, error) {
	octx, cancel := e.collabCtx(ctx)
	options, err := e.cfg.Fulfillment.Options(octx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fulfillment options: %w", err)
	}

	f := &Fulfillment{Type: "shipping", AvailableOptions: options}
	if sel != nil {
		f.Address = sel.Address
		f.SelectedOptionID = sel.SelectedOptionID
	}
	if f.SelectedOptionID != "" && f.SelectedOption() == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFulfillmentOption, f.SelectedOptionID)
	}
	return f, nil
}

func (e *Engine) applyDiscounts(ctx context.Context, s *Session, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	if !s.Negotiated.Has(profile.CapDiscount) {
		return fmt.Errorf("%w: %s", ErrCapabilityNotNegotiated, profile.CapDiscount)
	}

	subtotal := Subtotal(s.LineItems)
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		canonical := strings.ToUpper(strings.TrimSpace(code))
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true

		dctx, cancel := e.collabCtx(ctx)
		d, err := e.cfg.Discounts.Resolve(dctx, canonical, subtotal)
		cancel()
		if err != nil {
			if errors.Is(err, ErrUnknownDiscountCode) {
				return fmt.Errorf("%w: %s", ErrUnknownDiscountCode, canonical)
			}
			return fmt.Errorf("resolve discount %s: %w", canonical, err)
		}
		s.Discounts = append(s.Discounts, d)
	}
	return nil
}

// refresh rebuilds everything derived: messages, totals, status,
// continue URL, and the response metadata block.
func (e *Engine) refresh(ctx context.Context, s *Session) error {
	fulfillmentNegotiated := s.Negotiated.Has(profile.CapFulfillment)
	msgs := BuildMessages(s.LineItems, s.Buyer, s.Fulfillment, fulfillmentNegotiated)

	var tax int64
	if e.cfg.Tax != nil {
		addr := taxAddress(s)
		tctx, cancel := e.collabCtx(ctx)
		computed, err := e.cfg.Tax.Tax(tctx, TaxableAmount(s.LineItems, s.Discounts), addr)
		cancel()
		if err != nil {
			e.logger.Warn("tax rules unavailable", "session_id", s.ID, "error", err)
			msgs = append(msgs, Message{
				Type:     MessageError,
				Code:     "tax_unavailable",
				Content:  "Tax could not be calculated. Totals exclude tax.",
				Severity: SeverityRecoverable,
			})
		} else {
			tax = computed
		}
	}

	totals := CalculateTotals(s.LineItems, s.Discounts, s.Fulfillment, tax, e.cfg.Currency)
	s.Totals = &totals
	s.Messages = msgs
	s.Status = DeriveStatus(s.LineItems, s.Buyer, s.Fulfillment, msgs, fulfillmentNegotiated)

	s.ContinueURL = ""
	for _, m := range msgs {
		if m.Escalates() {
			s.ContinueURL = e.cfg.ContinueBase + "/checkout/" + s.ID
			break
		}
	}

	s.UCP = s.Negotiated.ResponseMetadata()
	return nil
}

func taxAddress(s *Session) *PostalAddress {
	if s.Fulfillment != nil && s.Fulfillment.Address != nil {
		return s.Fulfillment.Address
	}
	if s.Buyer != nil {
		return s.Buyer.BillingAddress
	}
	return nil
}

// publish hands the before/after pair to the event sink. Fire and
// forget: a panicking sink is contained here.
func (e *Engine) publish(op string, before, after *Session) {
	if e.cfg.Events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event sink panic", "op", op, "panic", r)
		}
	}()
	e.cfg.Events.Publish(Event{
		Op:        op,
		SessionID: after.ID,
		Before:    before,
		After:     after.Clone(),
		At:        e.clock().UTC(),
	})
}
