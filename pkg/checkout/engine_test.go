package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cymbal-labs/ucp-engine/pkg/negotiate"
	"github.com/cymbal-labs/ucp-engine/pkg/payment"
	"github.com/cymbal-labs/ucp-engine/pkg/profile"
)

type fakeCatalog map[string]Product

func (f fakeCatalog) Lookup(_ context.Context, id string) (Product, error) {
	p, ok := f[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return p, nil
}

type fakeDiscounts map[string]int64

func (f fakeDiscounts) Resolve(_ context.Context, code string, _ int64) (Discount, error) {
	amount, ok := f[code]
	if !ok {
		return Discount{}, ErrUnknownDiscountCode
	}
	return Discount{Code: code, Title: code, Amount: amount, Currency: "USD"}, nil
}

type fakeFulfillment struct {
	options []FulfillmentOption
	err     error
}

func (f fakeFulfillment) Options(context.Context) ([]FulfillmentOption, error) {
	return f.options, f.err
}

type fakeTax struct{ err error }

func (f fakeTax) Tax(_ context.Context, taxable int64, _ *PostalAddress) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return taxable * 8 / 100, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]string, len(c.events))
	for i, ev := range c.events {
		ops[i] = ev.Op
	}
	return ops
}

// blockingSettlement parks inside Settle until released, counting calls.
type blockingSettlement struct {
	entered  chan struct{}
	release  chan struct{}
	mu       sync.Mutex
	settled  int
	failWith error
}

func (s *blockingSettlement) Settle(ctx context.Context, _ payment.SettlementRequest) (payment.SettlementResult, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	s.settled++
	s.mu.Unlock()
	if s.failWith != nil {
		return payment.SettlementResult{}, s.failWith
	}
	return payment.SettlementResult{Reference: "stl_test"}, nil
}

const handlerID = "mock_tokenizer_001"

var testClock = func() time.Time {
	return time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
}

type engineOverrides struct {
	settlement payment.Settlement
	tax        TaxRules
	events     EventSink
	signer     OrderSigner
}

func newTestEngine(t *testing.T, ov engineOverrides) (*Engine, *MemoryStore) {
	t.Helper()
	business := profile.DefaultBusinessProfile("https://coffee.example.com")
	negotiator := negotiate.New(business, negotiate.NewMemoryCache())

	var settlement payment.Settlement = &payment.MockSettlement{}
	if ov.settlement != nil {
		settlement = ov.settlement
	}
	var tax TaxRules = fakeTax{}
	if ov.tax != nil {
		tax = ov.tax
	}

	store := NewMemoryStore()
	eng := NewEngine(EngineConfig{
		Store:      store,
		Negotiator: negotiator,
		Catalog: fakeCatalog{
			"latte": {ID: "latte", Title: "Latte", Price: 499, Currency: "USD"},
			"beans": {ID: "beans", Title: "House Beans", Price: 1850, Currency: "USD"},
			"card":  {ID: "card", Title: "Gift Card", Price: 2500, Currency: "USD", RequiresBuyerContact: true},
		},
		Discounts: fakeDiscounts{"DEMO20": 100, "SAVE5": 500, "SAVE6": 600, "FREESHIP": 0},
		Fulfillment: fakeFulfillment{options: []FulfillmentOption{
			{ID: "pickup", Type: "pickup", Title: "Pickup", Price: 0, Currency: "USD"},
			{ID: "standard", Type: "shipping", Title: "Standard", Price: 499, Currency: "USD"},
			{ID: "express", Type: "shipping", Title: "Express", Price: 899, Currency: "USD"},
		}},
		Tax:          tax,
		Settlements:  map[string]payment.Settlement{handlerID: settlement},
		Events:       ov.events,
		Signer:       ov.signer,
		ContinueBase: "https://coffee.example.com",
		Currency:     "USD",
	}).WithClock(testClock)
	return eng, store
}

func tokenPayment() payment.Payment {
	return payment.Payment{Instruments: []payment.Instrument{{
		ID:        "pi_1",
		HandlerID: handlerID,
		Selected:  true,
		Credential: payment.Credential{
			Type:  payment.CredentialToken,
			Token: "tok_deadbeef",
		},
	}}}
}

func checkoutOnlyPlatform() *profile.Profile {
	return &profile.Profile{UCP: profile.Metadata{
		Version: profile.Version,
		Capabilities: map[string][]profile.Capability{
			profile.CapCheckout: {{Version: profile.Version}},
		},
		PaymentHandlers: map[string][]profile.PaymentHandler{
			"dev.ucp.demo.mock_tokenizer": {{ID: handlerID, Version: profile.Version}},
		},
	}}
}

func TestCreateDerivesStatusAndTotals(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})

	s, err := eng.Create(context.Background(), nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s.ID, "cs_"))
	assert.Equal(t, StatusIncomplete, s.Status)
	assert.Contains(t, messageCodes(s.Messages), "fulfillment_required")
	require.NotNil(t, s.Totals)
	assert.Equal(t, int64(499), s.Totals.Subtotal)
	assert.Equal(t, profile.Version, s.UCP.Version)
	require.NotNil(t, s.Fulfillment)
	assert.Len(t, s.Fulfillment.AvailableOptions, 3)
	require.NotNil(t, s.ExpiresAt)
	assert.Equal(t, testClock().Add(24*time.Hour), *s.ExpiresAt)
}

func TestCreateRejectsBadLineItems(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	_, err := eng.Create(ctx, nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: -1}},
	})
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	_, err = eng.Create(ctx, nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "nope", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrInvalidLineItem)
}

func TestPickupFlowEndToEnd(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusIncomplete, s.Status)

	s, err = eng.Update(ctx, s.ID, UpdateRequest{
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "pickup"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForComplete, s.Status)
	assert.Empty(t, s.Messages)
	// 8% of 499 in integer minor units.
	assert.Equal(t, int64(39), s.Totals.Tax)
	assert.Equal(t, int64(0), s.Totals.Shipping)
	assert.Equal(t, int64(538), s.Totals.Total)

	s, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.Order)
	assert.True(t, strings.HasPrefix(s.Order.ID, "ord_"))
	assert.Contains(t, s.Order.PermalinkURL, "/orders/"+s.Order.ID)
	assert.Empty(t, s.Messages)
}

func TestShippingRequiresAddress(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems:   []LineItemInput{{ProductID: "beans", Quantity: 1}},
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "standard"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, s.Status)
	assert.Contains(t, messageCodes(s.Messages), "address_required")
	assert.Equal(t, int64(499), s.Totals.Shipping)

	s, err = eng.Update(ctx, s.ID, UpdateRequest{
		Fulfillment: &FulfillmentSelection{
			SelectedOptionID: "standard",
			Address:          &PostalAddress{StreetAddress: "1 Main St", AddressCountry: "US"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForComplete, s.Status)
}

func TestUnknownFulfillmentOptionRejected(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	_, err := eng.Create(ctx, nil, CreateRequest{
		LineItems:   []LineItemInput{{ProductID: "latte", Quantity: 1}},
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "drone"},
	})
	assert.ErrorIs(t, err, ErrUnknownFulfillmentOption)

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = eng.Update(ctx, s.ID, UpdateRequest{
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "drone"},
	})
	assert.ErrorIs(t, err, ErrUnknownFulfillmentOption)
}

func TestUpdatePatchSemantics(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems:     []LineItemInput{{ProductID: "latte", Quantity: 2}},
		DiscountCodes: []string{"DEMO20"},
	})
	require.NoError(t, err)
	require.Len(t, s.Discounts, 1)

	// An absent field leaves state untouched.
	s, err = eng.Update(ctx, s.ID, UpdateRequest{
		Buyer: &Buyer{Email: "buyer@example.com"},
	})
	require.NoError(t, err)
	require.Len(t, s.LineItems, 1) // still the single latte line
	assert.Equal(t, 2, s.LineItems[0].Quantity)
	assert.Len(t, s.Discounts, 1)
	assert.Equal(t, "buyer@example.com", s.Buyer.Email)

	// A present line-item list fully replaces the cart; zero quantity
	// removes.
	s, err = eng.Update(ctx, s.ID, UpdateRequest{
		LineItems: &[]LineItemInput{
			{ProductID: "latte", Quantity: 0},
			{ProductID: "beans", Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, s.LineItems, 1)
	assert.Equal(t, "beans", s.LineItems[0].ProductID)

	// An empty present discount list clears discounts.
	s, err = eng.Update(ctx, s.ID, UpdateRequest{DiscountCodes: &[]string{}})
	require.NoError(t, err)
	assert.Empty(t, s.Discounts)
}

func TestDiscountClampAcrossUpdate(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	// 600 off a 499 cart applies only 499 and floors the total at zero.
	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems:     []LineItemInput{{ProductID: "latte", Quantity: 1}},
		DiscountCodes: []string{"SAVE6"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(499), s.Totals.Discount)
	assert.Equal(t, int64(0), s.Totals.Total)

	// Growing the cart re-resolves the same code against the new
	// subtotal: the full 600 now fits.
	s, err = eng.Update(ctx, s.ID, UpdateRequest{
		LineItems: &[]LineItemInput{{ProductID: "latte", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), s.Totals.Discount)
}

func TestUnknownDiscountCode(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})

	_, err := eng.Create(context.Background(), nil, CreateRequest{
		LineItems:     []LineItemInput{{ProductID: "latte", Quantity: 1}},
		DiscountCodes: []string{"NOPE"},
	})
	assert.ErrorIs(t, err, ErrUnknownDiscountCode)
}

func TestCapabilityGates(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()
	platform := checkoutOnlyPlatform()

	// The platform negotiated neither discounts nor fulfillment.
	_, err := eng.Create(ctx, platform, CreateRequest{
		LineItems:     []LineItemInput{{ProductID: "latte", Quantity: 1}},
		DiscountCodes: []string{"DEMO20"},
	})
	assert.ErrorIs(t, err, ErrCapabilityNotNegotiated)

	_, err = eng.Create(ctx, platform, CreateRequest{
		LineItems:   []LineItemInput{{ProductID: "latte", Quantity: 1}},
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "pickup"},
	})
	assert.ErrorIs(t, err, ErrFulfillmentNotNegotiated)

	// Checkout-only sessions skip the fulfillment block entirely and go
	// straight to ready.
	s, err := eng.Create(ctx, platform, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Nil(t, s.Fulfillment)
	assert.Equal(t, StatusReadyForComplete, s.Status)
}

func TestBuyerContactGate(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	s, err := eng.Create(ctx, checkoutOnlyPlatform(), CreateRequest{
		LineItems: []LineItemInput{{ProductID: "card", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, s.Status)
	assert.Contains(t, messageCodes(s.Messages), "buyer_contact_required")

	s, err = eng.Update(ctx, s.ID, UpdateRequest{Buyer: &Buyer{Email: "buyer@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForComplete, s.Status)
}

func TestCancelIsIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)

	first, err := eng.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, first.Status)

	second, err := eng.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	_, err = eng.Update(ctx, s.ID, UpdateRequest{Buyer: &Buyer{Email: "x@example.com"}})
	assert.ErrorIs(t, err, ErrSessionTerminal)

	_, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestCompleteGuards(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)

	// Still incomplete: no fulfillment selection.
	_, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	assert.ErrorIs(t, err, ErrInvalidStateForCompletion)

	s, err = eng.Update(ctx, s.ID, UpdateRequest{
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "pickup"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReadyForComplete, s.Status)

	_, err = eng.Complete(ctx, s.ID, CompleteRequest{})
	assert.ErrorIs(t, err, ErrPaymentRequired)

	badHandler := tokenPayment()
	badHandler.Instruments[0].HandlerID = "unknown_handler"
	_, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: badHandler})
	assert.ErrorIs(t, err, ErrUnknownPaymentHandler)

	_, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	require.NoError(t, err)

	_, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestSettlementFailureIsRecoverable(t *testing.T) {
	settlement := &blockingSettlement{failWith: payment.ErrDeclined}
	eng, _ := newTestEngine(t, engineOverrides{settlement: settlement})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems:   []LineItemInput{{ProductID: "latte", Quantity: 1}},
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "pickup"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReadyForComplete, s.Status)

	// A declined settlement is not an operation error: the session comes
	// back ready with a recoverable message and no order.
	s, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForComplete, s.Status)
	assert.Nil(t, s.Order)
	assert.Contains(t, messageCodes(s.Messages), "payment_failed")

	// Retrying after the provider recovers places the order.
	settlement.failWith = nil
	s, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.Order)
}

func TestAtMostOneCompletion(t *testing.T) {
	settlement := &blockingSettlement{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	eng, _ := newTestEngine(t, engineOverrides{settlement: settlement})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems:   []LineItemInput{{ProductID: "latte", Quantity: 1}},
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "pickup"},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
		done <- err
	}()
	<-settlement.entered

	// While the first completion is in flight, everything else bounces
	// immediately with SessionBusy; nothing queues behind the provider.
	_, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	assert.ErrorIs(t, err, ErrSessionBusy)

	_, err = eng.Update(ctx, s.ID, UpdateRequest{Buyer: &Buyer{Email: "x@example.com"}})
	assert.ErrorIs(t, err, ErrSessionBusy)

	_, err = eng.Cancel(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionBusy)

	// Reads stay lock-free and observe the in-progress state.
	snap, err := eng.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleteInProgress, snap.Status)

	close(settlement.release)
	require.NoError(t, <-done)

	final, err := eng.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, settlement.settled)
}

func TestEventsPublished(t *testing.T) {
	sink := &captureSink{}
	eng, _ := newTestEngine(t, engineOverrides{events: sink})
	ctx := context.Background()

	s, err := eng.Create(ctx, nil, CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = eng.Update(ctx, s.ID, UpdateRequest{
		Fulfillment: &FulfillmentSelection{SelectedOptionID: "pickup"},
	})
	require.NoError(t, err)
	_, err = eng.Complete(ctx, s.ID, CompleteRequest{Payment: tokenPayment()})
	require.NoError(t, err)

	assert.Equal(t, []string{"create_checkout", "update_checkout", "complete_checkout"}, sink.ops())
	assert.Nil(t, sink.events[0].Before)
	require.NotNil(t, sink.events[1].Before)
	assert.Equal(t, StatusIncomplete, sink.events[1].Before.Status)
}

func TestTaxFailureDegradesToMessage(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{tax: fakeTax{err: errors.New("rules service down")}})

	s, err := eng.Create(context.Background(), checkoutOnlyPlatform(), CreateRequest{
		LineItems: []LineItemInput{{ProductID: "latte", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Contains(t, messageCodes(s.Messages), "tax_unavailable")
	assert.Equal(t, int64(0), s.Totals.Tax)
	// tax_unavailable is recoverable, so the session is not ready.
	assert.Equal(t, StatusIncomplete, s.Status)
}

func TestGetUnknownSession(t *testing.T) {
	eng, _ := newTestEngine(t, engineOverrides{})
	_, err := eng.Get(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
