package payment_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cymbal-labs/ucp-engine/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTokenizer_MintsTokenCredentials(t *testing.T) {
	now := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	tok := (&payment.MockTokenizer{TTL: 15 * time.Minute, Clock: func() time.Time { return now }}).Tokenize()

	assert.True(t, strings.HasPrefix(tok.Token, "tok_"))
	assert.Equal(t, payment.CredentialToken, tok.Type)
	assert.Equal(t, now.Add(15*time.Minute), tok.ExpiresAt)
}

func TestMockSettlement_AcceptsMintedTokens(t *testing.T) {
	tok := payment.NewMockTokenizer().Tokenize()
	s := &payment.MockSettlement{}

	result, err := s.Settle(context.Background(), payment.SettlementRequest{
		SessionID:   "cs_test",
		AmountMinor: 499,
		Currency:    "USD",
		Credential:  payment.Credential{Type: tok.Type, Token: tok.Token},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Reference, "stl_"))
}

func TestMockSettlement_DeclinesForeignCredentials(t *testing.T) {
	s := &payment.MockSettlement{}

	_, err := s.Settle(context.Background(), payment.SettlementRequest{
		Credential: payment.Credential{Type: payment.CredentialDirect, Token: "4111111111111111"},
	})
	assert.ErrorIs(t, err, payment.ErrDeclined)

	_, err = s.Settle(context.Background(), payment.SettlementRequest{
		Credential: payment.Credential{Type: payment.CredentialToken, Token: "bogus"},
	})
	assert.ErrorIs(t, err, payment.ErrDeclined)
}

func TestMockSettlement_HonorsContextDeadline(t *testing.T) {
	s := &payment.MockSettlement{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := s.Settle(ctx, payment.SettlementRequest{
		Credential: payment.Credential{Type: payment.CredentialToken, Token: "tok_abc"},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockSettlement_ForcedFailure(t *testing.T) {
	boom := errors.New("provider unavailable")
	s := &payment.MockSettlement{Fail: boom}

	_, err := s.Settle(context.Background(), payment.SettlementRequest{
		Credential: payment.Credential{Type: payment.CredentialToken, Token: "tok_abc"},
	})
	assert.ErrorIs(t, err, boom)
}

func TestCredential_LogValueRedactsToken(t *testing.T) {
	c := payment.Credential{Type: payment.CredentialToken, Token: "tok_supersecret"}
	v := c.LogValue()

	assert.Equal(t, slog.KindString, v.Kind())
	assert.NotContains(t, v.String(), "tok_supersecret")
	assert.Contains(t, v.String(), "TOKEN")
}

func TestPayment_SelectedInstrument(t *testing.T) {
	p := payment.Payment{Instruments: []payment.Instrument{
		{ID: "pi_1", HandlerID: "h1"},
		{ID: "pi_2", HandlerID: "h2", Selected: true},
	}}
	require.NotNil(t, p.SelectedInstrument())
	assert.Equal(t, "pi_2", p.SelectedInstrument().ID)

	// No explicit selection falls back to the first instrument.
	p.Instruments[1].Selected = false
	assert.Equal(t, "pi_1", p.SelectedInstrument().ID)

	assert.Nil(t, payment.Payment{}.SelectedInstrument())
}
