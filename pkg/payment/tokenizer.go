package payment

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Token is a credential minted by a tokenizer, exchangeable for
// settlement until it expires.
type Token struct {
	Token     string         `json:"token"`
	Type      CredentialType `json:"type"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// MockTokenizer simulates a credential provider's tokenization service.
// A real deployment would never host this next to the business; it
// exists so the demo flow is self-contained.
type MockTokenizer struct {
	TTL   time.Duration
	Clock func() time.Time
}

// NewMockTokenizer creates a tokenizer minting 15-minute tokens.
func NewMockTokenizer() *MockTokenizer {
	return &MockTokenizer{TTL: 15 * time.Minute, Clock: time.Now}
}

// Tokenize mints an opaque TOKEN credential.
func (t *MockTokenizer) Tokenize() Token {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return Token{
		Token:     "tok_" + hex.EncodeToString(buf),
		Type:      CredentialToken,
		ExpiresAt: t.Clock().UTC().Add(t.TTL),
	}
}
