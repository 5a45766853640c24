package profile

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OrderClaims is the confirmation-token payload issued at completion.
// Platforms verify it against the JWKs in the discovery profile.
type OrderClaims struct {
	SessionID   string `json:"session_id"`
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	jwt.RegisteredClaims
}

// OrderTokenSigner issues signed order-confirmation tokens.
type OrderTokenSigner struct {
	Keys   *KeySet
	Issuer string
	// TTL bounds token validity (default 30 days).
	TTL   time.Duration
	clock func() time.Time
}

// NewOrderTokenSigner creates a signer issuing tokens for issuer.
func NewOrderTokenSigner(keys *KeySet, issuer string) *OrderTokenSigner {
	return &OrderTokenSigner{
		Keys:   keys,
		Issuer: issuer,
		TTL:    30 * 24 * time.Hour,
		clock:  time.Now,
	}
}

// SignOrder creates the confirmation token for a placed order.
func (s *OrderTokenSigner) SignOrder(ctx context.Context, sessionID, orderID string, amountMinor int64, currency string) (string, error) {
	now := s.clock().UTC()
	return s.Keys.Sign(ctx, OrderClaims{
		SessionID:   sessionID,
		OrderID:     orderID,
		AmountMinor: amountMinor,
		Currency:    currency,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   orderID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
		},
	})
}

// VerifyOrder parses and validates a confirmation token.
func (s *OrderTokenSigner) VerifyOrder(token string) (*OrderClaims, error) {
	claims := &OrderClaims{}
	_, err := jwt.ParseWithClaims(token, claims, s.Keys.KeyFunc(),
		jwt.WithValidMethods([]string{"ES256"}),
		jwt.WithIssuer(s.Issuer),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
