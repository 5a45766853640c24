package profile

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages the business's ES256 signing key. The public half is
// published in the discovery profile as a JWK; the private half signs
// order confirmations at completion.
type KeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]*ecdsa.PrivateKey
}

// NewKeySet generates a key set with one active P-256 key.
func NewKeySet() (*KeySet, error) {
	ks := &KeySet{keys: make(map[string]*ecdsa.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a fresh active key. Old keys stay resolvable so
// tokens signed before rotation still verify.
func (ks *KeySet) Rotate() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	kid := fmt.Sprintf("key-%d", time.Now().UnixNano())
	ks.keys[kid] = key
	ks.currentKID = kid
	return nil
}

// Sign creates a signed ES256 token with the current active key.
func (ks *KeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	_ = ctx
	ks.mu.RLock()
	kid := ks.currentKID
	key := ks.keys[kid]
	ks.mu.RUnlock()
	if key == nil {
		return "", fmt.Errorf("no active signing key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// KeyFunc resolves verification keys by the token's kid header.
func (ks *KeySet) KeyFunc() jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		ks.mu.RLock()
		key := ks.keys[kid]
		ks.mu.RUnlock()
		if key == nil {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return &key.PublicKey, nil
	}
}

// PublicJWKs returns the public keys in discovery-profile JWK form.
func (ks *KeySet) PublicJWKs() []SigningKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	jwks := make([]SigningKey, 0, len(ks.keys))
	for kid, key := range ks.keys {
		pub := key.PublicKey
		jwks = append(jwks, SigningKey{
			KID: kid,
			Kty: "EC",
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
			Y:   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
			Use: "sig",
			Alg: "ES256",
		})
	}
	return jwks
}
