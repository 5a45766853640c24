package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// mirrorHash is the canonical hash value used for a nil platform
// profile (one that mirrors the business's declarations).
const mirrorHash = "mirror"

// CanonicalHash returns the hex SHA-256 of the RFC 8785 canonical JSON
// form of the profile. Two profiles that differ only in key order or
// whitespace hash identically, so the hash is a stable cache key for
// negotiation results.
func CanonicalHash(p *Profile) (string, error) {
	if p == nil {
		return mirrorHash, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode profile for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize profile: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
