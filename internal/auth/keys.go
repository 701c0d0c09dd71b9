// Package auth handles the API bearer token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Verifier checks presented tokens against a configured one without keeping
// the plain token around.
type Verifier struct {
	digest string
}

func NewVerifier(token string) *Verifier {
	return &Verifier{digest: HashKey(token)}
}

// Verify compares digests in constant time. Blank tokens never match.
func (v *Verifier) Verify(token string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashKey(token)), []byte(v.digest)) == 1
}
