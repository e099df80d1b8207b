// Package secrets generates and digests the opaque secrets used by the
// engine: refresh tokens, email verification tokens and password reset
// tokens. Secrets are random bytes encoded with unpadded base64url so
// they survive query strings and JSON untouched.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32

// NewToken returns a fresh opaque secret. The caller stores only the
// digest; the plaintext goes to the client exactly once.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secrets: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewBase32Secret returns n random bytes encoded with standard base32
// without padding, the alphabet authenticator apps expect.
func NewBase32Secret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secrets: read random: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// Hash digests a secret for storage and lookup.
func Hash(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// Equal compares two digests in constant time.
func Equal(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
