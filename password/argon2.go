// Package password hashes and verifies account passwords with
// Argon2id. Hashes are stored in PHC string format so the cost
// parameters travel with the hash and can be raised later without a
// migration.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrMismatch reports a password that does not match the stored hash.
	ErrMismatch = errors.New("password: mismatch")
	// ErrInvalidHash reports a stored hash that could not be parsed.
	ErrInvalidHash = errors.New("password: invalid hash")
)

// Params are the Argon2id cost settings.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams is sized for interactive sign-in latency.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and checks password hashes with fixed parameters.
// It is safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher rejects parameter sets weak enough to be a configuration
// mistake rather than a tuning choice.
func NewHasher(p Params) (*Hasher, error) {
	if p.Memory < 8*1024 {
		return nil, errors.New("password: memory must be >= 8192 KiB")
	}
	if p.Time < 1 || p.Parallelism < 1 {
		return nil, errors.New("password: time and parallelism must be >= 1")
	}
	if p.SaltLength < 8 {
		return nil, errors.New("password: salt length must be >= 8")
	}
	if p.KeyLength < 16 {
		return nil, errors.New("password: key length must be >= 16")
	}
	return &Hasher{params: p}, nil
}

// Hash derives a key under a fresh random salt. The password's raw
// bytes are used as provided, with no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key under the parameters embedded in encoded
// and compares in constant time. A wrong password yields ErrMismatch;
// a hash that cannot be parsed yields ErrInvalidHash.
func (h *Hasher) Verify(password, encoded string) error {
	p, salt, key, err := decodePHC(encoded)
	if err != nil {
		return err
	}
	candidate := argon2.IDKey([]byte(password), salt,
		p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(candidate, key) != 1 {
		return ErrMismatch
	}
	return nil
}

func decodePHC(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var p Params
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil || n != 3 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	return p, salt, key, nil
}
