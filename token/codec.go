// Package token signs and verifies the stateless JWTs issued by the
// engine. Two kinds exist: short-lived access tokens and the temporary
// tokens handed out mid sign-in while a second factor is pending. A
// token of one kind never verifies as the other.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates what a token is good for.
type Kind string

const (
	KindAccess Kind = "access"
	KindTemp   Kind = "temp"
)

var (
	// ErrExpired reports a token past its expiry.
	ErrExpired = errors.New("token: expired")
	// ErrMalformed reports a token that failed to parse or whose
	// signature did not check out.
	ErrMalformed = errors.New("token: malformed")
	// ErrWrongKind reports a well-formed token presented where a
	// different kind was required.
	ErrWrongKind = errors.New("token: wrong kind")
)

// Claims is the payload carried by every engine token.
type Claims struct {
	Kind Kind `json:"type"`
	jwt.RegisteredClaims
}

// Codec issues and verifies tokens with a single HMAC-SHA256 key.
type Codec struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	tempTTL   time.Duration
	now       func() time.Time
}

// NewCodec validates the key material and returns a ready codec. The
// clock is injectable so expiry behaviour is testable.
func NewCodec(secret string, issuer string, accessTTL, tempTTL time.Duration, now func() time.Time) (*Codec, error) {
	if len(secret) < 32 {
		return nil, errors.New("token: secret must be at least 32 bytes")
	}
	if accessTTL <= 0 || tempTTL <= 0 {
		return nil, errors.New("token: ttls must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		tempTTL:   tempTTL,
		now:       now,
	}, nil
}

// TTL reports the lifetime the codec applies to the given kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindTemp {
		return c.tempTTL
	}
	return c.accessTTL
}

// Issue signs a token of the given kind for the subject account. The
// jti claim carries a fresh UUID so two tokens minted in the same
// second still differ.
func (c *Codec) Issue(subject string, kind Kind) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token: empty subject")
	}
	now := c.now()
	exp := now.Add(c.TTL(kind))
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and kind, and returns the subject.
// Expiry is reported ahead of kind so a stale token of the wrong kind
// surfaces as expired, never as a hint about its kind.
func (c *Codec) Verify(tokenString string, want Kind) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpired
	default:
		return "", ErrMalformed
	}
	if claims.Subject == "" {
		return "", ErrMalformed
	}
	if claims.Kind != want {
		return "", ErrWrongKind
	}
	return claims.Subject, nil
}
