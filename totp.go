package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// totp implements RFC 6238 time-based one-time passwords over
// HMAC-SHA1, the algorithm every mainstream authenticator app ships
// with. Codes are accepted within skew steps on either side of the
// current one; a code is not remembered after use, so it stays valid
// for its full step.
type totp struct {
	issuer string
	digits int
	period int
	skew   int
}

func newTOTP(cfg TwoFactorConfig) *totp {
	return &totp{
		issuer: cfg.Issuer,
		digits: cfg.Digits,
		period: cfg.Period,
		skew:   cfg.Skew,
	}
}

// code computes the HOTP value for one counter.
func (t *totp) code(secret []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < t.digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", t.digits, value%mod)
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
}

// verify checks code against the secret at now, allowing skew steps of
// clock drift in each direction. All candidate steps are evaluated so
// timing does not reveal which one matched.
func (t *totp) verify(secret, code string, now time.Time) bool {
	key, err := decodeSecret(secret)
	if err != nil || len(key) == 0 {
		return false
	}
	if len(code) != t.digits {
		return false
	}

	counter := uint64(now.Unix() / int64(t.period))
	match := false
	for offset := -t.skew; offset <= t.skew; offset++ {
		c := int64(counter) + int64(offset)
		if c < 0 {
			continue
		}
		candidate := t.code(key, uint64(c))
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			match = true
		}
	}
	return match
}

// provisioningURI renders the otpauth:// URI an authenticator app
// scans from a QR code.
func (t *totp) provisioningURI(secret, accountLabel string) string {
	label := url.PathEscape(t.issuer + ":" + accountLabel)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", t.issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", t.digits))
	q.Set("period", fmt.Sprintf("%d", t.period))
	return "otpauth://totp/" + label + "?" + q.Encode()
}
