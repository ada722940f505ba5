// Package otp implements time-based one-time codes over a configurable
// charset. Codes are rendered from an HMAC of the current time step, so a
// stored secret can be re-validated without storing the code itself.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gatehouse-dev/gatehouse/internal/utils"
)

// DefaultCharSet leaves off 0, O and I to avoid confusing users reading codes
// out of an email.
const DefaultCharSet = "ABCDEFGHJKLMNPQRSTUVWXYZ123456789"

const (
	AlgorithmSHA256 = "SHA-256"
	AlgorithmSHA1   = "SHA-1"

	DefaultDigits = 6
	secretLength  = 32
)

// Params describes how codes for one verification record are derived.
type Params struct {
	Secret    string
	Algorithm string
	Digits    int
	Period    int // seconds per time step
	CharSet   string
}

// base32Alphabet is the RFC 4648 alphabet; secrets stay copy-pasteable into
// standard authenticator tooling.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// GenerateSecret returns new base32 secret material.
func GenerateSecret() string {
	return utils.GenerateRandomString(secretLength, base32Alphabet)
}

// KeyURI renders an otpauth:// URI for loading the secret into authenticator
// apps.
func KeyURI(issuer, account string, p Params) string {
	q := url.Values{}
	q.Set("secret", p.Secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", strings.ReplaceAll(p.Algorithm, "-", ""))
	q.Set("digits", strconv.Itoa(p.Digits))
	q.Set("period", strconv.Itoa(p.Period))
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// GenerateCode derives the code for the time step containing t.
func GenerateCode(p Params, t time.Time) (string, error) {
	if err := validateParams(p); err != nil {
		return "", err
	}
	counter := uint64(t.Unix()) / uint64(p.Period)
	return hotp(p, counter)
}

// Validate reports whether code matches any time step within skew steps on
// either side of t. The comparison is constant time per candidate step, and
// failure reveals nothing about why the code did not match.
func Validate(code string, p Params, t time.Time, skew int) bool {
	if err := validateParams(p); err != nil {
		return false
	}
	if len(code) != p.Digits {
		return false
	}
	code = strings.ToUpper(strings.TrimSpace(code))

	counter := int64(t.Unix()) / int64(p.Period)
	for delta := -skew; delta <= skew; delta++ {
		c := counter + int64(delta)
		if c < 0 {
			continue
		}
		candidate, err := hotp(p, uint64(c))
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// hotp computes the code for a single counter value: HMAC over the
// big-endian counter, dynamic truncation, then digit-by-digit rendering
// into the charset.
func hotp(p Params, counter uint64) (string, error) {
	var newHash func() hash.Hash
	switch p.Algorithm {
	case AlgorithmSHA256:
		newHash = sha256.New
	case AlgorithmSHA1:
		newHash = sha1.New
	default:
		return "", fmt.Errorf("unsupported otp algorithm %q", p.Algorithm)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(newHash, []byte(p.Secret))
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0xf
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	charset := p.CharSet
	out := make([]byte, p.Digits)
	for i := p.Digits - 1; i >= 0; i-- {
		out[i] = charset[value%uint32(len(charset))]
		value /= uint32(len(charset))
	}
	return string(out), nil
}

func validateParams(p Params) error {
	if p.Secret == "" {
		return fmt.Errorf("otp secret is empty")
	}
	if p.Digits <= 0 {
		return fmt.Errorf("otp digits must be positive")
	}
	if p.Period <= 0 {
		return fmt.Errorf("otp period must be positive")
	}
	if len(p.CharSet) < 2 {
		return fmt.Errorf("otp charset too small")
	}
	return nil
}
