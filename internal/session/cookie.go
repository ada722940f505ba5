package session

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the single auth cookie of the application.
const CookieName = "__session"

const sessionIDClaim = "sid"

// Codec seals session identity into a signed, httpOnly cookie envelope.
// The first secret signs new envelopes; every secret is tried on decode so
// secrets can be rotated without invalidating live sessions.
type Codec struct {
	secrets []string
	secure  bool
}

func NewCodec(secrets []string, secure bool) (*Codec, error) {
	if len(secrets) == 0 {
		return nil, stderrors.New("at least one session secret is required")
	}
	for _, s := range secrets {
		if s == "" {
			return nil, stderrors.New("session secrets must be non-empty")
		}
	}
	return &Codec{secrets: secrets, secure: secure}, nil
}

// Encode seals the session id, with an optional expiry mirrored into the
// envelope. A nil expires produces a browser-session-lifetime envelope.
func (c *Codec) Encode(sessionID string, expires *time.Time) (string, error) {
	claims := jwt.MapClaims{sessionIDClaim: sessionID}
	if expires != nil {
		claims["exp"] = jwt.NewNumericDate(*expires)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secrets[0]))
	if err != nil {
		return "", fmt.Errorf("failed to sign session envelope: %w", err)
	}
	return signed, nil
}

// Decode opens an envelope and returns the session id and the expiry it
// carries, if any. Expired or tampered envelopes fail outright.
func (c *Codec) Decode(value string) (string, *time.Time, error) {
	var lastErr error
	for _, secret := range c.secrets {
		token, err := jwt.Parse(value, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			lastErr = err
			continue
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return "", nil, stderrors.New("invalid session envelope claims")
		}
		sid, ok := claims[sessionIDClaim].(string)
		if !ok || sid == "" {
			return "", nil, stderrors.New("session envelope missing session id")
		}

		var expires *time.Time
		if expFloat, ok := claims["exp"].(float64); ok {
			t := time.Unix(int64(expFloat), 0)
			expires = &t
		}
		return sid, expires, nil
	}
	return "", nil, fmt.Errorf("failed to open session envelope: %w", lastErr)
}

// Cookie wraps an encoded envelope in the canonical cookie attributes.
// The expires argument, when set, is mirrored into the cookie's own expiry.
func (c *Codec) Cookie(value string, expires *time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	}
	if expires != nil {
		cookie.Expires = *expires
	}
	return cookie
}

// ClearingCookie returns a cookie that removes the session envelope from the
// browser.
func (c *Codec) ClearingCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	}
}
