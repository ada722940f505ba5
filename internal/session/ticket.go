package session

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketCookieName carries short-lived proofs that a verification code was
// accepted, so a follow-up form post (finish signup, set a new password) can
// trust its subject without re-checking the code.
const TicketCookieName = "__verification"

// TicketLifetime bounds how long a passed verification stays usable.
const TicketLifetime = 10 * time.Minute

const (
	ticketPurposeClaim = "purpose"
	ticketSubjectClaim = "sub"
)

// EncodeTicket seals (purpose, subject) into a set-cookie-ready proof.
func (c *Codec) EncodeTicket(purpose, subject string, now time.Time) (*http.Cookie, error) {
	claims := jwt.MapClaims{
		ticketPurposeClaim: purpose,
		ticketSubjectClaim: subject,
		"exp":              jwt.NewNumericDate(now.Add(TicketLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secrets[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to sign verification ticket: %w", err)
	}
	return &http.Cookie{
		Name:     TicketCookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(TicketLifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	}, nil
}

// DecodeTicket opens a ticket and returns its subject. A ticket minted for a
// different purpose fails: an onboarding proof must not reset a password.
func (c *Codec) DecodeTicket(value, purpose string) (string, error) {
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
			return "", stderrors.New("invalid verification ticket claims")
		}
		if p, _ := claims[ticketPurposeClaim].(string); p != purpose {
			return "", stderrors.New("verification ticket purpose mismatch")
		}
		subject, _ := claims[ticketSubjectClaim].(string)
		if subject == "" {
			return "", stderrors.New("verification ticket missing subject")
		}
		return subject, nil
	}
	return "", fmt.Errorf("failed to open verification ticket: %w", lastErr)
}

// ClearingTicketCookie removes a spent ticket from the browser.
func (c *Codec) ClearingTicketCookie() *http.Cookie {
	return &http.Cookie{
		Name:     TicketCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	}
}
