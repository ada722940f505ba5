// Package session owns the server-side session lifecycle and the signed
// cookie envelope that mirrors it into the browser. The two lifetimes are
// tracked independently: the cookie may outlive or undershoot the row, and
// both are checked on every resolve.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
	"github.com/gatehouse-dev/gatehouse/internal/logger"
)

// Lifetime is the fixed server-side validity window of a session row.
const Lifetime = 14 * 24 * time.Hour

// Storage is the slice of the credential store the manager needs.
type Storage interface {
	SaveSession(ctx context.Context, session domain.Session) error
	// LiveSession returns a not-found error for absent or expired rows.
	LiveSession(ctx context.Context, id string) (domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

type Manager struct {
	storage Storage
	codec   *Codec
	now     func() time.Time
}

func NewManager(storage Storage, codec *Codec) *Manager {
	return &Manager{storage: storage, codec: codec, now: time.Now}
}

// Create inserts a new session row expiring Lifetime from now. There is no
// per-user uniqueness: concurrent sessions are expected.
func (m *Manager) Create(ctx context.Context, userID string) (domain.Session, error) {
	session := domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ExpirationDate: m.now().Add(Lifetime),
		CreatedAt:      m.now(),
	}
	if err := m.storage.SaveSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// CommitOptions selects the browser lifetime of the committed cookie.
// MaxAge (seconds) takes precedence over Expires when both are set. With
// neither, the cookie lives for the browser session and the envelope carries
// no expiry at all, regardless of the row's own ExpirationDate.
type CommitOptions struct {
	Expires time.Time
	MaxAge  int
}

// Commit seals the session into a set-cookie-ready envelope.
func (m *Manager) Commit(session domain.Session, opts CommitOptions) (*http.Cookie, error) {
	var expires *time.Time
	switch {
	case opts.MaxAge > 0:
		t := m.now().Add(time.Duration(opts.MaxAge) * time.Second)
		expires = &t
	case !opts.Expires.IsZero():
		t := opts.Expires
		expires = &t
	}

	value, err := m.codec.Encode(session.ID, expires)
	if err != nil {
		return nil, err
	}
	return m.codec.Cookie(value, expires), nil
}

// Destroy deletes the session row referenced by the request's cookie and
// returns a clearing cookie. The store-side delete is best effort: logout
// must never fail visibly, so a delete error is logged and swallowed.
func (m *Manager) Destroy(ctx context.Context, r *http.Request) *http.Cookie {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if sid, _, err := m.codec.Decode(cookie.Value); err == nil {
			if err := m.storage.DeleteSession(ctx, sid); err != nil {
				logger.Log.Warn("session delete failed during logout", "session_id", sid, "error", err)
			}
		}
	}
	return m.codec.ClearingCookie()
}

// ClearingCookie exposes the codec's clearing cookie for callers that must
// force-clear a dangling envelope.
func (m *Manager) ClearingCookie() *http.Cookie {
	return m.codec.ClearingCookie()
}

// ResolveUserID derives the requester's identity from the session cookie.
// A missing cookie resolves to an anonymous request. A cookie that is
// present but forged, expired or pointing at a dead session resolves
// anonymous with stale=true: the caller must force-clear it (fail secure).
func (m *Manager) ResolveUserID(ctx context.Context, r *http.Request) (userID string, stale bool, err error) {
	cookie, cookieErr := r.Cookie(CookieName)
	if cookieErr != nil || cookie.Value == "" {
		return "", false, nil
	}

	sid, _, decodeErr := m.codec.Decode(cookie.Value)
	if decodeErr != nil {
		return "", true, nil
	}

	session, lookupErr := m.storage.LiveSession(ctx, sid)
	if lookupErr != nil {
		if internal_errors.IsNotFound(lookupErr) {
			return "", true, nil
		}
		return "", false, lookupErr
	}
	return session.UserID, false, nil
}
