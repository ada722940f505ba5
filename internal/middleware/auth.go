package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gatehouse-dev/gatehouse/internal/session"
	"github.com/gatehouse-dev/gatehouse/internal/utils"
)

// Key to store the user id in the request context
type key int

const UserIDKey key = 0

// Gate enforces the authenticated/anonymous preconditions of routes by
// resolving the session cookie. "Not logged in" is a redirect, never an
// error: handlers behind the gate simply don't run.
type Gate struct {
	sessions *session.Manager
}

func NewGate(sessions *session.Manager) *Gate {
	return &Gate{sessions: sessions}
}

// RequireUser only lets authenticated requests through, carrying the user id
// in the request context. Anonymous requests are redirected to the login
// page with the intended destination preserved in the redirectTo parameter.
// A dangling cookie (forged, expired, or pointing at a dead session) is
// actively cleared on the way out, not merely ignored.
func (g *Gate) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, stale, err := g.sessions.ResolveUserID(r.Context(), r)
		if err != nil {
			utils.WriteErrorAndStatusCode(w, err)
			return
		}
		if stale {
			http.SetCookie(w, g.sessions.ClearingCookie())
		}
		if userID == "" {
			http.Redirect(w, r, loginRedirect(r), http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAnonymous is the inverse precondition: a live session is sent home.
func (g *Gate) RequireAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, stale, err := g.sessions.ResolveUserID(r.Context(), r)
		if err != nil {
			utils.WriteErrorAndStatusCode(w, err)
			return
		}
		if stale {
			http.SetCookie(w, g.sessions.ClearingCookie())
		}
		if userID != "" {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loginRedirect computes the login entry point carrying the current
// path+query as the post-login destination.
func loginRedirect(r *http.Request) string {
	redirectTo := r.URL.Path
	if r.URL.RawQuery != "" {
		redirectTo += "?" + r.URL.RawQuery
	}
	if redirectTo == "" || redirectTo == "/login" {
		return "/login"
	}
	params := url.Values{"redirectTo": {redirectTo}}
	return "/login?" + params.Encode()
}

// UserIDFromContext retrieves the authenticated user id, empty when the
// request did not pass RequireUser.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}
