package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
	"github.com/gatehouse-dev/gatehouse/internal/service"
	"github.com/gatehouse-dev/gatehouse/internal/session"
)

func decodeErrors(t *testing.T, w *httptest.ResponseRecorder) map[string][]string {
	t.Helper()
	var body struct {
		Errors map[string][]string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Errors
}

func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestRegister(t *testing.T) {
	t.Run("issues an onboarding code and redirects to verify", func(t *testing.T) {
		th := newTestHandler(t)

		var prepared service.PrepareParams
		th.verifier.PrepareFunc = func(ctx context.Context, p service.PrepareParams) (*url.URL, *url.URL, error) {
			prepared = p
			redirectTo, _ := url.Parse("https://auth.example.com/verify?type=onboarding&target=new%40example.com")
			verifyURL, _ := url.Parse(redirectTo.String() + "&code=ABC123")
			return redirectTo, verifyURL, nil
		}

		w := httptest.NewRecorder()
		th.Register(w, formRequest("/register", url.Values{"email": {"new@example.com"}}))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/verify")
		assert.NotContains(t, w.Header().Get("Location"), "code=")

		assert.Equal(t, domain.VerificationOnboarding, prepared.Type)
		assert.Equal(t, "new@example.com", prepared.Target)
		assert.Equal(t, []string{"new@example.com"}, th.sender.Sent)
	})

	t.Run("taken email is a field error", func(t *testing.T) {
		th := newTestHandler(t)
		th.auth.EmailTakenFunc = func(ctx context.Context, email string) (bool, error) { return true, nil }

		w := httptest.NewRecorder()
		th.Register(w, formRequest("/register", url.Values{"email": {"used@example.com"}}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrors(t, w), "email")
		assert.Empty(t, th.sender.Sent)
	})

	t.Run("invalid email is a field error", func(t *testing.T) {
		th := newTestHandler(t)
		w := httptest.NewRecorder()
		th.Register(w, formRequest("/register", url.Values{"email": {"not-an-email"}}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrors(t, w), "email")
	})
}

func TestOnboarding(t *testing.T) {
	ticketRequest := func(t *testing.T, th *testHandler, form url.Values) *http.Request {
		t.Helper()
		r := formRequest("/onboarding", form)
		ticket, err := th.codec.EncodeTicket(string(domain.VerificationOnboarding), "verified@example.com", time.Now())
		require.NoError(t, err)
		r.AddCookie(ticket)
		return r
	}

	validForm := url.Values{
		"username":        {"newuser"},
		"name":            {"New User"},
		"password":        {"a fine password"},
		"confirmPassword": {"a fine password"},
	}

	t.Run("creates the account for the verified address", func(t *testing.T) {
		th := newTestHandler(t)

		var gotParams service.SignupParams
		th.auth.SignupFunc = func(ctx context.Context, p service.SignupParams) (domain.Session, error) {
			gotParams = p
			return domain.Session{ID: "sid-1", UserID: "user-1", ExpirationDate: time.Now().Add(session.Lifetime)}, nil
		}

		w := httptest.NewRecorder()
		th.Onboarding(w, ticketRequest(t, th, validForm))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
		assert.Equal(t, "verified@example.com", gotParams.Email)
		assert.Equal(t, "newuser", gotParams.Username)

		sessionCookie := findCookie(t, w, session.CookieName)
		sid, expires, err := th.codec.Decode(sessionCookie.Value)
		require.NoError(t, err)
		assert.Equal(t, "sid-1", sid)
		assert.Nil(t, expires, "without remember the cookie is session lifetime")

		ticketCookie := findCookie(t, w, session.TicketCookieName)
		assert.Equal(t, -1, ticketCookie.MaxAge, "spent ticket must be cleared")
	})

	t.Run("remember pins the cookie to the session expiry", func(t *testing.T) {
		th := newTestHandler(t)

		form := url.Values{}
		for k, v := range validForm {
			form[k] = v
		}
		form.Set("remember", "on")

		w := httptest.NewRecorder()
		th.Onboarding(w, ticketRequest(t, th, form))

		sessionCookie := findCookie(t, w, session.CookieName)
		_, expires, err := th.codec.Decode(sessionCookie.Value)
		require.NoError(t, err)
		require.NotNil(t, expires)
		assert.WithinDuration(t, time.Now().Add(session.Lifetime), *expires, 5*time.Second)
	})

	t.Run("without a ticket redirects to register", func(t *testing.T) {
		th := newTestHandler(t)
		w := httptest.NewRecorder()
		th.Onboarding(w, formRequest("/onboarding", validForm))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/register", w.Header().Get("Location"))
	})

	t.Run("password mismatch is a field error", func(t *testing.T) {
		th := newTestHandler(t)

		form := url.Values{}
		for k, v := range validForm {
			form[k] = v
		}
		form.Set("confirmPassword", "something else")

		w := httptest.NewRecorder()
		th.Onboarding(w, ticketRequest(t, th, form))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrors(t, w), "confirmpassword")
	})
}

func TestLoginHandler(t *testing.T) {
	t.Run("sets the session cookie and redirects", func(t *testing.T) {
		th := newTestHandler(t)

		w := httptest.NewRecorder()
		th.Login(w, formRequest("/login", url.Values{
			"username": {"user"},
			"password": {"a fine password"},
		}))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))

		cookie := findCookie(t, w, session.CookieName)
		sid, _, err := th.codec.Decode(cookie.Value)
		require.NoError(t, err)
		assert.Equal(t, "sid-1", sid)
	})

	t.Run("honors a safe redirectTo", func(t *testing.T) {
		th := newTestHandler(t)

		w := httptest.NewRecorder()
		th.Login(w, formRequest("/login", url.Values{
			"username":   {"user"},
			"password":   {"a fine password"},
			"redirectTo": {"/settings"},
		}))

		assert.Equal(t, "/settings", w.Header().Get("Location"))
	})

	t.Run("rejects an off-site redirectTo", func(t *testing.T) {
		th := newTestHandler(t)

		w := httptest.NewRecorder()
		th.Login(w, formRequest("/login", url.Values{
			"username":   {"user"},
			"password":   {"a fine password"},
			"redirectTo": {"https://evil.example.com"},
		}))

		assert.Equal(t, "/", w.Header().Get("Location"))
	})

	t.Run("invalid credentials surface as a form-level error", func(t *testing.T) {
		th := newTestHandler(t)
		th.auth.LoginFunc = func(ctx context.Context, username, password, twoFactorCode string) (domain.Session, error) {
			return domain.Session{}, internal_errors.NewFieldError(internal_errors.FormField, "Invalid username or password")
		}

		w := httptest.NewRecorder()
		th.Login(w, formRequest("/login", url.Values{
			"username": {"user"},
			"password": {"wrong"},
		}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrors(t, w), "")
	})
}

func TestLogoutHandler(t *testing.T) {
	th := newTestHandler(t)

	r := formRequest("/logout", url.Values{})
	cookie, err := th.sessions.Commit(domain.Session{ID: "sid-1"}, session.CommitOptions{})
	require.NoError(t, err)
	r.AddCookie(cookie)

	w := httptest.NewRecorder()
	th.Logout(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Equal(t, []string{"sid-1"}, th.store.DeletedIDs)
	assert.Equal(t, -1, findCookie(t, w, session.CookieName).MaxAge)
}

func TestResetPasswordHandler(t *testing.T) {
	t.Run("sends the code to the account email", func(t *testing.T) {
		th := newTestHandler(t)

		var prepared service.PrepareParams
		th.verifier.PrepareFunc = func(ctx context.Context, p service.PrepareParams) (*url.URL, *url.URL, error) {
			prepared = p
			redirectTo, _ := url.Parse("https://auth.example.com/verify?type=reset-password&target=user")
			verifyURL, _ := url.Parse(redirectTo.String() + "&code=ABC123")
			return redirectTo, verifyURL, nil
		}

		w := httptest.NewRecorder()
		th.ResetPassword(w, formRequest("/reset-password", url.Values{"usernameOrEmail": {"user@example.com"}}))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, domain.VerificationResetPassword, prepared.Type)
		assert.Equal(t, "user", prepared.Target, "reset codes are keyed by username")
		assert.Equal(t, []string{"user@example.com"}, th.sender.Sent)
	})

	t.Run("unknown account is a field error", func(t *testing.T) {
		th := newTestHandler(t)
		th.auth.FindFunc = func(ctx context.Context, usernameOrEmail string) (domain.User, error) {
			return domain.User{}, notFound("User")
		}

		w := httptest.NewRecorder()
		th.ResetPassword(w, formRequest("/reset-password", url.Values{"usernameOrEmail": {"ghost"}}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrors(t, w), "usernameoremail")
		assert.Empty(t, th.sender.Sent)
	})
}

func TestResetPasswordComplete(t *testing.T) {
	t.Run("sets the new password behind a ticket", func(t *testing.T) {
		th := newTestHandler(t)

		var gotUsername, gotPassword string
		th.auth.ResetPasswordFunc = func(ctx context.Context, username, newPassword string) error {
			gotUsername, gotPassword = username, newPassword
			return nil
		}

		r := formRequest("/reset-password/complete", url.Values{
			"password":        {"a brand new password"},
			"confirmPassword": {"a brand new password"},
		})
		ticket, err := th.codec.EncodeTicket(string(domain.VerificationResetPassword), "user", time.Now())
		require.NoError(t, err)
		r.AddCookie(ticket)

		w := httptest.NewRecorder()
		th.ResetPasswordComplete(w, r)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/login", w.Header().Get("Location"))
		assert.Equal(t, "user", gotUsername)
		assert.Equal(t, "a brand new password", gotPassword)
		assert.Equal(t, -1, findCookie(t, w, session.TicketCookieName).MaxAge)
	})

	t.Run("an onboarding ticket cannot reset a password", func(t *testing.T) {
		th := newTestHandler(t)

		r := formRequest("/reset-password/complete", url.Values{
			"password":        {"a brand new password"},
			"confirmPassword": {"a brand new password"},
		})
		ticket, err := th.codec.EncodeTicket(string(domain.VerificationOnboarding), "user", time.Now())
		require.NoError(t, err)
		r.AddCookie(ticket)

		w := httptest.NewRecorder()
		th.ResetPasswordComplete(w, r)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/reset-password", w.Header().Get("Location"))
	})
}

func TestChangeEmailHandler(t *testing.T) {
	t.Run("codes the new address with the pending email as payload", func(t *testing.T) {
		th := newTestHandler(t)

		var prepared service.PrepareParams
		th.verifier.PrepareFunc = func(ctx context.Context, p service.PrepareParams) (*url.URL, *url.URL, error) {
			prepared = p
			redirectTo, _ := url.Parse("https://auth.example.com/verify?type=change-email&target=user-1")
			verifyURL, _ := url.Parse(redirectTo.String() + "&code=ABC123")
			return redirectTo, verifyURL, nil
		}

		r := withUser(formRequest("/settings/change-email", url.Values{"email": {"fresh@example.com"}}), "user-1")
		w := httptest.NewRecorder()
		th.ChangeEmail(w, r)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, domain.VerificationChangeEmail, prepared.Type)
		assert.Equal(t, "user-1", prepared.Target)
		assert.Equal(t, "fresh@example.com", prepared.Payload)
		assert.Equal(t, []string{"fresh@example.com"}, th.sender.Sent)
	})

	t.Run("requires authentication", func(t *testing.T) {
		th := newTestHandler(t)
		w := httptest.NewRecorder()
		th.ChangeEmail(w, formRequest("/settings/change-email", url.Values{"email": {"fresh@example.com"}}))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTwoFactorHandlers(t *testing.T) {
	t.Run("enable returns an otpauth uri", func(t *testing.T) {
		th := newTestHandler(t)

		var prepared service.PrepareParams
		th.verifier.PrepareFunc = func(ctx context.Context, p service.PrepareParams) (*url.URL, *url.URL, error) {
			prepared = p
			u, _ := url.Parse("https://auth.example.com/verify")
			return u, u, nil
		}

		r := withUser(formRequest("/settings/two-factor", url.Values{}), "user-1")
		w := httptest.NewRecorder()
		th.TwoFactorEnable(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.VerificationTwoFactor, prepared.Type)
		assert.Zero(t, prepared.Period, "two-factor secrets are standing")

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Contains(t, body["otpauth"], "otpauth://totp/")
	})

	t.Run("disable discards the standing secret", func(t *testing.T) {
		th := newTestHandler(t)

		var discarded string
		th.verifier.DiscardFunc = func(ctx context.Context, target string, typ domain.VerificationType) error {
			discarded = target
			require.Equal(t, domain.VerificationTwoFactor, typ)
			return nil
		}

		r := withUser(formRequest("/settings/two-factor", url.Values{}), "user-1")
		w := httptest.NewRecorder()
		th.TwoFactorDisable(w, r)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "user-1", discarded)
	})
}

func TestMe(t *testing.T) {
	th := newTestHandler(t)

	r := withUser(httptest.NewRequest(http.MethodGet, "/me", nil), "user-1")
	w := httptest.NewRecorder()
	th.Me(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var user domain.User
	require.NoError(t, json.NewDecoder(w.Body).Decode(&user))
	assert.Equal(t, "user-1", user.ID)
}

func TestVerifyHandler(t *testing.T) {
	t.Run("GET without a code just acknowledges", func(t *testing.T) {
		th := newTestHandler(t)
		called := false
		th.verifier.ValidateRequestFunc = func(ctx context.Context, values url.Values) (service.Result, error) {
			called = true
			return service.Result{}, nil
		}

		r := httptest.NewRequest(http.MethodGet, "/verify?type=onboarding&target=user%40example.com", nil)
		w := httptest.NewRecorder()
		th.Verify(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, called)
	})

	t.Run("GET with a code dispatches", func(t *testing.T) {
		th := newTestHandler(t)
		th.verifier.ValidateRequestFunc = func(ctx context.Context, values url.Values) (service.Result, error) {
			assert.Equal(t, "ABC123", values.Get("code"))
			return service.Result{Status: http.StatusSeeOther, Redirect: "/onboarding"}, nil
		}

		r := httptest.NewRequest(http.MethodGet, "/verify?type=onboarding&target=user%40example.com&code=ABC123", nil)
		w := httptest.NewRecorder()
		th.Verify(w, r)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/onboarding", w.Header().Get("Location"))
	})

	t.Run("POST writes field errors and result cookies", func(t *testing.T) {
		th := newTestHandler(t)
		th.verifier.ValidateRequestFunc = func(ctx context.Context, values url.Values) (service.Result, error) {
			return service.Result{
				Status: http.StatusBadRequest,
				Fields: map[string][]string{"code": {"Invalid code"}},
			}, nil
		}

		w := httptest.NewRecorder()
		th.Verify(w, formRequest("/verify", url.Values{
			"type":   {"onboarding"},
			"target": {"user@example.com"},
			"code":   {"AAAAAA"},
		}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrors(t, w), "code")
	})
}

func TestHealthHandlers(t *testing.T) {
	th := newTestHandler(t)

	w := httptest.NewRecorder()
	th.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	th.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	t.Run("unready when the database is down", func(t *testing.T) {
		codec, err := session.NewCodec([]string{"test-secret"}, false)
		require.NoError(t, err)
		h := New(&MockAuthService{}, &MockVerifier{}, session.NewManager(&MockSessionStorage{}, codec), codec, &MockSender{}, &MockPinger{
			PingFunc: func(ctx context.Context) error { return context.DeadlineExceeded },
		}, "Gatehouse")

		w := httptest.NewRecorder()
		h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
