package handler

import (
	"fmt"
	"net/http"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
	"github.com/gatehouse-dev/gatehouse/internal/email"
	"github.com/gatehouse-dev/gatehouse/internal/middleware"
	"github.com/gatehouse-dev/gatehouse/internal/service"
	"github.com/gatehouse-dev/gatehouse/internal/session"
	"github.com/gatehouse-dev/gatehouse/internal/utils"
)

// codeValidity is the window a freshly issued single-use code stays
// redeemable, in seconds.
const codeValidity = 10 * 60

type registerForm struct {
	Email      string `form:"email" validate:"required,email"`
	RedirectTo string `form:"redirectTo"`
}

// Register starts the signup flow: it issues an onboarding code for the
// address, emails it and redirects to the verify page. No account exists yet.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var form registerForm
	if err := decodeForm(r, &form); err != nil {
		writeError(w, err)
		return
	}
	if err := email.IsCorrect(form.Email); err != nil {
		writeError(w, internal_errors.NewFieldError("email", err.Error()))
		return
	}

	taken, err := h.auth.EmailTaken(r.Context(), form.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if taken {
		writeError(w, internal_errors.NewFieldError("email", "A user already exists with this email"))
		return
	}

	redirectTo, verifyURL, err := h.verifier.Prepare(r.Context(), service.PrepareParams{
		Type:       domain.VerificationOnboarding,
		Target:     form.Email,
		Period:     codeValidity,
		RedirectTo: form.RedirectTo,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	body := fmt.Sprintf("Welcome to %s!\n\nHere's your verification code: %s\n\nOr open: %s\n",
		h.appName, verifyURL.Query().Get(service.QueryCode), verifyURL.String())
	if err := h.email.Send(form.Email, "Welcome to "+h.appName+"!", body); err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, redirectTo.String(), http.StatusSeeOther)
}

type onboardingForm struct {
	Username        string `form:"username" validate:"required,min=3,max=20,alphanum"`
	Name            string `form:"name" validate:"required,max=100"`
	Password        string `form:"password" validate:"required,min=6,max=100"`
	ConfirmPassword string `form:"confirmPassword" validate:"required,eqfield=Password"`
	Remember        string `form:"remember"`
	RedirectTo      string `form:"redirectTo"`
}

// Onboarding finishes signup. It only works behind a live onboarding ticket,
// which proves the email was verified minutes ago.
func (h *Handler) Onboarding(w http.ResponseWriter, r *http.Request) {
	verifiedEmail, ok := h.ticketSubject(r, domain.VerificationOnboarding)
	if !ok {
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}

	var form onboardingForm
	if err := decodeForm(r, &form); err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.auth.Signup(r.Context(), service.SignupParams{
		Email:    verifiedEmail,
		Username: form.Username,
		Name:     form.Name,
		Password: form.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	cookie, err := h.sessions.Commit(sess, rememberOptions(form.Remember != "", sess))
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, cookie)
	http.SetCookie(w, h.codec.ClearingTicketCookie())
	http.Redirect(w, r, utils.SafeRedirect(form.RedirectTo, "/"), http.StatusSeeOther)
}

type loginForm struct {
	Username   string `form:"username" validate:"required"`
	Password   string `form:"password" validate:"required"`
	Code       string `form:"code"` // two-factor, when the account carries a standing secret
	Remember   string `form:"remember"`
	RedirectTo string `form:"redirectTo"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := decodeForm(r, &form); err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.auth.Login(r.Context(), form.Username, form.Password, form.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	cookie, err := h.sessions.Commit(sess, rememberOptions(form.Remember != "", sess))
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, utils.SafeRedirect(form.RedirectTo, "/"), http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessions.Destroy(r.Context(), r))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type resetPasswordForm struct {
	UsernameOrEmail string `form:"usernameOrEmail" validate:"required"`
}

// ResetPassword starts the forgot-password flow for an existing account.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var form resetPasswordForm
	if err := decodeForm(r, &form); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.Find(r.Context(), form.UsernameOrEmail)
	if err != nil {
		if internal_errors.IsNotFound(err) {
			writeError(w, internal_errors.NewFieldError("usernameOrEmail", "No user exists with this username or email"))
			return
		}
		writeError(w, err)
		return
	}

	redirectTo, verifyURL, err := h.verifier.Prepare(r.Context(), service.PrepareParams{
		Type:   domain.VerificationResetPassword,
		Target: user.Username,
		Period: codeValidity,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	body := fmt.Sprintf("%s password reset\n\nHere's your verification code: %s\n\nOr open: %s\n",
		h.appName, verifyURL.Query().Get(service.QueryCode), verifyURL.String())
	if err := h.email.Send(user.Email, h.appName+" password reset", body); err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, redirectTo.String(), http.StatusSeeOther)
}

type resetPasswordCompleteForm struct {
	Password        string `form:"password" validate:"required,min=6,max=100"`
	ConfirmPassword string `form:"confirmPassword" validate:"required,eqfield=Password"`
}

// ResetPasswordComplete sets the new password behind a live reset ticket.
func (h *Handler) ResetPasswordComplete(w http.ResponseWriter, r *http.Request) {
	username, ok := h.ticketSubject(r, domain.VerificationResetPassword)
	if !ok {
		http.Redirect(w, r, "/reset-password", http.StatusSeeOther)
		return
	}

	var form resetPasswordCompleteForm
	if err := decodeForm(r, &form); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.ResetPassword(r.Context(), username, form.Password); err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, h.codec.ClearingTicketCookie())
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type changeEmailForm struct {
	Email string `form:"email" validate:"required,email"`
}

// ChangeEmail starts an email change for the logged-in user. The code goes to
// the NEW address; the pending address rides on the verification record and
// is only applied once the code is redeemed.
func (h *Handler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, &internal_errors.ErrorWithStatusCode{Message: "Unauthorized", StatusCode: http.StatusUnauthorized})
		return
	}

	var form changeEmailForm
	if err := decodeForm(r, &form); err != nil {
		writeError(w, err)
		return
	}
	taken, err := h.auth.EmailTaken(r.Context(), form.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if taken {
		writeError(w, internal_errors.NewFieldError("email", "This email is already in use"))
		return
	}

	redirectTo, verifyURL, err := h.verifier.Prepare(r.Context(), service.PrepareParams{
		Type:    domain.VerificationChangeEmail,
		Target:  userID,
		Period:  codeValidity,
		Payload: form.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	body := fmt.Sprintf("%s email change\n\nHere's your verification code: %s\n\nOr open: %s\n",
		h.appName, verifyURL.Query().Get(service.QueryCode), verifyURL.String())
	if err := h.email.Send(form.Email, h.appName+" email change verification", body); err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, redirectTo.String(), http.StatusSeeOther)
}

// TwoFactorEnable issues a standing two-factor secret for the logged-in user
// and returns the otpauth URI to load into an authenticator. Codes are
// required on every subsequent login.
func (h *Handler) TwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, &internal_errors.ErrorWithStatusCode{Message: "Unauthorized", StatusCode: http.StatusUnauthorized})
		return
	}

	if _, _, err := h.verifier.Prepare(r.Context(), service.PrepareParams{
		Type:   domain.VerificationTwoFactor,
		Target: userID,
	}); err != nil {
		writeError(w, err)
		return
	}

	record, err := h.verifier.LiveSecret(r.Context(), userID, domain.VerificationTwoFactor)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.User(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"otpauth": otpauthURI(h.appName, user.Email, record),
	})
}

// TwoFactorDisable drops the standing secret. Logins go back to password
// only.
func (h *Handler) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, &internal_errors.ErrorWithStatusCode{Message: "Unauthorized", StatusCode: http.StatusUnauthorized})
		return
	}
	if err := h.verifier.Discard(r.Context(), userID, domain.VerificationTwoFactor); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// Me returns the account behind the session.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, &internal_errors.ErrorWithStatusCode{Message: "Unauthorized", StatusCode: http.StatusUnauthorized})
		return
	}
	user, err := h.auth.User(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ticketSubject opens the request's verification ticket for the given
// purpose.
func (h *Handler) ticketSubject(r *http.Request, typ domain.VerificationType) (string, bool) {
	cookie, err := r.Cookie(session.TicketCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	subject, err := h.codec.DecodeTicket(cookie.Value, string(typ))
	if err != nil {
		return "", false
	}
	return subject, true
}

// rememberOptions picks the cookie lifetime: "remember me" pins the cookie to
// the session row's expiry, otherwise the cookie dies with the browser.
func rememberOptions(remember bool, sess domain.Session) session.CommitOptions {
	if remember {
		return session.CommitOptions{Expires: sess.ExpirationDate}
	}
	return session.CommitOptions{}
}
