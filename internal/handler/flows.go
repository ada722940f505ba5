package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	"github.com/gatehouse-dev/gatehouse/internal/logger"
	"github.com/gatehouse-dev/gatehouse/internal/service"
	"github.com/gatehouse-dev/gatehouse/internal/utils"
)

// RegisterFlows wires what happens after each kind of verification code is
// accepted. Single-use continuations run inside the redemption transaction:
// a failure here keeps the code redeemable.
func (h *Handler) RegisterFlows(v *service.Verifier) {
	v.Handle(domain.VerificationOnboarding, h.onboardingVerified)
	v.Handle(domain.VerificationResetPassword, h.resetPasswordVerified)
	v.Handle(domain.VerificationChangeEmail, h.changeEmailVerified)
	v.Handle(domain.VerificationTwoFactor, h.twoFactorVerified)
}

// onboardingVerified hands the proven address to the onboarding form via a
// short-lived ticket cookie. The account is only created when that form is
// submitted.
func (h *Handler) onboardingVerified(ctx context.Context, sub service.Submission) (service.Result, error) {
	ticket, err := h.codec.EncodeTicket(string(domain.VerificationOnboarding), sub.Target, time.Now())
	if err != nil {
		return service.Result{}, err
	}
	return service.Result{
		Status:   http.StatusSeeOther,
		Redirect: withRedirectTo("/onboarding", sub.RedirectTo),
		Cookies:  []*http.Cookie{ticket},
	}, nil
}

// resetPasswordVerified proves account ownership; the new password comes in
// a follow-up form behind the ticket.
func (h *Handler) resetPasswordVerified(ctx context.Context, sub service.Submission) (service.Result, error) {
	ticket, err := h.codec.EncodeTicket(string(domain.VerificationResetPassword), sub.Target, time.Now())
	if err != nil {
		return service.Result{}, err
	}
	return service.Result{
		Status:   http.StatusSeeOther,
		Redirect: "/reset-password/complete",
		Cookies:  []*http.Cookie{ticket},
	}, nil
}

// changeEmailVerified applies the pending address carried on the record and
// notifies the old one. The target of a change-email verification is the
// user id, not an address.
func (h *Handler) changeEmailVerified(ctx context.Context, sub service.Submission) (service.Result, error) {
	user, err := h.auth.User(ctx, sub.Target)
	if err != nil {
		return service.Result{}, err
	}

	if err := h.auth.ChangeEmail(ctx, sub.Target, sub.Payload); err != nil {
		return service.Result{}, err
	}

	// Notice to the old address is best effort; the change already happened.
	body := fmt.Sprintf("Your %s email was changed to %s. If this wasn't you, contact support immediately.\n", h.appName, sub.Payload)
	if err := h.email.Send(user.Email, h.appName+" email changed", body); err != nil {
		logger.Log.Warn("email change notice failed", "user_id", sub.Target, "error", err)
	}

	return service.Result{Status: http.StatusSeeOther, Redirect: "/settings"}, nil
}

// twoFactorVerified confirms a standing authenticator secret works. The
// record survives: the same secret keeps guarding every login.
func (h *Handler) twoFactorVerified(ctx context.Context, sub service.Submission) (service.Result, error) {
	return service.Result{
		Status:   http.StatusSeeOther,
		Redirect: utils.SafeRedirect(sub.RedirectTo, "/settings"),
	}, nil
}
