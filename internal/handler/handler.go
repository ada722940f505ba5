package handler

import (
	"context"
	"net/url"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	"github.com/gatehouse-dev/gatehouse/internal/email"
	"github.com/gatehouse-dev/gatehouse/internal/service"
	"github.com/gatehouse-dev/gatehouse/internal/session"
)

type AuthService interface {
	Signup(ctx context.Context, p service.SignupParams) (domain.Session, error)
	Login(ctx context.Context, username, password, twoFactorCode string) (domain.Session, error)
	ResetPassword(ctx context.Context, username, newPassword string) error
	ChangeEmail(ctx context.Context, userID, newEmail string) error
	Find(ctx context.Context, usernameOrEmail string) (domain.User, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	User(ctx context.Context, userID string) (domain.User, error)
}

type VerificationService interface {
	Prepare(ctx context.Context, p service.PrepareParams) (redirectTo, verifyURL *url.URL, err error)
	ValidateRequest(ctx context.Context, values url.Values) (service.Result, error)
	LiveSecret(ctx context.Context, target string, typ domain.VerificationType) (domain.Verification, error)
	Discard(ctx context.Context, target string, typ domain.VerificationType) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	auth     AuthService
	verifier VerificationService
	sessions *session.Manager
	codec    *session.Codec
	email    email.Sender
	health   Pinger
	appName  string
}

func New(auth AuthService, verifier VerificationService, sessions *session.Manager, codec *session.Codec, email email.Sender, health Pinger, appName string) *Handler {
	return &Handler{auth, verifier, sessions, codec, email, health, appName}
}
