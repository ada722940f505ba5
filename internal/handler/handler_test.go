package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
	"github.com/gatehouse-dev/gatehouse/internal/middleware"
	"github.com/gatehouse-dev/gatehouse/internal/service"
	"github.com/gatehouse-dev/gatehouse/internal/session"
)

// --- Mocks ---

func notFound(what string) error {
	return &internal_errors.ErrorWithStatusCode{Message: what + " not found", StatusCode: http.StatusNotFound}
}

type MockAuthService struct {
	SignupFunc        func(ctx context.Context, p service.SignupParams) (domain.Session, error)
	LoginFunc         func(ctx context.Context, username, password, twoFactorCode string) (domain.Session, error)
	ResetPasswordFunc func(ctx context.Context, username, newPassword string) error
	ChangeEmailFunc   func(ctx context.Context, userID, newEmail string) error
	FindFunc          func(ctx context.Context, usernameOrEmail string) (domain.User, error)
	EmailTakenFunc    func(ctx context.Context, email string) (bool, error)
	UserFunc          func(ctx context.Context, userID string) (domain.User, error)
}

func (m *MockAuthService) Signup(ctx context.Context, p service.SignupParams) (domain.Session, error) {
	if m.SignupFunc != nil {
		return m.SignupFunc(ctx, p)
	}
	return domain.Session{ID: "sid-1", UserID: "user-1", ExpirationDate: time.Now().Add(session.Lifetime)}, nil
}

func (m *MockAuthService) Login(ctx context.Context, username, password, twoFactorCode string) (domain.Session, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, username, password, twoFactorCode)
	}
	return domain.Session{ID: "sid-1", UserID: "user-1", ExpirationDate: time.Now().Add(session.Lifetime)}, nil
}

func (m *MockAuthService) ResetPassword(ctx context.Context, username, newPassword string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, username, newPassword)
	}
	return nil
}

func (m *MockAuthService) ChangeEmail(ctx context.Context, userID, newEmail string) error {
	if m.ChangeEmailFunc != nil {
		return m.ChangeEmailFunc(ctx, userID, newEmail)
	}
	return nil
}

func (m *MockAuthService) Find(ctx context.Context, usernameOrEmail string) (domain.User, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, usernameOrEmail)
	}
	return domain.User{ID: "user-1", Email: "user@example.com", Username: "user"}, nil
}

func (m *MockAuthService) EmailTaken(ctx context.Context, email string) (bool, error) {
	if m.EmailTakenFunc != nil {
		return m.EmailTakenFunc(ctx, email)
	}
	return false, nil
}

func (m *MockAuthService) User(ctx context.Context, userID string) (domain.User, error) {
	if m.UserFunc != nil {
		return m.UserFunc(ctx, userID)
	}
	return domain.User{ID: userID, Email: "user@example.com", Username: "user"}, nil
}

type MockVerifier struct {
	PrepareFunc         func(ctx context.Context, p service.PrepareParams) (*url.URL, *url.URL, error)
	ValidateRequestFunc func(ctx context.Context, values url.Values) (service.Result, error)
	LiveSecretFunc      func(ctx context.Context, target string, typ domain.VerificationType) (domain.Verification, error)
	DiscardFunc         func(ctx context.Context, target string, typ domain.VerificationType) error
}

func (m *MockVerifier) Prepare(ctx context.Context, p service.PrepareParams) (*url.URL, *url.URL, error) {
	if m.PrepareFunc != nil {
		return m.PrepareFunc(ctx, p)
	}
	redirectTo, _ := url.Parse("https://auth.example.com/verify?type=" + string(p.Type) + "&target=" + url.QueryEscape(p.Target))
	verifyURL, _ := url.Parse(redirectTo.String() + "&code=ABC123")
	return redirectTo, verifyURL, nil
}

func (m *MockVerifier) ValidateRequest(ctx context.Context, values url.Values) (service.Result, error) {
	if m.ValidateRequestFunc != nil {
		return m.ValidateRequestFunc(ctx, values)
	}
	return service.Result{Status: http.StatusSeeOther, Redirect: "/"}, nil
}

func (m *MockVerifier) LiveSecret(ctx context.Context, target string, typ domain.VerificationType) (domain.Verification, error) {
	if m.LiveSecretFunc != nil {
		return m.LiveSecretFunc(ctx, target, typ)
	}
	return domain.Verification{
		Type: typ, Target: target,
		Secret: "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP", Algorithm: "SHA-256", Digits: 6, Period: 30,
		CharSet: "ABCDEFGHJKLMNPQRSTUVWXYZ123456789",
	}, nil
}

func (m *MockVerifier) Discard(ctx context.Context, target string, typ domain.VerificationType) error {
	if m.DiscardFunc != nil {
		return m.DiscardFunc(ctx, target, typ)
	}
	return nil
}

type MockSender struct {
	SendFunc func(recipientEmail, subject, body string) error
	Sent     []string // recipients, in order
}

func (m *MockSender) Send(recipientEmail, subject, body string) error {
	m.Sent = append(m.Sent, recipientEmail)
	if m.SendFunc != nil {
		return m.SendFunc(recipientEmail, subject, body)
	}
	return nil
}

type MockPinger struct {
	PingFunc func(ctx context.Context) error
}

func (m *MockPinger) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

type MockSessionStorage struct {
	DeletedIDs []string
}

func (m *MockSessionStorage) SaveSession(ctx context.Context, s domain.Session) error { return nil }

func (m *MockSessionStorage) LiveSession(ctx context.Context, id string) (domain.Session, error) {
	return domain.Session{}, notFound("Session")
}

func (m *MockSessionStorage) DeleteSession(ctx context.Context, id string) error {
	m.DeletedIDs = append(m.DeletedIDs, id)
	return nil
}

// testHandler bundles the handler with the collaborators tests poke at.
type testHandler struct {
	*Handler
	auth     *MockAuthService
	verifier *MockVerifier
	sender   *MockSender
	codec    *session.Codec
	sessions *session.Manager
	store    *MockSessionStorage
}

func newTestHandler(t *testing.T) *testHandler {
	t.Helper()
	codec, err := session.NewCodec([]string{"test-secret"}, false)
	require.NoError(t, err)
	store := &MockSessionStorage{}
	sessions := session.NewManager(store, codec)

	auth := &MockAuthService{}
	verifier := &MockVerifier{}
	sender := &MockSender{}

	h := New(auth, verifier, sessions, codec, sender, &MockPinger{}, "Gatehouse")
	return &testHandler{Handler: h, auth: auth, verifier: verifier, sender: sender, codec: codec, sessions: sessions, store: store}
}

func formRequest(path string, form url.Values) *http.Request {
	r, _ := http.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID))
}
