package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
	"github.com/gatehouse-dev/gatehouse/internal/logger"
	"github.com/gatehouse-dev/gatehouse/internal/session"
)

// bcryptCost is fixed; changing it only affects newly written hashes.
const bcryptCost = 10

// invalidCredentials is deliberately attached to the whole form: it must not
// reveal whether the username or the password was wrong.
const invalidCredentials = "Invalid username or password"

type AuthStorage interface {
	CreateUser(ctx context.Context, user domain.User, passwordHash string) error
	UserByID(ctx context.Context, id string) (domain.User, error)
	UserByUsername(ctx context.Context, username string) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	CredentialByUserID(ctx context.Context, userID string) (domain.Credential, error)
	UpdatePassword(ctx context.Context, userID, newHash string) error
	UpdateEmail(ctx context.Context, userID, newEmail string) error
	DeleteSessionsByUserID(ctx context.Context, userID string) error
	LiveVerification(ctx context.Context, target string, typ domain.VerificationType) (domain.Verification, error)
}

// BreachChecker is advisory: implementations resolve any internal failure to
// false rather than surfacing it.
type BreachChecker interface {
	IsCommonPassword(ctx context.Context, password string) bool
}

// CodeValidator validates a standing two-factor code at login time.
type CodeValidator interface {
	IsCodeValid(ctx context.Context, code string, typ domain.VerificationType, target string) bool
}

type Auth struct {
	storage  AuthStorage
	breach   BreachChecker
	sessions *session.Manager
	codes    CodeValidator
}

func NewAuth(storage AuthStorage, breach BreachChecker, sessions *session.Manager, codes CodeValidator) *Auth {
	return &Auth{storage: storage, breach: breach, sessions: sessions, codes: codes}
}

type SignupParams struct {
	Email    string
	Username string
	Name     string
	Password string
}

// Signup creates the user, its credential and a fresh session. Duplicate
// email/username surfaces as a field-level validation error from storage.
func (a *Auth) Signup(ctx context.Context, p SignupParams) (domain.Session, error) {
	email := strings.ToLower(p.Email)
	username := strings.ToLower(p.Username)

	if a.breach != nil && a.breach.IsCommonPassword(ctx, p.Password) {
		return domain.Session{}, internal_errors.NewFieldError("password", "Password has appeared in data breaches, pick a different one")
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return domain.Session{}, err
	}

	user := domain.User{
		ID:       uuid.NewString(),
		Email:    email,
		Username: username,
		Name:     p.Name,
		Roles:    []string{domain.RoleUser},
	}
	if err := a.storage.CreateUser(ctx, user, hash); err != nil {
		return domain.Session{}, err
	}

	sess, err := a.sessions.Create(ctx, user.ID)
	if err != nil {
		return domain.Session{}, err
	}

	logger.Log.Info("user signed up", "user_id", user.ID)
	return sess, nil
}

// Login verifies credentials and, when the account carries a standing
// two-factor secret, the supplied code, then opens a new session.
func (a *Auth) Login(ctx context.Context, username, password, twoFactorCode string) (domain.Session, error) {
	username = strings.ToLower(username)

	user, err := a.storage.UserByUsername(ctx, username)
	if err != nil {
		if internal_errors.IsNotFound(err) {
			return domain.Session{}, invalidCredentialsError()
		}
		return domain.Session{}, err
	}

	cred, err := a.storage.CredentialByUserID(ctx, user.ID)
	if err != nil {
		if internal_errors.IsNotFound(err) {
			return domain.Session{}, invalidCredentialsError()
		}
		return domain.Session{}, err
	}

	if !VerifyPassword(password, cred.PasswordHash) {
		return domain.Session{}, invalidCredentialsError()
	}

	// A standing two-factor secret is re-validated on every login.
	if _, err := a.storage.LiveVerification(ctx, user.ID, domain.VerificationTwoFactor); err == nil {
		if !a.codes.IsCodeValid(ctx, twoFactorCode, domain.VerificationTwoFactor, user.ID) {
			return domain.Session{}, internal_errors.NewFieldError("code", "Invalid two-factor code")
		}
	} else if !internal_errors.IsNotFound(err) {
		return domain.Session{}, err
	}

	sess, err := a.sessions.Create(ctx, user.ID)
	if err != nil {
		return domain.Session{}, err
	}

	logger.Log.Info("user logged in", "user_id", user.ID)
	return sess, nil
}

// ResetPassword replaces the credential hash wholesale and revokes every
// live session of the user.
func (a *Auth) ResetPassword(ctx context.Context, username, newPassword string) error {
	username = strings.ToLower(username)

	user, err := a.storage.UserByUsername(ctx, username)
	if err != nil {
		return err
	}

	if a.breach != nil && a.breach.IsCommonPassword(ctx, newPassword) {
		return internal_errors.NewFieldError("password", "Password has appeared in data breaches, pick a different one")
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := a.storage.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := a.storage.DeleteSessionsByUserID(ctx, user.ID); err != nil {
		return err
	}

	logger.Log.Info("password reset", "user_id", user.ID)
	return nil
}

// ChangeEmail applies a verified email change.
func (a *Auth) ChangeEmail(ctx context.Context, userID, newEmail string) error {
	if err := a.storage.UpdateEmail(ctx, userID, strings.ToLower(newEmail)); err != nil {
		return err
	}
	logger.Log.Info("email changed", "user_id", userID)
	return nil
}

// User fetches the account behind a resolved session.
func (a *Auth) User(ctx context.Context, userID string) (domain.User, error) {
	return a.storage.UserByID(ctx, userID)
}

// Find resolves an account by username or email address.
func (a *Auth) Find(ctx context.Context, usernameOrEmail string) (domain.User, error) {
	login := strings.ToLower(usernameOrEmail)
	if strings.Contains(login, "@") {
		return a.storage.UserByEmail(ctx, login)
	}
	return a.storage.UserByUsername(ctx, login)
}

// EmailTaken reports whether an account already uses email.
func (a *Auth) EmailTaken(ctx context.Context, email string) (bool, error) {
	_, err := a.storage.UserByEmail(ctx, strings.ToLower(email))
	if err == nil {
		return true, nil
	}
	if internal_errors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func invalidCredentialsError() *internal_errors.FieldErrors {
	e := internal_errors.NewFieldError(internal_errors.FormField, invalidCredentials)
	e.StatusCode = http.StatusBadRequest
	return e
}

// HashPassword derives the stored credential hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		logger.Log.Error("failed to hash password", "error", err)
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares in constant time.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
