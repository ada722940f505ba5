package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
// Concurrent signups racing on the same email/username land here and come
// back as field-level validation errors, not 500s.
const uniqueViolation = "23505"

// =========================================================================
// Public Methods (satisfy the service storage interfaces)
// =========================================================================

// CreateUser inserts the user and its credential atomically.
func (s *Storage) CreateUser(ctx context.Context, user domain.User, passwordHash string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.saveUser(ctx, tx, user); err != nil {
			return err
		}
		return s.saveCredential(ctx, tx, user.ID, passwordHash)
	})
}

func (s *Storage) UserByID(ctx context.Context, id string) (domain.User, error) {
	return s.user(ctx, s.db, "id = $1", id)
}

func (s *Storage) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.user(ctx, s.db, "username = $1", username)
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.user(ctx, s.db, "email = $1", email)
}

func (s *Storage) CredentialByUserID(ctx context.Context, userID string) (domain.Credential, error) {
	var cred domain.Credential
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, password_hash, updated_at FROM credentials WHERE user_id = $1", userID,
	).Scan(&cred.UserID, &cred.PasswordHash, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Credential{}, &internal_errors.ErrorWithStatusCode{Message: "Credential not found", StatusCode: http.StatusNotFound}
		}
		return domain.Credential{}, fmt.Errorf("failed to query credential: %w", err)
	}
	return cred, nil
}

// UpdatePassword replaces the stored hash wholesale; the old hash is gone.
func (s *Storage) UpdatePassword(ctx context.Context, userID, newHash string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.updatePassword(ctx, tx, userID, newHash)
	})
}

// UpdateEmail changes the user's email, normalizing is the caller's job.
func (s *Storage) UpdateEmail(ctx context.Context, userID, newEmail string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.updateEmail(ctx, tx, userID, newEmail)
	})
}

// =========================================================================
// Internal Methods (Core Database Logic)
// These methods accept a Querier and are transaction-agnostic.
// =========================================================================

func (s *Storage) saveUser(ctx context.Context, q Querier, user domain.User) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO users(id, email, username, name, roles) VALUES($1, $2, $3, $4, $5)",
		user.ID, user.Email, user.Username, user.Name, pq.Array(user.Roles))
	if err != nil {
		if field, ok := uniqueViolationField(err); ok {
			return internal_errors.NewFieldError(field, "A user already exists with this "+field)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Storage) saveCredential(ctx context.Context, q Querier, userID, passwordHash string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO credentials(user_id, password_hash) VALUES($1, $2)",
		userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (s *Storage) user(ctx context.Context, q Querier, where string, arg any) (domain.User, error) {
	var user domain.User
	var roles pq.StringArray
	err := q.QueryRowContext(ctx,
		"SELECT id, email, username, name, roles, created_at FROM users WHERE "+where, arg,
	).Scan(&user.ID, &user.Email, &user.Username, &user.Name, &roles, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "User not found", StatusCode: http.StatusNotFound}
		}
		return domain.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.Roles = roles
	return user, nil
}

func (s *Storage) updatePassword(ctx context.Context, q Querier, userID, newHash string) error {
	result, err := q.ExecContext(ctx,
		"UPDATE credentials SET password_hash = $1, updated_at = now() WHERE user_id = $2",
		newHash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows for password update: %w", err)
	}
	if rowsAffected == 0 {
		return &internal_errors.ErrorWithStatusCode{Message: "User not found for password update", StatusCode: http.StatusNotFound}
	}
	return nil
}

func (s *Storage) updateEmail(ctx context.Context, q Querier, userID, newEmail string) error {
	result, err := q.ExecContext(ctx,
		"UPDATE users SET email = $1 WHERE id = $2", newEmail, userID)
	if err != nil {
		if field, ok := uniqueViolationField(err); ok {
			return internal_errors.NewFieldError(field, "A user already exists with this "+field)
		}
		return fmt.Errorf("failed to update email: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows for email update: %w", err)
	}
	if rowsAffected == 0 {
		return &internal_errors.ErrorWithStatusCode{Message: "User not found for email update", StatusCode: http.StatusNotFound}
	}
	return nil
}

// uniqueViolationField maps a unique-constraint violation to the form field
// it belongs to.
func uniqueViolationField(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return "", false
	}
	switch pqErr.Constraint {
	case "users_email_key":
		return "email", true
	case "users_username_key":
		return "username", true
	}
	return "", false
}
