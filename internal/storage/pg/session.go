package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
)

// SaveSession inserts a new session row.
func (s *Storage) SaveSession(ctx context.Context, session domain.Session) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions(id, user_id, expiration_date, created_at) VALUES($1, $2, $3, $4)",
		session.ID, session.UserID, session.ExpirationDate, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// LiveSession fetches a session only while its expiration date is in the
// future; expired rows behave exactly like absent ones.
func (s *Storage) LiveSession(ctx context.Context, id string) (domain.Session, error) {
	var session domain.Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, expiration_date, created_at FROM sessions WHERE id = $1 AND expiration_date > now()",
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpirationDate, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, &internal_errors.ErrorWithStatusCode{Message: "Session not found", StatusCode: http.StatusNotFound}
		}
		return domain.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session row. Deleting an absent row is not an
// error: the end state is the same.
func (s *Storage) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteSessionsByUserID removes every session of a user, e.g. after a
// password reset.
func (s *Storage) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}
