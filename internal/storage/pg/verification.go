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

// UpsertVerification writes a verification record keyed by (target, type),
// overwriting any previous record for that pair. There is never more than
// one outstanding code per pair; issuing a new one invalidates the old one.
func (s *Storage) UpsertVerification(ctx context.Context, v domain.Verification) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertVerification(ctx, tx, v)
	})
}

// LiveVerification fetches the record for (target, type) while it is still
// redeemable: expires_at in the future, or NULL for standing secrets.
func (s *Storage) LiveVerification(ctx context.Context, target string, typ domain.VerificationType) (domain.Verification, error) {
	return s.liveVerification(ctx, s.db, target, typ)
}

// DeleteVerification removes the record for (target, type), reporting
// not-found when nothing was there to delete.
func (s *Storage) DeleteVerification(ctx context.Context, target string, typ domain.VerificationType) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteVerification(ctx, tx, target, typ)
	})
}

// RedeemVerification consumes a single-use record and runs finalize in the
// same transaction scope. The delete only commits after finalize succeeds,
// so a crash mid-redemption leaves the code redeemable instead of losing the
// flow; a concurrent second redemption loses the race on the row delete.
func (s *Storage) RedeemVerification(ctx context.Context, target string, typ domain.VerificationType, finalize func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteVerification(ctx, tx, target, typ); err != nil {
			return err
		}
		if finalize != nil {
			return finalize(ctx)
		}
		return nil
	})
}

// =========================================================================
// Internal Methods (Core Database Logic)
// =========================================================================

func (s *Storage) upsertVerification(ctx context.Context, q Querier, v domain.Verification) error {
	_, err := q.ExecContext(ctx, `
        INSERT INTO verifications(target, type, secret, algorithm, digits, period, charset, payload, expires_at)
        VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (target, type) DO UPDATE SET
            secret = EXCLUDED.secret,
            algorithm = EXCLUDED.algorithm,
            digits = EXCLUDED.digits,
            period = EXCLUDED.period,
            charset = EXCLUDED.charset,
            payload = EXCLUDED.payload,
            expires_at = EXCLUDED.expires_at,
            created_at = now()`,
		v.Target, string(v.Type), v.Secret, v.Algorithm, v.Digits, v.Period, v.CharSet, v.Payload, v.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert verification: %w", err)
	}
	return nil
}

func (s *Storage) liveVerification(ctx context.Context, q Querier, target string, typ domain.VerificationType) (domain.Verification, error) {
	var v domain.Verification
	var typRaw string
	var expiresAt sql.NullTime
	err := q.QueryRowContext(ctx, `
        SELECT target, type, secret, algorithm, digits, period, charset, payload, expires_at, created_at
        FROM verifications
        WHERE target = $1 AND type = $2 AND (expires_at IS NULL OR expires_at > now())`,
		target, string(typ),
	).Scan(&v.Target, &typRaw, &v.Secret, &v.Algorithm, &v.Digits, &v.Period, &v.CharSet, &v.Payload, &expiresAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Verification{}, &internal_errors.ErrorWithStatusCode{Message: "Verification not found", StatusCode: http.StatusNotFound}
		}
		return domain.Verification{}, fmt.Errorf("failed to query verification: %w", err)
	}
	v.Type = domain.VerificationType(typRaw)
	if expiresAt.Valid {
		t := expiresAt.Time
		v.ExpiresAt = &t
	}
	return v, nil
}

func (s *Storage) deleteVerification(ctx context.Context, q Querier, target string, typ domain.VerificationType) error {
	result, err := q.ExecContext(ctx,
		"DELETE FROM verifications WHERE target = $1 AND type = $2", target, string(typ))
	if err != nil {
		return fmt.Errorf("failed to delete verification: %w", err)
	}
	rowsDeleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows for verification deletion: %w", err)
	}
	if rowsDeleted == 0 {
		return &internal_errors.ErrorWithStatusCode{Message: "Verification not found for deletion", StatusCode: http.StatusNotFound}
	}
	return nil
}
