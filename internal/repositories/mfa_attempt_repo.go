package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// MFAAttemptRepository stores failed second-factor attempts
type MFAAttemptRepository struct {
	db *database.DB
}

func NewMFAAttemptRepository(db *database.DB) *MFAAttemptRepository {
	return &MFAAttemptRepository{db: db}
}

// ReserveAttempt serialises reservations per identity with a transaction-scoped
// advisory lock, then counts and inserts under it
func (r *MFAAttemptRepository) ReserveAttempt(ctx context.Context, attempt *models.MFAAttempt, since time.Time, limit int) (bool, error) {
	reserved := false

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, attempt.IdentityID); err != nil {
			return fmt.Errorf("failed to lock mfa attempts: %w", database.MapPostgresError(err))
		}

		var count int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM mfa_attempts WHERE identity_id = $1 AND attempted_at >= $2`,
			attempt.IdentityID, since,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to count MFA attempts: %w", database.MapPostgresError(err))
		}
		if count >= limit {
			return nil
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO mfa_attempts (identity_id, ip_address, attempted_at)
			VALUES ($1, $2, NOW())
			RETURNING id::text, attempted_at
		`, attempt.IdentityID, attempt.IPAddress).Scan(&attempt.ID, &attempt.AttemptedAt)
		if err != nil {
			return fmt.Errorf("failed to record MFA attempt: %w", database.MapPostgresError(err))
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

func (r *MFAAttemptRepository) ResetFailures(ctx context.Context, identityID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM mfa_attempts WHERE identity_id = $1`, identityID)
	return database.MapPostgresError(err)
}

func (r *MFAAttemptRepository) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM mfa_attempts WHERE attempted_at < $1`, threshold)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
