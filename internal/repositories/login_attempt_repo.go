package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository stores login attempts for rate limiting
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttemptRecord) error {
	query := `
		INSERT INTO login_attempts (email, ip_address, user_agent, success, failure_reason, device_fingerprint, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.FailureReason,
		attempt.DeviceFingerprint,
		attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

func (r *LoginAttemptRepository) count(ctx context.Context, column, value string, since time.Time) (int, error) {
	// column comes from the fixed set below, never from input
	query := `SELECT COUNT(*) FROM login_attempts WHERE ` + column + ` = $1 AND success = false AND attempt_time >= $2`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, value, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

func (r *LoginAttemptRepository) GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error) {
	return r.count(ctx, "email", email, since)
}

func (r *LoginAttemptRepository) GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	return r.count(ctx, "ip_address", ipAddress, since)
}

func (r *LoginAttemptRepository) GetFailedAttemptCountByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	return r.count(ctx, "device_fingerprint", fingerprint, since)
}

// GetRecentFailureTime returns the most recent failed attempt for an email, or nil
func (r *LoginAttemptRepository) GetRecentFailureTime(ctx context.Context, email string, since time.Time) (*time.Time, error) {
	query := `
		SELECT attempt_time FROM login_attempts
		WHERE email = $1 AND success = false AND attempt_time >= $2
		ORDER BY attempt_time DESC
		LIMIT 1
	`

	var failureTime time.Time
	err := r.db.Pool.QueryRow(ctx, query, email, since).Scan(&failureTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &failureTime, nil
}

func (r *LoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
