package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/database"
)

// SessionRevocationRepository is the Postgres revoked-session list
type SessionRevocationRepository struct {
	db *database.DB
}

func NewSessionRevocationRepository(db *database.DB) *SessionRevocationRepository {
	return &SessionRevocationRepository{db: db}
}

// RevokeSession is idempotent for a given jti
func (r *SessionRevocationRepository) RevokeSession(ctx context.Context, jti, identityID, tokenType string, expiresAt time.Time, reason string) error {
	query := `
		INSERT INTO revoked_sessions (jti, identity_id, token_type, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query, jti, identityID, tokenType, expiresAt, reason)
	return database.MapPostgresError(err)
}

func (r *SessionRevocationRepository) IsSessionRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_sessions WHERE jti = $1)`, jti).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// CleanupExpired removes entries whose tokens could no longer validate anyway
func (r *SessionRevocationRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM revoked_sessions WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
