package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *IdentityRepository) ListBackupCodes(ctx context.Context, identityID string) ([]*models.BackupCode, error) {
	query := `
		SELECT id, identity_id, code_hash, used_at, created_at
		FROM backup_codes WHERE identity_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool.Query(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup codes: %w", err)
	}
	defer rows.Close()

	codes := make([]*models.BackupCode, 0)
	for rows.Next() {
		var code models.BackupCode
		if err := rows.Scan(&code.ID, &code.IdentityID, &code.CodeHash, &code.UsedAt, &code.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, &code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return codes, nil
}

func (r *IdentityRepository) ReplaceBackupCodes(ctx context.Context, identityID string, version int, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			UPDATE identities SET version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $2 AND mfa_enabled = TRUE
			RETURNING id`, identityID, version).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missOrConflict(ctx, tx, identityID)
		}
		if err != nil {
			return database.MapPostgresError(err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE identity_id = $1`, identityID); err != nil {
			return database.MapPostgresError(err)
		}
		return insertBackupCodes(ctx, tx, identityID, codeHashes)
	})
}

// ConsumeBackupCode is a single conditional update so only one caller can win a code
func (r *IdentityRepository) ConsumeBackupCode(ctx context.Context, codeID string, at time.Time) (bool, error) {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE backup_codes SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, at, codeID)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

func insertBackupCodes(ctx context.Context, tx pgx.Tx, identityID string, codeHashes []string) error {
	batch := &pgx.Batch{}
	now := time.Now()
	for i, hash := range codeHashes {
		// stagger created_at so listing order matches issue order
		batch.Queue(`INSERT INTO backup_codes (id, identity_id, code_hash, created_at) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), identityID, hash, now.Add(time.Duration(i)*time.Microsecond))
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert backup codes: %w", database.MapPostgresError(err))
	}
	return nil
}
