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

const identityColumns = `id, email, username, password_hash, role, status, block_reason,
	must_change_password, secret_code_hash, mfa_enabled, mfa_secret, mfa_secret_nonce,
	mfa_pending_secret, mfa_pending_nonce, mfa_last_step, version,
	created_at, updated_at, last_login_at, password_changed_at`

// IdentityRepository is the Postgres store for identities and their backup codes
type IdentityRepository struct {
	db *database.DB
}

func NewIdentityRepository(db *database.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdentityRow(scanner rowScanner) (*models.Identity, error) {
	var identity models.Identity
	var secret, secretNonce, pending, pendingNonce []byte

	err := scanner.Scan(
		&identity.ID, &identity.Email, &identity.Username, &identity.PasswordHash,
		&identity.Role, &identity.Status, &identity.BlockReason,
		&identity.MustChangePassword, &identity.SecretCodeHash, &identity.MFAEnabled,
		&secret, &secretNonce, &pending, &pendingNonce, &identity.MFALastStep, &identity.Version,
		&identity.CreatedAt, &identity.UpdatedAt, &identity.LastLoginAt, &identity.PasswordChangedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if secret != nil {
		identity.MFASecret = &models.EncryptedSecret{Ciphertext: secret, Nonce: secretNonce}
	}
	if pending != nil {
		identity.MFAPendingSecret = &models.EncryptedSecret{Ciphertext: pending, Nonce: pendingNonce}
	}
	return &identity, nil
}

func sealedParts(s *models.EncryptedSecret) ([]byte, []byte) {
	if s == nil {
		return nil, nil
	}
	return s.Ciphertext, s.Nonce
}

func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	identity.ID = uuid.New().String()
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	identity.Version = 1

	if identity.Role == "" {
		identity.Role = models.RoleAdmin
	}
	if identity.Status == "" {
		identity.Status = models.StatusActive
	}

	query := `
		INSERT INTO identities (id, email, username, password_hash, role, status, must_change_password,
			secret_code_hash, version, created_at, updated_at, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + identityColumns

	return scanIdentityRow(r.db.Pool.QueryRow(ctx, query,
		identity.ID, identity.Email, identity.Username, identity.PasswordHash,
		identity.Role, identity.Status, identity.MustChangePassword,
		identity.SecretCodeHash, identity.Version, identity.CreatedAt, identity.UpdatedAt,
		identity.PasswordChangedAt,
	))
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return scanIdentityRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`
	return scanIdentityRow(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *IdentityRepository) List(ctx context.Context) ([]*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	identities := make([]*models.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return identities, nil
}

// Update writes every mutable field when identity.Version matches the stored row
func (r *IdentityRepository) Update(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	pending, pendingNonce := sealedParts(identity.MFAPendingSecret)

	query := `
		UPDATE identities SET username = $1, password_hash = $2, role = $3, status = $4,
			block_reason = $5, must_change_password = $6, secret_code_hash = $7,
			mfa_pending_secret = $8, mfa_pending_nonce = $9, password_changed_at = $10,
			version = version + 1, updated_at = NOW()
		WHERE id = $11 AND version = $12
		RETURNING ` + identityColumns

	updated, err := scanIdentityRow(r.db.Pool.QueryRow(ctx, query,
		identity.Username, identity.PasswordHash, identity.Role, identity.Status,
		identity.BlockReason, identity.MustChangePassword, identity.SecretCodeHash,
		pending, pendingNonce, identity.PasswordChangedAt,
		identity.ID, identity.Version,
	))
	if errors.Is(err, models.ErrNotFound) {
		return nil, r.missOrConflict(ctx, r.db.Pool, identity.ID)
	}
	return updated, err
}

func (r *IdentityRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.Pool.Exec(ctx, `UPDATE identities SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE identities SET mfa_last_step = $1 WHERE id = $2 AND mfa_last_step < $1`, step, id)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *IdentityRepository) EnableMFA(ctx context.Context, id string, version int, secret *models.EncryptedSecret, step int64, codeHashes []string) (*models.Identity, error) {
	var enabled *models.Identity
	ciphertext, nonce := sealedParts(secret)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE identities SET mfa_enabled = TRUE, mfa_secret = $1, mfa_secret_nonce = $2,
				mfa_pending_secret = NULL, mfa_pending_nonce = NULL,
				mfa_last_step = GREATEST(mfa_last_step, $3),
				version = version + 1, updated_at = NOW()
			WHERE id = $4 AND version = $5 AND mfa_enabled = FALSE
			RETURNING ` + identityColumns

		var err error
		enabled, err = scanIdentityRow(tx.QueryRow(ctx, query, ciphertext, nonce, step, id, version))
		if errors.Is(err, models.ErrNotFound) {
			return r.missOrConflict(ctx, tx, id)
		}
		if err != nil {
			return err
		}
		return insertBackupCodes(ctx, tx, id, codeHashes)
	})
	if err != nil {
		return nil, err
	}
	return enabled, nil
}

func (r *IdentityRepository) DisableMFA(ctx context.Context, id string, version int) (*models.Identity, error) {
	var disabled *models.Identity

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE identities SET mfa_enabled = FALSE, mfa_secret = NULL, mfa_secret_nonce = NULL,
				mfa_pending_secret = NULL, mfa_pending_nonce = NULL,
				version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING ` + identityColumns

		var err error
		disabled, err = scanIdentityRow(tx.QueryRow(ctx, query, id, version))
		if errors.Is(err, models.ErrNotFound) {
			return r.missOrConflict(ctx, tx, id)
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM backup_codes WHERE identity_id = $1`, id)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, err
	}
	return disabled, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// missOrConflict distinguishes a deleted row from a version mismatch
func (r *IdentityRepository) missOrConflict(ctx context.Context, q querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists); err != nil {
		return database.MapPostgresError(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrConcurrentUpdate
}
