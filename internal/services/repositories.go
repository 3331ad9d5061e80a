package services

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// IdentityRepository persists identities. Mutations that take a version
// fail with models.ErrConcurrentUpdate when the stored version has moved on.
type IdentityRepository interface {
	Create(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	List(ctx context.Context) ([]*models.Identity, error)
	Update(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	Delete(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id string, at time.Time) error

	// ClaimTOTPStep records step as used if it is newer than the last accepted one
	ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error)

	// EnableMFA promotes secret, stores the initial backup-code batch and marks step used, atomically
	EnableMFA(ctx context.Context, id string, version int, secret *models.EncryptedSecret, step int64, codeHashes []string) (*models.Identity, error)

	// DisableMFA erases secret, pending secret and every backup code, atomically
	DisableMFA(ctx context.Context, id string, version int) (*models.Identity, error)
}

// BackupCodeRepository stores hashed backup codes owned by an identity
type BackupCodeRepository interface {
	ListBackupCodes(ctx context.Context, identityID string) ([]*models.BackupCode, error)

	// ReplaceBackupCodes swaps the whole batch. The identity must have MFA enabled.
	ReplaceBackupCodes(ctx context.Context, identityID string, version int, codeHashes []string) error

	// ConsumeBackupCode marks an unused code as used. Returns false if it was already used.
	ConsumeBackupCode(ctx context.Context, codeID string, at time.Time) (bool, error)
}

// RateLimitRepository defines the interface for login-attempt persistence
type RateLimitRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttemptRecord) error
	GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error)
	GetRecentFailureTime(ctx context.Context, email string, since time.Time) (*time.Time, error)
	GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	GetFailedAttemptCountByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error)
}

// MFAAttemptRepository stores second-factor attempts that have not been
// cleared by a success
type MFAAttemptRepository interface {
	// ReserveAttempt stores attempt only while fewer than limit attempts exist
	// since the given time. The count and the insert are atomic per identity.
	ReserveAttempt(ctx context.Context, attempt *models.MFAAttempt, since time.Time, limit int) (bool, error)
	ResetFailures(ctx context.Context, identityID string) error
}
