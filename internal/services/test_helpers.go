package services

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// MockIdentityRepository implements IdentityRepository for testing
type MockIdentityRepository struct {
	CreateFunc        func(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.Identity, error)
	GetByEmailFunc    func(ctx context.Context, email string) (*models.Identity, error)
	ListFunc          func(ctx context.Context) ([]*models.Identity, error)
	UpdateFunc        func(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	DeleteFunc        func(ctx context.Context, id string) error
	RecordLoginFunc   func(ctx context.Context, id string, at time.Time) error
	ClaimTOTPStepFunc func(ctx context.Context, id string, step int64) (bool, error)
	EnableMFAFunc     func(ctx context.Context, id string, version int, secret *models.EncryptedSecret, step int64, codeHashes []string) (*models.Identity, error)
	DisableMFAFunc    func(ctx context.Context, id string, version int) (*models.Identity, error)
}

func (m *MockIdentityRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, identity)
	}
	return nil, models.ErrInternalServer
}

func (m *MockIdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityRepository) List(ctx context.Context) ([]*models.Identity, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []*models.Identity{}, nil
}

func (m *MockIdentityRepository) Update(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, identity)
	}
	return nil, models.ErrInternalServer
}

func (m *MockIdentityRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockIdentityRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, id, at)
	}
	return nil
}

func (m *MockIdentityRepository) ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	if m.ClaimTOTPStepFunc != nil {
		return m.ClaimTOTPStepFunc(ctx, id, step)
	}
	return true, nil
}

func (m *MockIdentityRepository) EnableMFA(ctx context.Context, id string, version int, secret *models.EncryptedSecret, step int64, codeHashes []string) (*models.Identity, error) {
	if m.EnableMFAFunc != nil {
		return m.EnableMFAFunc(ctx, id, version, secret, step, codeHashes)
	}
	return nil, models.ErrInternalServer
}

func (m *MockIdentityRepository) DisableMFA(ctx context.Context, id string, version int) (*models.Identity, error) {
	if m.DisableMFAFunc != nil {
		return m.DisableMFAFunc(ctx, id, version)
	}
	return nil, models.ErrInternalServer
}

// MockBackupCodeRepository implements BackupCodeRepository for testing
type MockBackupCodeRepository struct {
	ListBackupCodesFunc    func(ctx context.Context, identityID string) ([]*models.BackupCode, error)
	ReplaceBackupCodesFunc func(ctx context.Context, identityID string, version int, codeHashes []string) error
	ConsumeBackupCodeFunc  func(ctx context.Context, codeID string, at time.Time) (bool, error)
}

func (m *MockBackupCodeRepository) ListBackupCodes(ctx context.Context, identityID string) ([]*models.BackupCode, error) {
	if m.ListBackupCodesFunc != nil {
		return m.ListBackupCodesFunc(ctx, identityID)
	}
	return []*models.BackupCode{}, nil
}

func (m *MockBackupCodeRepository) ReplaceBackupCodes(ctx context.Context, identityID string, version int, codeHashes []string) error {
	if m.ReplaceBackupCodesFunc != nil {
		return m.ReplaceBackupCodesFunc(ctx, identityID, version, codeHashes)
	}
	return nil
}

func (m *MockBackupCodeRepository) ConsumeBackupCode(ctx context.Context, codeID string, at time.Time) (bool, error) {
	if m.ConsumeBackupCodeFunc != nil {
		return m.ConsumeBackupCodeFunc(ctx, codeID, at)
	}
	return false, nil
}

// MockRateLimitRepository implements RateLimitRepository for testing
type MockRateLimitRepository struct {
	RecordAttemptFunc                 func(ctx context.Context, attempt *models.LoginAttemptRecord) error
	GetFailedAttemptCountFunc         func(ctx context.Context, email string, since time.Time) (int, error)
	GetRecentFailureTimeFunc          func(ctx context.Context, email string, since time.Time) (*time.Time, error)
	GetFailedAttemptCountByIPFunc     func(ctx context.Context, ipAddress string, since time.Time) (int, error)
	GetFailedAttemptCountByDeviceFunc func(ctx context.Context, fingerprint string, since time.Time) (int, error)
}

func (m *MockRateLimitRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttemptRecord) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockRateLimitRepository) GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error) {
	if m.GetFailedAttemptCountFunc != nil {
		return m.GetFailedAttemptCountFunc(ctx, email, since)
	}
	return 0, nil
}

func (m *MockRateLimitRepository) GetRecentFailureTime(ctx context.Context, email string, since time.Time) (*time.Time, error) {
	if m.GetRecentFailureTimeFunc != nil {
		return m.GetRecentFailureTimeFunc(ctx, email, since)
	}
	return nil, nil
}

func (m *MockRateLimitRepository) GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.GetFailedAttemptCountByIPFunc != nil {
		return m.GetFailedAttemptCountByIPFunc(ctx, ipAddress, since)
	}
	return 0, nil
}

func (m *MockRateLimitRepository) GetFailedAttemptCountByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	if m.GetFailedAttemptCountByDeviceFunc != nil {
		return m.GetFailedAttemptCountByDeviceFunc(ctx, fingerprint, since)
	}
	return 0, nil
}
