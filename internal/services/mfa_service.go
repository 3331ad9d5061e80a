package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// MFAService handles enrollment, disabling and backup-code management
type MFAService struct {
	identities   IdentityRepository
	totp         *auth.TOTPEngine
	vault        *BackupCodeVault
	secondFactor *SecondFactorVerifier
	limiter      MFAAttemptLimiter
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	now          func() time.Time
}

func NewMFAService(
	identities IdentityRepository,
	totp *auth.TOTPEngine,
	vault *BackupCodeVault,
	secondFactor *SecondFactorVerifier,
	limiter MFAAttemptLimiter,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *MFAService {
	return &MFAService{
		identities:   identities,
		totp:         totp,
		vault:        vault,
		secondFactor: secondFactor,
		limiter:      limiter,
		logger:       logger,
		auditLogger:  auditLogger,
		now:          time.Now,
	}
}

// StartEnrollment stores a pending secret and returns what the authenticator
// app needs. A custom Base32 secret may be supplied instead of a generated one.
// Calling it again replaces the pending secret.
func (s *MFAService) StartEnrollment(ctx context.Context, identityID, customSecret string) (*models.MFAEnrollment, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}

	var key *auth.TOTPKey
	if customSecret != "" {
		key, err = s.totp.ImportSecret(customSecret, identity.Email)
	} else {
		key, err = s.totp.NewSecret(identity.Email)
	}
	if err != nil {
		if errors.Is(err, models.ErrSecretFormatInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create totp secret: %w", err)
	}

	sealed, err := s.totp.EncryptSecret(key.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal totp secret: %w", err)
	}

	qr, err := auth.QRCodeDataURL(key.URL)
	if err != nil {
		return nil, err
	}

	identity.MFAPendingSecret = sealed
	if _, err := s.identities.Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to store pending secret: %w", err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventMFAEnrollStarted,
		UserID:    identity.ID,
		Success:   true,
		Metadata:  map[string]string{"custom_secret": fmt.Sprintf("%t", customSecret != "")},
	})

	return &models.MFAEnrollment{
		Secret:     key.Secret,
		OTPAuthURL: key.URL,
		QRCode:     qr,
	}, nil
}

// ConfirmEnrollment checks code against the pending secret, then enables MFA
// and stores the first backup-code batch in one step. The plaintext codes are
// returned once.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, identityID, code string) ([]string, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}
	if identity.MFAPendingSecret == nil {
		return nil, models.ErrMFASetupNotFound
	}
	if err := s.reserveAttempt(ctx, identity.ID); err != nil {
		return nil, err
	}

	secret, err := s.totp.DecryptSecret(identity.MFAPendingSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open pending secret: %w", err)
	}

	step, ok := s.totp.MatchStep(secret, code, s.now())
	if !ok || step <= identity.MFALastStep {
		s.auditFailure(ctx, identity.ID, pkglogger.EventMFAEnabled)
		return nil, models.ErrInvalidMFACode
	}

	plain, hashes, err := s.vault.Generate()
	if err != nil {
		return nil, err
	}

	if _, err := s.identities.EnableMFA(ctx, identity.ID, identity.Version, identity.MFAPendingSecret, step, hashes); err != nil {
		return nil, fmt.Errorf("failed to enable mfa: %w", err)
	}

	s.resetLimiter(ctx, identity.ID)
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventMFAEnabled,
		UserID:    identity.ID,
		Success:   true,
	})
	return plain, nil
}

// Disable requires the current password and a valid second factor. On any
// failure the MFA state is left as it was.
func (s *MFAService) Disable(ctx context.Context, identityID, password, code string) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if !identity.MFAEnabled {
		return models.ErrMFANotEnabled
	}
	if err := s.reserveAttempt(ctx, identity.ID); err != nil {
		return err
	}

	if pkgauth.ComparePassword(identity.PasswordHash, password) != nil {
		s.auditFailure(ctx, identity.ID, pkglogger.EventMFADisabled)
		return models.ErrInvalidCredentials
	}

	// DisableMFA drops every backup code in the same version-checked write
	factor, ok, err := s.secondFactor.Match(ctx, identity, code)
	if err != nil {
		return fmt.Errorf("failed to verify second factor: %w", err)
	}
	if !ok {
		s.auditFailure(ctx, identity.ID, pkglogger.EventMFADisabled)
		return models.ErrInvalidMFACode
	}

	if _, err := s.identities.DisableMFA(ctx, identity.ID, identity.Version); err != nil {
		return fmt.Errorf("failed to disable mfa: %w", err)
	}

	s.resetLimiter(ctx, identity.ID)
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventMFADisabled,
		UserID:    identity.ID,
		Success:   true,
		Metadata:  map[string]string{"factor": factor},
	})
	return nil
}

// RegenerateBackupCodes replaces the whole batch. Only an authenticator code
// is accepted, so a leaked backup code cannot mint new ones.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, identityID, totpCode string) ([]string, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if !identity.MFAEnabled {
		return nil, models.ErrMFANotEnabled
	}
	if err := s.reserveAttempt(ctx, identity.ID); err != nil {
		return nil, err
	}

	ok, err := s.secondFactor.VerifyTOTP(ctx, identity, totpCode)
	if err != nil {
		return nil, fmt.Errorf("failed to verify totp code: %w", err)
	}
	if !ok {
		s.auditFailure(ctx, identity.ID, pkglogger.EventBackupCodesRenewed)
		return nil, models.ErrInvalidMFACode
	}

	codes, err := s.vault.Issue(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.resetLimiter(ctx, identity.ID)
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventBackupCodesRenewed,
		UserID:    identity.ID,
		Success:   true,
	})
	return codes, nil
}

// BackupCodeStatus reports per-slot usage. An identity without MFA has an empty batch.
func (s *MFAService) BackupCodeStatus(ctx context.Context, identityID string) (*models.BackupCodeStatus, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if !identity.MFAEnabled {
		return &models.BackupCodeStatus{Codes: []models.BackupCodeSlot{}}, nil
	}
	return s.vault.Status(ctx, identity.ID)
}

// Reset clears MFA without presenting any factor. Used by super admins.
func (s *MFAService) Reset(ctx context.Context, identityID string) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if !identity.MFAEnabled && identity.MFAPendingSecret == nil {
		return nil
	}

	if _, err := s.identities.DisableMFA(ctx, identity.ID, identity.Version); err != nil {
		return fmt.Errorf("failed to reset mfa: %w", err)
	}
	s.resetLimiter(ctx, identity.ID)
	return nil
}

// reserveAttempt must succeed before any factor is evaluated
func (s *MFAService) reserveAttempt(ctx context.Context, identityID string) error {
	if err := s.limiter.Reserve(ctx, identityID, ""); err != nil {
		if errors.Is(err, models.ErrMFARateLimited) {
			return err
		}
		return fmt.Errorf("%w: mfa limiter: %v", models.ErrInternalServer, err)
	}
	return nil
}

func (s *MFAService) auditFailure(ctx context.Context, identityID, eventType string) {
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     eventType,
		UserID:        identityID,
		Success:       false,
		FailureReason: "invalid_factor",
	})
}

func (s *MFAService) resetLimiter(ctx context.Context, identityID string) {
	if err := s.limiter.Reset(ctx, identityID); err != nil {
		s.logger.Warn("failed to reset mfa failures", slog.Any("error", err))
	}
}
