package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// Profile is the signed-in admin's own view of their account
type Profile struct {
	ID                   string     `json:"_id"`
	Username             string     `json:"username"`
	Email                string     `json:"email"`
	Role                 string     `json:"role"`
	TwoFactorEnabled     bool       `json:"twoFactorEnabled"`
	BackupCodesRemaining int        `json:"backupCodesRemaining"`
	MustChangePassword   bool       `json:"mustChangePassword"`
	LastLoginAt          *time.Time `json:"lastLoginAt"`
	PasswordChangedAt    *time.Time `json:"passwordChangedAt"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// AccountService handles operations an admin performs on their own account
type AccountService struct {
	identities  IdentityRepository
	vault       *BackupCodeVault
	sessions    *auth.SessionIssuer
	bcryptCost  int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewAccountService(identities IdentityRepository, vault *BackupCodeVault, sessions *auth.SessionIssuer, bcryptCost int, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AccountService {
	return &AccountService{
		identities:  identities,
		vault:       vault,
		sessions:    sessions,
		bcryptCost:  bcryptCost,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

func (s *AccountService) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	profile := &Profile{
		ID:                 identity.ID,
		Username:           identity.Username,
		Email:              identity.Email,
		Role:               identity.Role,
		TwoFactorEnabled:   identity.MFAEnabled,
		MustChangePassword: identity.MustChangePassword,
		LastLoginAt:        identity.LastLoginAt,
		PasswordChangedAt:  identity.PasswordChangedAt,
		CreatedAt:          identity.CreatedAt,
	}
	if identity.MFAEnabled {
		remaining, err := s.vault.Remaining(ctx, identity.ID)
		if err != nil {
			return nil, err
		}
		profile.BackupCodesRemaining = remaining
	}
	return profile, nil
}

func (s *AccountService) UpdateUsername(ctx context.Context, identityID, username string) (*models.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", models.ErrBadRequest)
	}

	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	identity.Username = username

	updated, err := s.identities.Update(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to update username: %w", err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventProfileUpdated,
		UserID:    identity.ID,
		Success:   true,
	})
	return updated, nil
}

// ChangePassword rotates the password of identityID. presented is the token
// the request was authenticated with; it is revoked afterwards. No new
// session is issued, the admin signs in again with the new password.
func (s *AccountService) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string, presented *models.SessionClaims) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	if pkgauth.ComparePassword(identity.PasswordHash, currentPassword) != nil {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventPasswordChange,
			UserID:        identity.ID,
			Success:       false,
			FailureReason: "invalid_current_password",
		})
		return models.ErrInvalidCredentials
	}

	if err := pkgauth.ValidatePassword(newPassword, currentPassword); err != nil {
		return fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	hash, err := pkgauth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	now := s.now()
	identity.PasswordHash = hash
	identity.MustChangePassword = false
	identity.PasswordChangedAt = &now
	if _, err := s.identities.Update(ctx, identity); err != nil {
		return fmt.Errorf("failed to store new password: %w", err)
	}

	if presented != nil {
		if err := s.sessions.Revoke(ctx, presented, "password_change"); err != nil {
			// PasswordChangedAt already invalidates the token
			s.logger.Warn("failed to revoke token after password change", slog.Any("error", err))
		}
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventPasswordChange,
		UserID:    identity.ID,
		Success:   true,
	})
	return nil
}

// Logout revokes the presented session
func (s *AccountService) Logout(ctx context.Context, claims *models.SessionClaims) error {
	if err := s.sessions.Revoke(ctx, claims, "logout"); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogout,
		UserID:    claims.Subject,
		Success:   true,
	})
	return nil
}
