package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// CreateAdminInput is what a super admin supplies for a new account
type CreateAdminInput struct {
	Username string
	Email    string
	Role     string
}

// CreatedAdmin carries the one-time credentials of a new account
type CreatedAdmin struct {
	Admin             models.AdminSummary `json:"admin"`
	TemporaryPassword string              `json:"temporaryPassword"`
	SecretCode        string              `json:"secretCode"`
}

// AdminStats contains aggregate account metrics
type AdminStats struct {
	Total              int `json:"total"`
	Active             int `json:"active"`
	Blocked            int `json:"blocked"`
	SuperAdmins        int `json:"superAdmins"`
	TwoFactorEnabled   int `json:"twoFactorEnabled"`
	MustChangePassword int `json:"mustChangePassword"`
}

// AdminService is the super-admin management surface. An operator never acts
// on their own account here, and super admins cannot be blocked or deleted.
type AdminService struct {
	identities  IdentityRepository
	mfa         *MFAService
	bcryptCost  int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewAdminService(identities IdentityRepository, mfa *MFAService, bcryptCost int, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AdminService {
	return &AdminService{
		identities:  identities,
		mfa:         mfa,
		bcryptCost:  bcryptCost,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

func (s *AdminService) List(ctx context.Context) ([]models.AdminSummary, error) {
	identities, err := s.identities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	out := make([]models.AdminSummary, len(identities))
	for i, identity := range identities {
		out[i] = identity.Summary()
	}
	return out, nil
}

func (s *AdminService) Stats(ctx context.Context) (*AdminStats, error) {
	identities, err := s.identities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}

	stats := &AdminStats{Total: len(identities)}
	for _, identity := range identities {
		if identity.IsBlocked() {
			stats.Blocked++
		} else {
			stats.Active++
		}
		if identity.IsSuperAdmin() {
			stats.SuperAdmins++
		}
		if identity.MFAEnabled {
			stats.TwoFactorEnabled++
		}
		if identity.MustChangePassword {
			stats.MustChangePassword++
		}
	}
	return stats, nil
}

// Create provisions an account with a temporary password and login secret
// code. Both are returned once and the password must be rotated on first login.
func (s *AdminService) Create(ctx context.Context, actor *models.Identity, input CreateAdminInput) (*CreatedAdmin, error) {
	role := input.Role
	if role == "" {
		role = models.RoleAdmin
	}
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, role)
	}

	tempPassword, err := pkgauth.GenerateTemporaryPassword()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	secretCode, err := pkgauth.GenerateSecretCode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	passwordHash, err := pkgauth.HashPassword(tempPassword, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	secretHash, err := pkgauth.HashPassword(secretCode, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	created, err := s.identities.Create(ctx, &models.Identity{
		Email:              NormalizeEmail(input.Email),
		Username:           strings.TrimSpace(input.Username),
		PasswordHash:       passwordHash,
		SecretCodeHash:     secretHash,
		Role:               role,
		Status:             models.StatusActive,
		MustChangePassword: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventAdminCreated,
		UserID:    actor.ID,
		TargetID:  created.ID,
		Email:     created.Email,
		Success:   true,
		Metadata:  map[string]string{"role": role},
	})

	return &CreatedAdmin{
		Admin:             created.Summary(),
		TemporaryPassword: tempPassword,
		SecretCode:        secretCode,
	}, nil
}

func (s *AdminService) Block(ctx context.Context, actor *models.Identity, targetID, reason string) (*models.AdminSummary, error) {
	target, err := s.target(ctx, actor, targetID, true)
	if err != nil {
		return nil, err
	}

	target.Status = models.StatusBlocked
	target.BlockReason = strings.TrimSpace(reason)
	updated, err := s.identities.Update(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to block admin: %w", err)
	}

	s.logAction(ctx, pkglogger.EventAdminBlocked, actor, updated)
	summary := updated.Summary()
	return &summary, nil
}

func (s *AdminService) Unblock(ctx context.Context, actor *models.Identity, targetID string) (*models.AdminSummary, error) {
	target, err := s.target(ctx, actor, targetID, false)
	if err != nil {
		return nil, err
	}

	target.Status = models.StatusActive
	target.BlockReason = ""
	updated, err := s.identities.Update(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to unblock admin: %w", err)
	}

	s.logAction(ctx, pkglogger.EventAdminUnblocked, actor, updated)
	summary := updated.Summary()
	return &summary, nil
}

func (s *AdminService) Delete(ctx context.Context, actor *models.Identity, targetID string) error {
	target, err := s.target(ctx, actor, targetID, true)
	if err != nil {
		return err
	}
	if err := s.identities.Delete(ctx, target.ID); err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	s.logAction(ctx, pkglogger.EventAdminDeleted, actor, target)
	return nil
}

// ResetPassword sets a new temporary password and forces rotation. Existing
// sessions of the target stop validating because PasswordChangedAt moves.
func (s *AdminService) ResetPassword(ctx context.Context, actor *models.Identity, targetID string) (string, error) {
	target, err := s.target(ctx, actor, targetID, false)
	if err != nil {
		return "", err
	}

	tempPassword, err := pkgauth.GenerateTemporaryPassword()
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	hash, err := pkgauth.HashPassword(tempPassword, s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	now := s.now()
	target.PasswordHash = hash
	target.MustChangePassword = true
	target.PasswordChangedAt = &now
	if _, err := s.identities.Update(ctx, target); err != nil {
		return "", fmt.Errorf("failed to reset password: %w", err)
	}

	s.logAction(ctx, pkglogger.EventAdminPasswordReset, actor, target)
	return tempPassword, nil
}

func (s *AdminService) ResetMFA(ctx context.Context, actor *models.Identity, targetID string) error {
	target, err := s.target(ctx, actor, targetID, false)
	if err != nil {
		return err
	}
	if err := s.mfa.Reset(ctx, target.ID); err != nil {
		return err
	}
	s.logAction(ctx, pkglogger.EventAdminMFAReset, actor, target)
	return nil
}

// BootstrapSuperAdmin creates the first super admin when none exists. The
// account must rotate its password on first login. Returns false when
// nothing was created.
func (s *AdminService) BootstrapSuperAdmin(ctx context.Context, email, username, password string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return false, nil
	}

	identities, err := s.identities.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list admins: %w", err)
	}
	for _, identity := range identities {
		if identity.IsSuperAdmin() {
			return false, nil
		}
	}

	hash, err := pkgauth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return false, err
	}

	created, err := s.identities.Create(ctx, &models.Identity{
		Email:              email,
		Username:           username,
		PasswordHash:       hash,
		Role:               models.RoleSuperAdmin,
		Status:             models.StatusActive,
		MustChangePassword: true,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Warn("bootstrap email already belongs to an admin", slog.String("email", pkglogger.SanitizedEmail(email)))
			return false, nil
		}
		return false, fmt.Errorf("failed to create super admin: %w", err)
	}

	s.logger.Info("bootstrapped super admin", slog.String("user_id", created.ID))
	return true, nil
}

// target loads the subject of a management action and applies the guards
func (s *AdminService) target(ctx context.Context, actor *models.Identity, targetID string, protectSuperAdmin bool) (*models.Identity, error) {
	if actor.ID == targetID {
		return nil, fmt.Errorf("%w: cannot manage your own account", models.ErrForbidden)
	}

	target, err := s.identities.GetByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	if protectSuperAdmin && target.IsSuperAdmin() {
		return nil, fmt.Errorf("%w: super admins cannot be blocked or deleted", models.ErrForbidden)
	}
	return target, nil
}

func (s *AdminService) logAction(ctx context.Context, eventType string, actor, target *models.Identity) {
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: eventType,
		UserID:    actor.ID,
		TargetID:  target.ID,
		Email:     target.Email,
		Success:   true,
	})
}
