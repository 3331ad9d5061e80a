package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

// CredentialVerifier checks email, password and the optional login secret code
type CredentialVerifier struct {
	identities IdentityRepository
	dummyHash  string
	logger     *slog.Logger
}

// NewCredentialVerifier precomputes a dummy hash at the same cost as real
// password hashes, so unknown emails still pay for one bcrypt comparison.
func NewCredentialVerifier(identities IdentityRepository, bcryptCost int, logger *slog.Logger) (*CredentialVerifier, error) {
	dummy, err := pkgauth.HashPassword("warden-placeholder-credential", bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare credential verifier: %w", err)
	}
	return &CredentialVerifier{
		identities: identities,
		dummyHash:  dummy,
		logger:     logger,
	}, nil
}

// NormalizeEmail lowercases and trims an email for lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Verify returns the identity when every presented credential matches.
// Unknown email, wrong password and wrong secret code are indistinguishable.
// models.ErrAccountBlocked is only returned once the password has matched.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password, secretCode string) (*models.Identity, error) {
	email = NormalizeEmail(email)

	var identity *models.Identity
	if email != "" {
		found, err := v.identities.GetByEmail(ctx, email)
		switch {
		case err == nil:
			identity = found
		case errors.Is(err, models.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to load identity: %w", err)
		}
	}

	if identity == nil {
		_ = pkgauth.ComparePassword(v.dummyHash, password)
		return nil, models.ErrInvalidCredentials
	}

	if err := pkgauth.ComparePassword(identity.PasswordHash, password); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	if identity.SecretCodeHash != "" {
		code := strings.ToUpper(strings.TrimSpace(secretCode))
		if code == "" || pkgauth.ComparePassword(identity.SecretCodeHash, code) != nil {
			return nil, models.ErrInvalidCredentials
		}
	}

	if identity.IsBlocked() {
		v.logger.Info("login refused for blocked identity", slog.String("user_id", identity.ID))
		return identity, models.ErrAccountBlocked
	}

	return identity, nil
}
