package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// Second-factor methods reported to audit records
const (
	FactorTOTP       = "totp"
	FactorBackupCode = "backup_code"
)

// SecondFactorVerifier checks TOTP codes and backup codes for an identity
// with MFA enabled. An accepted TOTP step is claimed so it cannot be replayed.
type SecondFactorVerifier struct {
	identities IdentityRepository
	totp       *auth.TOTPEngine
	vault      *BackupCodeVault
	now        func() time.Time
}

func NewSecondFactorVerifier(identities IdentityRepository, totp *auth.TOTPEngine, vault *BackupCodeVault) *SecondFactorVerifier {
	return &SecondFactorVerifier{
		identities: identities,
		totp:       totp,
		vault:      vault,
		now:        time.Now,
	}
}

func isTOTPCode(code string) bool {
	if len(code) != auth.TOTPDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// VerifyTOTP accepts only an authenticator code
func (v *SecondFactorVerifier) VerifyTOTP(ctx context.Context, identity *models.Identity, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if !identity.MFAEnabled || identity.MFASecret == nil || !isTOTPCode(code) {
		return false, nil
	}

	secret, err := v.totp.DecryptSecret(identity.MFASecret)
	if err != nil {
		return false, fmt.Errorf("failed to open mfa secret: %w", err)
	}

	step, ok := v.totp.MatchStep(secret, code, v.now())
	if !ok {
		return false, nil
	}

	claimed, err := v.identities.ClaimTOTPStep(ctx, identity.ID, step)
	if err != nil {
		return false, fmt.Errorf("failed to claim totp step: %w", err)
	}
	return claimed, nil
}

// Verify accepts a six-digit authenticator code or, failing the format, a
// backup code, which is redeemed. It returns which factor matched.
func (v *SecondFactorVerifier) Verify(ctx context.Context, identity *models.Identity, code string) (string, bool, error) {
	return v.check(ctx, identity, code, true)
}

// Match is Verify for flows that delete the whole batch on success. A backup
// code is only compared, so it survives if the caller's write then fails.
func (v *SecondFactorVerifier) Match(ctx context.Context, identity *models.Identity, code string) (string, bool, error) {
	return v.check(ctx, identity, code, false)
}

func (v *SecondFactorVerifier) check(ctx context.Context, identity *models.Identity, code string, redeem bool) (string, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" || !identity.MFAEnabled {
		return "", false, nil
	}

	if isTOTPCode(code) {
		ok, err := v.VerifyTOTP(ctx, identity, code)
		return FactorTOTP, ok, err
	}

	if !redeem {
		ok, err := v.vault.Match(ctx, identity.ID, code)
		return FactorBackupCode, ok, err
	}
	ok, err := v.vault.Consume(ctx, identity.ID, code)
	return FactorBackupCode, ok, err
}
