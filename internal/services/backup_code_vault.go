package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

const (
	// BackupCodeCharset omits 0/O/1/I/L
	BackupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	BackupCodeLength  = 8
)

// BackupCodeVault issues and redeems single-use recovery codes. Only bcrypt
// hashes are stored; plaintext leaves the vault exactly once, on issue.
type BackupCodeVault struct {
	codes BackupCodeRepository
	count int
	cost  int
	now   func() time.Time
}

func NewBackupCodeVault(codes BackupCodeRepository, count, bcryptCost int) *BackupCodeVault {
	return &BackupCodeVault{
		codes: codes,
		count: count,
		cost:  bcryptCost,
		now:   time.Now,
	}
}

// NormalizeBackupCode uppercases and strips separators so "abcd-efgh" and
// "ABCDEFGH" are the same code
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(code)
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// Generate returns a fresh batch of display-formatted codes and their hashes
// without storing anything
func (v *BackupCodeVault) Generate() ([]string, []string, error) {
	plain := make([]string, v.count)
	hashes := make([]string, v.count)

	for i := 0; i < v.count; i++ {
		raw := make([]byte, BackupCodeLength)
		for j := range raw {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(BackupCodeCharset))))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			raw[j] = BackupCodeCharset[n.Int64()]
		}

		hash, err := pkgauth.HashPassword(string(raw), v.cost)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		plain[i] = string(raw[:4]) + "-" + string(raw[4:])
		hashes[i] = hash
	}

	return plain, hashes, nil
}

// Issue replaces the identity's whole batch and returns the new plaintext codes
func (v *BackupCodeVault) Issue(ctx context.Context, identity *models.Identity) ([]string, error) {
	if !identity.MFAEnabled {
		return nil, models.ErrMFANotEnabled
	}

	plain, hashes, err := v.Generate()
	if err != nil {
		return nil, err
	}
	if err := v.codes.ReplaceBackupCodes(ctx, identity.ID, identity.Version, hashes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}
	return plain, nil
}

// Consume redeems code if it matches an unused code of the identity. Two
// concurrent redemptions of the same code yield exactly one true.
func (v *BackupCodeVault) Consume(ctx context.Context, identityID, code string) (bool, error) {
	match, err := v.find(ctx, identityID, code)
	if err != nil || match == nil {
		return false, err
	}

	consumed, err := v.codes.ConsumeBackupCode(ctx, match.ID, v.now())
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return consumed, nil
}

// Match reports whether code matches an unused code without redeeming it
func (v *BackupCodeVault) Match(ctx context.Context, identityID, code string) (bool, error) {
	match, err := v.find(ctx, identityID, code)
	return match != nil, err
}

func (v *BackupCodeVault) find(ctx context.Context, identityID, code string) (*models.BackupCode, error) {
	normalized := NormalizeBackupCode(code)
	if len(normalized) != BackupCodeLength {
		return nil, nil
	}

	stored, err := v.codes.ListBackupCodes(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup codes: %w", err)
	}

	for _, candidate := range stored {
		if candidate.IsUsed() {
			continue
		}
		if pkgauth.ComparePassword(candidate.CodeHash, normalized) == nil {
			return candidate, nil
		}
	}
	return nil, nil
}

// Remaining counts unused codes
func (v *BackupCodeVault) Remaining(ctx context.Context, identityID string) (int, error) {
	status, err := v.Status(ctx, identityID)
	if err != nil {
		return 0, err
	}
	return status.Remaining, nil
}

// Status describes every slot of the current batch without revealing codes
func (v *BackupCodeVault) Status(ctx context.Context, identityID string) (*models.BackupCodeStatus, error) {
	stored, err := v.codes.ListBackupCodes(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup codes: %w", err)
	}

	status := &models.BackupCodeStatus{Codes: make([]models.BackupCodeSlot, len(stored))}
	for i, code := range stored {
		status.Codes[i] = models.BackupCodeSlot{
			Index:  i,
			Used:   code.IsUsed(),
			UsedAt: code.UsedAt,
		}
		if !code.IsUsed() {
			status.Remaining++
		}
	}
	return status, nil
}
