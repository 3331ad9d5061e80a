// Package memory is an in-process implementation of every repository. It is
// used by tests and by STORAGE_DRIVER=memory for local development.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

type revokedSession struct {
	identityID string
	tokenType  string
	expiresAt  time.Time
}

// Store serialises every operation behind one mutex. Returned identities are
// copies, so callers never share state with the store.
type Store struct {
	mu            sync.Mutex
	identities    map[string]*models.Identity
	emailIndex    map[string]string
	backupCodes   map[string][]*models.BackupCode // identity id -> batch
	loginAttempts []*models.LoginAttemptRecord
	mfaAttempts   []*models.MFAAttempt
	revoked       map[string]revokedSession
	nextAttemptID int64
}

func NewStore() *Store {
	return &Store{
		identities:  make(map[string]*models.Identity),
		emailIndex:  make(map[string]string),
		backupCodes: make(map[string][]*models.BackupCode),
		revoked:     make(map[string]revokedSession),
	}
}

// ===== Identities =====

func (s *Store) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emailIndex[identity.Email]; exists {
		return nil, models.ErrConflict
	}

	stored := identity.Clone()
	stored.ID = uuid.New().String()
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Version = 1
	if stored.Role == "" {
		stored.Role = models.RoleAdmin
	}
	if stored.Status == "" {
		stored.Status = models.StatusActive
	}
	stored.MFAEnabled = false
	stored.MFASecret = nil
	stored.MFAPendingSecret = nil

	s.identities[stored.ID] = stored
	s.emailIndex[stored.Email] = stored.ID
	return stored.Clone(), nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return identity.Clone(), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emailIndex[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.identities[id].Clone(), nil
}

func (s *Store) List(ctx context.Context) ([]*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, identity.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// lookupVersioned must be called with the lock held
func (s *Store) lookupVersioned(id string, version int) (*models.Identity, error) {
	current, ok := s.identities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if current.Version != version {
		return nil, models.ErrConcurrentUpdate
	}
	return current, nil
}

func (s *Store) Update(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.lookupVersioned(identity.ID, identity.Version)
	if err != nil {
		return nil, err
	}

	src := identity.Clone()
	next := current.Clone()
	next.Username = src.Username
	next.PasswordHash = src.PasswordHash
	next.Role = src.Role
	next.Status = src.Status
	next.BlockReason = src.BlockReason
	next.MustChangePassword = src.MustChangePassword
	next.SecretCodeHash = src.SecretCodeHash
	next.MFAPendingSecret = src.MFAPendingSecret
	next.PasswordChangedAt = src.PasswordChangedAt
	next.Version++
	next.UpdatedAt = time.Now()

	s.identities[next.ID] = next
	return next.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(s.emailIndex, identity.Email)
	delete(s.identities, id)
	delete(s.backupCodes, id)
	return nil
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	t := at
	identity.LastLoginAt = &t
	return nil
}

func (s *Store) ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if step <= identity.MFALastStep {
		return false, nil
	}
	identity.MFALastStep = step
	return true, nil
}

func (s *Store) EnableMFA(ctx context.Context, id string, version int, secret *models.EncryptedSecret, step int64, codeHashes []string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.lookupVersioned(id, version)
	if err != nil {
		return nil, err
	}
	if current.MFAEnabled {
		return nil, models.ErrConcurrentUpdate
	}

	next := current.Clone()
	next.MFAEnabled = true
	next.MFASecret = (&models.Identity{MFASecret: secret}).Clone().MFASecret
	next.MFAPendingSecret = nil
	if step > next.MFALastStep {
		next.MFALastStep = step
	}
	next.Version++
	next.UpdatedAt = time.Now()

	s.identities[id] = next
	s.backupCodes[id] = newBatch(id, codeHashes)
	return next.Clone(), nil
}

func (s *Store) DisableMFA(ctx context.Context, id string, version int) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.lookupVersioned(id, version)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	next.MFAEnabled = false
	next.MFASecret = nil
	next.MFAPendingSecret = nil
	next.Version++
	next.UpdatedAt = time.Now()

	s.identities[id] = next
	delete(s.backupCodes, id)
	return next.Clone(), nil
}

// ===== Backup codes =====

func newBatch(identityID string, codeHashes []string) []*models.BackupCode {
	now := time.Now()
	batch := make([]*models.BackupCode, len(codeHashes))
	for i, hash := range codeHashes {
		batch[i] = &models.BackupCode{
			ID:         uuid.New().String(),
			IdentityID: identityID,
			CodeHash:   hash,
			CreatedAt:  now,
		}
	}
	return batch
}

func (s *Store) ListBackupCodes(ctx context.Context, identityID string) ([]*models.BackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.backupCodes[identityID]
	out := make([]*models.BackupCode, len(batch))
	for i, code := range batch {
		c := *code
		if code.UsedAt != nil {
			t := *code.UsedAt
			c.UsedAt = &t
		}
		out[i] = &c
	}
	return out, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, identityID string, version int, codeHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.lookupVersioned(identityID, version)
	if err != nil {
		return err
	}
	if !current.MFAEnabled {
		return models.ErrConcurrentUpdate
	}

	current.Version++
	current.UpdatedAt = time.Now()
	s.backupCodes[identityID] = newBatch(identityID, codeHashes)
	return nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, codeID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range s.backupCodes {
		for _, code := range batch {
			if code.ID != codeID {
				continue
			}
			if code.UsedAt != nil {
				return false, nil
			}
			t := at
			code.UsedAt = &t
			return true, nil
		}
	}
	return false, nil
}

// ===== Login attempts =====

func (s *Store) RecordAttempt(ctx context.Context, attempt *models.LoginAttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAttemptID++
	stored := *attempt
	stored.ID = strconv.FormatInt(s.nextAttemptID, 10)
	if stored.AttemptTime.IsZero() {
		stored.AttemptTime = time.Now()
	}
	s.loginAttempts = append(s.loginAttempts, &stored)
	return nil
}

func (s *Store) countFailures(match func(a *models.LoginAttemptRecord) bool, since time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.loginAttempts {
		if !a.Success && !a.AttemptTime.Before(since) && match(a) {
			count++
		}
	}
	return count
}

func (s *Store) GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error) {
	return s.countFailures(func(a *models.LoginAttemptRecord) bool { return a.Email == email }, since), nil
}

func (s *Store) GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	return s.countFailures(func(a *models.LoginAttemptRecord) bool { return a.IPAddress == ipAddress }, since), nil
}

func (s *Store) GetFailedAttemptCountByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	return s.countFailures(func(a *models.LoginAttemptRecord) bool { return a.DeviceFingerprint == fingerprint }, since), nil
}

func (s *Store) GetRecentFailureTime(ctx context.Context, email string, since time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *time.Time
	for _, a := range s.loginAttempts {
		if a.Email != email || a.Success || a.AttemptTime.Before(since) {
			continue
		}
		if latest == nil || a.AttemptTime.After(*latest) {
			t := a.AttemptTime
			latest = &t
		}
	}
	return latest, nil
}

func (s *Store) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	kept := s.loginAttempts[:0]
	var removed int64
	for _, a := range s.loginAttempts {
		if a.ExpiresAt.After(now) {
			kept = append(kept, a)
		} else {
			removed++
		}
	}
	s.loginAttempts = kept
	return removed, nil
}

// ===== MFA attempts =====

func (s *Store) ReserveAttempt(ctx context.Context, attempt *models.MFAAttempt, since time.Time, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.mfaAttempts {
		if a.IdentityID == attempt.IdentityID && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	if count >= limit {
		return false, nil
	}

	s.nextAttemptID++
	attempt.ID = strconv.FormatInt(s.nextAttemptID, 10)
	attempt.AttemptedAt = time.Now()
	stored := *attempt
	s.mfaAttempts = append(s.mfaAttempts, &stored)
	return true, nil
}

func (s *Store) ResetFailures(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.mfaAttempts[:0]
	for _, a := range s.mfaAttempts {
		if a.IdentityID != identityID {
			kept = append(kept, a)
		}
	}
	s.mfaAttempts = kept
	return nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.mfaAttempts[:0]
	var removed int64
	for _, a := range s.mfaAttempts {
		if a.AttemptedAt.Before(threshold) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.mfaAttempts = kept
	return removed, nil
}

// ===== Revoked sessions =====

func (s *Store) RevokeSession(ctx context.Context, jti, identityID, tokenType string, expiresAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.revoked[jti]; !exists {
		s.revoked[jti] = revokedSession{identityID: identityID, tokenType: tokenType, expiresAt: expiresAt}
	}
	return nil
}

func (s *Store) IsSessionRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, revoked := s.revoked[jti]
	return revoked, nil
}

func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var removed int64
	for jti, entry := range s.revoked {
		if entry.expiresAt.Before(now) {
			delete(s.revoked, jti)
			removed++
		}
	}
	return removed, nil
}
