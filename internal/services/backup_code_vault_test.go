package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBackupCodeVault_Generate(t *testing.T) {
	vault := NewBackupCodeVault(&MockBackupCodeRepository{}, 10, bcrypt.MinCost)

	plain, hashes, err := vault.Generate()
	require.NoError(t, err)
	require.Len(t, plain, 10)
	require.Len(t, hashes, 10)

	seen := make(map[string]bool)
	for i, code := range plain {
		assert.Len(t, code, 9)
		assert.Equal(t, byte('-'), code[4])
		for _, c := range NormalizeBackupCode(code) {
			assert.True(t, strings.ContainsRune(BackupCodeCharset, c), "unexpected character %q", c)
		}
		assert.False(t, seen[code], "duplicate code")
		seen[code] = true

		assert.NotContains(t, hashes[i], code)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashes[i]), []byte(NormalizeBackupCode(code))))
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	assert.Equal(t, "ABCD2345", NormalizeBackupCode("abcd-2345"))
	assert.Equal(t, "ABCD2345", NormalizeBackupCode(" ABCD 2345 "))
}

func TestBackupCodeVault_IssueRequiresMFA(t *testing.T) {
	vault := NewBackupCodeVault(&MockBackupCodeRepository{}, 10, bcrypt.MinCost)

	_, err := vault.Issue(context.Background(), &models.Identity{ID: "id-1"})
	assert.ErrorIs(t, err, models.ErrMFANotEnabled)
}

func TestBackupCodeVault_IssuePassesVersion(t *testing.T) {
	var gotVersion int
	var gotHashes []string
	repo := &MockBackupCodeRepository{
		ReplaceBackupCodesFunc: func(ctx context.Context, identityID string, version int, codeHashes []string) error {
			gotVersion = version
			gotHashes = codeHashes
			return nil
		},
	}
	vault := NewBackupCodeVault(repo, 4, bcrypt.MinCost)

	codes, err := vault.Issue(context.Background(), &models.Identity{ID: "id-1", Version: 7, MFAEnabled: true})
	require.NoError(t, err)
	assert.Len(t, codes, 4)
	assert.Equal(t, 7, gotVersion)
	assert.Len(t, gotHashes, 4)
}

func TestBackupCodeVault_IssueConflict(t *testing.T) {
	repo := &MockBackupCodeRepository{
		ReplaceBackupCodesFunc: func(ctx context.Context, identityID string, version int, codeHashes []string) error {
			return models.ErrConcurrentUpdate
		},
	}
	vault := NewBackupCodeVault(repo, 2, bcrypt.MinCost)

	_, err := vault.Issue(context.Background(), &models.Identity{ID: "id-1", MFAEnabled: true})
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)
}

func TestBackupCodeVault_ConsumeSkipsUsedAndMalformed(t *testing.T) {
	hash := mustHash(t, "ABCD2345")
	used := time.Now()
	consumed := 0
	repo := &MockBackupCodeRepository{
		ListBackupCodesFunc: func(ctx context.Context, identityID string) ([]*models.BackupCode, error) {
			return []*models.BackupCode{
				{ID: "used", CodeHash: hash, UsedAt: &used},
				{ID: "fresh", CodeHash: hash},
			}, nil
		},
		ConsumeBackupCodeFunc: func(ctx context.Context, codeID string, at time.Time) (bool, error) {
			consumed++
			assert.Equal(t, "fresh", codeID)
			return true, nil
		},
	}
	vault := NewBackupCodeVault(repo, 2, bcrypt.MinCost)

	ok, err := vault.Consume(context.Background(), "id-1", "abcd-2345")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = vault.Consume(context.Background(), "id-1", "ABC")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, consumed)
}

func TestBackupCodeVault_ConsumeStoreError(t *testing.T) {
	repo := &MockBackupCodeRepository{
		ListBackupCodesFunc: func(ctx context.Context, identityID string) ([]*models.BackupCode, error) {
			return nil, errors.New("connection reset")
		},
	}
	vault := NewBackupCodeVault(repo, 2, bcrypt.MinCost)

	ok, err := vault.Consume(context.Background(), "id-1", "ABCD2345")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestBackupCodeVault_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	h := newHarness(t)
	identity := h.createIdentity(t, "ops@example.com", nil)
	_, codes := h.enableMFA(t, identity.ID)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := h.vault.Consume(context.Background(), identity.ID, codes[0])
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	remaining, err := h.vault.Remaining(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
}
