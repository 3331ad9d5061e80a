package services

import (
	"context"
	"errors"
	"testing"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newVerifierWith(t *testing.T, identity *models.Identity, lookupErr error) *CredentialVerifier {
	t.Helper()
	repo := &MockIdentityRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Identity, error) {
			if lookupErr != nil {
				return nil, lookupErr
			}
			if identity != nil && identity.Email == email {
				return identity.Clone(), nil
			}
			return nil, models.ErrNotFound
		},
	}
	verifier, err := NewCredentialVerifier(repo, bcrypt.MinCost, testLogger())
	require.NoError(t, err)
	return verifier
}

func TestCredentialVerifier_Verify(t *testing.T) {
	active := &models.Identity{
		ID:           "id-1",
		Email:        "ops@example.com",
		PasswordHash: mustHash(t, testPassword),
		Status:       models.StatusActive,
	}
	withSecret := active.Clone()
	withSecret.SecretCodeHash = mustHash(t, "SECRET123456")
	blocked := active.Clone()
	blocked.Status = models.StatusBlocked

	tests := []struct {
		name       string
		identity   *models.Identity
		email      string
		password   string
		secretCode string
		wantErr    error
	}{
		{"valid", active, "ops@example.com", testPassword, "", nil},
		{"email normalised", active, " OPS@example.com", testPassword, "", nil},
		{"unknown email", active, "nobody@example.com", testPassword, "", models.ErrInvalidCredentials},
		{"empty email", active, "", testPassword, "", models.ErrInvalidCredentials},
		{"wrong password", active, "ops@example.com", "nope", "", models.ErrInvalidCredentials},
		{"secret code ok", withSecret, "ops@example.com", testPassword, "secret123456", nil},
		{"secret code missing", withSecret, "ops@example.com", testPassword, "", models.ErrInvalidCredentials},
		{"secret code wrong", withSecret, "ops@example.com", testPassword, "SECRET000000", models.ErrInvalidCredentials},
		{"blocked with right password", blocked, "ops@example.com", testPassword, "", models.ErrAccountBlocked},
		{"blocked with wrong password", blocked, "ops@example.com", "nope", "", models.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := newVerifierWith(t, tt.identity, nil)
			identity, err := verifier.Verify(context.Background(), tt.email, tt.password, tt.secretCode)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "id-1", identity.ID)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCredentialVerifier_StoreError(t *testing.T) {
	verifier := newVerifierWith(t, nil, errors.New("db down"))

	_, err := verifier.Verify(context.Background(), "ops@example.com", testPassword, "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrInvalidCredentials))
}
