package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories/memory"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/BradenHooton/warden/pkg/obfuscate"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Correct-Horse-9"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires every service over one memory store
type harness struct {
	store    *memory.Store
	clock    *fakeClock
	codec    *obfuscate.Codec
	totp     *auth.TOTPEngine
	sessions *auth.SessionIssuer
	vault    *BackupCodeVault
	factors  *SecondFactorVerifier
	limiter  *StoreMFALimiter
	rate     *RateLimitService
	login    *LoginService
	mfa      *MFAService
	account  *AccountService
	admin    *AdminService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()
	audit := pkglogger.NewAuditLogger(logger)
	store := memory.NewStore()
	clock := &fakeClock{t: time.Now()}

	engine, err := auth.NewTOTPEngine(make([]byte, 32), "Warden")
	require.NoError(t, err)

	sessions := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		Secret:            "test-session-secret-0123456789abcdef",
		SessionExpiry:     time.Hour,
		ChangeTokenExpiry: 10 * time.Minute,
		FailClosed:        true,
	}, store)

	verifier, err := NewCredentialVerifier(store, bcrypt.MinCost, logger)
	require.NoError(t, err)

	vault := NewBackupCodeVault(store, 10, bcrypt.MinCost)
	vault.now = clock.Now
	factors := NewSecondFactorVerifier(store, engine, vault)
	factors.now = clock.Now
	limiter := NewStoreMFALimiter(store, 5, 15*time.Minute)

	rate := NewRateLimitService(store, RateLimitConfig{
		MaxFailedAttemptsPerEmail:    5,
		EmailLockoutDuration:         15 * time.Minute,
		MaxAttemptsPerIP:             20,
		MaxAttemptsPerDevice:         10,
		LookbackWindow:               15 * time.Minute,
		ProgressiveLockoutMultiplier: 2,
		MaxLockoutDuration:           24 * time.Hour,
	}, logger)

	codec := obfuscate.MustNewCodec(obfuscate.DefaultKey)
	login := NewLoginService(LoginDeps{
		Codec:        codec,
		RateLimiter:  rate,
		Verifier:     verifier,
		SecondFactor: factors,
		MFALimiter:   limiter,
		Identities:   store,
		Sessions:     sessions,
		Logger:       logger,
		AuditLogger:  audit,
	})
	login.now = clock.Now

	mfa := NewMFAService(store, engine, vault, factors, limiter, logger, audit)
	mfa.now = clock.Now

	account := NewAccountService(store, vault, sessions, bcrypt.MinCost, logger, audit)
	account.now = clock.Now

	admin := NewAdminService(store, mfa, bcrypt.MinCost, logger, audit)
	admin.now = clock.Now

	return &harness{
		store:    store,
		clock:    clock,
		codec:    codec,
		totp:     engine,
		sessions: sessions,
		vault:    vault,
		factors:  factors,
		limiter:  limiter,
		rate:     rate,
		login:    login,
		mfa:      mfa,
		account:  account,
		admin:    admin,
	}
}

func (h *harness) createIdentity(t *testing.T, email string, mutate func(*models.Identity)) *models.Identity {
	t.Helper()
	hash, err := pkgauth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	identity := &models.Identity{
		Email:        email,
		Username:     "ops",
		PasswordHash: hash,
	}
	if mutate != nil {
		mutate(identity)
	}
	created, err := h.store.Create(context.Background(), identity)
	require.NoError(t, err)
	return created
}

// enableMFA enrolls identityID and returns the plaintext secret and backup codes
func (h *harness) enableMFA(t *testing.T, identityID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := h.mfa.StartEnrollment(ctx, identityID, "")
	require.NoError(t, err)

	code, err := h.totp.Generate(enrollment.Secret, h.clock.Now())
	require.NoError(t, err)

	codes, err := h.mfa.ConfirmEnrollment(ctx, identityID, code)
	require.NoError(t, err)

	// move past the claimed step
	h.clock.Advance(time.Minute)
	return enrollment.Secret, codes
}

func (h *harness) currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.totp.Generate(secret, h.clock.Now())
	require.NoError(t, err)
	return code
}

func (h *harness) attempt(email, password string) models.LoginAttempt {
	return models.LoginAttempt{
		Email:     h.codec.Encode(email),
		Password:  h.codec.Encode(password),
		IPAddress: "10.0.0.1",
		UserAgent: "test-agent",
	}
}

func mustHash(t *testing.T, value string) string {
	t.Helper()
	hash, err := pkgauth.HashPassword(value, bcrypt.MinCost)
	require.NoError(t, err)
	return hash
}
