package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/pkg/obfuscate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bootstrapEmail    = "root@example.com"
	bootstrapPassword = "Bootstrap-Pass-1"
	rotatedPassword   = "Another-Strong-7"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:            "test",
			RequestTimeout: 5 * time.Second,
		},
		Storage: config.StorageConfig{Driver: config.StorageDriverMemory},
		Auth: config.AuthConfig{
			SessionSecret:        "app-test-session-secret-0123456789",
			SessionExpiry:        time.Hour,
			ChangeTokenExpiry:    10 * time.Minute,
			ObfuscationKey:       obfuscate.DefaultKey,
			BcryptCost:           4,
			CleanupInterval:      time.Hour,
			RevocationFailClosed: true,
		},
		MFA: config.MFAConfig{
			Issuer:          "Warden",
			EncryptionKey:   make([]byte, 32),
			BackupCodeCount: 10,
			MaxAttempts:     5,
			AttemptWindow:   15 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			MaxFailedAttemptsPerEmail:    5,
			EmailLockoutDuration:         15 * time.Minute,
			MaxAttemptsPerIP:             50,
			MaxAttemptsPerDevice:         50,
			LookbackWindow:               15 * time.Minute,
			ProgressiveLockoutMultiplier: 2,
			MaxLockoutDuration:           time.Hour,
			LoginRequestsPerMinute:       1000,
		},
		Bootstrap: config.BootstrapConfig{
			SuperAdminEmail:    bootstrapEmail,
			SuperAdminPassword: bootstrapPassword,
			SuperAdminUsername: "root",
		},
	}
}

type client struct {
	t       *testing.T
	handler http.Handler
	codec   *obfuscate.Codec
}

func (c *client) do(method, path string, body any, setup func(*http.Request)) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:40000"
	if setup != nil {
		setup(req)
	}

	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

func (c *client) login(email, password, code string) (*httptest.ResponseRecorder, map[string]any) {
	return c.do(http.MethodPost, "/api/v1/manager/login", map[string]string{
		"email":     c.codec.Encode(email),
		"password":  c.codec.Encode(password),
		"totp_code": code,
	}, nil)
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func newTestApp(t *testing.T) (*App, *client) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := New(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Bootstrap(context.Background()))

	return a, &client{t: t, handler: a.Handler, codec: obfuscate.MustNewCodec(obfuscate.DefaultKey)}
}

func TestHealth_MemoryStore(t *testing.T) {
	_, c := newTestApp(t)

	w, body := c.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "memory", body["storage"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestBootstrap_IsIdempotent(t *testing.T) {
	a, _ := newTestApp(t)

	require.NoError(t, a.Bootstrap(context.Background()))
	admins, err := a.Admins.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, admins, 1)
}

func TestAdminLifecycle(t *testing.T) {
	_, c := newTestApp(t)

	// first sign-in forces rotation
	w, body := c.login(bootstrapEmail, bootstrapPassword, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, true, body["requiresPasswordChange"])
	changeToken, _ := body["changeToken"].(string)
	require.NotEmpty(t, changeToken)

	// a change token only opens the password endpoint
	w, _ = c.do(http.MethodGet, "/admin/settings/profile", nil, bearer(changeToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = c.do(http.MethodPut, "/admin/settings/password", map[string]string{
		"currentPassword": bootstrapPassword,
		"newPassword":     "weak",
	}, bearer(changeToken))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "weak_password", body["error"])

	w, _ = c.do(http.MethodPut, "/admin/settings/password", map[string]string{
		"currentPassword": bootstrapPassword,
		"newPassword":     rotatedPassword,
	}, bearer(changeToken))
	require.Equal(t, http.StatusOK, w.Code)

	// the change token was single-use
	w, _ = c.do(http.MethodPut, "/admin/settings/password", map[string]string{
		"currentPassword": rotatedPassword,
		"newPassword":     "Third-Password-3",
	}, bearer(changeToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = c.login(bootstrapEmail, bootstrapPassword, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = c.login(bootstrapEmail, rotatedPassword, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "super_admin", body["role"])
	sessionToken, _ := body["sessionToken"].(string)
	csrfToken, _ := body["csrfToken"].(string)
	require.NotEmpty(t, sessionToken)
	require.NotEmpty(t, csrfToken)

	// cookie sessions must echo the CSRF token on writes
	withCookie := func(csrf string) func(*http.Request) {
		return func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: sessionToken})
			if csrf != "" {
				r.Header.Set(auth.CSRFHeaderName, csrf)
			}
		}
	}
	w, body = c.do(http.MethodPut, "/admin/settings/profile", map[string]string{"username": "rooted"}, withCookie(""))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "csrf_invalid", body["error"])
	w, body = c.do(http.MethodPut, "/admin/settings/profile", map[string]string{"username": "rooted"}, withCookie(csrfToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rooted", body["username"])

	// enroll two-factor
	w, body = c.do(http.MethodPost, "/admin/settings/2fa/setup", nil, bearer(sessionToken))
	require.Equal(t, http.StatusOK, w.Code)
	secret, _ := body["secret"].(string)
	require.NotEmpty(t, secret)
	assert.Contains(t, body["qrCode"], "data:image/png;base64,")

	engine, err := auth.NewTOTPEngine(make([]byte, 32), "Warden")
	require.NoError(t, err)
	code, err := engine.Generate(secret, time.Now())
	require.NoError(t, err)

	w, body = c.do(http.MethodPost, "/admin/settings/2fa/verify", map[string]string{"totp_code": code}, bearer(sessionToken))
	require.Equal(t, http.StatusOK, w.Code)
	rawCodes, _ := body["backupCodes"].([]any)
	require.Len(t, rawCodes, 10)
	backupCode, _ := rawCodes[0].(string)

	w, body = c.do(http.MethodGet, "/admin/settings/profile", nil, bearer(sessionToken))
	require.Equal(t, http.StatusOK, w.Code)
	profile, _ := body["admin"].(map[string]any)
	assert.Equal(t, true, profile["twoFactorEnabled"])
	assert.EqualValues(t, 10, profile["backupCodesRemaining"])

	// sign in again through the second factor
	w, body = c.login(bootstrapEmail, rotatedPassword, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, true, body["requires2FA"])

	w, _ = c.login(bootstrapEmail, rotatedPassword, "ZZZZ-ZZZZ")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = c.login(bootstrapEmail, rotatedPassword, backupCode)
	require.Equal(t, http.StatusOK, w.Code)
	secondSession, _ := body["sessionToken"].(string)

	// a backup code works once
	w, _ = c.login(bootstrapEmail, rotatedPassword, backupCode)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = c.do(http.MethodGet, "/admin/settings/2fa/backup-codes", nil, bearer(secondSession))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 9, body["remaining"])

	// provision another admin
	w, body = c.do(http.MethodPost, "/admin/management/admins", map[string]string{
		"username": "ops",
		"email":    "ops@example.com",
	}, bearer(secondSession))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, body["temporaryPassword"])
	assert.NotEmpty(t, body["secretCode"])
	created, _ := body["admin"].(map[string]any)
	opsID, _ := created["_id"].(string)
	require.NotEmpty(t, opsID)

	// the new admin needs the secret code and cannot reach management
	tempPassword, _ := body["temporaryPassword"].(string)
	secretCode, _ := body["secretCode"].(string)
	w, _ = c.login("ops@example.com", tempPassword, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, body = c.do(http.MethodPost, "/api/v1/manager/login", map[string]string{
		"email":      c.codec.Encode("ops@example.com"),
		"password":   c.codec.Encode(tempPassword),
		"secretCode": secretCode,
	}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, true, body["requiresPasswordChange"])

	w, body = c.do(http.MethodPut, "/admin/management/admins/"+opsID+"/block", map[string]string{"reason": "offboarded"}, bearer(secondSession))
	require.Equal(t, http.StatusOK, w.Code)
	blocked, _ := body["admin"].(map[string]any)
	assert.Equal(t, false, blocked["isActive"])

	w, body = c.do(http.MethodPost, "/api/v1/manager/login", map[string]string{
		"email":      c.codec.Encode("ops@example.com"),
		"password":   c.codec.Encode(tempPassword),
		"secretCode": secretCode,
	}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "account_blocked", body["error"])

	// logout revokes the session
	w, _ = c.do(http.MethodPost, "/api/v1/logout", nil, bearer(secondSession))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = c.do(http.MethodGet, "/admin/settings/profile", nil, bearer(secondSession))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestManagement_RequiresSuperAdmin(t *testing.T) {
	a, c := newTestApp(t)
	ctx := context.Background()

	admins, err := a.Admins.List(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)

	w, _ := c.do(http.MethodGet, "/admin/management/admins", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = c.do(http.MethodGet, "/admin/management/admins", nil, bearer("not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
