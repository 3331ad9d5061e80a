package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithPrincipal attaches an authenticated identity to the request as the
// session middleware would
func WithPrincipal(req *http.Request, identity *models.Identity, viaCookie bool) *http.Request {
	claims := &models.SessionClaims{Type: models.TokenTypeSession}
	claims.Subject = identity.ID
	claims.ID = "test-jti"
	return req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{
		Identity:  identity,
		Claims:    claims,
		Token:     "test-token",
		ViaCookie: viaCookie,
	}))
}

// WithChiRouteContext adds chi URL parameters to the request context
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	LoginFunc func(ctx context.Context, attempt models.LoginAttempt) (*models.LoginResult, error)
}

func (m *MockLoginService) Login(ctx context.Context, attempt models.LoginAttempt) (*models.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, attempt)
}

// MockSessionParser implements SessionParser for testing
type MockSessionParser struct {
	ParseFunc func(tokenString string, allowedTypes ...string) (*models.SessionClaims, error)
}

func (m *MockSessionParser) Parse(tokenString string, allowedTypes ...string) (*models.SessionClaims, error) {
	if m.ParseFunc == nil {
		return nil, models.ErrSessionInvalid
	}
	return m.ParseFunc(tokenString, allowedTypes...)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	GetProfileFunc     func(ctx context.Context, identityID string) (*services.Profile, error)
	UpdateUsernameFunc func(ctx context.Context, identityID, username string) (*models.Identity, error)
	ChangePasswordFunc func(ctx context.Context, identityID, currentPassword, newPassword string, presented *models.SessionClaims) error
	LogoutFunc         func(ctx context.Context, claims *models.SessionClaims) error
}

func (m *MockAccountService) GetProfile(ctx context.Context, identityID string) (*services.Profile, error) {
	if m.GetProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetProfileFunc(ctx, identityID)
}

func (m *MockAccountService) UpdateUsername(ctx context.Context, identityID, username string) (*models.Identity, error) {
	if m.UpdateUsernameFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateUsernameFunc(ctx, identityID, username)
}

func (m *MockAccountService) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string, presented *models.SessionClaims) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, identityID, currentPassword, newPassword, presented)
}

func (m *MockAccountService) Logout(ctx context.Context, claims *models.SessionClaims) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	StartEnrollmentFunc       func(ctx context.Context, identityID, customSecret string) (*models.MFAEnrollment, error)
	ConfirmEnrollmentFunc     func(ctx context.Context, identityID, code string) ([]string, error)
	DisableFunc               func(ctx context.Context, identityID, password, code string) error
	RegenerateBackupCodesFunc func(ctx context.Context, identityID, totpCode string) ([]string, error)
	BackupCodeStatusFunc      func(ctx context.Context, identityID string) (*models.BackupCodeStatus, error)
}

func (m *MockMFAService) StartEnrollment(ctx context.Context, identityID, customSecret string) (*models.MFAEnrollment, error) {
	if m.StartEnrollmentFunc == nil {
		return nil, models.ErrMFAAlreadyEnabled
	}
	return m.StartEnrollmentFunc(ctx, identityID, customSecret)
}

func (m *MockMFAService) ConfirmEnrollment(ctx context.Context, identityID, code string) ([]string, error) {
	if m.ConfirmEnrollmentFunc == nil {
		return nil, models.ErrMFASetupNotFound
	}
	return m.ConfirmEnrollmentFunc(ctx, identityID, code)
}

func (m *MockMFAService) Disable(ctx context.Context, identityID, password, code string) error {
	if m.DisableFunc == nil {
		return models.ErrMFANotEnabled
	}
	return m.DisableFunc(ctx, identityID, password, code)
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, identityID, totpCode string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrMFANotEnabled
	}
	return m.RegenerateBackupCodesFunc(ctx, identityID, totpCode)
}

func (m *MockMFAService) BackupCodeStatus(ctx context.Context, identityID string) (*models.BackupCodeStatus, error) {
	if m.BackupCodeStatusFunc == nil {
		return &models.BackupCodeStatus{Codes: []models.BackupCodeSlot{}}, nil
	}
	return m.BackupCodeStatusFunc(ctx, identityID)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ListFunc          func(ctx context.Context) ([]models.AdminSummary, error)
	StatsFunc         func(ctx context.Context) (*services.AdminStats, error)
	CreateFunc        func(ctx context.Context, actor *models.Identity, input services.CreateAdminInput) (*services.CreatedAdmin, error)
	BlockFunc         func(ctx context.Context, actor *models.Identity, targetID, reason string) (*models.AdminSummary, error)
	UnblockFunc       func(ctx context.Context, actor *models.Identity, targetID string) (*models.AdminSummary, error)
	DeleteFunc        func(ctx context.Context, actor *models.Identity, targetID string) error
	ResetPasswordFunc func(ctx context.Context, actor *models.Identity, targetID string) (string, error)
	ResetMFAFunc      func(ctx context.Context, actor *models.Identity, targetID string) error
}

func (m *MockAdminService) List(ctx context.Context) ([]models.AdminSummary, error) {
	if m.ListFunc == nil {
		return []models.AdminSummary{}, nil
	}
	return m.ListFunc(ctx)
}

func (m *MockAdminService) Stats(ctx context.Context) (*services.AdminStats, error) {
	if m.StatsFunc == nil {
		return &services.AdminStats{}, nil
	}
	return m.StatsFunc(ctx)
}

func (m *MockAdminService) Create(ctx context.Context, actor *models.Identity, input services.CreateAdminInput) (*services.CreatedAdmin, error) {
	if m.CreateFunc == nil {
		return nil, models.ErrConflict
	}
	return m.CreateFunc(ctx, actor, input)
}

func (m *MockAdminService) Block(ctx context.Context, actor *models.Identity, targetID, reason string) (*models.AdminSummary, error) {
	if m.BlockFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.BlockFunc(ctx, actor, targetID, reason)
}

func (m *MockAdminService) Unblock(ctx context.Context, actor *models.Identity, targetID string) (*models.AdminSummary, error) {
	if m.UnblockFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UnblockFunc(ctx, actor, targetID)
}

func (m *MockAdminService) Delete(ctx context.Context, actor *models.Identity, targetID string) error {
	if m.DeleteFunc == nil {
		return models.ErrNotFound
	}
	return m.DeleteFunc(ctx, actor, targetID)
}

func (m *MockAdminService) ResetPassword(ctx context.Context, actor *models.Identity, targetID string) (string, error) {
	if m.ResetPasswordFunc == nil {
		return "", models.ErrNotFound
	}
	return m.ResetPasswordFunc(ctx, actor, targetID)
}

func (m *MockAdminService) ResetMFA(ctx context.Context, actor *models.Identity, targetID string) error {
	if m.ResetMFAFunc == nil {
		return models.ErrNotFound
	}
	return m.ResetMFAFunc(ctx, actor, targetID)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Err
}
