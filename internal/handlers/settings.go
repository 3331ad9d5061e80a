package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// AccountServiceInterface defines an admin's operations on their own account
type AccountServiceInterface interface {
	GetProfile(ctx context.Context, identityID string) (*services.Profile, error)
	UpdateUsername(ctx context.Context, identityID, username string) (*models.Identity, error)
	ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string, presented *models.SessionClaims) error
	Logout(ctx context.Context, claims *models.SessionClaims) error
}

// MFAServiceInterface defines the two-factor lifecycle
type MFAServiceInterface interface {
	StartEnrollment(ctx context.Context, identityID, customSecret string) (*models.MFAEnrollment, error)
	ConfirmEnrollment(ctx context.Context, identityID, code string) ([]string, error)
	Disable(ctx context.Context, identityID, password, code string) error
	RegenerateBackupCodes(ctx context.Context, identityID, totpCode string) ([]string, error)
	BackupCodeStatus(ctx context.Context, identityID string) (*models.BackupCodeStatus, error)
}

// SettingsHandler serves /admin/settings
type SettingsHandler struct {
	account AccountServiceInterface
	mfa     MFAServiceInterface
	cookies auth.CookieConfig
	logger  *slog.Logger
}

func NewSettingsHandler(account AccountServiceInterface, mfa MFAServiceInterface, cookies auth.CookieConfig, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{account: account, mfa: mfa, cookies: cookies, logger: logger}
}

type UpdateProfileRequest struct {
	Username string `json:"username" validate:"required,min=1,max=100"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,max=128"`
}

type MFASetupRequest struct {
	CustomSecret string `json:"customSecret" validate:"max=128"`
}

type MFACodeRequest struct {
	TOTPCode string `json:"totp_code" validate:"required,max=16"`
}

type MFADisableRequest struct {
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code" validate:"required,max=16"`
}

// BackupCodesResponse returns freshly issued codes. They are shown only once.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// decode reads and validates a JSON body. An empty body is accepted when
// allowEmpty is set so optional-only requests can omit it.
func decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return false
		}
	}
	if err := ValidateRequest(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "validation_failed", ve.Error(), ve.Fields)
		return
	}
	pkghttp.WriteBadRequest(w, err.Error())
}

func principalOrAbort(w http.ResponseWriter, r *http.Request) *auth.Principal {
	p := auth.GetPrincipal(r.Context())
	if p == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
	}
	return p
}

// GetProfile handles GET /admin/settings/profile
func (h *SettingsHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	profile, err := h.account.GetProfile(r.Context(), p.Identity.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"admin": profile})
}

// UpdateProfile handles PUT /admin/settings/profile
func (h *SettingsHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req UpdateProfileRequest
	if !decode(w, r, &req, false) {
		return
	}

	updated, err := h.account.UpdateUsername(r.Context(), p.Identity.ID, req.Username)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"username": updated.Username})
}

// ChangePassword handles PUT /admin/settings/password. It accepts a session
// or a password-change token. The presented token is revoked, so cookie
// callers also lose their cookies.
func (h *SettingsHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req ChangePasswordRequest
	if !decode(w, r, &req, false) {
		return
	}

	if err := h.account.ChangePassword(r.Context(), p.Identity.ID, req.CurrentPassword, req.NewPassword, p.Claims); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if p.ViaCookie {
		auth.ClearSessionCookies(w, h.cookies)
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password changed. Please sign in again."})
}

// SetupMFA handles POST /admin/settings/2fa/setup
func (h *SettingsHandler) SetupMFA(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req MFASetupRequest
	if !decode(w, r, &req, true) {
		return
	}

	enrollment, err := h.mfa.StartEnrollment(r.Context(), p.Identity.ID, req.CustomSecret)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// VerifyMFA handles POST /admin/settings/2fa/verify and completes enrollment
func (h *SettingsHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req MFACodeRequest
	if !decode(w, r, &req, false) {
		return
	}

	codes, err := h.mfa.ConfirmEnrollment(r.Context(), p.Identity.ID, req.TOTPCode)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// DisableMFA handles POST /admin/settings/2fa/disable
func (h *SettingsHandler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req MFADisableRequest
	if !decode(w, r, &req, false) {
		return
	}

	if err := h.mfa.Disable(r.Context(), p.Identity.ID, req.Password, req.TOTPCode); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication disabled"})
}

// RegenerateBackupCodes handles POST /admin/settings/2fa/regenerate-backup
func (h *SettingsHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req MFACodeRequest
	if !decode(w, r, &req, false) {
		return
	}

	codes, err := h.mfa.RegenerateBackupCodes(r.Context(), p.Identity.ID, req.TOTPCode)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// BackupCodes handles GET /admin/settings/2fa/backup-codes
func (h *SettingsHandler) BackupCodes(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	status, err := h.mfa.BackupCodeStatus(r.Context(), p.Identity.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, status)
}
