package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// writeServiceError maps service errors onto the JSON error envelope.
// Anything unrecognised is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var policy *pkgauth.PasswordPolicyError
	switch {
	case errors.As(err, &policy):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", "Password does not meet policy", policy.Violations)
	case errors.Is(err, models.ErrWeakPassword):
		pkghttp.WriteError(w, http.StatusBadRequest, "weak_password", "Password does not meet policy")
	case errors.Is(err, models.ErrSecretFormatInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, "secret_format_invalid", "Secret must be base32 encoded and at least 80 bits")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, models.ErrInvalidMFACode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "Invalid two-factor code")
	case errors.Is(err, models.ErrMFARateLimited):
		w.Header().Set("Retry-After", "60")
		pkghttp.WriteTooManyRequests(w, "Too many two-factor attempts. Please try again later.")
	case errors.Is(err, models.ErrMFAAlreadyEnabled):
		pkghttp.WriteError(w, http.StatusConflict, "mfa_already_enabled", "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrMFANotEnabled):
		pkghttp.WriteError(w, http.StatusBadRequest, "mfa_not_enabled", "Two-factor authentication is not enabled")
	case errors.Is(err, models.ErrMFASetupNotFound):
		pkghttp.WriteError(w, http.StatusBadRequest, "mfa_setup_not_found", "No pending two-factor setup")
	case errors.Is(err, models.ErrConcurrentUpdate):
		pkghttp.WriteConflict(w, "Account was modified concurrently, please retry")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "An account with this email already exists")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Admin not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, forbiddenMessage(err))
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func forbiddenMessage(err error) string {
	if err == models.ErrForbidden {
		return "Forbidden"
	}
	return err.Error()
}
