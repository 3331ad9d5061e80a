package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// LoginServiceInterface runs one step of the login sequence
type LoginServiceInterface interface {
	Login(ctx context.Context, attempt models.LoginAttempt) (*models.LoginResult, error)
}

// SessionParser decodes a presented token without touching the revocation store
type SessionParser interface {
	Parse(tokenString string, allowedTypes ...string) (*models.SessionClaims, error)
}

// AuthHandler handles login and logout
type AuthHandler struct {
	login    LoginServiceInterface
	account  AccountServiceInterface
	sessions SessionParser
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login LoginServiceInterface, account AccountServiceInterface, sessions SessionParser, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		login:    login,
		account:  account,
		sessions: sessions,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// LoginRequest is the login body. Email and Password arrive obfuscated, so
// they are only checked for presence here.
type LoginRequest struct {
	Email      string `json:"email" validate:"required"`
	Password   string `json:"password" validate:"required"`
	SecretCode string `json:"secretCode" validate:"max=64"`
	TOTPCode   string `json:"totp_code" validate:"max=16"`
}

// LoginResponse is returned once the session is established
type LoginResponse struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	SessionToken string `json:"sessionToken"`
	CSRFToken    string `json:"csrfToken"`
}

// Login handles POST /api/v1/manager/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req, false) {
		return
	}

	result, err := h.login.Login(r.Context(), models.LoginAttempt{
		Email:      req.Email,
		Password:   req.Password,
		SecretCode: req.SecretCode,
		Code:       req.TOTPCode,
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  r.Header.Get("User-Agent"),
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	switch result.State {
	case models.LoginStateTwoFactor:
		pkghttp.WriteJSON(w, http.StatusForbidden, map[string]any{
			"error":       "mfa_required",
			"message":     models.ErrMFARequired.Error(),
			"requires2FA": true,
		})
	case models.LoginStateForcedPasswordChange:
		pkghttp.WriteJSON(w, http.StatusForbidden, map[string]any{
			"error":                  "password_change_required",
			"message":                "Password change required before signing in",
			"requiresPasswordChange": true,
			"changeToken":            result.ChangeToken,
		})
	case models.LoginStateAuthenticated:
		auth.SetSessionCookies(w, result.Session.Token, result.Session.CSRFToken, result.Session.ExpiresAt, h.cookies)
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			Username:     result.Identity.Username,
			Email:        result.Identity.Email,
			Role:         result.Identity.Role,
			SessionToken: result.Session.Token,
			CSRFToken:    result.Session.CSRFToken,
		})
	default:
		h.logger.Error("unexpected login state", slog.String("state", string(result.State)))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var lockout *services.LockoutError
	switch {
	case errors.As(err, &lockout):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(lockout.RetryAfter.Seconds()))))
		pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
	case errors.Is(err, models.ErrRateLimitExceeded), errors.Is(err, models.ErrMFARateLimited):
		w.Header().Set("Retry-After", "60")
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Please try again later.")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, models.ErrInvalidMFACode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "Invalid two-factor code")
	case errors.Is(err, models.ErrAccountBlocked):
		pkghttp.WriteError(w, http.StatusForbidden, "account_blocked", "Account is blocked")
	default:
		h.logger.Error("login failed", slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Logout handles GET|POST /api/v1/logout. It always clears cookies; an
// unparseable or missing token is not an error.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.ExtractToken(r); token != "" {
		claims, err := h.sessions.Parse(token, models.TokenTypeSession, models.TokenTypePasswordChange)
		if err == nil {
			if err := h.account.Logout(r.Context(), claims); err != nil {
				h.logger.Error("failed to revoke session on logout", slog.String("error", err.Error()))
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}
		}
	}

	auth.ClearSessionCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}
