package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound         = errors.New("resource not found")
	ErrConflict         = errors.New("resource already exists")
	ErrConcurrentUpdate = errors.New("resource was modified concurrently")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrBadRequest       = errors.New("bad request")
	ErrInternalServer   = errors.New("internal server error")

	// Authentication outcomes
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountBlocked           = errors.New("account is blocked")
	ErrMFARequired              = errors.New("two-factor authentication required")
	ErrInvalidMFACode           = errors.New("invalid two-factor code")
	ErrPasswordRotationRequired = errors.New("password change required")
	ErrWeakPassword             = errors.New("password does not meet policy")
	ErrSecretFormatInvalid      = errors.New("secret is not valid base32 of at least 80 bits")

	// Rate limiting
	ErrRateLimitExceeded = errors.New("too many login attempts")
	ErrMFARateLimited    = errors.New("too many two-factor attempts")

	// MFA lifecycle
	ErrMFAAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrMFANotEnabled     = errors.New("two-factor authentication not enabled")
	ErrMFASetupNotFound  = errors.New("no pending two-factor enrollment")

	// Sessions
	ErrSessionInvalid = errors.New("session is invalid or expired")
	ErrSessionRevoked = errors.New("session has been revoked")
)
