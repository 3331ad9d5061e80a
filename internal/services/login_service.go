package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/BradenHooton/warden/pkg/obfuscate"
)

// LockoutError is returned while an email is locked out after repeated failures
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too many login attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockoutError) Unwrap() error {
	return models.ErrRateLimitExceeded
}

// LoginService drives a submission through the login states:
// CREDENTIALS, then FORCED_PASSWORD_CHANGE or TWO_FACTOR, then AUTHENTICATED.
// No state is held between submissions; the client resubmits credentials
// together with the second factor.
type LoginService struct {
	codec        *obfuscate.Codec
	rateLimiter  *RateLimitService
	verifier     *CredentialVerifier
	secondFactor *SecondFactorVerifier
	mfaLimiter   MFAAttemptLimiter
	identities   IdentityRepository
	sessions     *auth.SessionIssuer
	timing       *auth.TimingDelay
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	now          func() time.Time
}

// LoginDeps groups the collaborators of LoginService
type LoginDeps struct {
	Codec        *obfuscate.Codec
	RateLimiter  *RateLimitService
	Verifier     *CredentialVerifier
	SecondFactor *SecondFactorVerifier
	MFALimiter   MFAAttemptLimiter
	Identities   IdentityRepository
	Sessions     *auth.SessionIssuer
	Timing       *auth.TimingDelay
	Logger       *slog.Logger
	AuditLogger  *pkglogger.AuditLogger
}

func NewLoginService(deps LoginDeps) *LoginService {
	return &LoginService{
		codec:        deps.Codec,
		rateLimiter:  deps.RateLimiter,
		verifier:     deps.Verifier,
		secondFactor: deps.SecondFactor,
		mfaLimiter:   deps.MFALimiter,
		identities:   deps.Identities,
		sessions:     deps.Sessions,
		timing:       deps.Timing,
		logger:       deps.Logger,
		auditLogger:  deps.AuditLogger,
		now:          time.Now,
	}
}

// Login evaluates one submission. A returned error means the attempt ended
// in CREDENTIALS; a result carries every other state.
func (s *LoginService) Login(ctx context.Context, attempt models.LoginAttempt) (*models.LoginResult, error) {
	start := s.now()

	email := ""
	plainEmail, emailErr := s.codec.Decode(attempt.Email)
	if emailErr == nil {
		email = NormalizeEmail(plainEmail)
	}

	allowed, lockout, err := s.rateLimiter.CheckRateLimit(ctx, email, attempt.IPAddress, attempt.UserAgent)
	if err != nil {
		s.audit(ctx, pkglogger.EventLoginFailed, "", email, attempt, false, "rate_limited")
		return nil, err
	}
	if !allowed {
		s.audit(ctx, pkglogger.EventLoginFailed, "", email, attempt, false, "account_locked")
		retry := time.Duration(0)
		if lockout != nil {
			retry = *lockout
		}
		return nil, &LockoutError{RetryAfter: retry}
	}

	password, passwordErr := s.codec.Decode(attempt.Password)
	if emailErr != nil || passwordErr != nil {
		return nil, s.fail(ctx, start, "", email, attempt, "malformed_credentials", models.ErrInvalidCredentials)
	}

	identity, err := s.verifier.Verify(ctx, email, password, attempt.SecretCode)
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return nil, s.fail(ctx, start, "", email, attempt, "invalid_credentials", err)
	case errors.Is(err, models.ErrAccountBlocked):
		return nil, s.fail(ctx, start, identity.ID, email, attempt, "account_blocked", err)
	case err != nil:
		s.logger.Error("credential verification failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: credential verification", models.ErrInternalServer)
	}

	if identity.MustChangePassword {
		changeToken, err := s.sessions.IssuePasswordChange(identity)
		if err != nil {
			s.logger.Error("failed to issue password change token", slog.String("user_id", identity.ID), slog.Any("error", err))
			return nil, fmt.Errorf("%w: issue change token", models.ErrInternalServer)
		}
		s.recordAttempt(ctx, email, attempt, true, "")
		s.audit(ctx, pkglogger.EventLoginRotation, identity.ID, email, attempt, true, "")
		return &models.LoginResult{
			State:       models.LoginStateForcedPasswordChange,
			Identity:    identity,
			ChangeToken: changeToken,
		}, nil
	}

	if !identity.MFAEnabled {
		return s.complete(ctx, start, identity, email, attempt, "")
	}

	if attempt.Code == "" {
		s.audit(ctx, pkglogger.EventLoginMFAChallenge, identity.ID, email, attempt, true, "")
		return &models.LoginResult{
			State:    models.LoginStateTwoFactor,
			Identity: identity,
		}, nil
	}

	if err := s.mfaLimiter.Reserve(ctx, identity.ID, attempt.IPAddress); err != nil {
		if errors.Is(err, models.ErrMFARateLimited) {
			s.audit(ctx, pkglogger.EventLoginFailed, identity.ID, email, attempt, false, "mfa_rate_limited")
			return nil, err
		}
		s.logger.Error("mfa limiter unavailable", slog.Any("error", err))
		return nil, fmt.Errorf("%w: mfa limiter", models.ErrInternalServer)
	}

	factor, ok, err := s.secondFactor.Verify(ctx, identity, attempt.Code)
	if err != nil {
		s.logger.Error("second factor verification failed", slog.String("user_id", identity.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: second factor", models.ErrInternalServer)
	}
	if !ok {
		return nil, s.fail(ctx, start, identity.ID, email, attempt, "invalid_mfa_code", models.ErrInvalidMFACode)
	}

	if err := s.mfaLimiter.Reset(ctx, identity.ID); err != nil {
		s.logger.Warn("failed to reset mfa failures", slog.Any("error", err))
	}
	if factor == FactorBackupCode {
		s.audit(ctx, pkglogger.EventBackupCodeUsed, identity.ID, email, attempt, true, "")
	}
	return s.complete(ctx, start, identity, email, attempt, factor)
}

func (s *LoginService) complete(ctx context.Context, start time.Time, identity *models.Identity, email string, attempt models.LoginAttempt, factor string) (*models.LoginResult, error) {
	session, err := s.sessions.Issue(identity)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", identity.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: issue session", models.ErrInternalServer)
	}

	now := s.now()
	if err := s.identities.RecordLogin(ctx, identity.ID, now); err != nil {
		s.logger.Warn("failed to record last login", slog.String("user_id", identity.ID), slog.Any("error", err))
	} else {
		identity.LastLoginAt = &now
	}

	s.recordAttempt(ctx, email, attempt, true, "")
	event := pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSuccess,
		UserID:    identity.ID,
		Email:     email,
		IPAddress: attempt.IPAddress,
		UserAgent: attempt.UserAgent,
		Success:   true,
	}
	if factor != "" {
		event.Metadata = map[string]string{"factor": factor}
	}
	s.auditLogger.Log(ctx, event)
	s.timing.WaitFrom(ctx, start, true)

	return &models.LoginResult{
		State:    models.LoginStateAuthenticated,
		Identity: identity,
		Session:  session,
	}, nil
}

func (s *LoginService) fail(ctx context.Context, start time.Time, identityID, email string, attempt models.LoginAttempt, reason string, err error) error {
	s.recordAttempt(ctx, email, attempt, false, reason)
	s.audit(ctx, pkglogger.EventLoginFailed, identityID, email, attempt, false, reason)
	s.timing.WaitFrom(ctx, start, false)
	return err
}

func (s *LoginService) recordAttempt(ctx context.Context, email string, attempt models.LoginAttempt, success bool, reason string) {
	if err := s.rateLimiter.RecordLoginAttempt(ctx, email, attempt.IPAddress, attempt.UserAgent, success, reason); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}

func (s *LoginService) audit(ctx context.Context, eventType, identityID, email string, attempt models.LoginAttempt, success bool, reason string) {
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     eventType,
		UserID:        identityID,
		Email:         email,
		IPAddress:     attempt.IPAddress,
		UserAgent:     attempt.UserAgent,
		Success:       success,
		FailureReason: reason,
	})
}
