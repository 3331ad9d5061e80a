package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	MaxFailedAttemptsPerEmail    int
	EmailLockoutDuration         time.Duration
	MaxAttemptsPerIP             int
	MaxAttemptsPerDevice         int
	LookbackWindow               time.Duration
	ProgressiveLockoutMultiplier float64       // applied once per additional block of failures
	MaxLockoutDuration           time.Duration // cap on lockout time
}

// RateLimitService enforces login-attempt ceilings per email, IP and device
type RateLimitService struct {
	repo   RateLimitRepository
	config RateLimitConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewRateLimitService(repo RateLimitRepository, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// CheckRateLimit reports whether a login attempt may proceed. When the email
// is locked out the remaining lockout is returned alongside allowed=false.
// IP and device ceilings return models.ErrRateLimitExceeded.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, email, ipAddress, userAgent string) (bool, *time.Duration, error) {
	now := s.now()
	lookbackTime := now.Add(-s.config.LookbackWindow)

	if email != "" {
		failedCount, err := s.repo.GetFailedAttemptCount(ctx, email, lookbackTime)
		if err != nil {
			// Storage errors fail open; exceeded limits still fail closed
			s.logger.Error("failed to check email rate limit", slog.Any("error", err))
			return true, nil, nil
		}

		if failedCount >= s.config.MaxFailedAttemptsPerEmail {
			lockout := s.calculateLockoutDuration(failedCount)
			remaining := lockout

			last, err := s.repo.GetRecentFailureTime(ctx, email, lookbackTime)
			if err != nil {
				s.logger.Error("failed to read last failure time", slog.Any("error", err))
			} else if last != nil {
				remaining = last.Add(lockout).Sub(now)
			}

			if remaining > 0 {
				s.logger.Warn("account rate limited",
					slog.Int("failed_attempts", failedCount),
					slog.Duration("lockout_duration", remaining))
				return false, &remaining, nil
			}
		}
	}

	ipAttempts, err := s.repo.GetFailedAttemptCountByIP(ctx, ipAddress, lookbackTime)
	if err != nil {
		s.logger.Error("failed to check IP rate limit", slog.Any("error", err))
		return true, nil, nil
	}
	if ipAttempts >= s.config.MaxAttemptsPerIP {
		s.logger.Warn("IP rate limited",
			slog.String("ip_address", ipAddress),
			slog.Int("failed_attempts", ipAttempts))
		return false, nil, models.ErrRateLimitExceeded
	}

	deviceFingerprint := generateDeviceFingerprint(ipAddress, userAgent)
	deviceAttempts, err := s.repo.GetFailedAttemptCountByDevice(ctx, deviceFingerprint, lookbackTime)
	if err != nil {
		s.logger.Error("failed to check device rate limit", slog.Any("error", err))
		return true, nil, nil
	}
	if deviceAttempts >= s.config.MaxAttemptsPerDevice {
		s.logger.Warn("device rate limited",
			slog.String("device_fingerprint", deviceFingerprint),
			slog.Int("failed_attempts", deviceAttempts))
		return false, nil, models.ErrRateLimitExceeded
	}

	return true, nil, nil
}

// RecordLoginAttempt records the outcome of a login attempt
func (s *RateLimitService) RecordLoginAttempt(ctx context.Context, email, ipAddress, userAgent string, success bool, failureReason string) error {
	now := s.now()
	attempt := &models.LoginAttemptRecord{
		Email:             email,
		IPAddress:         ipAddress,
		UserAgent:         userAgent,
		AttemptTime:       now,
		Success:           success,
		DeviceFingerprint: generateDeviceFingerprint(ipAddress, userAgent),
		ExpiresAt:         now.Add(s.config.LookbackWindow * 2),
	}
	if failureReason != "" {
		attempt.FailureReason = &failureReason
	}

	return s.repo.RecordAttempt(ctx, attempt)
}

// calculateLockoutDuration grows the base lockout by the multiplier for every
// further block of MaxFailedAttemptsPerEmail failures, capped at MaxLockoutDuration.
func (s *RateLimitService) calculateLockoutDuration(failedCount int) time.Duration {
	lockout := s.config.EmailLockoutDuration
	if s.config.MaxFailedAttemptsPerEmail > 0 && s.config.ProgressiveLockoutMultiplier > 1 {
		blocks := failedCount/s.config.MaxFailedAttemptsPerEmail - 1
		if blocks > 0 {
			factor := math.Pow(s.config.ProgressiveLockoutMultiplier, float64(blocks))
			lockout = time.Duration(float64(lockout) * factor)
		}
	}

	if s.config.MaxLockoutDuration > 0 && (lockout > s.config.MaxLockoutDuration || lockout < 0) {
		lockout = s.config.MaxLockoutDuration
	}
	return lockout
}

// generateDeviceFingerprint creates a hash of IP + User-Agent for device identification
func generateDeviceFingerprint(ipAddress, userAgent string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", ipAddress, userAgent)))
	return fmt.Sprintf("%x", hash)[:32]
}
