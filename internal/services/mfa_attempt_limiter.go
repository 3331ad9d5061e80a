package services

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/redis/go-redis/v9"
)

// MFAAttemptLimiter caps second-factor verifications per identity within a
// fixed window. Reserve counts an attempt before the code is checked and
// returns models.ErrMFARateLimited once the ceiling is reached, so concurrent
// guesses cannot overrun it. A successful verification calls Reset; a failed
// one leaves its reservation standing as the recorded failure.
type MFAAttemptLimiter interface {
	Reserve(ctx context.Context, identityID, ipAddress string) error
	Reset(ctx context.Context, identityID string) error
}

// StoreMFALimiter reserves attempts in an MFAAttemptRepository
type StoreMFALimiter struct {
	repo        MFAAttemptRepository
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

func NewStoreMFALimiter(repo MFAAttemptRepository, maxAttempts int, window time.Duration) *StoreMFALimiter {
	return &StoreMFALimiter{
		repo:        repo,
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

func (l *StoreMFALimiter) Reserve(ctx context.Context, identityID, ipAddress string) error {
	reserved, err := l.repo.ReserveAttempt(ctx, &models.MFAAttempt{
		IdentityID: identityID,
		IPAddress:  ipAddress,
	}, l.now().Add(-l.window), l.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to reserve mfa attempt: %w", err)
	}
	if !reserved {
		return models.ErrMFARateLimited
	}
	return nil
}

func (l *StoreMFALimiter) Reset(ctx context.Context, identityID string) error {
	return l.repo.ResetFailures(ctx, identityID)
}

// RedisMFALimiter keeps one expiring counter per identity so the ceiling is
// shared between instances
type RedisMFALimiter struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewRedisMFALimiter(client *redis.Client, maxAttempts int, window time.Duration) *RedisMFALimiter {
	return &RedisMFALimiter{
		redis:       client,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

func (l *RedisMFALimiter) key(identityID string) string {
	return "warden:mfa:att:" + identityID
}

// Reserve increments the counter and starts the window in one MULTI/EXEC
func (l *RedisMFALimiter) Reserve(ctx context.Context, identityID, ipAddress string) error {
	key := l.key(identityID)

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reserve mfa attempt: %w", err)
	}
	if incr.Val() > int64(l.maxAttempts) {
		return models.ErrMFARateLimited
	}
	return nil
}

func (l *RedisMFALimiter) Reset(ctx context.Context, identityID string) error {
	if err := l.redis.Del(ctx, l.key(identityID)).Err(); err != nil {
		return fmt.Errorf("failed to reset mfa attempt counter: %w", err)
	}
	return nil
}
