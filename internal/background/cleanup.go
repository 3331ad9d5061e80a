package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionCleaner drops revocation entries whose tokens have expired anyway
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// LoginAttemptCleaner drops login attempts past their retention
type LoginAttemptCleaner interface {
	DeleteExpiredAttempts(ctx context.Context) (int64, error)
}

// MFAAttemptCleaner drops second-factor failures older than a threshold
type MFAAttemptCleaner interface {
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

// CleanupManager periodically prunes expired security records
type CleanupManager struct {
	sessions     SessionCleaner
	attempts     LoginAttemptCleaner
	mfaAttempts  MFAAttemptCleaner
	mfaRetention time.Duration
	logger       *slog.Logger
	interval     time.Duration
	now          func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager. mfaAttempts may be nil when
// second-factor failures are tracked outside the store.
func NewCleanupManager(
	sessions SessionCleaner,
	attempts LoginAttemptCleaner,
	mfaAttempts MFAAttemptCleaner,
	mfaRetention time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions:     sessions,
		attempts:     attempts,
		mfaAttempts:  mfaAttempts,
		mfaRetention: mfaRetention,
		logger:       logger,
		interval:     interval,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then on every tick until ctx is done
// or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass. Failures are logged and do not stop
// the remaining steps.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cm.step("revoked sessions", func() (int64, error) {
		return cm.sessions.CleanupExpired(cleanupCtx)
	})
	cm.step("login attempts", func() (int64, error) {
		return cm.attempts.DeleteExpiredAttempts(cleanupCtx)
	})
	if cm.mfaAttempts != nil {
		cm.step("mfa attempts", func() (int64, error) {
			return cm.mfaAttempts.DeleteOlderThan(cleanupCtx, cm.now().Add(-cm.mfaRetention))
		})
	}
}

func (cm *CleanupManager) step(name string, run func() (int64, error)) {
	rows, err := run()
	if err != nil {
		cm.logger.Error("cleanup failed", slog.String("target", name), slog.Any("error", err))
		return
	}
	if rows > 0 {
		cm.logger.Info("cleanup completed", slog.String("target", name), slog.Int64("rows_deleted", rows))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
