package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSessions struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSessions) CleanupExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return 2, f.err
}

type fakeAttempts struct {
	calls atomic.Int32
}

func (f *fakeAttempts) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return 0, nil
}

type fakeMFAAttempts struct {
	threshold time.Time
	calls     atomic.Int32
}

func (f *fakeMFAAttempts) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	f.threshold = threshold
	f.calls.Add(1)
	return 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_RunsEveryStep(t *testing.T) {
	sessions := &fakeSessions{}
	attempts := &fakeAttempts{}
	mfa := &fakeMFAAttempts{}
	cm := NewCleanupManager(sessions, attempts, mfa, 15*time.Minute, discardLogger(), time.Hour)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cm.now = func() time.Time { return fixed }

	cm.RunOnce(context.Background())

	assert.EqualValues(t, 1, sessions.calls.Load())
	assert.EqualValues(t, 1, attempts.calls.Load())
	assert.EqualValues(t, 1, mfa.calls.Load())
	assert.Equal(t, fixed.Add(-15*time.Minute), mfa.threshold)
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("db down")}
	attempts := &fakeAttempts{}
	cm := NewCleanupManager(sessions, attempts, nil, time.Minute, discardLogger(), time.Hour)

	cm.RunOnce(context.Background())

	assert.EqualValues(t, 1, sessions.calls.Load())
	assert.EqualValues(t, 1, attempts.calls.Load())
}

func TestStart_StopsOnStopAndContext(t *testing.T) {
	t.Run("stop", func(t *testing.T) {
		sessions := &fakeSessions{}
		cm := NewCleanupManager(sessions, &fakeAttempts{}, nil, time.Minute, discardLogger(), 10*time.Millisecond)

		done := make(chan struct{})
		go func() {
			cm.Start(context.Background())
			close(done)
		}()

		assert.Eventually(t, func() bool { return sessions.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		cm.Stop()
		cm.Stop()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("cleanup manager did not stop")
		}
	})

	t.Run("context", func(t *testing.T) {
		cm := NewCleanupManager(&fakeSessions{}, &fakeAttempts{}, nil, time.Minute, discardLogger(), time.Hour)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			cm.Start(ctx)
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("cleanup manager ignored context cancellation")
		}
	})
}
