package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"passgate/internal/metrics"
)

// SessionSweeper expires checkout sessions past their deadline
type SessionSweeper interface {
	ExpireStaleSessions(ctx context.Context, now time.Time) (int, error)
}

// Locker is a cross-replica lock; implemented by cache.Locker
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

const sweepLockName = "session-sweep"

// TTL блокировки: проход может длиться дольше одного интервала
const lockTTLFactor = 3

// SessionExpirationJob periodically expires stale checkout sessions.
// A tick that finds a sweep still running is skipped.
type SessionExpirationJob struct {
	sweeper  SessionSweeper
	locker   Locker
	interval time.Duration
	lockTTL  time.Duration
	running  atomic.Bool
	inflight sync.WaitGroup
	ticker   *time.Ticker
	done     chan struct{}
	now      func() time.Time
}

// NewSessionExpirationJob creates the job; locker may be nil for a single replica
func NewSessionExpirationJob(sweeper SessionSweeper, locker Locker, interval time.Duration) *SessionExpirationJob {
	return &SessionExpirationJob{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		lockTTL:  interval * lockTTLFactor,
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the background sweep loop
func (j *SessionExpirationJob) Start(ctx context.Context) {
	slog.Info("Starting session expiration job", "check_interval", j.interval.String())

	j.ticker = time.NewTicker(j.interval)

	// Run initial check immediately
	j.spawn(ctx)

	j.inflight.Add(1)
	go func() {
		defer j.inflight.Done()
		for {
			select {
			case <-j.ticker.C:
				j.spawn(ctx)
			case <-j.done:
				slog.Info("Session expiration job stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the background job and waits for an in-flight sweep
func (j *SessionExpirationJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
	j.inflight.Wait()
}

func (j *SessionExpirationJob) spawn(ctx context.Context) {
	j.inflight.Add(1)
	go func() {
		defer j.inflight.Done()
		j.sweep(ctx)
	}()
}

// sweep runs one expiry pass and reports whether it ran
func (j *SessionExpirationJob) sweep(ctx context.Context) bool {
	if !j.running.CompareAndSwap(false, true) {
		slog.Debug("Previous sweep still running, skipping tick")
		return false
	}
	defer j.running.Store(false)

	if j.locker != nil {
		release, ok, err := j.locker.TryLock(ctx, sweepLockName, j.lockTTL)
		if err != nil {
			slog.Error("Failed to acquire sweep lock", "error", err)
			return false
		}
		if !ok {
			slog.Debug("Sweep is running on another replica")
			return false
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("Failed to release sweep lock", "error", err)
			}
		}()
	}

	start := time.Now()
	expired, err := j.sweeper.ExpireStaleSessions(ctx, j.now())
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		slog.Error("Session sweep failed", "error", err, "expired", expired)
		return true
	}

	if expired > 0 {
		slog.Info("Session sweep finished", "expired", expired, "duration", time.Since(start).String())
	} else {
		slog.Debug("No expired sessions found")
	}
	return true
}
