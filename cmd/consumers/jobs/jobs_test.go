package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSweeper struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func (s *blockingSweeper) ExpireStaleSessions(context.Context, time.Time) (int, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
		<-s.release
	}
	return 2, s.err
}

type fakeLocker struct {
	mu       sync.Mutex
	busy     bool
	err      error
	released int
	ttl      time.Duration
}

func (l *fakeLocker) TryLock(_ context.Context, _ string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttl = ttl
	if l.err != nil {
		return nil, false, l.err
	}
	if l.busy {
		return nil, false, nil
	}
	l.busy = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.busy = false
		l.released++
		return nil
	}, true, nil
}

func TestSweep_SkipsWhileRunning(t *testing.T) {
	sweeper := &blockingSweeper{started: make(chan struct{}), release: make(chan struct{})}
	job := NewSessionExpirationJob(sweeper, nil, time.Minute)
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- job.sweep(ctx) }()
	<-sweeper.started

	assert.False(t, job.sweep(ctx), "overlapping tick must be skipped")

	close(sweeper.release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), sweeper.calls.Load())

	// the flag is cleared after the sweep
	sweeper.started = nil
	assert.True(t, job.sweep(ctx))
	assert.Equal(t, int32(2), sweeper.calls.Load())
}

func TestSweep_RespectsDistributedLock(t *testing.T) {
	sweeper := &blockingSweeper{}
	locker := &fakeLocker{busy: true}
	job := NewSessionExpirationJob(sweeper, locker, time.Minute)

	assert.False(t, job.sweep(context.Background()))
	assert.Zero(t, sweeper.calls.Load())

	locker.busy = false
	assert.True(t, job.sweep(context.Background()))
	assert.Equal(t, int32(1), sweeper.calls.Load())
	assert.Equal(t, 1, locker.released)
}

func TestSweep_LockOutlivesInterval(t *testing.T) {
	locker := &fakeLocker{}
	job := NewSessionExpirationJob(&blockingSweeper{}, locker, time.Minute)

	require.True(t, job.sweep(context.Background()))
	assert.Greater(t, locker.ttl, time.Minute)
}

func TestStop_WaitsForInflightSweep(t *testing.T) {
	sweeper := &blockingSweeper{started: make(chan struct{}), release: make(chan struct{})}
	job := NewSessionExpirationJob(sweeper, nil, time.Hour)

	job.Start(context.Background())
	<-sweeper.started

	stopped := make(chan struct{})
	go func() {
		job.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sweep was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(sweeper.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestSweep_LockError(t *testing.T) {
	sweeper := &blockingSweeper{}
	job := NewSessionExpirationJob(sweeper, &fakeLocker{err: errors.New("redis down")}, time.Minute)

	assert.False(t, job.sweep(context.Background()))
	assert.Zero(t, sweeper.calls.Load())
}

func TestSweep_ErrorStillCountsAsRun(t *testing.T) {
	sweeper := &blockingSweeper{err: errors.New("db down")}
	job := NewSessionExpirationJob(sweeper, nil, time.Minute)

	assert.True(t, job.sweep(context.Background()))
	assert.True(t, job.sweep(context.Background()))
}

type fakePurger struct {
	cutoff time.Time
}

func (p *fakePurger) PurgeFinishedSessions(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return 3, nil
}

func TestRetention_UsesCutoff(t *testing.T) {
	purger := &fakePurger{}
	job := NewSessionRetentionJob(purger, 24*time.Hour, time.Hour)
	now := time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	n := job.purge(context.Background())
	require.Equal(t, int64(3), n)
	assert.Equal(t, now.Add(-24*time.Hour), purger.cutoff)
}
