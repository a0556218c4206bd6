package jobs

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger deletes terminal sessions older than a cutoff
type SessionPurger interface {
	PurgeFinishedSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionRetentionJob removes finished checkout sessions after the retention period
type SessionRetentionJob struct {
	purger    SessionPurger
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
	now       func() time.Time
}

func NewSessionRetentionJob(purger SessionPurger, retention, interval time.Duration) *SessionRetentionJob {
	return &SessionRetentionJob{
		purger:    purger,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

func (j *SessionRetentionJob) Start(ctx context.Context) {
	slog.Info("Starting session retention job", "retention", j.retention.String(), "check_interval", j.interval.String())

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.purge(ctx)
		for {
			select {
			case <-ticker.C:
				j.purge(ctx)
			case <-j.done:
				slog.Info("Session retention job stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (j *SessionRetentionJob) Stop() {
	close(j.done)
}

func (j *SessionRetentionJob) purge(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.retention)
	n, err := j.purger.PurgeFinishedSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to purge finished sessions", "error", err, "cutoff", cutoff)
		return 0
	}
	return n
}
