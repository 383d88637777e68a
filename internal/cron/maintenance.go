package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepSchedule evicts idle conversation and rate-limit state.
const SweepSchedule = "*/5 * * * *"

// Cleaner deletes persisted rows older than a cutoff.
type Cleaner interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper evicts stale in-memory state and returns how many entries went.
type Sweeper interface {
	Sweep() int
}

// CleanupJob deletes conversation and error rows older than retention.
// A non-positive retention disables the job (nil is returned).
func CleanupJob(schedule string, retention time.Duration, c Cleaner, now func() time.Time) *Job {
	if retention <= 0 || c == nil {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &Job{
		Name:     "db-cleanup",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			cutoff := now().Add(-retention)
			n, err := c.Cleanup(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("cleanup before %s: %w", cutoff.Format(time.RFC3339), err)
			}
			slog.Info("cron: database cleanup", "deleted", n, "cutoff", cutoff)
			return nil
		},
	}
}

// SweepJob runs Sweep every five minutes.
func SweepJob(s Sweeper) *Job {
	return &Job{
		Name:     "state-sweep",
		Schedule: SweepSchedule,
		Run: func(ctx context.Context) error {
			if n := s.Sweep(); n > 0 {
				slog.Debug("cron: swept stale state", "entries", n)
			}
			return nil
		},
	}
}
