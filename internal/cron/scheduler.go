// Package cron runs maintenance jobs on cron schedules.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Job is a named unit of work on a cron expression.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs each job in its own goroutine. A job never overlaps
// itself: the next tick is computed after the previous run returns.
type Scheduler struct {
	jobs  []Job
	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Now, after: time.After}
}

// Add registers a job after validating its expression.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("cron job %q: nil run func", job.Name)
	}
	if !gronx.New().IsValid(job.Schedule) {
		return fmt.Errorf("cron job %q: invalid schedule %q", job.Name, job.Schedule)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Next returns the first tick of expr strictly after from.
func Next(expr string, from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, from, false)
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	slog.Info("cron: scheduler started", "jobs", len(s.jobs))
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		next, err := Next(job.Schedule, s.now())
		if err != nil {
			slog.Error("cron: next tick", "job", job.Name, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.after(time.Until(next)):
		}
		s.runOnce(ctx, job)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cron: job panicked", "job", job.Name, "panic", r)
		}
	}()
	start := s.now()
	if err := job.Run(ctx); err != nil {
		slog.Error("cron: job failed", "job", job.Name, "error", err)
		return
	}
	slog.Debug("cron: job done", "job", job.Name, "took", s.now().Sub(start))
}
