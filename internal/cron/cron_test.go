package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddValidatesSchedule(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }
	if err := s.Add(Job{Name: "bad", Schedule: "not a cron", Run: noop}); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := s.Add(Job{Name: "nil", Schedule: "* * * * *"}); err == nil {
		t.Error("nil run accepted")
	}
	if err := s.Add(Job{Name: "ok", Schedule: "0 4 * * *", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("Jobs = %v", got)
	}
}

func TestNext(t *testing.T) {
	from := time.Date(2026, 3, 1, 3, 59, 30, 0, time.UTC)
	next, err := Next("0 4 * * *", from)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestRunFiresJobs(t *testing.T) {
	s := NewScheduler()
	fired := make(chan time.Time)
	close(fired)
	s.after = func(time.Duration) <-chan time.Time { return fired }

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	if err := s.Add(Job{Name: "tick", Schedule: "* * * * *", Run: func(context.Context) error {
		if runs.Add(1) >= 3 {
			cancel()
		}
		return errors.New("logged, not fatal")
	}}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if runs.Load() < 3 {
		t.Errorf("runs = %d", runs.Load())
	}
}

type fakeCleaner struct{ cutoff time.Time }

func (f *fakeCleaner) Cleanup(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 7, nil
}

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) Sweep() int { f.calls++; return 2 }

func TestMaintenanceJobs(t *testing.T) {
	now := time.Date(2026, 3, 31, 4, 0, 0, 0, time.UTC)
	c := &fakeCleaner{}
	job := CleanupJob("0 4 * * *", 30*24*time.Hour, c, func() time.Time { return now })
	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC); !c.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", c.cutoff, want)
	}
	if CleanupJob("0 4 * * *", 0, c, nil) != nil {
		t.Error("zero retention should disable cleanup")
	}

	sw := &fakeSweeper{}
	if err := SweepJob(sw).Run(context.Background()); err != nil || sw.calls != 1 {
		t.Errorf("sweep: calls=%d err=%v", sw.calls, err)
	}
	if err := NewScheduler().Add(*SweepJob(sw)); err != nil {
		t.Errorf("sweep schedule rejected: %v", err)
	}
}
