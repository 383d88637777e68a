package store

import (
	"sync"
	"time"
)

const (
	// maxLimiterKeys caps the number of tracked keys so a flood of distinct
	// error contexts cannot grow the map without bound.
	maxLimiterKeys = 4096

	webhookWindow  = 60 * time.Second
	webhookMaxHits = 30
)

type windowEntry struct {
	start time.Time
	count int
}

// WindowLimiter is a fixed-window counter per key. Safe for concurrent use.
type WindowLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*windowEntry
	now     func() time.Time
}

// NewWindowLimiter allows max hits per key in each window.
func NewWindowLimiter(window time.Duration, max int) *WindowLimiter {
	return &WindowLimiter{
		window:  window,
		max:     max,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Allow records a hit for key and reports whether it is within the limit.
func (r *WindowLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxLimiterKeys {
		for k, e := range r.entries {
			if now.Sub(e.start) >= r.window {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxLimiterKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.start) >= r.window {
		r.entries[key] = &windowEntry{start: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.max
}
