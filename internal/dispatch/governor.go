package dispatch

import (
	"sync"
	"time"
)

// VerdictKind is the outcome of a governor check.
type VerdictKind int

const (
	Allowed VerdictKind = iota
	OnCooldown
	NewlyCooledDown
)

func (k VerdictKind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case OnCooldown:
		return "on_cooldown"
	case NewlyCooledDown:
		return "newly_cooled_down"
	default:
		return "unknown"
	}
}

// Verdict carries the governor decision. Wait is the remaining cooldown for
// OnCooldown and the full penalty for NewlyCooledDown.
type Verdict struct {
	Kind VerdictKind
	Wait time.Duration
}

// Allowed reports whether the message may proceed.
func (v Verdict) Allowed() bool { return v.Kind == Allowed }

type rateState struct {
	recent        []time.Time
	cooldownUntil time.Time
}

// Governor is a per-sender sliding-window spam limiter. Exceeding threshold
// messages inside window puts the sender on cooldown and clears the window.
// Bursts under the threshold pass unsmoothed. Safe for concurrent use.
type Governor struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration
	maxKeys   int
	entries   map[string]*rateState
	now       func() time.Time
}

// NewGovernor creates a governor from the spam limits.
func NewGovernor(l Limits) *Governor {
	l = l.withDefaults()
	return &Governor{
		threshold: l.SpamThreshold,
		window:    l.SpamWindow,
		cooldown:  l.Cooldown,
		maxKeys:   l.MaxTrackedKeys,
		entries:   make(map[string]*rateState),
		now:       time.Now,
	}
}

// CheckAndRecord evaluates one message from sender and records it.
func (g *Governor) CheckAndRecord(sender string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	st, ok := g.entries[sender]
	if !ok {
		g.evictLocked(now)
		st = &rateState{}
		g.entries[sender] = st
	}

	if !st.cooldownUntil.IsZero() {
		if now.Before(st.cooldownUntil) {
			return Verdict{Kind: OnCooldown, Wait: st.cooldownUntil.Sub(now)}
		}
		st.cooldownUntil = time.Time{}
	}

	st.recent = pruneBefore(st.recent, now.Add(-g.window))
	st.recent = append(st.recent, now)

	if len(st.recent) > g.threshold {
		st.cooldownUntil = now.Add(g.cooldown)
		st.recent = nil
		return Verdict{Kind: NewlyCooledDown, Wait: g.cooldown}
	}
	return Verdict{Kind: Allowed}
}

// pruneBefore drops timestamps at or before cutoff. ts is ascending.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// evictLocked keeps the tracked sender count under maxKeys.
// Idle entries go first; if still at the cap an arbitrary entry is dropped.
func (g *Governor) evictLocked(now time.Time) {
	if len(g.entries) < g.maxKeys {
		return
	}
	g.sweepLocked(now)
	for len(g.entries) >= g.maxKeys {
		for k := range g.entries {
			delete(g.entries, k)
			break
		}
	}
}

func (g *Governor) sweepLocked(now time.Time) int {
	removed := 0
	for k, st := range g.entries {
		if now.Before(st.cooldownUntil) {
			continue
		}
		if n := len(st.recent); n > 0 && now.Sub(st.recent[n-1]) < g.window {
			continue
		}
		delete(g.entries, k)
		removed++
	}
	return removed
}

// Sweep removes senders with no cooldown and no message inside the window.
func (g *Governor) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.now())
}

// Tracked returns the number of senders with rate state.
func (g *Governor) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Cooldowns returns the number of senders currently on cooldown.
func (g *Governor) Cooldowns() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for _, st := range g.entries {
		if now.Before(st.cooldownUntil) {
			n++
		}
	}
	return n
}
