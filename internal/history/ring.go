// Package history keeps a bounded, per-sender transcript of recent turns that
// is fed to the completion provider as conversation context.
package history

import (
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries is the per-sender capacity when none is configured.
const DefaultMaxEntries = 20

// Role labels who produced a history entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Entry is one labeled line of a sender's transcript.
type Entry struct {
	Role  Role      `json:"role"`
	Style []string  `json:"style,omitempty"` // user entries only
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// String renders the entry the way the provider sees it:
//
//	[USER [no punctuation, short]]: hey
//	[BOT]: hi there
func (e Entry) String() string {
	if e.Role == RoleBot {
		return "[BOT]: " + e.Text
	}
	if len(e.Style) == 0 {
		return "[USER]: " + e.Text
	}
	return "[USER [" + strings.Join(e.Style, ", ") + "]]: " + e.Text
}

// Ring is a set of per-sender FIFO transcripts, each capped at max entries.
// Safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	max     int
	entries map[string][]Entry
	now     func() time.Time
}

// NewRing creates a Ring holding at most max entries per sender.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Ring{
		max:     max,
		entries: make(map[string][]Entry),
		now:     time.Now,
	}
}

// Append records text for sender. User entries are annotated with style tags;
// bot entries are stored verbatim. The oldest entry is evicted at capacity.
func (r *Ring) Append(sender, text string, role Role) {
	e := Entry{Role: role, Text: text, At: r.now()}
	if role == RoleUser {
		e.Style = AnalyzeStyle(text)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.entries[sender], e)
	if len(list) > r.max {
		// Copy into a fresh slice so the evicted prefix can be collected.
		list = append([]Entry(nil), list[len(list)-r.max:]...)
	}
	r.entries[sender] = list
}

// Get returns a copy of sender's transcript, oldest first.
func (r *Ring) Get(sender string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[sender]
	if len(list) == 0 {
		return nil
	}
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// Lines returns sender's transcript rendered with Entry.String.
func (r *Ring) Lines(sender string) []string {
	entries := r.Get(sender)
	if entries == nil {
		return nil
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Reset clears one sender's transcript.
func (r *Ring) Reset(sender string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sender)
}

// ResetAll clears every transcript.
func (r *Ring) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string][]Entry)
}

// Senders returns how many senders currently have a transcript.
func (r *Ring) Senders() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
