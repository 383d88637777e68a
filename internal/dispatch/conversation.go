package dispatch

import (
	"sync"
	"time"
)

// ConversationKey joins a sender key and chat key.
func ConversationKey(senderKey, chatKey string) string {
	return senderKey + "|" + chatKey
}

// ConversationTracker remembers when each (sender, chat) pair last triggered
// or received a reply. An entry is live while now-last < timeout; stale
// entries are never reported live and are removed by Sweep.
// Safe for concurrent use.
type ConversationTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	last    map[string]time.Time
	now     func() time.Time
}

// NewConversationTracker creates a tracker with the given conversation window.
func NewConversationTracker(timeout time.Duration) *ConversationTracker {
	return &ConversationTracker{
		timeout: timeout,
		last:    make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsLive reports whether sender has an unexpired conversation in chat.
// It never refreshes the entry.
func (t *ConversationTracker) IsLive(senderKey, chatKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.last[ConversationKey(senderKey, chatKey)]
	return ok && t.now().Sub(ts) < t.timeout
}

// Touch refreshes the (sender, chat) entry to now.
func (t *ConversationTracker) Touch(senderKey, chatKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[ConversationKey(senderKey, chatKey)] = t.now()
}

// Sweep evicts stale entries and returns how many were removed.
func (t *ConversationTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for k, ts := range t.last {
		if now.Sub(ts) >= t.timeout {
			delete(t.last, k)
			removed++
		}
	}
	return removed
}

// Live counts entries that are currently live.
func (t *ConversationTracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := 0
	for _, ts := range t.last {
		if now.Sub(ts) < t.timeout {
			n++
		}
	}
	return n
}
