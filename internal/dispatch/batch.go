package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

// BatchSeparator joins the texts of a batched turn.
const BatchSeparator = " | "

// Batch is the assembled input of one turn.
type Batch struct {
	Messages []bus.InboundMessage
	ImageURL string
	OpenedAt time.Time
}

// First returns the message the reply is addressed to.
func (b *Batch) First() bus.InboundMessage { return b.Messages[0] }

// Prompt joins every message text with BatchSeparator.
func (b *Batch) Prompt() string {
	parts := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, BatchSeparator)
}

func (b *Batch) has(content string) bool {
	for _, m := range b.Messages {
		if m.Content == content {
			return true
		}
	}
	return false
}

// SingleBatch wraps one message as a batch without waiting.
func SingleBatch(msg bus.InboundMessage, now time.Time) *Batch {
	return &Batch{
		Messages: []bus.InboundMessage{msg},
		ImageURL: msg.FirstImage(),
		OpenedAt: now,
	}
}

// headSource is the part of a Dispatcher the aggregator needs.
type headSource interface {
	PopHeadIf(match func(bus.InboundMessage) bool) (bus.InboundMessage, bool)
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchAggregator merges a burst of same-sender messages into one turn.
// It tracks open batches so at most one exists per (sender, chat).
type BatchAggregator struct {
	sleep SleepFunc
	now   func() time.Time

	mu   sync.Mutex
	open map[string]*Batch
}

// NewBatchAggregator creates an aggregator using sleep for the wait window.
func NewBatchAggregator(sleep SleepFunc) *BatchAggregator {
	if sleep == nil {
		sleep = Sleep
	}
	return &BatchAggregator{
		sleep: sleep,
		now:   time.Now,
		open:  make(map[string]*Batch),
	}
}

// Collect opens a batch with first, waits for wait, then pops queued head
// messages from the same sender until a different sender, a command
// (per isCommand), or an empty queue stops it. Exact duplicate texts are
// consumed but not added. If the wait is interrupted the batch holds only
// first and the context error is returned alongside it.
func (a *BatchAggregator) Collect(ctx context.Context, q headSource, first bus.InboundMessage, wait time.Duration, isCommand func(string) bool) (*Batch, error) {
	key := ConversationKey(first.SenderKey(), first.ChatKey())

	a.mu.Lock()
	b, ok := a.open[key]
	if !ok {
		b = &Batch{OpenedAt: a.now()}
		a.open[key] = b
	}
	b.Messages = append(b.Messages, first)
	if b.ImageURL == "" {
		b.ImageURL = first.FirstImage()
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.open, key)
		a.mu.Unlock()
	}()

	if err := a.sleep(ctx, wait); err != nil {
		return b, err
	}

	sender := first.SenderKey()
	sibling := func(m bus.InboundMessage) bool {
		return m.SenderKey() == sender && (isCommand == nil || !isCommand(m.Content))
	}
	for {
		next, ok := q.PopHeadIf(sibling)
		if !ok {
			break
		}
		a.mu.Lock()
		if !b.has(next.Content) {
			b.Messages = append(b.Messages, next)
		}
		if b.ImageURL == "" {
			b.ImageURL = next.FirstImage()
		}
		a.mu.Unlock()
	}
	return b, nil
}

// Open returns the number of batches currently collecting.
func (a *BatchAggregator) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}
