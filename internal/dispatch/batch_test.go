package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

// sliceQueue is a headSource over a slice.
type sliceQueue struct{ msgs []bus.InboundMessage }

func (q *sliceQueue) PopHeadIf(match func(bus.InboundMessage) bool) (bus.InboundMessage, bool) {
	if len(q.msgs) == 0 || !match(q.msgs[0]) {
		return bus.InboundMessage{}, false
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	return m, true
}

func isTilde(s string) bool { return len(s) > 0 && s[0] == '~' }

func TestBatchCollectMergesSameSender(t *testing.T) {
	var slept time.Duration
	a := NewBatchAggregator(func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	})

	q := &sliceQueue{msgs: []bus.InboundMessage{
		msgFrom("u1", "c", "how are you"),
		msgFrom("u1", "c", "how are you"), // duplicate: consumed, not added
		msgFrom("u1", "c", "~status"),     // command stops the batch
		msgFrom("u1", "c", "after"),
	}}
	first := msgFrom("u1", "c", "hello")

	b, err := a.Collect(context.Background(), q, first, 2*time.Second, isTilde)
	if err != nil {
		t.Fatal(err)
	}
	if slept != 2*time.Second {
		t.Errorf("slept %v, want 2s", slept)
	}
	if got := b.Prompt(); got != "hello | how are you" {
		t.Errorf("Prompt() = %q", got)
	}
	if len(q.msgs) != 2 || q.msgs[0].Content != "~status" {
		t.Errorf("remaining queue = %+v", q.msgs)
	}
	if a.Open() != 0 {
		t.Errorf("batch state not discarded: %d open", a.Open())
	}
}

func TestBatchCollectStopsAtOtherSender(t *testing.T) {
	a := NewBatchAggregator(func(context.Context, time.Duration) error { return nil })
	q := &sliceQueue{msgs: []bus.InboundMessage{
		msgFrom("u2", "c", "interrupt"),
		msgFrom("u1", "c", "later"),
	}}

	b, _ := a.Collect(context.Background(), q, msgFrom("u1", "c", "hi"), time.Second, isTilde)
	if len(b.Messages) != 1 || len(q.msgs) != 2 {
		t.Errorf("batch = %d messages, queue = %d", len(b.Messages), len(q.msgs))
	}
}

func TestBatchImageIsFirstAvailable(t *testing.T) {
	a := NewBatchAggregator(func(context.Context, time.Duration) error { return nil })

	second := msgFrom("u1", "c", "look")
	second.ImageURLs = []string{"https://img/2.png"}
	third := msgFrom("u1", "c", "and this")
	third.ImageURLs = []string{"https://img/3.png"}
	q := &sliceQueue{msgs: []bus.InboundMessage{second, third}}

	b, _ := a.Collect(context.Background(), q, msgFrom("u1", "c", "hey"), time.Second, isTilde)
	if b.ImageURL != "https://img/2.png" {
		t.Errorf("ImageURL = %q", b.ImageURL)
	}

	withImage := msgFrom("u1", "c", "pic")
	withImage.ImageURLs = []string{"https://img/1.png"}
	q = &sliceQueue{msgs: []bus.InboundMessage{second}}
	b, _ = a.Collect(context.Background(), q, withImage, time.Second, isTilde)
	if b.ImageURL != "https://img/1.png" {
		t.Errorf("first message image should win, got %q", b.ImageURL)
	}
}

func TestBatchInterruptedWait(t *testing.T) {
	a := NewBatchAggregator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &sliceQueue{msgs: []bus.InboundMessage{msgFrom("u1", "c", "more")}}
	b, err := a.Collect(ctx, q, msgFrom("u1", "c", "hi"), time.Hour, isTilde)
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(b.Messages) != 1 || len(q.msgs) != 1 {
		t.Errorf("interrupted batch should hold only the first message")
	}
}
