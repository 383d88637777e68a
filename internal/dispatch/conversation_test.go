package dispatch

import (
	"testing"
	"time"
)

func TestConversationTracker(t *testing.T) {
	clk := newFakeClock()
	tr := NewConversationTracker(5 * time.Minute)
	tr.now = clk.Now

	if tr.IsLive("s", "c") {
		t.Fatal("unknown pair is live")
	}
	tr.Touch("s", "c")
	clk.Advance(4*time.Minute + 59*time.Second)
	if !tr.IsLive("s", "c") {
		t.Fatal("should still be live")
	}
	if tr.Live() != 1 {
		t.Errorf("Live() = %d", tr.Live())
	}

	clk.Advance(time.Second)
	if tr.IsLive("s", "c") {
		t.Fatal("entry at exactly the timeout must be stale")
	}
	if n := tr.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
}

func TestConversationKey(t *testing.T) {
	if got := ConversationKey("discord:1", "discord:2"); got != "discord:1|discord:2" {
		t.Errorf("ConversationKey = %q", got)
	}
}
