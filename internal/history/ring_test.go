package history

import (
	"fmt"
	"testing"
)

func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Append("discord:1", fmt.Sprintf("msg %d", i), RoleBot)
	}

	got := r.Get("discord:1")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"msg 3", "msg 4", "msg 5"} {
		if got[i].Text != want {
			t.Errorf("entry %d = %q, want %q", i, got[i].Text, want)
		}
	}
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := NewRing(DefaultMaxEntries)
	for i := 0; i < 100; i++ {
		r.Append("s", "x", RoleUser)
		if n := len(r.Get("s")); n > DefaultMaxEntries {
			t.Fatalf("after %d appends len = %d", i+1, n)
		}
	}
}

func TestRingSendersAreIsolated(t *testing.T) {
	r := NewRing(5)
	r.Append("a", "hello", RoleUser)
	r.Append("b", "yo", RoleUser)
	r.Append("b", "sup", RoleBot)

	if n := len(r.Get("a")); n != 1 {
		t.Errorf("a has %d entries, want 1", n)
	}
	if n := len(r.Get("b")); n != 2 {
		t.Errorf("b has %d entries, want 2", n)
	}

	r.Reset("b")
	if r.Get("b") != nil {
		t.Error("b should be empty after Reset")
	}
	if r.Senders() != 1 {
		t.Errorf("Senders() = %d, want 1", r.Senders())
	}

	r.ResetAll()
	if r.Senders() != 0 {
		t.Errorf("Senders() after ResetAll = %d, want 0", r.Senders())
	}
}

func TestRingGetReturnsCopy(t *testing.T) {
	r := NewRing(5)
	r.Append("a", "one", RoleBot)
	got := r.Get("a")
	got[0].Text = "mutated"
	if r.Get("a")[0].Text != "one" {
		t.Error("Get must not expose internal storage")
	}
}

func TestEntryString(t *testing.T) {
	r := NewRing(5)
	r.Append("a", "hey whats up", RoleUser)
	r.Append("a", "Not much. You?", RoleBot)

	lines := r.Lines("a")
	want := []string{
		"[USER [no punctuation, all lowercase, short]]: hey whats up",
		"[BOT]: Not much. You?",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	plain := Entry{Role: RoleUser, Text: "Hello there, how are you doing today?"}
	if got := plain.String(); got != "[USER]: Hello there, how are you doing today?" {
		t.Errorf("untagged user entry = %q", got)
	}
}
