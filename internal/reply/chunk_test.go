package reply

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortText(t *testing.T) {
	got := Split("  hello world  ", 2000)
	if len(got) != 1 || got[0] != "hello world" {
		t.Errorf("Split = %q", got)
	}
	if got := Split("   ", 10); got != nil {
		t.Errorf("blank text = %q, want nil", got)
	}
}

func TestSplitPrefersNewline(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	got := Split(text, 40)
	if len(got) != 2 {
		t.Fatalf("got %d chunks: %q", len(got), got)
	}
	if got[0] != strings.Repeat("a", 30) || got[1] != strings.Repeat("b", 30) {
		t.Errorf("unexpected chunks %q", got)
	}
}

func TestSplitFallsBackToSpace(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta"
	got := Split(text, 20)
	for _, c := range got {
		if len(c) > 20 {
			t.Errorf("chunk %q longer than 20", c)
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk %q not trimmed", c)
		}
	}
	if strings.Join(got, " ") != text {
		t.Errorf("rejoined = %q", strings.Join(got, " "))
	}
}

func TestSplitKeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("é", 50) // 2 bytes each
	got := Split(text, 15)
	total := 0
	for _, c := range got {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %q is not valid UTF-8", c)
		}
		if len(c) > 15 {
			t.Errorf("chunk %d bytes > 15", len(c))
		}
		total += utf8.RuneCountInString(c)
	}
	if total != 50 {
		t.Errorf("runes = %d, want 50", total)
	}
}
