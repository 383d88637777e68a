package reply

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestTypingScheduleBounds(t *testing.T) {
	h := NewHumanizer(rand.New(rand.NewPCG(1, 2)))

	var sawInstant, sawTyped, sawPause bool
	for i := 0; i < 2000; i++ {
		steps := h.TypingSchedule(5000)
		if len(steps) == 0 {
			t.Fatal("empty schedule")
		}

		if steps[0].Kind == StepInstant {
			sawInstant = true
			if len(steps) != 1 {
				t.Fatalf("instant schedule has %d steps", len(steps))
			}
			if d := steps[0].Delay; d < 500*time.Millisecond || d >= 1500*time.Millisecond {
				t.Fatalf("instant delay %v out of range", d)
			}
			continue
		}

		sawTyped = true
		if steps[0].Kind != StepReading {
			t.Fatalf("first step = %s, want reading", steps[0].Kind)
		}
		if d := steps[0].Delay; d < time.Second || d >= 4*time.Second {
			t.Fatalf("reading delay %v out of range", d)
		}

		var typing time.Duration
		for _, s := range steps[1:] {
			switch s.Kind {
			case StepTyping:
				typing += s.Delay
			case StepPause:
				sawPause = true
				if s.Delay < time.Second || s.Delay >= 2*time.Second {
					t.Fatalf("pause %v out of range", s.Delay)
				}
			}
		}
		if typing > maxTypingDelay {
			t.Fatalf("typing %v exceeds cap", typing)
		}
	}
	if !sawInstant || !sawTyped || !sawPause {
		t.Errorf("branches seen: instant=%v typed=%v pause=%v", sawInstant, sawTyped, sawPause)
	}
}

func TestTypingScheduleScalesWithLength(t *testing.T) {
	// With a fixed seed both calls draw the same random numbers.
	short := NewHumanizer(rand.New(rand.NewPCG(7, 7)))
	long := NewHumanizer(rand.New(rand.NewPCG(7, 7)))

	for i := 0; i < 50; i++ {
		a, b := short.TypingSchedule(10), long.TypingSchedule(400)
		if a[0].Kind == StepInstant {
			continue
		}
		if Total(b) <= Total(a) {
			t.Fatalf("long reply %v not slower than short %v", Total(b), Total(a))
		}
	}
}

func TestChunkDelays(t *testing.T) {
	h := NewHumanizer(rand.New(rand.NewPCG(3, 4)))
	for i := 0; i < 500; i++ {
		if d := h.InterChunkDelay(); d < 1500*time.Millisecond || d >= 4*time.Second {
			t.Fatalf("inter-chunk %v out of range", d)
		}
		if d := h.PreSendDelay(); d < 200*time.Millisecond || d >= 1200*time.Millisecond {
			t.Fatalf("pre-send %v out of range", d)
		}
	}
}
