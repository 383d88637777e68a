package reply

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	instantReplyChance = 0.3
	pauseResumeChance  = 0.2
	maxTypingDelay     = 25 * time.Second
	charsPerWord       = 5
)

// StepKind labels one suspension in a typing schedule.
type StepKind string

const (
	StepInstant StepKind = "instant" // short delay, no typing indicator
	StepReading StepKind = "reading" // pause before typing starts
	StepTyping  StepKind = "typing"  // typing indicator shown
	StepPause   StepKind = "pause"   // typing stopped mid-reply
)

// Step is one delay of a schedule.
type Step struct {
	Kind  StepKind
	Delay time.Duration
}

// Typing reports whether the typing indicator should show during the step.
func (s Step) Typing() bool { return s.Kind == StepTyping }

// Humanizer draws randomized presentation delays. Safe for concurrent use.
type Humanizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewHumanizer creates a Humanizer. A nil rng uses a randomly seeded source.
func NewHumanizer(rng *rand.Rand) *Humanizer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Humanizer{rng: rng}
}

func (h *Humanizer) float() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64()
}

// uniform returns a duration in [lo, hi) seconds.
func (h *Humanizer) uniform(lo, hi float64) time.Duration {
	return seconds(lo + (hi-lo)*h.float())
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// TypingSchedule plans the delay before the first chunk of a reply to a
// prompt of textLen characters.
//
// 30% of the time it is a single 0.5-1.5s instant delay. Otherwise: a 1-4s
// reading pause, then typing for base (3-8s) + textLen/(wpm*5) with wpm in
// 40-70, capped at 25s. One time in five the typing is split 30/70 around a
// 1-2s pause.
func (h *Humanizer) TypingSchedule(textLen int) []Step {
	if h.float() < instantReplyChance {
		return []Step{{Kind: StepInstant, Delay: h.uniform(0.5, 1.5)}}
	}

	reading := h.uniform(1.0, 4.0)
	base := 3.0 + 5.0*h.float()
	wpm := 40.0 + 30.0*h.float()
	typing := seconds(base + float64(textLen)/(wpm*charsPerWord))
	if typing > maxTypingDelay {
		typing = maxTypingDelay
	}

	steps := []Step{{Kind: StepReading, Delay: reading}}
	if h.float() < pauseResumeChance {
		first := typing * 3 / 10
		steps = append(steps,
			Step{Kind: StepTyping, Delay: first},
			Step{Kind: StepPause, Delay: h.uniform(1.0, 2.0)},
			Step{Kind: StepTyping, Delay: typing - first},
		)
		return steps
	}
	return append(steps, Step{Kind: StepTyping, Delay: typing})
}

// InterChunkDelay is the 1.5-4s gap before chunks after the first.
func (h *Humanizer) InterChunkDelay() time.Duration { return h.uniform(1.5, 4.0) }

// PreSendDelay is the 0.2-1.2s pause before every send.
func (h *Humanizer) PreSendDelay() time.Duration { return h.uniform(0.2, 1.2) }

// Total sums a schedule.
func Total(steps []Step) time.Duration {
	var d time.Duration
	for _, s := range steps {
		d += s.Delay
	}
	return d
}
