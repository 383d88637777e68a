package dispatch

import (
	"testing"
	"time"
)

func newTestGovernor(clk *fakeClock, l Limits) *Governor {
	g := NewGovernor(l)
	g.now = clk.Now
	return g
}

func TestGovernorScenarioSixInFiveSeconds(t *testing.T) {
	clk := newFakeClock()
	g := newTestGovernor(clk, Limits{SpamThreshold: 5, SpamWindow: 10 * time.Second, Cooldown: 60 * time.Second})

	for i := 1; i <= 5; i++ {
		if v := g.CheckAndRecord("discord:s"); !v.Allowed() {
			t.Fatalf("message %d rejected: %v", i, v.Kind)
		}
		clk.Advance(time.Second)
	}
	v := g.CheckAndRecord("discord:s")
	if v.Kind != NewlyCooledDown || v.Wait != 60*time.Second {
		t.Fatalf("message 6 = %+v, want NewlyCooledDown(60s)", v)
	}

	clk.Advance(20 * time.Second)
	v = g.CheckAndRecord("discord:s")
	if v.Kind != OnCooldown || v.Wait != 40*time.Second {
		t.Errorf("during cooldown = %+v, want OnCooldown(40s)", v)
	}
	if g.Cooldowns() != 1 {
		t.Errorf("Cooldowns() = %d", g.Cooldowns())
	}

	clk.Advance(40 * time.Second)
	if v := g.CheckAndRecord("discord:s"); !v.Allowed() {
		t.Errorf("after cooldown = %+v, want Allowed", v)
	}
}

func TestGovernorWindowSlides(t *testing.T) {
	clk := newFakeClock()
	g := newTestGovernor(clk, Limits{SpamThreshold: 2, SpamWindow: 10 * time.Second, Cooldown: time.Minute})

	g.CheckAndRecord("a")
	g.CheckAndRecord("a")
	clk.Advance(10 * time.Second) // both fall out of the window
	if v := g.CheckAndRecord("a"); !v.Allowed() {
		t.Errorf("old timestamps not pruned: %+v", v)
	}
}

func TestGovernorSendersIndependent(t *testing.T) {
	clk := newFakeClock()
	g := newTestGovernor(clk, Limits{SpamThreshold: 1})

	g.CheckAndRecord("a")
	if v := g.CheckAndRecord("a"); v.Allowed() {
		t.Fatal("a should be cooled down")
	}
	if v := g.CheckAndRecord("b"); !v.Allowed() {
		t.Error("b affected by a's cooldown")
	}
}

func TestGovernorBoundedKeys(t *testing.T) {
	clk := newFakeClock()
	g := newTestGovernor(clk, Limits{MaxTrackedKeys: 3})

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		g.CheckAndRecord(k)
	}
	if n := g.Tracked(); n > 3 {
		t.Errorf("Tracked() = %d, want <= 3", n)
	}
}

func TestGovernorSweep(t *testing.T) {
	clk := newFakeClock()
	g := newTestGovernor(clk, Limits{SpamThreshold: 1, SpamWindow: 10 * time.Second, Cooldown: time.Minute})

	g.CheckAndRecord("idle")
	g.CheckAndRecord("spammer")
	g.CheckAndRecord("spammer") // cooled down

	clk.Advance(15 * time.Second)
	if n := g.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if g.Tracked() != 1 {
		t.Errorf("spammer's cooldown must survive sweep")
	}
}
