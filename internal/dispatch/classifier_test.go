package dispatch

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

func TestClassifierTriggerWordBoundaries(t *testing.T) {
	c := NewClassifier([]string{" Hey ", "", "c++", "привет", "café"})

	tests := []struct {
		text string
		want bool
	}{
		{"hey there", true},
		{"HEY", true},
		{"well, hey!", true},
		{"heyyy", false},
		{"they said", false},
		{"nothing here", false},
		{"привет как дела", true},
		{"ПРИВЕТ", true},
		{"приветствую всех", false},
		{"café time", true},
		{"un CAFÉ!", true},
		{"heyé", false},
		{"éhey", false},
		{"hey_there", false},
		{"hey2", false},
		{"(hey)", true},
	}
	for _, tt := range tests {
		if got := c.MatchesTrigger(tt.text); got != tt.want {
			t.Errorf("MatchesTrigger(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
	if w := c.Words(); len(w) != 4 || w[0] != "hey" {
		t.Errorf("Words() = %v", w)
	}
}

func TestClassifierNoWords(t *testing.T) {
	c := NewClassifier(nil)
	if c.MatchesTrigger("anything") {
		t.Error("empty classifier matched")
	}
}

func TestClassify(t *testing.T) {
	c := NewClassifier([]string{"bot"})
	allow := Settings{AllowDM: true, AllowGroup: true, HoldConversation: true}

	base := msgFrom("u1", "c1", "random chatter")
	tests := []struct {
		name string
		mut  func(*bus.InboundMessage)
		s    Settings
		live bool
		want Trigger
	}{
		{"miss", nil, allow, false, TriggerNone},
		{"trigger word", func(m *bus.InboundMessage) { m.Content = "hi bot" }, allow, false, TriggerWord},
		{"mention", func(m *bus.InboundMessage) { m.MentionsSelf = true }, allow, false, TriggerMention},
		{"broadcast mention excluded", func(m *bus.InboundMessage) { m.MentionsSelf, m.MentionsEveryone = true, true }, allow, false, TriggerNone},
		{"reply to self", func(m *bus.InboundMessage) { m.ReplyToSelf = true }, allow, false, TriggerReply},
		{"dm enabled", func(m *bus.InboundMessage) { m.ChatKind = bus.ChatDirect }, allow, false, TriggerDirect},
		{"dm disabled", func(m *bus.InboundMessage) { m.ChatKind = bus.ChatDirect }, Settings{}, false, TriggerNone},
		{"group enabled", func(m *bus.InboundMessage) { m.ChatKind = bus.ChatGroup }, allow, false, TriggerGroup},
		{"group disabled", func(m *bus.InboundMessage) { m.ChatKind = bus.ChatGroup }, Settings{}, false, TriggerNone},
		{"live conversation", nil, allow, true, TriggerConversation},
		{"live but holding disabled", nil, Settings{}, true, TriggerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			if tt.mut != nil {
				tt.mut(&m)
			}
			if got := c.Classify(m, tt.s, tt.live); got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldRespondLiveConversation(t *testing.T) {
	clk := newFakeClock()
	tr := NewConversationTracker(300 * time.Second)
	tr.now = clk.Now
	c := NewClassifier([]string{"hey"})
	s := Settings{HoldConversation: true}

	if _, ok := c.ShouldRespond(msgFrom("u1", "c1", "hey bot"), s, tr); !ok {
		t.Fatal("trigger word should respond")
	}

	clk.Advance(2 * time.Minute)
	trig, ok := c.ShouldRespond(msgFrom("u1", "c1", "and another thing"), s, tr)
	if !ok || trig != TriggerConversation {
		t.Fatalf("live conversation: got (%q, %v)", trig, ok)
	}

	// Different chat is a different conversation.
	if _, ok := c.ShouldRespond(msgFrom("u1", "c2", "and another thing"), s, tr); ok {
		t.Error("conversation leaked across chats")
	}
}

func TestShouldRespondExpiredDoesNotResurrect(t *testing.T) {
	clk := newFakeClock()
	tr := NewConversationTracker(300 * time.Second)
	tr.now = clk.Now
	c := NewClassifier([]string{"hey"})
	s := Settings{HoldConversation: true}

	c.ShouldRespond(msgFrom("u1", "c1", "hey"), s, tr)
	clk.Advance(300 * time.Second)

	msg := msgFrom("u1", "c1", "still there?")
	if _, ok := c.ShouldRespond(msg, s, tr); ok {
		t.Fatal("expired conversation triggered")
	}
	if _, ok := c.ShouldRespond(msg, s, tr); ok {
		t.Fatal("expired conversation resurrected itself")
	}
}

func TestShouldRespondIdempotent(t *testing.T) {
	tr := NewConversationTracker(time.Minute)
	c := NewClassifier([]string{"hey"})
	msg := msgFrom("u1", "c1", "nope")
	s := Settings{HoldConversation: true}

	_, first := c.ShouldRespond(msg, s, tr)
	_, second := c.ShouldRespond(msg, s, tr)
	if first != second {
		t.Errorf("results differ: %v then %v", first, second)
	}
}
