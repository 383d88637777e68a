package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/dispatch"
	"github.com/nextlevelbuilder/chatpilot/internal/history"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
)

type fakeEngine struct {
	mu       sync.Mutex
	settings dispatch.Settings
	ring     *history.Ring
}

func (e *fakeEngine) Settings() dispatch.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *fakeEngine) UpdateSettings(fn func(*dispatch.Settings)) dispatch.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.settings)
	return e.settings
}

func (e *fakeEngine) History() *history.Ring { return e.ring }
func (e *fakeEngine) Stats() dispatch.Stats {
	s := e.Settings()
	return dispatch.Stats{Paused: s.Paused, AllowDM: s.AllowDM, AllowGroup: s.AllowGroup, Turns: 4}
}

type fakeAccess struct {
	active  map[string]bool
	ignored map[string]bool
	fail    bool
}

func newFakeAccess() *fakeAccess {
	return &fakeAccess{active: map[string]bool{}, ignored: map[string]bool{}}
}

func (a *fakeAccess) IsChannelActive(k string) bool { return a.active[k] }
func (a *fakeAccess) ToggleChannel(_ context.Context, k, _ string) (bool, error) {
	if a.fail {
		return false, errors.New("db down")
	}
	a.active[k] = !a.active[k]
	return a.active[k], nil
}
func (a *fakeAccess) ToggleIgnore(_ context.Context, k, _, _ string) (bool, error) {
	a.ignored[k] = !a.ignored[k]
	return a.ignored[k], nil
}
func (a *fakeAccess) Counts() (int, int) { return len(a.active), len(a.ignored) }

type fakeSender struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (s *fakeSender) Send(_ context.Context, m bus.OutboundMessage) (bus.SentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return bus.SentMessage{Channel: m.Channel, ChatID: m.ChatID}, nil
}
func (s *fakeSender) SendTyping(context.Context, string, string) error { return nil }
func (s *fakeSender) ChunkLimit(string) int                            { return 2000 }

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1].Content
}

type fakeStats struct{ store.StatsStore }

func (fakeStats) DatabaseStats(context.Context) (store.DatabaseStats, error) {
	return store.DatabaseStats{Conversations: 12, Users: 3}, nil
}

func setup(helpEnabled bool) (*Handler, *fakeEngine, *fakeAccess, *fakeSender, *[]dispatch.Settings) {
	eng := &fakeEngine{
		settings: dispatch.Settings{Prefix: "~", Owners: []string{"discord:1"}, AllowDM: true, AllowGroup: true},
		ring:     history.NewRing(10),
	}
	acc := newFakeAccess()
	snd := &fakeSender{}
	var persisted []dispatch.Settings
	h := New(Deps{
		Engine:      eng,
		Access:      acc,
		Stats:       fakeStats{},
		Sender:      snd,
		HelpEnabled: helpEnabled,
		Latency:     func(string) (time.Duration, bool) { return 42 * time.Millisecond, true },
		Models:      func() []string { return []string{"groq: llama"} },
		Persist: func(s dispatch.Settings) error {
			persisted = append(persisted, s)
			return nil
		},
	})
	return h, eng, acc, snd, &persisted
}

func msgFrom(sender, content string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "discord", MessageID: "m1", SenderID: sender, ChatID: "100", ChatKind: bus.ChatGuild, Content: content}
}

func TestOwnerGate(t *testing.T) {
	h, eng, _, snd, _ := setup(false)
	ctx := context.Background()

	h.HandleCommand(ctx, msgFrom("2", "~pause"))
	if eng.Settings().Paused || len(snd.sent) != 0 {
		t.Fatal("non-owner paused the bot")
	}
	h.HandleCommand(ctx, msgFrom("2", "~help"))
	if len(snd.sent) != 0 {
		t.Fatal("help answered non-owner while disabled")
	}
	h.HandleCommand(ctx, msgFrom("1", "~nosuchcommand"))
	if len(snd.sent) != 0 {
		t.Fatal("unknown command should be silent")
	}

	h.HandleCommand(ctx, msgFrom("1", "~PAUSE"))
	if !eng.Settings().Paused {
		t.Fatal("owner pause failed")
	}
	if got := snd.sent[0]; got.ReplyToID != "m1" || !strings.Contains(got.Content, "paused") {
		t.Errorf("reply = %+v", got)
	}
	h.HandleCommand(ctx, msgFrom("1", "~pause"))
	if eng.Settings().Paused {
		t.Error("second pause should resume")
	}
}

func TestHelpVisibility(t *testing.T) {
	h, _, _, snd, _ := setup(true)
	h.HandleCommand(context.Background(), msgFrom("2", "~h"))
	out := snd.last()
	if !strings.Contains(out, "~help") || strings.Contains(out, "~pause") {
		t.Errorf("non-owner help = %q", out)
	}
	h.HandleCommand(context.Background(), msgFrom("1", "~help"))
	if !strings.Contains(snd.last(), "~pause") {
		t.Errorf("owner help = %q", snd.last())
	}
}

func TestToggles(t *testing.T) {
	h, eng, acc, snd, persisted := setup(false)
	ctx := context.Background()

	h.HandleCommand(ctx, msgFrom("1", "~toggledm"))
	h.HandleCommand(ctx, msgFrom("1", "~togglegc"))
	s := eng.Settings()
	if s.AllowDM || s.AllowGroup {
		t.Fatalf("settings = %+v", s)
	}
	if len(*persisted) != 2 || (*persisted)[1].AllowGroup {
		t.Errorf("persisted = %+v", *persisted)
	}

	h.HandleCommand(ctx, msgFrom("1", "~toggle"))
	if !acc.active["discord:100"] || !strings.Contains(snd.last(), "activated") {
		t.Errorf("toggleactive current chat: %v %q", acc.active, snd.last())
	}
	h.HandleCommand(ctx, msgFrom("1", "~toggleactive 555"))
	if !acc.active["discord:555"] {
		t.Errorf("toggleactive by id: %v", acc.active)
	}

	acc.fail = true
	h.HandleCommand(ctx, msgFrom("1", "~toggleactive"))
	if !strings.Contains(snd.last(), "Failed") {
		t.Errorf("failure reply = %q", snd.last())
	}
}

func TestIgnore(t *testing.T) {
	h, _, acc, snd, _ := setup(false)
	ctx := context.Background()

	h.HandleCommand(ctx, msgFrom("1", "~ignore"))
	if !strings.Contains(snd.last(), "Please name") {
		t.Errorf("missing arg reply = %q", snd.last())
	}
	h.HandleCommand(ctx, msgFrom("1", "~ignore <@1>"))
	if !strings.Contains(snd.last(), "Cannot ignore the bot owner") {
		t.Errorf("owner reply = %q", snd.last())
	}
	h.HandleCommand(ctx, msgFrom("1", "~ignore <@!77> spamming"))
	if !acc.ignored["discord:77"] {
		t.Errorf("ignored = %v", acc.ignored)
	}
	h.HandleCommand(ctx, msgFrom("1", "~ignore telegram:9"))
	if !acc.ignored["telegram:9"] {
		t.Errorf("scoped ignore = %v", acc.ignored)
	}
	h.HandleCommand(ctx, msgFrom("1", "~ignore 77"))
	if acc.ignored["discord:77"] || !strings.Contains(snd.last(), "no longer ignored") {
		t.Errorf("unignore: %v %q", acc.ignored, snd.last())
	}
}

func TestWipe(t *testing.T) {
	h, eng, _, snd, _ := setup(false)
	ctx := context.Background()
	eng.ring.Append("discord:5", "hello", history.RoleUser)
	eng.ring.Append("discord:6", "hey", history.RoleUser)

	h.HandleCommand(ctx, msgFrom("1", "~wipe 404"))
	if !strings.Contains(snd.last(), "No conversation history") {
		t.Errorf("reply = %q", snd.last())
	}
	h.HandleCommand(ctx, msgFrom("1", "~clear <@5>"))
	if eng.ring.Senders() != 1 {
		t.Errorf("senders after single wipe = %d", eng.ring.Senders())
	}
	h.HandleCommand(ctx, msgFrom("1", "~wipe"))
	if eng.ring.Senders() != 0 {
		t.Errorf("senders after wipe all = %d", eng.ring.Senders())
	}
}

func TestInfoCommands(t *testing.T) {
	h, _, _, snd, _ := setup(false)
	ctx := context.Background()
	tests := []struct {
		content string
		want    string
	}{
		{"~ping", "42ms"},
		{"~status", "DMs enabled: Yes"},
		{"~stats", "Conversations: 12"},
		{"~models", "groq: llama"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			h.HandleCommand(ctx, msgFrom("1", tt.content))
			if !strings.Contains(snd.last(), tt.want) {
				t.Errorf("reply = %q, want substring %q", snd.last(), tt.want)
			}
		})
	}
}

func TestTargetKey(t *testing.T) {
	tests := []struct {
		arg, want string
		ok        bool
	}{
		{"<@42>", "discord:42", true},
		{"<@!42>", "discord:42", true},
		{"42", "discord:42", true},
		{"telegram:7", "telegram:7", true},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := targetKey("discord", tt.arg)
		if got != tt.want || ok != tt.ok {
			t.Errorf("targetKey(%q) = %q, %v", tt.arg, got, ok)
		}
	}
}
