package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/dispatch"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
	"github.com/nextlevelbuilder/chatpilot/internal/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "access.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccessCacheToggleAndReload(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := store.NewAccessCache(s, s)
	if err := c.Load(ctx); err != nil {
		t.Fatal(err)
	}

	on, err := c.ToggleChannel(ctx, "discord:100", "discord:1")
	if err != nil || !on {
		t.Fatalf("ToggleChannel = %v, %v", on, err)
	}
	if _, err := c.ToggleIgnore(ctx, "telegram:7", "discord:1", "spam"); err != nil {
		t.Fatal(err)
	}
	if !c.IsChannelActive("discord:100") || !c.IsSenderIgnored("telegram:7") {
		t.Fatal("toggles not cached")
	}
	if c.IsSenderIgnored("discord:7") {
		t.Error("ignore leaked across platforms")
	}

	// A fresh cache sees the persisted state.
	fresh := store.NewAccessCache(s, s)
	if err := fresh.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if a, i := fresh.Counts(); a != 1 || i != 1 {
		t.Errorf("Counts = %d, %d", a, i)
	}

	on, err = c.ToggleChannel(ctx, "discord:100", "discord:1")
	if err != nil || on {
		t.Fatalf("second ToggleChannel = %v, %v", on, err)
	}
	if c.IsChannelActive("discord:100") {
		t.Error("channel still active")
	}
	if list, _ := s.ListActiveChannels(ctx); len(list) != 0 {
		t.Errorf("persisted channels = %+v", list)
	}
}

func TestWindowLimiter(t *testing.T) {
	l := store.NewWindowLimiter(time.Minute, 2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two hits should pass")
	}
	if l.Allow("a") {
		t.Error("third hit should be limited")
	}
	if !l.Allow("b") {
		t.Error("keys are independent")
	}
}

func TestLogReporterPersists(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	r := store.NewReporter(nil, store.NewLogReporter(s))

	r.ReportError(ctx, bus.ErrorReport{
		Context:  "send",
		Channel:  "discord",
		ChatID:   "100",
		SenderID: "1",
		Preview:  "hello",
		Err:      errors.New("boom"),
		Time:     time.Now(),
	})

	logs, err := s.RecentErrors(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Message != "boom" || logs[0].Platform != "discord" || logs[0].Preview != "hello" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestTurnRecorder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.AddActiveChannel(ctx, "discord:100", ""); err != nil {
		t.Fatal(err)
	}
	rec := store.NewTurnRecorder(s, func() string { return "llama" })

	rec.RecordTurn(ctx, dispatch.TurnRecord{
		TurnID:       "t1",
		Source:       bus.InboundMessage{Channel: "discord", SenderID: "1", ChatID: "100", ChatKind: bus.ChatGuild},
		Prompt:       "hi",
		Response:     "hello",
		ResponseTime: 2 * time.Second,
	})

	convs, err := s.RecentConversations(ctx, "discord:1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Model != "llama" || convs[0].ChatKey != "discord:100" {
		t.Errorf("conversations = %+v", convs)
	}
	st, err := s.UserStats(ctx, "discord:1")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalMessages != 1 || st.AvgResponseTime != 2*time.Second {
		t.Errorf("stats = %+v", st)
	}
	chans, _ := s.ListActiveChannels(ctx)
	if len(chans) != 1 || chans[0].MessageCount != 1 {
		t.Errorf("channels = %+v", chans)
	}
}
