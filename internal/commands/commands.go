// Package commands implements the prefix commands (~help, ~pause, ...)
// the owner uses to steer the bot from chat.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/dispatch"
	"github.com/nextlevelbuilder/chatpilot/internal/history"
	"github.com/nextlevelbuilder/chatpilot/internal/reply"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

// Engine is the slice of *dispatch.Engine the commands drive.
type Engine interface {
	Settings() dispatch.Settings
	UpdateSettings(fn func(*dispatch.Settings)) dispatch.Settings
	History() *history.Ring
	Stats() dispatch.Stats
}

// AccessLists is the mutable allow/ignore state, normally *store.AccessCache.
type AccessLists interface {
	IsChannelActive(chatKey string) bool
	ToggleChannel(ctx context.Context, chatKey, by string) (bool, error)
	ToggleIgnore(ctx context.Context, senderKey, by, reason string) (bool, error)
	Counts() (active, ignored int)
}

// Deps wires a Handler. Engine, Access and Sender are required.
type Deps struct {
	Engine  Engine
	Access  AccessLists
	Stats   store.StatsStore
	Sender  reply.Sender
	Events  bus.EventPublisher
	Latency func(platform string) (time.Duration, bool)
	// Models lists "provider: model" lines for ~models.
	Models func() []string
	// Persist saves the dm/gc toggles so they survive a restart.
	Persist     func(s dispatch.Settings) error
	HelpEnabled bool
	Version     string
	Now         func() time.Time
}

type command struct {
	name      string
	usage     string
	ownerOnly bool
	run       func(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string
}

// Handler dispatches prefix commands. It implements dispatch.CommandHandler.
type Handler struct {
	deps     Deps
	started  time.Time
	commands map[string]*command
	aliases  map[string]string
}

var _ dispatch.CommandHandler = (*Handler)(nil)

func New(deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &Handler{
		deps:     deps,
		started:  deps.Now(),
		commands: make(map[string]*command),
		aliases:  map[string]string{"h": "help", "toggle": "toggleactive", "clear": "wipe"},
	}
	for _, c := range []*command{
		{name: "help", usage: "show this list", run: runHelp},
		{name: "ping", usage: "latency and uptime", ownerOnly: true, run: runPing},
		{name: "status", usage: "bot state overview", ownerOnly: true, run: runStatus},
		{name: "toggleactive", usage: "[chat id] answer in this server channel or stop", ownerOnly: true, run: runToggleActive},
		{name: "toggledm", usage: "answer direct messages or stop", ownerOnly: true, run: runToggleDM},
		{name: "togglegc", usage: "answer group chats or stop", ownerOnly: true, run: runToggleGC},
		{name: "ignore", usage: "<user> ignore or unignore a user", ownerOnly: true, run: runIgnore},
		{name: "pause", usage: "pause or resume all replies", ownerOnly: true, run: runPause},
		{name: "wipe", usage: "[user] clear one user's or all history", ownerOnly: true, run: runWipe},
		{name: "models", usage: "configured providers", ownerOnly: true, run: runModels},
		{name: "stats", usage: "database and engine counters", ownerOnly: true, run: runStats},
	} {
		h.commands[c.name] = c
	}
	return h
}

// HandleCommand runs the command in msg. Unknown commands and commands the
// sender may not use are ignored without a reply.
func (h *Handler) HandleCommand(ctx context.Context, msg bus.InboundMessage) {
	s := h.deps.Engine.Settings()
	name, args := parse(s.Prefix, msg.Content)
	if alias, ok := h.aliases[name]; ok {
		name = alias
	}
	cmd, ok := h.commands[name]
	if !ok {
		return
	}
	owner := s.IsOwner(msg.SenderKey())
	if cmd.ownerOnly && !owner {
		slog.Debug("command: not owner", "command", name, "sender", msg.SenderKey())
		return
	}
	if name == "help" && !owner && !h.deps.HelpEnabled {
		return
	}

	slog.Info("command", "name", name, "sender", msg.SenderKey(), "chat", msg.ChatKey())
	if h.deps.Events != nil {
		h.deps.Events.Broadcast(bus.Event{Name: protocol.EventCommand, Payload: map[string]any{
			"name":   name,
			"sender": msg.SenderKey(),
			"chat":   msg.ChatKey(),
		}})
	}

	if out := cmd.run(ctx, h, msg, args); out != "" {
		h.reply(ctx, msg, out)
	}
}

func (h *Handler) reply(ctx context.Context, msg bus.InboundMessage, text string) {
	chunks := []string{text}
	if limit := h.deps.Sender.ChunkLimit(msg.Channel); limit > 0 {
		chunks = reply.Split(text, limit)
	}
	for i, c := range chunks {
		out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: c}
		if i == 0 {
			out.ReplyToID = msg.MessageID
		}
		if _, err := h.deps.Sender.Send(ctx, out); err != nil {
			slog.Error("command: reply failed", "chat", msg.ChatKey(), "error", err)
			return
		}
	}
}

// parse splits "~name a b" into ("name", ["a", "b"]).
func parse(prefix, content string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// targetKey turns a user argument into a sender key. It accepts a scoped key
// ("telegram:42"), a Discord mention ("<@42>", "<@!42>") or a bare ID on the
// caller's platform.
func targetKey(platform, arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<@") && strings.HasSuffix(arg, ">") {
		arg = strings.TrimPrefix(strings.TrimSuffix(arg[2:], ">"), "!")
	}
	if arg == "" {
		return "", false
	}
	if p, id := bus.SplitKey(arg); p != "" && id != "" {
		return arg, true
	}
	return bus.ScopedKey(platform, arg), true
}

func runHelp(_ context.Context, h *Handler, msg bus.InboundMessage, _ []string) string {
	s := h.deps.Engine.Settings()
	owner := s.IsOwner(msg.SenderKey())
	names := make([]string, 0, len(h.commands))
	for n, c := range h.commands {
		if c.ownerOnly && !owner {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, n := range names {
		fmt.Fprintf(&b, "`%s%s` %s\n", s.Prefix, n, h.commands[n].usage)
	}
	return strings.TrimRight(b.String(), "\n")
}

func runPing(_ context.Context, h *Handler, msg bus.InboundMessage, _ []string) string {
	lat := "n/a"
	if h.deps.Latency != nil {
		if d, ok := h.deps.Latency(msg.Channel); ok {
			lat = d.Round(time.Millisecond).String()
		}
	}
	return fmt.Sprintf("🏓 Pong! latency %s, uptime %s", lat, h.uptime())
}

func runStatus(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	st := h.deps.Engine.Stats()
	active, ignored := h.deps.Access.Counts()
	var b strings.Builder
	b.WriteString("**📊 Status**\n")
	if h.deps.Version != "" {
		fmt.Fprintf(&b, "Version: %s\n", h.deps.Version)
	}
	fmt.Fprintf(&b, "Uptime: %s\n", h.uptime())
	fmt.Fprintf(&b, "Paused: %s\n", yesNo(st.Paused))
	fmt.Fprintf(&b, "DMs enabled: %s\n", yesNo(st.AllowDM))
	fmt.Fprintf(&b, "Group chats: %s\n", yesNo(st.AllowGroup))
	fmt.Fprintf(&b, "Active channels: %d\n", active)
	fmt.Fprintf(&b, "Ignored users: %d\n", ignored)
	fmt.Fprintf(&b, "Queued: %d, busy chats: %d\n", st.Queued, st.BusyWorkers)
	fmt.Fprintf(&b, "Live conversations: %d", st.LiveConversations)
	return b.String()
}

func runToggleActive(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	chat := msg.ChatKey()
	if len(args) > 0 {
		if key, ok := targetKey(msg.Channel, args[0]); ok {
			chat = key
		}
	}
	on, err := h.deps.Access.ToggleChannel(ctx, chat, msg.SenderKey())
	if err != nil {
		slog.Error("command: toggle channel", "chat", chat, "error", err)
		return "❌ Failed to toggle channel."
	}
	if on {
		return "👍 Channel activated."
	}
	return "👎 Channel deactivated."
}

func runToggleDM(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	s := h.deps.Engine.UpdateSettings(func(s *dispatch.Settings) { s.AllowDM = !s.AllowDM })
	h.persist(s)
	return "✅ DM responses " + enabledDisabled(s.AllowDM)
}

func runToggleGC(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	s := h.deps.Engine.UpdateSettings(func(s *dispatch.Settings) { s.AllowGroup = !s.AllowGroup })
	h.persist(s)
	return "✅ Group chat responses " + enabledDisabled(s.AllowGroup)
}

func runIgnore(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	if len(args) == 0 {
		return "❌ Please name a user to ignore/unignore"
	}
	target, ok := targetKey(msg.Channel, args[0])
	if !ok {
		return "❌ Please name a user to ignore/unignore"
	}
	if h.deps.Engine.Settings().IsOwner(target) {
		return "❌ Cannot ignore the bot owner"
	}
	reason := strings.Join(args[1:], " ")
	ignored, err := h.deps.Access.ToggleIgnore(ctx, target, msg.SenderKey(), reason)
	if err != nil {
		slog.Error("command: toggle ignore", "target", target, "error", err)
		return "❌ Failed to update the ignore list."
	}
	if ignored {
		return fmt.Sprintf("✅ %s is now ignored", target)
	}
	return fmt.Sprintf("✅ %s is no longer ignored", target)
}

func runPause(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	s := h.deps.Engine.UpdateSettings(func(s *dispatch.Settings) { s.Paused = !s.Paused })
	if s.Paused {
		return "⏸️ Bot responses paused"
	}
	return "▶️ Bot responses resumed"
}

func runWipe(_ context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	ring := h.deps.Engine.History()
	if len(args) == 0 {
		ring.ResetAll()
		return "✅ Cleared all conversation history"
	}
	target, ok := targetKey(msg.Channel, args[0])
	if !ok {
		return "❌ Unknown user"
	}
	if len(ring.Get(target)) == 0 {
		return fmt.Sprintf("❌ No conversation history found for %s", target)
	}
	ring.Reset(target)
	return fmt.Sprintf("✅ Cleared conversation history for %s", target)
}

func runModels(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	if h.deps.Models == nil {
		return "No providers configured."
	}
	lines := h.deps.Models()
	if len(lines) == 0 {
		return "No providers configured."
	}
	return "**🤖 Providers**\n" + strings.Join(lines, "\n")
}

func runStats(ctx context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	st := h.deps.Engine.Stats()
	var b strings.Builder
	b.WriteString("**📈 Statistics**\n")
	if h.deps.Stats != nil {
		db, err := h.deps.Stats.DatabaseStats(ctx)
		if err != nil {
			slog.Error("command: database stats", "error", err)
			return "❌ Error retrieving statistics."
		}
		fmt.Fprintf(&b, "Conversations: %d\n", db.Conversations)
		fmt.Fprintf(&b, "Tracked users: %d\n", db.Users)
		fmt.Fprintf(&b, "Error logs: %d\n", db.Errors)
	}
	fmt.Fprintf(&b, "Accepted: %d, skipped: %d, rate limited: %d\n", st.Accepted, st.Skipped, st.RateLimited)
	fmt.Fprintf(&b, "Turns: %d, failed: %d", st.Turns, st.FailedTurns)
	return b.String()
}

func (h *Handler) persist(s dispatch.Settings) {
	if h.deps.Persist == nil {
		return
	}
	if err := h.deps.Persist(s); err != nil {
		slog.Warn("command: persist settings", "error", err)
	}
}

func (h *Handler) uptime() string {
	return h.deps.Now().Sub(h.started).Round(time.Second).String()
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func enabledDisabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
