// Package dispatch is the message dispatch engine: it decides which inbound
// messages get a reply, rate limits senders, serializes turns per chat and
// batches bursts before handing each turn to the response pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/history"
	"github.com/nextlevelbuilder/chatpilot/internal/reply"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

// AccessChecker answers the persisted allow/ignore lists.
type AccessChecker interface {
	IsChannelActive(chatKey string) bool
	IsSenderIgnored(senderKey string) bool
}

// CommandHandler receives prefix commands. It is called inline on the
// inbound path, before pause and classification.
type CommandHandler interface {
	HandleCommand(ctx context.Context, msg bus.InboundMessage)
}

// Responder runs one turn through the response pipeline.
type Responder interface {
	Respond(ctx context.Context, turn *reply.Turn) reply.Result
}

// TurnRecord is the bookkeeping of a turn that delivered at least one chunk.
type TurnRecord struct {
	TurnID       string
	Source       bus.InboundMessage
	Prompt       string
	Response     string
	Messages     int // raw messages merged into the turn
	ChunksSent   int
	ResponseTime time.Duration
}

// TurnRecorder persists completed turns. Failures are the recorder's to log.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord)
}

// Outcome is the result of HandleInbound.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeCommand     Outcome = "command"
	OutcomePaused      Outcome = "paused"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeCooldown    Outcome = "cooldown"
	OutcomeInactive    Outcome = "inactive_channel"
	OutcomeQueued      Outcome = "queued"
)

// Deps are the collaborators of an Engine. Only Responder is required.
type Deps struct {
	Access       AccessChecker
	Commands     CommandHandler
	Responder    Responder
	Recorder     TurnRecorder
	Reporter     reply.ErrorReporter
	Events       bus.EventPublisher
	History      *history.Ring
	Instructions func() string
	Sleep        SleepFunc
	Now          func() time.Time
}

// Stats is a point-in-time view of the engine for /status and ~status.
type Stats struct {
	Started           time.Time `json:"started"`
	Paused            bool      `json:"paused"`
	AllowDM           bool      `json:"allow_dm"`
	AllowGroup        bool      `json:"allow_group"`
	Chats             int       `json:"chats"`
	Queued            int       `json:"queued"`
	BusyWorkers       int       `json:"busy_workers"`
	OpenBatches       int       `json:"open_batches"`
	LiveConversations int       `json:"live_conversations"`
	TrackedSenders    int       `json:"tracked_senders"`
	Cooldowns         int       `json:"cooldowns"`
	HistorySenders    int       `json:"history_senders"`
	Accepted          uint64    `json:"accepted"`
	Skipped           uint64    `json:"skipped"`
	RateLimited       uint64    `json:"rate_limited"`
	Turns             uint64    `json:"turns"`
	FailedTurns       uint64    `json:"failed_turns"`
}

type counters struct {
	accepted    atomic.Uint64
	skipped     atomic.Uint64
	rateLimited atomic.Uint64
	turns       atomic.Uint64
	failed      atomic.Uint64
}

// Engine is the explicitly constructed context shared by every component:
// no package-level mutable state.
type Engine struct {
	limits Limits
	deps   Deps

	settingsMu sync.RWMutex
	settings   Settings
	classifier *Classifier

	tracker  *ConversationTracker
	governor *Governor
	history  *history.Ring
	batches  *BatchAggregator
	pool     *Pool

	runCtx    context.Context
	cancelRun context.CancelFunc
	closed    atomic.Bool

	tracer  trace.Tracer
	started time.Time
	stats   counters
	now     func() time.Time
}

// NewEngine builds an engine. Workers run on an internal context that is
// cancelled only when Shutdown's grace period expires.
func NewEngine(settings Settings, limits Limits, deps Deps) *Engine {
	limits = limits.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = Sleep
	}
	if deps.History == nil {
		deps.History = history.NewRing(limits.MaxHistory)
	}

	e := &Engine{
		limits:   limits,
		deps:     deps,
		settings: settings.clone(),
		tracker:  NewConversationTracker(limits.ConversationTimeout),
		governor: NewGovernor(limits),
		history:  deps.History,
		batches:  NewBatchAggregator(deps.Sleep),
		tracer:   otel.Tracer("github.com/nextlevelbuilder/chatpilot/internal/dispatch"),
		now:      deps.Now,
	}
	e.tracker.now = deps.Now
	e.governor.now = deps.Now
	e.batches.now = deps.Now
	e.classifier = NewClassifier(settings.TriggerWords)
	e.started = e.now()

	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	e.pool = NewPool(e.runCtx, e.processTurn)
	e.pool.OnPanic(e.onPanic)
	return e
}

// SetCommands installs the command handler. Call it before the first
// HandleInbound; the handler usually needs the engine itself.
func (e *Engine) SetCommands(h CommandHandler) { e.deps.Commands = h }

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.clone()
}

// UpdateSettings applies fn to the settings under lock and returns the result.
// Trigger words are recompiled on every update.
func (e *Engine) UpdateSettings(fn func(*Settings)) Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	fn(&e.settings)
	e.classifier = NewClassifier(e.settings.TriggerWords)
	return e.settings.clone()
}

func (e *Engine) snapshot() (Settings, *Classifier) {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.clone(), e.classifier
}

// History exposes the transcript ring (used by ~wipe).
func (e *Engine) History() *history.Ring { return e.history }

// Tracker exposes the conversation tracker.
func (e *Engine) Tracker() *ConversationTracker { return e.tracker }

// HandleInbound runs the on-message path for one platform message:
// upstream filter, commands, pause, classification, spam governor, channel
// activity, then enqueue on the chat's dispatcher.
func (e *Engine) HandleInbound(ctx context.Context, msg bus.InboundMessage) (Outcome, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	s, cls := e.snapshot()
	sender, chat := msg.SenderKey(), msg.ChatKey()

	if e.shouldIgnore(msg, s) {
		return OutcomeIgnored, nil
	}

	if s.IsCommand(msg.Content) {
		if e.deps.Commands != nil {
			e.deps.Commands.HandleCommand(ctx, msg)
		}
		return OutcomeCommand, nil
	}

	if s.Paused {
		e.publishMessage(protocol.MessageEventSkipped, msg, "paused")
		return OutcomePaused, nil
	}

	trigger, ok := cls.ShouldRespond(msg, s, e.tracker)
	if !ok {
		e.stats.skipped.Add(1)
		slog.Debug("dispatch: not addressed", "chat", chat, "sender", sender)
		return OutcomeSkipped, nil
	}

	switch v := e.governor.CheckAndRecord(sender); v.Kind {
	case OnCooldown:
		e.stats.rateLimited.Add(1)
		slog.Info("dispatch: blocked message", "sender", sender, "reason", "on cooldown", "remaining", v.Wait.Round(time.Second))
		e.publishMessage(protocol.MessageEventCooldown, msg, v.Wait.String())
		return OutcomeCooldown, nil
	case NewlyCooledDown:
		e.stats.rateLimited.Add(1)
		slog.Info("dispatch: blocked message", "sender", sender, "reason", "spam", "cooldown", v.Wait)
		e.publishMessage(protocol.MessageEventRateLimited, msg, v.Wait.String())
		return OutcomeRateLimited, nil
	}

	if msg.ChatKind == bus.ChatGuild && (e.deps.Access == nil || !e.deps.Access.IsChannelActive(chat)) {
		slog.Debug("dispatch: channel not active", "chat", chat)
		e.publishMessage(protocol.MessageEventInactive, msg, "")
		return OutcomeInactive, nil
	}

	if err := e.pool.Enqueue(chat, msg); err != nil {
		return "", err
	}
	e.stats.accepted.Add(1)
	e.publishMessage(protocol.MessageEventAccepted, msg, string(trigger))
	return OutcomeQueued, nil
}

// shouldIgnore drops messages from the connected account itself, other
// automated accounts and ignored senders, unless the sender is an owner.
func (e *Engine) shouldIgnore(msg bus.InboundMessage, s Settings) bool {
	sender := msg.SenderKey()
	if s.IsOwner(sender) {
		return false
	}
	if msg.FromSelf || msg.SenderIsBot {
		return true
	}
	return e.deps.Access != nil && e.deps.Access.IsSenderIgnored(sender)
}

// processTurn is the Dispatcher worker body for one dequeued message.
func (e *Engine) processTurn(ctx context.Context, d *Dispatcher, first bus.InboundMessage) {
	start := e.now()
	s, _ := e.snapshot()
	turnID := uuid.NewString()
	sender, chat := first.SenderKey(), first.ChatKey()

	ctx, span := e.tracer.Start(ctx, "dispatch.turn", trace.WithAttributes(
		attribute.String("turn.id", turnID),
		attribute.String("chat", chat),
		attribute.String("sender", sender),
		attribute.String("platform", first.Channel),
	))
	defer span.End()

	e.stats.turns.Add(1)
	e.publishTurn(protocol.TurnEventStarted, turnID, first, nil)

	var batch *Batch
	if s.BatchMessages {
		var err error
		batch, err = e.batches.Collect(ctx, d, first, s.BatchWait, s.IsCommand)
		if err != nil {
			slog.Warn("dispatch: batch wait interrupted", "chat", chat, "error", err)
		}
		if len(batch.Messages) > 1 {
			e.publishTurn(protocol.TurnEventBatched, turnID, first, map[string]any{"messages": len(batch.Messages)})
		}
	} else {
		batch = SingleBatch(first, start)
	}
	prompt := batch.Prompt()
	span.SetAttributes(attribute.Int("batch.size", len(batch.Messages)))

	// Snapshot before appending the current prompt: the provider gets the
	// prompt separately.
	past := e.history.Lines(sender)
	e.history.Append(sender, prompt, history.RoleUser)

	var instructions string
	if e.deps.Instructions != nil {
		instructions = e.deps.Instructions()
	}

	turn := &reply.Turn{
		ID:           turnID,
		Source:       first,
		Prompt:       prompt,
		ImageURL:     batch.ImageURL,
		Instructions: instructions,
		History:      past,
		Options: reply.Options{
			Humanized:       s.HumanizedTyping,
			DisableMentions: s.DisableMentions,
			AgeFilter:       s.AgeFilter,
			ReplyPing:       s.ReplyPing,
			MaxChunks:       e.limits.MaxChunks,
		},
		OnSent: func(index int, chunk string) {
			// Only the first chunk goes into history.
			if index == 0 {
				e.history.Append(sender, chunk, history.RoleBot)
			}
			e.tracker.Touch(sender, chat)
		},
	}

	res := e.deps.Responder.Respond(ctx, turn)
	span.SetAttributes(
		attribute.String("reply.state", string(res.State)),
		attribute.Int("reply.chunks_sent", len(res.Sent)),
	)

	if res.State == reply.StateAborted || (res.Err != nil && !errors.Is(res.Err, reply.ErrEmptyGeneration)) {
		e.stats.failed.Add(1)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}

	if len(res.Sent) > 0 && e.deps.Recorder != nil {
		e.deps.Recorder.RecordTurn(context.WithoutCancel(ctx), TurnRecord{
			TurnID:       turnID,
			Source:       first,
			Prompt:       prompt,
			Response:     res.Response,
			Messages:     len(batch.Messages),
			ChunksSent:   len(res.Sent),
			ResponseTime: e.now().Sub(start),
		})
	}
}

func (e *Engine) onPanic(chatKey string, msg bus.InboundMessage, err error) {
	e.stats.failed.Add(1)
	if e.deps.Reporter != nil {
		e.deps.Reporter.ReportError(context.Background(), bus.ErrorReport{
			Context:    "panic",
			Channel:    msg.Channel,
			ChatID:     msg.ChatID,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			Preview:    bus.Preview(msg.Content, 200),
			Err:        fmt.Errorf("chat %s: %w", chatKey, err),
			Time:       e.now(),
		})
	}
	e.publishTurn(protocol.TurnEventFailed, "", msg, map[string]any{"stage": "panic", "error": err.Error()})
}

// Sweep evicts stale conversation and rate state. It returns the number of
// entries removed.
func (e *Engine) Sweep() int {
	return e.tracker.Sweep() + e.governor.Sweep()
}

// Stats snapshots engine counters and state sizes.
func (e *Engine) Stats() Stats {
	s, _ := e.snapshot()
	ps := e.pool.Stats()
	return Stats{
		Started:           e.started,
		Paused:            s.Paused,
		AllowDM:           s.AllowDM,
		AllowGroup:        s.AllowGroup,
		Chats:             ps.Chats,
		Queued:            ps.Queued,
		BusyWorkers:       ps.Busy,
		OpenBatches:       e.batches.Open(),
		LiveConversations: e.tracker.Live(),
		TrackedSenders:    e.governor.Tracked(),
		Cooldowns:         e.governor.Cooldowns(),
		HistorySenders:    e.history.Senders(),
		Accepted:          e.stats.accepted.Load(),
		Skipped:           e.stats.skipped.Load(),
		RateLimited:       e.stats.rateLimited.Load(),
		Turns:             e.stats.turns.Load(),
		FailedTurns:       e.stats.failed.Load(),
	}
}

// Shutdown stops accepting messages and waits for queued turns to drain.
// If ctx expires first, in-flight turns are cancelled; their pending sends
// fail and are reported. Shutdown then waits for the workers to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closed.Store(true)
	e.pool.Close()

	err := e.pool.Wait(ctx)
	if err == nil {
		e.cancelRun()
		return nil
	}

	slog.Warn("dispatch: shutdown grace period expired, cancelling in-flight turns", "error", err)
	e.cancelRun()
	_ = e.pool.Wait(context.Background())
	return fmt.Errorf("dispatch shutdown: %w", err)
}

func (e *Engine) publishMessage(kind string, msg bus.InboundMessage, detail string) {
	if e.deps.Events == nil {
		return
	}
	e.deps.Events.Broadcast(bus.Event{Name: protocol.EventMessage, Payload: map[string]any{
		"type":    kind,
		"chat":    msg.ChatKey(),
		"sender":  msg.SenderKey(),
		"detail":  detail,
		"preview": bus.Preview(msg.Content, 80),
	}})
}

func (e *Engine) publishTurn(kind, turnID string, msg bus.InboundMessage, extra map[string]any) {
	if e.deps.Events == nil {
		return
	}
	payload := map[string]any{
		"type":    kind,
		"turn_id": turnID,
		"chat":    msg.ChatKey(),
		"sender":  msg.SenderKey(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	e.deps.Events.Broadcast(bus.Event{Name: protocol.EventTurn, Payload: payload})
}
