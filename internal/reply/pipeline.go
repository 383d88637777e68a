// Package reply turns a generated completion into a humanized sequence of
// platform messages: chunking, truncation, content filters, typing delays
// and per-chunk sends with abort on transport failure.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

// DefaultMaxChunks bounds how many messages one reply may produce.
const DefaultMaxChunks = 3

// State is a response pipeline state.
type State string

const (
	StateComposing State = "composing"
	StateTyping    State = "typing_simulation"
	StateSending   State = "sending"
	StateSent      State = "sent"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// GenerateRequest is the input of one completion.
type GenerateRequest struct {
	Prompt       string
	Instructions string
	History      []string
	ImageURL     string
}

// Generator produces reply text. An empty string means "nothing to say".
type Generator interface {
	GenerateReply(ctx context.Context, req GenerateRequest) (string, error)
}

// Sender delivers messages to a platform.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) (bus.SentMessage, error)
	SendTyping(ctx context.Context, channel, chatID string) error
	// ChunkLimit is the maximum message length of the platform, 0 if unknown.
	ChunkLimit(channel string) int
}

// ErrorReporter is the fire-and-forget diagnostic sink.
type ErrorReporter interface {
	ReportError(ctx context.Context, report bus.ErrorReport)
}

// Options are the per-turn presentation switches.
type Options struct {
	Humanized       bool
	DisableMentions bool
	AgeFilter       bool
	ReplyPing       bool
	MaxChunks       int
}

// Turn is one request/response cycle handed to the pipeline.
type Turn struct {
	ID           string
	Source       bus.InboundMessage // the message being answered
	Prompt       string
	ImageURL     string
	Instructions string
	History      []string
	Options      Options

	// OnSent runs after each successful send, in chunk order.
	OnSent func(index int, chunk string)
}

// Result describes how a turn ended.
type Result struct {
	State    State
	Trace    []State
	Response string
	Chunks   int // chunks planned after truncation
	Sent     []bus.SentMessage
	Err      error
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config wires a Pipeline.
type Config struct {
	Generator Generator
	Sender    Sender
	Reporter  ErrorReporter      // optional
	Events    bus.EventPublisher // optional
	Humanizer *Humanizer         // optional, random by default
	Sleep     SleepFunc          // optional, timer based by default
	// TypingKeepalive overrides the typing indicator refresh interval.
	TypingKeepalive time.Duration
}

// Pipeline is safe for concurrent use by many chat workers.
type Pipeline struct {
	gen       Generator
	sender    Sender
	reporter  ErrorReporter
	events    bus.EventPublisher
	human     *Humanizer
	sleep     SleepFunc
	keepalive time.Duration
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		gen:       cfg.Generator,
		sender:    cfg.Sender,
		reporter:  cfg.Reporter,
		events:    cfg.Events,
		human:     cfg.Humanizer,
		sleep:     cfg.Sleep,
		keepalive: cfg.TypingKeepalive,
	}
	if p.human == nil {
		p.human = NewHumanizer(nil)
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type run struct {
	turn *Turn
	res  Result
}

func (r *run) enter(s State) {
	r.res.State = s
	r.res.Trace = append(r.res.Trace, s)
}

// Respond runs turn through the state machine. Failures are logged and
// reported here; the returned Result is informational.
func (p *Pipeline) Respond(ctx context.Context, turn *Turn) Result {
	r := &run{turn: turn}
	src := turn.Source

	r.enter(StateComposing)
	text, err := p.gen.GenerateReply(ctx, GenerateRequest{
		Prompt:       turn.Prompt,
		Instructions: turn.Instructions,
		History:      turn.History,
		ImageURL:     turn.ImageURL,
	})
	if err != nil {
		slog.Error("reply: generation failed", "chat", src.ChatKey(), "sender", src.SenderKey(), "error", err)
		p.report(ctx, turn, "generate", err)
		r.res.Err = fmt.Errorf("generate reply: %w", err)
		r.enter(StateDone)
		p.publish(protocol.TurnEventFailed, turn, map[string]any{"stage": "generate", "error": err.Error()})
		return r.res
	}

	text = Sanitize(text)
	r.res.Response = text
	chunks := Split(text, p.sender.ChunkLimit(src.Channel))
	if len(chunks) == 0 {
		slog.Warn("reply: empty response from provider", "chat", src.ChatKey(), "sender", src.SenderKey())
		r.res.Err = ErrEmptyGeneration
		r.enter(StateDone)
		p.publish(protocol.TurnEventEmpty, turn, nil)
		return r.res
	}

	maxChunks := turn.Options.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if len(chunks) > maxChunks {
		slog.Info("reply: response truncated", "chat", src.ChatKey(), "chunks", len(chunks), "kept", maxChunks)
		chunks = chunks[:maxChunks]
	}
	r.res.Chunks = len(chunks)

	if turn.Options.Humanized {
		r.enter(StateTyping)
		if err := p.simulateTyping(ctx, src, utf8.RuneCountInString(turn.Prompt)); err != nil {
			return p.abort(ctx, r, 0, err)
		}
	}

	for i, chunk := range chunks {
		chunk = ApplyFilters(chunk, turn.Options)

		slog.Info("reply: transcript", "sender", src.SenderName, "prompt", bus.Preview(turn.Prompt, 120))
		slog.Info("reply: responding", "to", src.SenderName, "chunk", bus.Preview(chunk, 120), "index", i)

		r.enter(StateSending)
		if i > 0 && turn.Options.Humanized {
			if err := p.sleep(ctx, p.human.InterChunkDelay()); err != nil {
				return p.abort(ctx, r, i, err)
			}
		}
		if err := p.sleep(ctx, p.human.PreSendDelay()); err != nil {
			return p.abort(ctx, r, i, err)
		}

		sent, err := p.sender.Send(ctx, outbound(src, chunk, turn.Options))
		if err != nil {
			return p.abort(ctx, r, i, err)
		}

		r.enter(StateSent)
		r.res.Sent = append(r.res.Sent, sent)
		if turn.OnSent != nil {
			turn.OnSent(i, chunk)
		}
		p.publish(protocol.TurnEventChunkSent, turn, map[string]any{"index": i, "message_id": sent.MessageID})
	}

	r.enter(StateDone)
	p.publish(protocol.TurnEventCompleted, turn, map[string]any{"chunks": len(r.res.Sent)})
	return r.res
}

// outbound builds the send request. Non-private chats reply to the source
// message; private chats get a plain send.
func outbound(src bus.InboundMessage, chunk string, opts Options) bus.OutboundMessage {
	out := bus.OutboundMessage{
		Channel: src.Channel,
		ChatID:  src.ChatID,
		Content: chunk,
	}
	if src.ChatKind != bus.ChatDirect {
		out.ReplyToID = src.MessageID
		out.MentionAuthor = opts.ReplyPing
	}
	return out
}

// simulateTyping sleeps through a typing schedule sized by the prompt
// being answered, showing the indicator during typing steps.
func (p *Pipeline) simulateTyping(ctx context.Context, src bus.InboundMessage, promptLen int) error {
	for _, step := range p.human.TypingSchedule(promptLen) {
		if !step.Typing() {
			if err := p.sleep(ctx, step.Delay); err != nil {
				return err
			}
			continue
		}

		ctrl := NewTypingController(TypingOptions{
			KeepaliveInterval: p.keepalive,
			MaxDuration:       step.Delay + time.Second,
			StartFn: func() error {
				return p.sender.SendTyping(ctx, src.Channel, src.ChatID)
			},
		})
		ctrl.Start()
		err := p.sleep(ctx, step.Delay)
		ctrl.Stop()
		if err != nil {
			return err
		}
	}
	return nil
}

// abort ends the turn after a failure at chunk index. Already-sent chunks stay.
func (p *Pipeline) abort(ctx context.Context, r *run, index int, err error) Result {
	te := AsTransportError(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		te = &TransportError{Kind: Unexpected, Err: fmt.Errorf("interrupted before chunk %d: %w", index, err)}
	}

	src := r.turn.Source
	switch te.Kind {
	case Forbidden:
		slog.Error("reply: missing permissions to send", "chat", src.ChatKey(), "chunk", index, "error", te)
	case HTTPFailure:
		slog.Error("reply: http error sending message", "chat", src.ChatKey(), "chunk", index, "status", te.Status, "error", te)
	default:
		slog.Error("reply: unexpected error sending message", "chat", src.ChatKey(), "chunk", index, "error", te)
	}

	// Report with a fresh context: ctx may already be cancelled at shutdown.
	p.report(context.WithoutCancel(ctx), r.turn, "send", te)
	r.res.Err = te
	r.enter(StateAborted)
	p.publish(protocol.TurnEventAborted, r.turn, map[string]any{
		"chunk": index,
		"kind":  te.Kind.String(),
		"error": te.Error(),
	})
	return r.res
}

func (p *Pipeline) report(ctx context.Context, turn *Turn, where string, err error) {
	if p.reporter == nil {
		return
	}
	src := turn.Source
	p.reporter.ReportError(ctx, bus.ErrorReport{
		Context:    where,
		Channel:    src.Channel,
		ChatID:     src.ChatID,
		SenderID:   src.SenderID,
		SenderName: src.SenderName,
		Preview:    bus.Preview(turn.Prompt, 200),
		Err:        err,
		Time:       time.Now(),
	})
}

func (p *Pipeline) publish(kind string, turn *Turn, extra map[string]any) {
	if p.events == nil {
		return
	}
	payload := map[string]any{
		"type":    kind,
		"turn_id": turn.ID,
		"chat":    turn.Source.ChatKey(),
		"sender":  turn.Source.SenderKey(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	p.events.Broadcast(bus.Event{Name: protocol.EventTurn, Payload: payload})
}
