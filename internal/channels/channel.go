// Package channels provides the platform abstraction layer.
// Adapters (Discord, Telegram) turn SDK events into bus.InboundMessage values
// for the dispatch engine and deliver bus.OutboundMessage values back.
package channels

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

// InboundHandler receives every message an adapter observes, unfiltered.
type InboundHandler func(ctx context.Context, msg bus.InboundMessage)

// Channel defines the interface that all platform adapters must satisfy.
type Channel interface {
	// Name returns the platform identifier ("discord", "telegram").
	Name() string

	// Start connects and begins delivering inbound messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop disconnects. No inbound messages are delivered after it returns.
	Stop(ctx context.Context) error

	// Send delivers one outbound message. Failures are *reply.TransportError.
	Send(ctx context.Context, msg bus.OutboundMessage) (bus.SentMessage, error)

	// SendTyping shows a typing indicator in chatID once.
	SendTyping(ctx context.Context, chatID string) error

	// ChunkLimit is the platform's maximum message length.
	ChunkLimit() int

	// IsRunning returns whether the adapter is connected.
	IsRunning() bool
}

// LatencyReporter is implemented by adapters that can report gateway latency.
type LatencyReporter interface {
	Latency() time.Duration
}

// BaseChannel provides shared functionality for adapters.
// Adapters should embed this struct.
type BaseChannel struct {
	name    string
	handler InboundHandler
	running atomic.Bool
}

// NewBaseChannel creates a new BaseChannel.
func NewBaseChannel(name string, handler InboundHandler) *BaseChannel {
	return &BaseChannel{name: name, handler: handler}
}

// Name returns the platform name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// HandleMessage stamps the platform and forwards msg to the handler.
// Messages arriving while stopped are dropped.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) {
	if !c.IsRunning() || c.handler == nil {
		return
	}
	msg.Channel = c.name
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.handler(ctx, msg)
}
