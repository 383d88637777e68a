package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/reply"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound messages to the correct platform.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a new channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// GetChannel returns a channel by platform name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the registered platform names, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus returns the running state of each channel.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

// Latency returns the gateway latency of a platform, if it reports one.
func (m *Manager) Latency(name string) (time.Duration, bool) {
	ch, ok := m.GetChannel(name)
	if !ok {
		return 0, false
	}
	lr, ok := ch.(LatencyReporter)
	if !ok {
		return 0, false
	}
	return lr.Latency(), true
}

// StartAll starts all registered channels. A channel that fails to start
// is logged and skipped; an error is returned only when none started.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	started := 0
	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no channel could be started")
	}
	slog.Info("channels started", "count", started)
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

func (m *Manager) route(name string) (Channel, error) {
	ch, ok := m.GetChannel(name)
	if !ok {
		return nil, reply.NewTransportError(reply.Unexpected, 0, fmt.Errorf("channel %q not registered", name))
	}
	if !ch.IsRunning() {
		return nil, reply.NewTransportError(reply.Unexpected, 0, fmt.Errorf("channel %q not running", name))
	}
	return ch, nil
}

// Send routes msg to its platform.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) (bus.SentMessage, error) {
	ch, err := m.route(msg.Channel)
	if err != nil {
		return bus.SentMessage{}, err
	}
	return ch.Send(ctx, msg)
}

// SendTyping routes a typing indicator to its platform.
func (m *Manager) SendTyping(ctx context.Context, channel, chatID string) error {
	ch, err := m.route(channel)
	if err != nil {
		return err
	}
	return ch.SendTyping(ctx, chatID)
}

// ChunkLimit returns the platform's maximum message length, 0 if unknown.
func (m *Manager) ChunkLimit(channel string) int {
	if ch, ok := m.GetChannel(channel); ok {
		return ch.ChunkLimit()
	}
	return 0
}

// SendText sends plain text to a scoped chat key ("discord:123").
func (m *Manager) SendText(ctx context.Context, chatKey, content string) error {
	platform, chatID := bus.SplitKey(chatKey)
	_, err := m.Send(ctx, bus.OutboundMessage{Channel: platform, ChatID: chatID, Content: content})
	return err
}
