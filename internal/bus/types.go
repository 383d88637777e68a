package bus

import (
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// ChatKind distinguishes server channels from private conversations.
type ChatKind string

const (
	ChatGuild  ChatKind = "guild"  // server / supergroup channel, gated by the active-channel list
	ChatDirect ChatKind = "direct" // 1:1 private message
	ChatGroup  ChatKind = "group"  // small private group conversation
)

// InboundMessage represents a message received from a channel (Discord, Telegram).
// Platform adapters fill every field; the dispatch engine never talks to a platform SDK.
type InboundMessage struct {
	Channel          string            `json:"channel"` // platform name, e.g. "discord"
	MessageID        string            `json:"message_id"`
	SenderID         string            `json:"sender_id"`
	SenderName       string            `json:"sender_name,omitempty"`
	SenderIsBot      bool              `json:"sender_is_bot,omitempty"`
	FromSelf         bool              `json:"from_self,omitempty"` // authored by the connected account
	ChatID           string            `json:"chat_id"`
	ChatKind         ChatKind          `json:"chat_kind"`
	Content          string            `json:"content"`
	ImageURLs        []string          `json:"image_urls,omitempty"`
	MentionsSelf     bool              `json:"mentions_self,omitempty"`
	MentionsEveryone bool              `json:"mentions_everyone,omitempty"` // @everyone / @here style broadcast
	ReplyToSelf      bool              `json:"reply_to_self,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// SenderKey returns the platform-scoped sender identity.
func (m InboundMessage) SenderKey() string { return ScopedKey(m.Channel, m.SenderID) }

// ChatKey returns the platform-scoped chat identity.
func (m InboundMessage) ChatKey() string { return ScopedKey(m.Channel, m.ChatID) }

// FirstImage returns the first image attachment URL, or "".
func (m InboundMessage) FirstImage() string {
	if len(m.ImageURLs) == 0 {
		return ""
	}
	return m.ImageURLs[0]
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel       string            `json:"channel"`
	ChatID        string            `json:"chat_id"`
	Content       string            `json:"content"`
	ReplyToID     string            `json:"reply_to_id,omitempty"` // empty = plain send
	MentionAuthor bool              `json:"mention_author,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SentMessage identifies a delivered outbound message.
type SentMessage struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// ErrorReport is handed to the diagnostic sink when a turn fails.
type ErrorReport struct {
	Context    string    `json:"context"` // short label, e.g. "send", "generate", "panic"
	Channel    string    `json:"channel,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Preview    string    `json:"preview,omitempty"` // start of the triggering message
	Err        error     `json:"-"`
	Time       time.Time `json:"time"`
}

// ScopedKey builds "platform:id".
func ScopedKey(platform, id string) string { return platform + ":" + id }

// SplitKey splits a scoped key back into platform and id.
// A key without a platform prefix is returned as ("", key).
func SplitKey(key string) (platform, id string) {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx], key[idx+1:]
	}
	return "", key
}

// Event represents a server-side event to broadcast to websocket watchers.
type Event struct {
	Name    string      `json:"name"`              // event name (e.g. "turn", "message", "health")
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the engine to decouple from the concrete Broker.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Preview shortens s to at most width display columns for logs and error
// reports, appending "..." when cut. Newlines are flattened.
func Preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
