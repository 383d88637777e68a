// Package store defines persistence for access lists, conversation logs,
// per-user statistics and error logs. Backends live in store/sqlite
// (standalone) and store/pg (managed).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ActiveChannel is a server channel the bot is allowed to answer in.
type ActiveChannel struct {
	ChatKey      string    `json:"chat_key"`
	Platform     string    `json:"platform"`
	AddedBy      string    `json:"added_by,omitempty"`
	AddedAt      time.Time `json:"added_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int64     `json:"message_count"`
}

// IgnoredUser is a sender the bot never answers.
type IgnoredUser struct {
	SenderKey string    `json:"sender_key"`
	IgnoredBy string    `json:"ignored_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	IgnoredAt time.Time `json:"ignored_at"`
}

// ConversationRecord is one answered turn.
type ConversationRecord struct {
	ID        int64     `json:"id"`
	TurnID    string    `json:"turn_id,omitempty"`
	SenderKey string    `json:"sender_key"`
	ChatKey   string    `json:"chat_key"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStats aggregates a sender's answered turns.
type UserStats struct {
	SenderKey       string        `json:"sender_key"`
	TotalMessages   int64         `json:"total_messages"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
}

// ErrorLog is a persisted error report.
type ErrorLog struct {
	ID        int64     `json:"id"`
	Context   string    `json:"context"`
	Platform  string    `json:"platform,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	SenderID  string    `json:"sender_id,omitempty"`
	Message   string    `json:"message"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DatabaseStats are row counts per table.
type DatabaseStats struct {
	ActiveChannels int64 `json:"active_channels"`
	IgnoredUsers   int64 `json:"ignored_users"`
	Conversations  int64 `json:"conversations"`
	Users          int64 `json:"users"`
	Errors         int64 `json:"errors"`
}

// ChannelStore manages the active-channel list.
type ChannelStore interface {
	// AddActiveChannel is idempotent.
	AddActiveChannel(ctx context.Context, chatKey, addedBy string) error
	RemoveActiveChannel(ctx context.Context, chatKey string) error
	ListActiveChannels(ctx context.Context) ([]ActiveChannel, error)
	// TouchChannel bumps last_activity and message_count of an active channel.
	TouchChannel(ctx context.Context, chatKey string) error
}

// IgnoreStore manages the ignore list.
type IgnoreStore interface {
	AddIgnoredUser(ctx context.Context, senderKey, ignoredBy, reason string) error
	RemoveIgnoredUser(ctx context.Context, senderKey string) error
	ListIgnoredUsers(ctx context.Context) ([]IgnoredUser, error)
}

// ConversationStore logs answered turns.
type ConversationStore interface {
	LogConversation(ctx context.Context, rec ConversationRecord) error
	// RecentConversations returns newest first. Empty senderKey means all senders.
	RecentConversations(ctx context.Context, senderKey string, limit int) ([]ConversationRecord, error)
}

// StatsStore tracks per-user interaction statistics.
type StatsStore interface {
	// RecordInteraction folds responseTime into the sender's running average.
	RecordInteraction(ctx context.Context, senderKey string, responseTime time.Duration) error
	// UserStats returns ErrNotFound for unknown senders.
	UserStats(ctx context.Context, senderKey string) (*UserStats, error)
	DatabaseStats(ctx context.Context) (DatabaseStats, error)
}

// ErrorStore persists error reports.
type ErrorStore interface {
	LogError(ctx context.Context, e ErrorLog) error
	RecentErrors(ctx context.Context, limit int) ([]ErrorLog, error)
}

// Store is the full persistence surface implemented by each backend.
type Store interface {
	ChannelStore
	IgnoreStore
	ConversationStore
	StatsStore
	ErrorStore

	// Cleanup deletes conversation and error rows created before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig configures backend construction.
type StoreConfig struct {
	Mode        string // "standalone" | "managed"
	SQLitePath  string
	PostgresDSN string
}
