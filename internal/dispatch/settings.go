package dispatch

import (
	"strings"
	"time"
)

// Settings is the runtime-mutable behavior of the engine. Owner commands
// (toggledm, togglegc, pause) change it while the process runs.
type Settings struct {
	Prefix           string
	Owners           []string // scoped sender keys that bypass the ignore list
	TriggerWords     []string
	AllowDM          bool
	AllowGroup       bool
	HoldConversation bool
	BatchMessages    bool
	BatchWait        time.Duration
	HumanizedTyping  bool
	DisableMentions  bool
	AgeFilter        bool
	ReplyPing        bool
	Paused           bool
}

// IsOwner reports whether senderKey is one of the configured owners.
func (s Settings) IsOwner(senderKey string) bool {
	for _, o := range s.Owners {
		if o == senderKey {
			return true
		}
	}
	return false
}

// IsCommand reports whether content starts with the command prefix.
func (s Settings) IsCommand(content string) bool {
	return s.Prefix != "" && strings.HasPrefix(content, s.Prefix)
}

func (s Settings) clone() Settings {
	c := s
	c.Owners = append([]string(nil), s.Owners...)
	c.TriggerWords = append([]string(nil), s.TriggerWords...)
	return c
}

// Limits are the fixed thresholds of the engine.
type Limits struct {
	SpamThreshold       int
	SpamWindow          time.Duration
	Cooldown            time.Duration
	ConversationTimeout time.Duration
	MaxHistory          int
	MaxChunks           int
	MaxTrackedKeys      int
}

// DefaultLimits returns the stock thresholds (5 messages / 10s, 60s cooldown,
// 5 minute conversations, 20 history entries, 3 chunks).
func DefaultLimits() Limits {
	return Limits{
		SpamThreshold:       5,
		SpamWindow:          10 * time.Second,
		Cooldown:            60 * time.Second,
		ConversationTimeout: 300 * time.Second,
		MaxHistory:          20,
		MaxChunks:           3,
		MaxTrackedKeys:      4096,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.SpamThreshold <= 0 {
		l.SpamThreshold = d.SpamThreshold
	}
	if l.SpamWindow <= 0 {
		l.SpamWindow = d.SpamWindow
	}
	if l.Cooldown <= 0 {
		l.Cooldown = d.Cooldown
	}
	if l.ConversationTimeout <= 0 {
		l.ConversationTimeout = d.ConversationTimeout
	}
	if l.MaxHistory <= 0 {
		l.MaxHistory = d.MaxHistory
	}
	if l.MaxChunks <= 0 {
		l.MaxChunks = d.MaxChunks
	}
	if l.MaxTrackedKeys <= 0 {
		l.MaxTrackedKeys = d.MaxTrackedKeys
	}
	return l
}
