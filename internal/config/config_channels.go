package config

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // env CHATPILOT_DISCORD_TOKEN; stripped on save
	// SelfBot sends the token without the "Bot " prefix (user account).
	SelfBot bool `json:"self_bot,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // env CHATPILOT_TELEGRAM_TOKEN; stripped on save
	// SmallGroupMax is the member count at or below which a group counts as a
	// small private group (gated by allow_gc); larger groups need toggleactive.
	SmallGroupMax int `json:"small_group_max,omitempty"`
	// MediaMaxBytes caps photo downloads used for vision replies.
	MediaMaxBytes int64 `json:"media_max_bytes,omitempty"`
}
