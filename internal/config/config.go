package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FlexibleStringSlice accepts ["str"], [123], "str" and 123 in JSON.
// Numbers are kept verbatim so large platform IDs do not lose precision.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		*f = nil
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, v := range val {
			result = append(result, fmt.Sprintf("%v", v))
		}
		*f = result
	default:
		*f = FlexibleStringSlice{fmt.Sprintf("%v", val)}
	}
	return nil
}

// WordList accepts ["a", "b"] or a comma-separated "a, b".
// Entries are trimmed and lower-cased; blanks are dropped.
type WordList []string

func (w *WordList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*w = ParseWordList(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*w = normalizeWords(list)
	return nil
}

// ParseWordList splits a comma-separated list.
func ParseWordList(s string) WordList {
	return normalizeWords(strings.Split(s, ","))
}

func normalizeWords(in []string) WordList {
	out := make(WordList, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Config is the root configuration for chatpilot.
type Config struct {
	Bot       BotConfig       `json:"bot"`
	Limits    LimitsConfig    `json:"limits"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Database  DatabaseConfig  `json:"database"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Errors    ErrorsConfig    `json:"errors,omitempty"`
	mu        sync.RWMutex
}

// BotConfig is the reply behavior. allow_dm / allow_gc are also toggled at
// runtime by owner commands and written back to the config file.
type BotConfig struct {
	Prefix             string              `json:"prefix"`
	Owners             FlexibleStringSlice `json:"owner_id"`      // "discord:123", or a bare ID for every platform
	TriggerWords       WordList            `json:"trigger_words"` // whole-word, case-insensitive
	AllowDM            bool                `json:"allow_dm"`
	AllowGC            bool                `json:"allow_gc"`
	HoldConversation   bool                `json:"hold_conversation"`
	BatchMessages      bool                `json:"batch_messages"`
	BatchWaitSeconds   float64             `json:"batch_wait_seconds"`
	HumanizedTyping    bool                `json:"humanized_typing"`
	DisableMentions    bool                `json:"disable_mentions"`
	AgeFilter          bool                `json:"age_filter"`
	ReplyPing          *bool               `json:"reply_ping,omitempty"` // default true
	HelpCommandEnabled bool                `json:"help_command_enabled"`
	InstructionsFile   string              `json:"instructions_file"`
}

// ReplyPingEnabled resolves the reply_ping default.
func (b BotConfig) ReplyPingEnabled() bool {
	return b.ReplyPing == nil || *b.ReplyPing
}

// BatchWait returns batch_wait_seconds as a duration.
func (b BotConfig) BatchWait() time.Duration {
	return seconds(b.BatchWaitSeconds)
}

// OwnerKeys expands owners into platform-scoped keys for the given platforms.
func (b BotConfig) OwnerKeys(platforms []string) []string {
	var keys []string
	for _, o := range b.Owners {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if strings.Contains(o, ":") {
			keys = append(keys, o)
			continue
		}
		for _, p := range platforms {
			keys = append(keys, p+":"+o)
		}
	}
	return keys
}

// LimitsConfig holds the spam and memory thresholds.
type LimitsConfig struct {
	SpamThreshold              int     `json:"spam_threshold"`
	SpamWindowSeconds          float64 `json:"spam_window_seconds"`
	CooldownSeconds            float64 `json:"cooldown_seconds"`
	ConversationTimeoutSeconds float64 `json:"conversation_timeout_seconds"`
	MaxHistory                 int     `json:"max_history"`
	MaxChunks                  int     `json:"max_chunks"`
	MaxTrackedKeys             int     `json:"max_tracked_keys"`
}

// ChannelsConfig contains per-platform configuration.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

// ProvidersConfig selects and configures the completion provider.
type ProvidersConfig struct {
	Default           string         `json:"default"` // "groq" (default), "openai", "openrouter", "anthropic"
	Model             string         `json:"model,omitempty"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
	RequestsPerMinute int            `json:"requests_per_minute,omitempty"` // 0 = unlimited
	ImageMaxBytes     int64          `json:"image_max_bytes,omitempty"`
	Groq              ProviderConfig `json:"groq"`
	OpenAI            ProviderConfig `json:"openai"`
	OpenRouter        ProviderConfig `json:"openrouter"`
	Anthropic         ProviderConfig `json:"anthropic"`
}

// ProviderConfig holds one provider's credentials. APIKey is env-only in practice.
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
}

// DatabaseConfig configures persistence.
// PostgresDSN is never read from config.json, only from env CHATPILOT_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode            string `json:"mode,omitempty"` // "standalone" (sqlite, default) or "managed" (postgres)
	SQLitePath      string `json:"sqlite_path,omitempty"`
	PostgresDSN     string `json:"-"`
	RetentionDays   int    `json:"retention_days,omitempty"`
	CleanupSchedule string `json:"cleanup_schedule,omitempty"` // cron expression
}

// GatewayConfig is the health/status HTTP server.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend (Jaeger, Tempo, Datadog, etc.)
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification (default false, set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "chatpilot")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// ErrorsConfig configures the error webhook.
type ErrorsConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"` // Discord webhook; env CHATPILOT_ERROR_WEBHOOK
}

// Update applies fn under the write lock.
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// BotSnapshot returns the bot section under the read lock.
func (c *Config) BotSnapshot() BotConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b := c.Bot
	b.Owners = append(FlexibleStringSlice(nil), c.Bot.Owners...)
	b.TriggerWords = append(WordList(nil), c.Bot.TriggerWords...)
	return b
}

// EnabledPlatforms lists platforms that are enabled and have a token.
func (c *Config) EnabledPlatforms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token != "" {
		out = append(out, "discord")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token != "" {
		out = append(out, "telegram")
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Seconds converts a float seconds config value to a duration.
func Seconds(s float64) time.Duration { return seconds(s) }
