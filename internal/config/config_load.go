package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// DefaultConfigPath is used when neither --config nor CHATPILOT_CONFIG is set.
const DefaultConfigPath = "config.json"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Prefix:           "~",
			AllowDM:          true,
			AllowGC:          true,
			HoldConversation: true,
			BatchMessages:    true,
			BatchWaitSeconds: 2,
			HumanizedTyping:  true,
			DisableMentions:  true,
			AgeFilter:        true,
			InstructionsFile: "instructions.txt",
		},
		Limits: LimitsConfig{
			SpamThreshold:              5,
			SpamWindowSeconds:          10,
			CooldownSeconds:            60,
			ConversationTimeoutSeconds: 300,
			MaxHistory:                 20,
			MaxChunks:                  3,
			MaxTrackedKeys:             4096,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				SmallGroupMax: 10,
				MediaMaxBytes: 5 * 1024 * 1024,
			},
		},
		Providers: ProvidersConfig{
			Default:       "groq",
			MaxTokens:     1024,
			Temperature:   0.9,
			ImageMaxBytes: 8 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Mode:            "standalone",
			SQLitePath:      "~/.chatpilot/chatpilot.db",
			RetentionDays:   30,
			CleanupSchedule: "0 4 * * *",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "chatpilot",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file yields the defaults, still overlaid with env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("CHATPILOT_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("CHATPILOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("CHATPILOT_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("CHATPILOT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CHATPILOT_PROVIDER", &c.Providers.Default)
	envStr("CHATPILOT_MODEL", &c.Providers.Model)

	envStr("CHATPILOT_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CHATPILOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	// Auto-enable channels if credentials are provided via env
	if os.Getenv("CHATPILOT_DISCORD_TOKEN") != "" {
		c.Channels.Discord.Enabled = true
	}
	if os.Getenv("CHATPILOT_TELEGRAM_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}

	// Owner IDs from env (comma-separated)
	if v := os.Getenv("CHATPILOT_OWNER_ID"); v != "" {
		var owners FlexibleStringSlice
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				owners = append(owners, o)
			}
		}
		c.Bot.Owners = owners
	}
	if v := os.Getenv("CHATPILOT_TRIGGER_WORDS"); v != "" {
		c.Bot.TriggerWords = ParseWordList(v)
	}
	envStr("CHATPILOT_INSTRUCTIONS_FILE", &c.Bot.InstructionsFile)

	// Gateway host/port
	envStr("CHATPILOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("CHATPILOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Database
	envStr("CHATPILOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CHATPILOT_MODE", &c.Database.Mode)
	envStr("CHATPILOT_SQLITE_PATH", &c.Database.SQLitePath)

	// Telemetry
	envStr("CHATPILOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CHATPILOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CHATPILOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("CHATPILOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("CHATPILOT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	envStr("CHATPILOT_ERROR_WEBHOOK", &c.Errors.WebhookURL)
}

// Save writes the config to a JSON file with secrets removed.
func Save(path string, cfg *Config) error {
	cp := cfg.copy()
	cp.StripSecrets()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SQLitePath returns the expanded sqlite database path.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.SQLitePath)
}

// copy returns a deep copy of the config, including env-only fields.
func (c *Config) copy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return Default()
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return Default()
	}
	cp.Database.PostgresDSN = c.Database.PostgresDSN
	return cp
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the doctor command and /status to avoid printing secrets.
func (c *Config) MaskedCopy() *Config {
	cp := c.copy()

	maskNonEmpty(&cp.Providers.Groq.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Providers.OpenRouter.APIKey)
	maskNonEmpty(&cp.Providers.Anthropic.APIKey)

	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Channels.Telegram.Token)

	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Errors.WebhookURL)
	for k := range cp.Telemetry.Headers {
		cp.Telemetry.Headers[k] = secretMask
	}

	return cp
}

// StripSecrets zeros out all secret fields in the config.
// Used before saving to disk to ensure secrets never persist in config.json.
func (c *Config) StripSecrets() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Providers.Groq.APIKey = ""
	c.Providers.OpenAI.APIKey = ""
	c.Providers.OpenRouter.APIKey = ""
	c.Providers.Anthropic.APIKey = ""

	c.Channels.Discord.Token = ""
	c.Channels.Telegram.Token = ""

	c.Database.PostgresDSN = ""
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ResolvePath returns the config path from flag, env, or default.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("CHATPILOT_CONFIG"); v != "" {
		return v
	}
	return DefaultConfigPath
}
