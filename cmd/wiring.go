package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/channels"
	"github.com/nextlevelbuilder/chatpilot/internal/channels/discord"
	"github.com/nextlevelbuilder/chatpilot/internal/channels/telegram"
	"github.com/nextlevelbuilder/chatpilot/internal/config"
	"github.com/nextlevelbuilder/chatpilot/internal/dispatch"
	"github.com/nextlevelbuilder/chatpilot/internal/providers"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
	"github.com/nextlevelbuilder/chatpilot/internal/store/pg"
	"github.com/nextlevelbuilder/chatpilot/internal/store/sqlite"
)

// openStore opens the configured backend and applies migrations. The
// returned *sql.DB shares the store's connections and is used for schema
// checks.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *sql.DB, error) {
	if cfg.Database.Mode == "managed" {
		if cfg.Database.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("managed mode requires CHATPILOT_POSTGRES_DSN")
		}
		s, err := pg.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("store opened", "mode", "managed")
		return s, s.SQLDB(), nil
	}
	s, err := sqlite.Open(cfg.SQLitePath())
	if err != nil {
		return nil, nil, err
	}
	slog.Info("store opened", "mode", "standalone", "path", cfg.SQLitePath())
	return s, s.DB(), nil
}

// Well-known endpoints and default models of the OpenAI-compatible providers.
var openAICompatible = map[string]struct{ base, model string }{
	"groq":       {"https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
	"openai":     {"https://api.openai.com/v1", "gpt-4o-mini"},
	"openrouter": {"https://openrouter.ai/api/v1", "meta-llama/llama-3.3-70b-instruct"},
}

func registerProviders(registry *providers.Registry, cfg *config.Config) {
	rpm := cfg.Providers.RequestsPerMinute
	for name, pc := range map[string]config.ProviderConfig{
		"groq":       cfg.Providers.Groq,
		"openai":     cfg.Providers.OpenAI,
		"openrouter": cfg.Providers.OpenRouter,
	} {
		if pc.APIKey == "" {
			continue
		}
		def := openAICompatible[name]
		base := pc.APIBase
		if base == "" {
			base = def.base
		}
		registry.Register(providers.WithRateLimit(providers.NewOpenAIProvider(name, pc.APIKey, base, def.model), rpm))
		slog.Info("registered provider", "name", name)
	}

	if pc := cfg.Providers.Anthropic; pc.APIKey != "" {
		opts := []providers.AnthropicOption{providers.WithAnthropicBaseURL(pc.APIBase)}
		if cfg.Providers.Default == "anthropic" && cfg.Providers.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(cfg.Providers.Model))
		}
		registry.Register(providers.WithRateLimit(providers.NewAnthropicProvider(pc.APIKey, opts...), rpm))
		slog.Info("registered provider", "name", "anthropic")
	}
}

// selectProvider returns the configured default provider, falling back to
// any registered one.
func selectProvider(registry *providers.Registry, cfg *config.Config) (providers.Provider, error) {
	if p, err := registry.Get(cfg.Providers.Default); err == nil {
		return p, nil
	}
	names := registry.List()
	if len(names) == 0 {
		return nil, fmt.Errorf("no provider configured: set CHATPILOT_GROQ_API_KEY, CHATPILOT_OPENAI_API_KEY, CHATPILOT_OPENROUTER_API_KEY or CHATPILOT_ANTHROPIC_API_KEY")
	}
	slog.Warn("default provider not configured, falling back", "wanted", cfg.Providers.Default, "using", names[0])
	return registry.Get(names[0])
}

func buildChannels(mgr *channels.Manager, cfg *config.Config, handler channels.InboundHandler) error {
	if c := cfg.Channels.Discord; c.Enabled && c.Token != "" {
		ch, err := discord.New(c, handler)
		if err != nil {
			return err
		}
		mgr.RegisterChannel(ch)
	}
	if c := cfg.Channels.Telegram; c.Enabled && c.Token != "" {
		ch, err := telegram.New(c, handler)
		if err != nil {
			return err
		}
		mgr.RegisterChannel(ch)
	}
	if len(mgr.GetEnabledChannels()) == 0 {
		return fmt.Errorf("no platform enabled: set CHATPILOT_DISCORD_TOKEN or CHATPILOT_TELEGRAM_TOKEN")
	}
	return nil
}

func engineSettings(cfg *config.Config) dispatch.Settings {
	b := cfg.BotSnapshot()
	return dispatch.Settings{
		Prefix:           b.Prefix,
		Owners:           b.OwnerKeys(cfg.EnabledPlatforms()),
		TriggerWords:     []string(b.TriggerWords),
		AllowDM:          b.AllowDM,
		AllowGroup:       b.AllowGC,
		HoldConversation: b.HoldConversation,
		BatchMessages:    b.BatchMessages,
		BatchWait:        b.BatchWait(),
		HumanizedTyping:  b.HumanizedTyping,
		DisableMentions:  b.DisableMentions,
		AgeFilter:        b.AgeFilter,
		ReplyPing:        b.ReplyPingEnabled(),
	}
}

func engineLimits(cfg *config.Config) dispatch.Limits {
	l := cfg.Limits
	return dispatch.Limits{
		SpamThreshold:       l.SpamThreshold,
		SpamWindow:          config.Seconds(l.SpamWindowSeconds),
		Cooldown:            config.Seconds(l.CooldownSeconds),
		ConversationTimeout: config.Seconds(l.ConversationTimeoutSeconds),
		MaxHistory:          l.MaxHistory,
		MaxChunks:           l.MaxChunks,
		MaxTrackedKeys:      l.MaxTrackedKeys,
	}
}

// persistToggles writes the dm/gc switches back to the config file.
func persistToggles(cfg *config.Config, path string) func(dispatch.Settings) error {
	return func(s dispatch.Settings) error {
		cfg.Update(func(c *config.Config) {
			c.Bot.AllowDM = s.AllowDM
			c.Bot.AllowGC = s.AllowGroup
		})
		return config.Save(path, cfg)
	}
}

func retention(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
}
