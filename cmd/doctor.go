package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatpilot/internal/config"
	"github.com/nextlevelbuilder/chatpilot/internal/upgrade"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	var showConfig bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showConfig {
				return printMaskedConfig()
			}
			runDoctor(cmd.Context())
			return nil
		},
	}
	cmd.Flags().BoolVar(&showConfig, "show-config", false, "print the effective config with secrets masked")
	return cmd
}

func printMaskedConfig() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg.MaskedCopy(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDoctor(ctx context.Context) {
	fmt.Println("chatpilot doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	checkDatabase(ctx, cfg)

	fmt.Println()
	fmt.Println("  Providers:")
	fmt.Printf("    %-12s %s\n", "Default:", orDefault(cfg.Providers.Default, "groq"))
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")

	fmt.Println()
	fmt.Println("  Bot:")
	owners := cfg.Bot.OwnerKeys(cfg.EnabledPlatforms())
	if len(owners) == 0 {
		fmt.Printf("    %-12s (none, owner commands unavailable)\n", "Owners:")
	} else {
		fmt.Printf("    %-12s %s\n", "Owners:", strings.Join(owners, ", "))
	}
	fmt.Printf("    %-12s %s\n", "Triggers:", orDefault(strings.Join(cfg.Bot.TriggerWords, ", "), "(none)"))
	instr := config.NewInstructions(cfg.Bot.InstructionsFile)
	if err := instr.Reload(); err != nil {
		fmt.Printf("    %-12s %s (NOT LOADED: %s)\n", "Prompt:", instr.Path(), err)
	} else {
		fmt.Printf("    %-12s %s (%d chars)\n", "Prompt:", instr.Path(), len(instr.Get()))
	}

	fmt.Println()
	fmt.Printf("  Gateway:   %s\n", cfg.Gateway.Addr())
	if cfg.Errors.WebhookURL != "" {
		fmt.Println("  Webhook:   configured")
	} else {
		fmt.Println("  Webhook:   (not configured)")
	}
	if cfg.Telemetry.Enabled {
		fmt.Printf("  Tracing:   %s (%s)\n", cfg.Telemetry.Endpoint, orDefault(cfg.Telemetry.Protocol, "grpc"))
	} else {
		fmt.Println("  Tracing:   disabled")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDatabase(ctx context.Context, cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.Mode == "managed" {
		fmt.Printf("    %-12s managed (postgres)\n", "Mode:")
	} else {
		fmt.Printf("    %-12s standalone (%s)\n", "Mode:", cfg.SQLitePath())
	}

	db, _, err := openRawDB()
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}

	s, err := upgrade.CheckSchema(pingCtx, db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY, run: chatpilot migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (applied automatically on start)\n", "Schema:", s.CurrentVersion)
	}
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", maskKey(apiKey))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
