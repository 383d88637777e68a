package cmd

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/config"
	"github.com/nextlevelbuilder/chatpilot/internal/providers"
)

func TestRegisterAndSelectProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Default = "openai"
	cfg.Providers.Groq.APIKey = "gsk_test"
	cfg.Providers.Anthropic.APIKey = "sk-ant-test"

	reg := providers.NewRegistry()
	registerProviders(reg, cfg)
	if got := reg.List(); len(got) != 2 || got[0] != "anthropic" || got[1] != "groq" {
		t.Fatalf("List = %v", got)
	}

	p, err := selectProvider(reg, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("fallback provider = %s, want anthropic", p.Name())
	}

	cfg.Providers.Default = "groq"
	if p, _ := selectProvider(reg, cfg); p.Name() != "groq" {
		t.Errorf("default provider = %s, want groq", p.Name())
	}
	if p, _ := reg.Get("groq"); p.DefaultModel() != openAICompatible["groq"].model {
		t.Errorf("groq default model = %s", p.DefaultModel())
	}

	if _, err := selectProvider(providers.NewRegistry(), cfg); err == nil {
		t.Error("expected error with no providers")
	}
}

func TestEngineSettingsExpandsOwners(t *testing.T) {
	cfg := config.Default()
	cfg.Bot.Owners = config.FlexibleStringSlice{"42", "telegram:7"}
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Discord.Token = "tok"

	s := engineSettings(cfg)
	if len(s.Owners) != 2 || s.Owners[0] != "discord:42" || s.Owners[1] != "telegram:7" {
		t.Errorf("Owners = %v", s.Owners)
	}
}

func TestRetention(t *testing.T) {
	cfg := config.Default()
	cfg.Database.RetentionDays = 3
	if got := retention(cfg); got != 72*time.Hour {
		t.Errorf("retention = %v", got)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"discord:123", "discord:123", false},
		{" telegram:-100 ", "telegram:-100", false},
		{"123", "", true},
		{"discord:", "", true},
	}
	for _, tt := range tests {
		got, err := normalizeKey(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("normalizeKey(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"short":            "*****",
		"gsk_abcdefgh1234": "gsk_********1234",
	}
	for in, want := range tests {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}
