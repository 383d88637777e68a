package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatpilot/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard that writes the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

// onboardAnswers is the subset of the config the wizard asks about.
type onboardAnswers struct {
	Provider  string
	Model     string
	Platforms []string
	Owner     string
	Prefix    string
	Triggers  string
	AllowDM   bool
	AllowGC   bool
	Batch     bool
	Humanize  bool
}

func runOnboard() error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	a := answersFrom(cfg)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Completion provider").
				Options(
					huh.NewOption("Groq", "groq"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("Anthropic", "anthropic"),
				).
				Value(&a.Provider),
			huh.NewInput().
				Title("Model").
				Description("Leave blank for the provider default").
				Value(&a.Model),
			huh.NewMultiSelect[string]().
				Title("Platforms").
				Options(
					huh.NewOption("Discord", "discord").Selected(cfg.Channels.Discord.Enabled),
					huh.NewOption("Telegram", "telegram").Selected(cfg.Channels.Telegram.Enabled),
				).
				Value(&a.Platforms),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Owner ID").
				Description("Your user ID, or platform:id to limit it to one platform").
				Value(&a.Owner),
			huh.NewInput().
				Title("Command prefix").
				Value(&a.Prefix).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("prefix is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Trigger words").
				Description("Comma-separated; messages containing one get a reply").
				Value(&a.Triggers),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Reply in direct messages?").Value(&a.AllowDM),
			huh.NewConfirm().Title("Reply in group chats?").Value(&a.AllowGC),
			huh.NewConfirm().Title("Batch rapid messages into one turn?").Value(&a.Batch),
			huh.NewConfirm().Title("Simulate human typing speed?").Value(&a.Humanize),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Onboarding cancelled.")
			return nil
		}
		return err
	}

	a.apply(cfg)
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Secrets are read from the environment:")
	for _, p := range a.Platforms {
		fmt.Printf("  CHATPILOT_%s_TOKEN\n", strings.ToUpper(p))
	}
	fmt.Printf("  CHATPILOT_%s_API_KEY\n", strings.ToUpper(a.Provider))
	fmt.Println("Run `chatpilot doctor` to verify, then `chatpilot run`.")
	return nil
}

func answersFrom(cfg *config.Config) onboardAnswers {
	bot := cfg.BotSnapshot()
	return onboardAnswers{
		Provider: orDefault(cfg.Providers.Default, "groq"),
		Model:    cfg.Providers.Model,
		Owner:    strings.Join(bot.Owners, ","),
		Prefix:   bot.Prefix,
		Triggers: strings.Join(bot.TriggerWords, ", "),
		AllowDM:  bot.AllowDM,
		AllowGC:  bot.AllowGC,
		Batch:    bot.BatchMessages,
		Humanize: bot.HumanizedTyping,
	}
}

func (a onboardAnswers) apply(cfg *config.Config) {
	cfg.Update(func(c *config.Config) {
		c.Providers.Default = a.Provider
		c.Providers.Model = strings.TrimSpace(a.Model)
		c.Channels.Discord.Enabled = contains(a.Platforms, "discord")
		c.Channels.Telegram.Enabled = contains(a.Platforms, "telegram")
		c.Bot.Owners = nil
		for _, o := range strings.Split(a.Owner, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Bot.Owners = append(c.Bot.Owners, o)
			}
		}
		c.Bot.Prefix = strings.TrimSpace(a.Prefix)
		c.Bot.TriggerWords = config.ParseWordList(a.Triggers)
		c.Bot.AllowDM = a.AllowDM
		c.Bot.AllowGC = a.AllowGC
		c.Bot.BatchMessages = a.Batch
		c.Bot.HumanizedTyping = a.Humanize
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
