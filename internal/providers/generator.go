package providers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/chatpilot/internal/reply"
)

const botLinePrefix = "[BOT]: "

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Provider    Provider
	Images      *ImageFetcher // nil disables vision
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generator adapts a Provider to reply.Generator.
type Generator struct {
	cfg GeneratorConfig
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	return &Generator{cfg: cfg}
}

// GenerateReply builds a chat request from the history snapshot and the
// batched prompt. A failed image download degrades to a text-only request.
func (g *Generator) GenerateReply(ctx context.Context, req reply.GenerateRequest) (string, error) {
	msgs := HistoryMessages(req.History)

	current := Message{Role: RoleUser, Content: req.Prompt}
	if req.ImageURL != "" && g.cfg.Images != nil {
		img, err := g.cfg.Images.Fetch(ctx, req.ImageURL)
		if err != nil {
			slog.Warn("image prepare failed, sending text only", "error", err)
		} else {
			current.Images = []ImageContent{*img}
		}
	}
	msgs = appendMerged(msgs, current)

	resp, err := g.cfg.Provider.Chat(ctx, ChatRequest{
		System:      req.Instructions,
		Messages:    msgs,
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	if resp.Usage != nil {
		slog.Debug("generation usage",
			"provider", g.cfg.Provider.Name(),
			"model", resp.Model,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	return strings.TrimSpace(resp.Content), nil
}

// HistoryMessages maps rendered history lines onto chat roles.
// Lines written by the bot become assistant turns; consecutive lines of
// the same role are merged.
func HistoryMessages(lines []string) []Message {
	var msgs []Message
	for _, line := range lines {
		if strings.HasPrefix(line, botLinePrefix) {
			msgs = appendMerged(msgs, Message{Role: RoleAssistant, Content: strings.TrimPrefix(line, botLinePrefix)})
			continue
		}
		msgs = appendMerged(msgs, Message{Role: RoleUser, Content: line})
	}
	return msgs
}

func appendMerged(msgs []Message, m Message) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == m.Role && len(msgs[n-1].Images) == 0 {
		last := &msgs[n-1]
		if m.Content != "" {
			if last.Content != "" {
				last.Content += "\n"
			}
			last.Content += m.Content
		}
		last.Images = m.Images
		return msgs
	}
	return append(msgs, m)
}
