package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeModel = "claude-haiku-4-5"

// AnthropicProvider implements Provider using the Anthropic SDK.
type AnthropicProvider struct {
	client       *anthropic.Client
	defaultModel string
}

type AnthropicOption func(*anthropicSettings)

type anthropicSettings struct {
	model string
	opts  []option.RequestOption
}

func WithAnthropicModel(model string) AnthropicOption {
	return func(s *anthropicSettings) {
		if model != "" {
			s.model = model
		}
	}
}

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(s *anthropicSettings) {
		if baseURL != "" {
			s.opts = append(s.opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
		}
	}
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	s := &anthropicSettings{model: defaultClaudeModel}
	for _, o := range opts {
		o(s)
	}
	reqOpts := append([]option.RequestOption{option.WithMaxRetries(0)}, s.opts...)
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}

	client := anthropic.NewClient(reqOpts...)
	return &AnthropicProvider{
		client:       &client,
		defaultModel: s.model,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &HTTPError{
				Status: apiErr.StatusCode,
				Body:   fmt.Sprintf("anthropic: %s", apiErr.Error()),
			}
		}
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(text.Text)
		}
	}

	finish := "stop"
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		finish = "length"
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &ChatResponse{
		Content:      content.String(),
		FinishReason: finish,
		Model:        string(msg.Model),
		Usage: &Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}

// buildAnthropicMessages converts messages to SDK params. The API requires
// the conversation to open with a user turn, so leading assistant messages
// are dropped.
func buildAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			for _, img := range m.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Data))
			}
			if m.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			if len(out) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}
