package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/reply"
)

// Reporter fans an error report out to every sink. Sink failures are
// logged and never surface to the caller.
type Reporter struct {
	sinks []reply.ErrorReporter
}

var _ reply.ErrorReporter = (*Reporter)(nil)

// NewReporter skips nil sinks.
func NewReporter(sinks ...reply.ErrorReporter) *Reporter {
	r := &Reporter{}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

func (r *Reporter) ReportError(ctx context.Context, report bus.ErrorReport) {
	slog.Error("error reported",
		"context", report.Context,
		"chat", bus.ScopedKey(report.Channel, report.ChatID),
		"sender", bus.ScopedKey(report.Channel, report.SenderID),
		"error", report.Err,
	)
	for _, s := range r.sinks {
		s.ReportError(ctx, report)
	}
}

// LogReporter persists reports to the error_logs table.
type LogReporter struct {
	errors ErrorStore
}

func NewLogReporter(errors ErrorStore) *LogReporter { return &LogReporter{errors: errors} }

func (r *LogReporter) ReportError(ctx context.Context, report bus.ErrorReport) {
	msg := "unknown error"
	if report.Err != nil {
		msg = report.Err.Error()
	}
	err := r.errors.LogError(context.WithoutCancel(ctx), ErrorLog{
		Context:   report.Context,
		Platform:  report.Channel,
		ChatID:    report.ChatID,
		SenderID:  report.SenderID,
		Message:   msg,
		Preview:   report.Preview,
		CreatedAt: report.Time,
	})
	if err != nil {
		slog.Warn("persist error report failed", "error", err)
	}
}

// webhookPoster delivers one payload to the configured webhook.
type webhookPoster func(ctx context.Context, params *discordgo.WebhookParams) error

const webhookTimeout = 10 * time.Second

// WebhookReporter posts reports to a Discord webhook in the background,
// limited to 30 posts per minute per report context.
type WebhookReporter struct {
	post    webhookPoster
	limiter *WindowLimiter
	wg      sync.WaitGroup
}

// NewWebhookReporter parses a https://discord.com/api/webhooks/<id>/<token> URL.
func NewWebhookReporter(webhookURL string) (*WebhookReporter, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create webhook session: %w", err)
	}
	post := func(ctx context.Context, params *discordgo.WebhookParams) error {
		_, err := session.WebhookExecute(id, token, false, params, discordgo.WithContext(ctx))
		return err
	}
	return newWebhookReporter(post), nil
}

func newWebhookReporter(post webhookPoster) *WebhookReporter {
	return &WebhookReporter{post: post, limiter: NewWindowLimiter(webhookWindow, webhookMaxHits)}
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("webhook url must look like .../api/webhooks/<id>/<token>")
}

func (r *WebhookReporter) ReportError(ctx context.Context, report bus.ErrorReport) {
	if !r.limiter.Allow(report.Context) {
		slog.Debug("error webhook rate limited", "context", report.Context)
		return
	}
	params := webhookPayload(report)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), webhookTimeout)
		defer cancel()
		if err := r.post(pctx, params); err != nil {
			slog.Warn("error webhook post failed", "error", err)
		}
	}()
}

// Wait blocks until in-flight posts finish.
func (r *WebhookReporter) Wait() { r.wg.Wait() }

func webhookPayload(report bus.ErrorReport) *discordgo.WebhookParams {
	msg := "unknown error"
	if report.Err != nil {
		msg = report.Err.Error()
	}
	ts := report.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Context", Value: orDash(report.Context), Inline: true},
		{Name: "Platform", Value: orDash(report.Channel), Inline: true},
		{Name: "Chat", Value: orDash(report.ChatID), Inline: true},
		{Name: "Sender", Value: orDash(senderLabel(report)), Inline: true},
	}
	if report.Preview != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Message", Value: bus.Preview(report.Preview, 1000)})
	}
	return &discordgo.WebhookParams{
		Username:        "chatpilot",
		AllowedMentions: &discordgo.MessageAllowedMentions{},
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Error",
			Description: bus.Preview(msg, 4000),
			Color:       0xE74C3C,
			Fields:      fields,
			Timestamp:   ts.UTC().Format(time.RFC3339),
		}},
	}
}

func senderLabel(r bus.ErrorReport) string {
	switch {
	case r.SenderName != "" && r.SenderID != "":
		return r.SenderName + " (" + r.SenderID + ")"
	case r.SenderName != "":
		return r.SenderName
	}
	return r.SenderID
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
