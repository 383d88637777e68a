package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		url       string
		id, token string
		wantErr   bool
	}{
		{"https://discord.com/api/webhooks/123/abc", "123", "abc", false},
		{"https://discordapp.com/api/v10/webhooks/9/tok/", "9", "tok", false},
		{"https://discord.com/api/channels/1", "", "", true},
		{"https://discord.com/api/webhooks/123", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, token, err := parseWebhookURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if id != tt.id || token != tt.token {
				t.Errorf("got %q %q", id, token)
			}
		})
	}
}

func TestWebhookReporterPostsAndLimits(t *testing.T) {
	var mu sync.Mutex
	var got []*discordgo.WebhookParams
	r := newWebhookReporter(func(ctx context.Context, p *discordgo.WebhookParams) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
		return nil
	})

	report := bus.ErrorReport{Context: "send", Channel: "telegram", ChatID: "5", SenderName: "ann", SenderID: "9", Preview: "hey", Err: errors.New("forbidden")}
	for i := 0; i < webhookMaxHits+5; i++ {
		r.ReportError(context.Background(), report)
	}
	r.Wait()

	if len(got) != webhookMaxHits {
		t.Fatalf("posts = %d, want %d", len(got), webhookMaxHits)
	}
	e := got[0].Embeds[0]
	if e.Description != "forbidden" {
		t.Errorf("description = %q", e.Description)
	}
	if e.Fields[3].Value != "ann (9)" || e.Fields[4].Value != "hey" {
		t.Errorf("fields = %+v %+v", e.Fields[3], e.Fields[4])
	}
	if got[0].AllowedMentions == nil || len(got[0].AllowedMentions.Parse) != 0 {
		t.Error("webhook posts must not ping anyone")
	}
}
