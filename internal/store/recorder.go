package store

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/dispatch"
)

// TurnRecorder writes the bookkeeping of a delivered turn: the
// conversation row, the sender's interaction stats and, for server
// channels, the channel activity counters.
type TurnRecorder struct {
	store Store
	model func() string
}

var _ dispatch.TurnRecorder = (*TurnRecorder)(nil)

// NewTurnRecorder records model() as the generating model of each turn.
func NewTurnRecorder(s Store, model func() string) *TurnRecorder {
	if model == nil {
		model = func() string { return "" }
	}
	return &TurnRecorder{store: s, model: model}
}

func (r *TurnRecorder) RecordTurn(ctx context.Context, rec dispatch.TurnRecord) {
	sender, chat := rec.Source.SenderKey(), rec.Source.ChatKey()

	if err := r.store.LogConversation(ctx, ConversationRecord{
		TurnID:    rec.TurnID,
		SenderKey: sender,
		ChatKey:   chat,
		Prompt:    rec.Prompt,
		Response:  rec.Response,
		Model:     r.model(),
	}); err != nil {
		slog.Warn("record turn: log conversation", "turn", rec.TurnID, "error", err)
	}

	if err := r.store.RecordInteraction(ctx, sender, rec.ResponseTime); err != nil {
		slog.Warn("record turn: interaction", "turn", rec.TurnID, "sender", sender, "error", err)
	}

	if rec.Source.ChatKind == bus.ChatGuild {
		if err := r.store.TouchChannel(ctx, chat); err != nil {
			slog.Warn("record turn: touch channel", "turn", rec.TurnID, "chat", chat, "error", err)
		}
	}
}
