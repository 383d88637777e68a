package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

// handleMessage converts a Telegram message into an InboundMessage.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if isServiceMessage(message) || message.From == nil {
		return
	}
	kind, ok := c.chatKind(ctx, message.Chat)
	if !ok {
		return
	}

	user := message.From
	content := message.Text
	if content == "" {
		content = message.Caption
	}

	msg := bus.InboundMessage{
		MessageID:    strconv.Itoa(message.MessageID),
		SenderID:     strconv.FormatInt(user.ID, 10),
		SenderName:   displayName(user),
		SenderIsBot:  user.IsBot,
		FromSelf:     user.ID == c.selfID,
		ChatID:       strconv.FormatInt(message.Chat.ID, 10),
		ChatKind:     kind,
		Content:      content,
		MentionsSelf: c.detectMention(message),
		Timestamp:    time.Unix(message.Date, 0),
		Metadata: map[string]string{
			"username":  user.Username,
			"chat_type": message.Chat.Type,
		},
	}
	if r := message.ReplyToMessage; r != nil && r.From != nil && r.From.ID == c.selfID {
		msg.ReplyToSelf = true
	}
	if url := c.photoURL(ctx, message.Photo); url != "" {
		msg.ImageURLs = []string{url}
	}

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"kind", kind,
		"user_id", user.ID,
		"preview", bus.Preview(content, 60),
	)

	c.HandleMessage(ctx, msg)
}

// chatKind classifies a chat. Groups at or below small_group_max members
// count as private groups; larger groups and supergroups above it behave
// like server channels. Broadcast channels are not handled.
func (c *Channel) chatKind(ctx context.Context, chat telego.Chat) (bus.ChatKind, bool) {
	switch chat.Type {
	case telego.ChatTypePrivate:
		return bus.ChatDirect, true
	case telego.ChatTypeGroup, telego.ChatTypeSupergroup:
	default:
		return "", false
	}

	if v, ok := c.groupKinds.Load(chat.ID); ok {
		if gk := v.(groupKind); time.Since(gk.checked) < memberCountTTL {
			return gk.kind, true
		}
	}

	kind := bus.ChatGuild
	count, err := c.bot.GetChatMemberCount(ctx, &telego.GetChatMemberCountParams{ChatID: tu.ID(chat.ID)})
	if err != nil {
		slog.Debug("telegram member count failed", "chat_id", chat.ID, "error", err)
	} else if count != nil && *count <= c.config.SmallGroupMax {
		kind = bus.ChatGroup
	}
	c.groupKinds.Store(chat.ID, groupKind{kind: kind, checked: time.Now()})
	return kind, true
}

// detectMention checks text and caption for @botname or a text mention of the bot.
func (c *Channel) detectMention(msg *telego.Message) bool {
	for _, e := range append(msg.Entities, msg.CaptionEntities...) {
		if e.Type == telego.EntityTypeTextMention && e.User != nil && e.User.ID == c.selfID {
			return true
		}
	}
	if c.selfName == "" {
		return false
	}
	at := "@" + strings.ToLower(c.selfName)
	return strings.Contains(strings.ToLower(msg.Text), at) ||
		strings.Contains(strings.ToLower(msg.Caption), at)
}

// photoURL resolves the largest photo size within media_max_bytes to a
// download URL.
func (c *Channel) photoURL(ctx context.Context, sizes []telego.PhotoSize) string {
	var best *telego.PhotoSize
	for i := range sizes {
		ps := &sizes[i]
		if c.config.MediaMaxBytes > 0 && int64(ps.FileSize) > c.config.MediaMaxBytes {
			continue
		}
		if best == nil || ps.Width*ps.Height > best.Width*best.Height {
			best = ps
		}
	}
	if best == nil {
		return ""
	}
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: best.FileID})
	if err != nil || file.FilePath == "" {
		slog.Debug("telegram photo lookup failed", "file_id", best.FileID, "error", err)
		return ""
	}
	return c.bot.FileDownloadURL(file.FilePath)
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}

// isServiceMessage returns true if the Telegram message is a service/system message
// (member added/removed, title changed, pinned, etc.) rather than a user-sent message.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil {
		return false
	}
	return true
}
