package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/channels"
	"github.com/nextlevelbuilder/chatpilot/internal/config"
	"github.com/nextlevelbuilder/chatpilot/internal/reply"
)

// MaxMessageLength is Discord's per-message content limit.
const MaxMessageLength = 2000

// Channel connects to Discord via the gateway.
type Channel struct {
	*channels.BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
	selfID  atomic.Pointer[string] // set from READY, before any message event
	remove  []func()
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, handler channels.InboundHandler) (*Channel, error) {
	token := cfg.Token
	if !cfg.SelfBot {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Handlers run in gateway order so messages of one channel reach the
	// engine in the order Discord sent them.
	session.SyncEvents = true
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", handler),
		session:     session,
		config:      cfg,
	}, nil
}

// ChunkLimit implements channels.Channel.
func (c *Channel) ChunkLimit() int { return MaxMessageLength }

// Latency returns the gateway heartbeat latency.
func (c *Channel) Latency() time.Duration { return c.session.HeartbeatLatency() }

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting discord bot")

	c.remove = append(c.remove,
		c.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			if r.User != nil {
				c.setSelfID(r.User.ID)
			}
		}),
		c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
			c.handleMessage(ctx, m)
		}),
	)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.setSelfID(user.ID)

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	for _, remove := range c.remove {
		remove()
	}
	c.remove = nil
	return c.session.Close()
}

func (c *Channel) setSelfID(id string) { c.selfID.Store(&id) }

// SelfID returns the bot's user ID, or "" before the gateway is ready.
func (c *Channel) SelfID() string {
	if id := c.selfID.Load(); id != nil {
		return *id
	}
	return ""
}

// Send delivers one message. A ReplyToID makes it a reply to that message,
// pinging the author only when MentionAuthor is set.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (bus.SentMessage, error) {
	if msg.ChatID == "" {
		return bus.SentMessage{}, reply.NewTransportError(reply.Unexpected, 0, errors.New("empty chat ID for discord send"))
	}

	send := &discordgo.MessageSend{
		Content: msg.Content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse:       []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
			RepliedUser: msg.MentionAuthor,
		},
	}
	if msg.ReplyToID != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyToID,
			ChannelID: msg.ChatID,
		}
	}

	sent, err := c.session.ChannelMessageSendComplex(msg.ChatID, send, discordgo.WithContext(ctx))
	if err != nil {
		return bus.SentMessage{}, classify(err)
	}
	return bus.SentMessage{Channel: c.Name(), ChatID: msg.ChatID, MessageID: sent.ID}, nil
}

// SendTyping triggers the typing indicator (expires after ~10s).
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	if err := c.session.ChannelTyping(chatID, discordgo.WithContext(ctx)); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps discordgo errors onto the transport taxonomy.
// Context errors pass through unchanged.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		status := rest.Response.StatusCode
		if status == http.StatusForbidden || (rest.Message != nil && rest.Message.Code == discordgo.ErrCodeMissingPermissions) {
			return reply.NewTransportError(reply.Forbidden, status, err)
		}
		return reply.NewTransportError(reply.HTTPFailure, status, err)
	}
	return reply.NewTransportError(reply.Unexpected, 0, err)
}

// handleMessage converts a gateway message into an InboundMessage.
// No filtering happens here; the engine decides what to answer.
func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	selfID := c.SelfID()
	if selfID == "" {
		// Without our own ID self/mention/reply flags would all be wrong.
		slog.Warn("discord message before ready, dropped", "channel_id", m.ChannelID)
		return
	}

	msg := bus.InboundMessage{
		MessageID:        m.ID,
		SenderID:         m.Author.ID,
		SenderName:       resolveDisplayName(m),
		SenderIsBot:      m.Author.Bot,
		FromSelf:         m.Author.ID == selfID,
		ChatID:           m.ChannelID,
		ChatKind:         c.chatKind(m),
		Content:          m.Content,
		MentionsEveryone: m.MentionEveryone,
		Timestamp:        m.Timestamp,
		Metadata: map[string]string{
			"guild_id": m.GuildID,
			"username": m.Author.Username,
		},
	}
	for _, u := range m.Mentions {
		if u.ID == selfID {
			msg.MentionsSelf = true
			break
		}
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && ref.Author.ID == selfID {
		msg.ReplyToSelf = true
	}
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			msg.ImageURLs = append(msg.ImageURLs, att.URL)
		}
	}

	slog.Debug("discord message received",
		"sender_id", msg.SenderID,
		"channel_id", msg.ChatID,
		"kind", msg.ChatKind,
		"preview", bus.Preview(msg.Content, 50),
	)

	c.HandleMessage(ctx, msg)
}

func (c *Channel) chatKind(m *discordgo.MessageCreate) bus.ChatKind {
	if m.GuildID != "" {
		return bus.ChatGuild
	}
	ch, err := c.session.State.Channel(m.ChannelID)
	if err != nil {
		ch, err = c.session.Channel(m.ChannelID)
	}
	if err == nil && ch.Type == discordgo.ChannelTypeGroupDM {
		return bus.ChatGroup
	}
	return bus.ChatDirect
}

// resolveDisplayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
