package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/channels"
	"github.com/nextlevelbuilder/chatpilot/internal/config"
	"github.com/nextlevelbuilder/chatpilot/internal/reply"
)

// MaxMessageLength is Telegram's per-message text limit.
const MaxMessageLength = 4096

// memberCountTTL bounds how long a group size classification is cached.
const memberCountTTL = 10 * time.Minute

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	selfID     int64
	selfName   string
	groupKinds sync.Map // chatID int64 → groupKind
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

type groupKind struct {
	kind    bus.ChatKind
	checked time.Time
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, handler channels.InboundHandler, opts ...telego.BotOption) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if cfg.SmallGroupMax <= 0 {
		cfg.SmallGroupMax = 10
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", handler),
		bot:         bot,
		config:      cfg,
	}, nil
}

// ChunkLimit implements channels.Channel.
func (c *Channel) ChunkLimit() int { return MaxMessageLength }

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch telegram bot identity: %w", err)
	}
	c.selfID = me.ID
	c.selfName = me.Username

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.selfName, "id", c.selfID)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send delivers one message, as a reply when ReplyToID is set.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (bus.SentMessage, error) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return bus.SentMessage{}, reply.NewTransportError(reply.Unexpected, 0, fmt.Errorf("invalid telegram chat ID %q: %w", msg.ChatID, err))
	}

	params := tu.Message(tu.ID(chatID), msg.Content)
	if msg.ReplyToID != "" {
		if replyID, err := strconv.Atoi(msg.ReplyToID); err == nil {
			params = params.WithReplyParameters(&telego.ReplyParameters{
				MessageID:                replyID,
				AllowSendingWithoutReply: true,
			})
		}
	}

	sent, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return bus.SentMessage{}, classify(err)
	}
	return bus.SentMessage{Channel: c.Name(), ChatID: msg.ChatID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// SendTyping sends the "typing" chat action (expires after ~5s).
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return reply.NewTransportError(reply.Unexpected, 0, err)
	}
	if err := c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping)); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps telego errors onto the transport taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode == http.StatusForbidden {
			return reply.NewTransportError(reply.Forbidden, apiErr.ErrorCode, err)
		}
		return reply.NewTransportError(reply.HTTPFailure, apiErr.ErrorCode, err)
	}
	return reply.NewTransportError(reply.Unexpected, 0, err)
}
