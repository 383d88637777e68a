package dispatch

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func msgFrom(sender, chat, text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "discord",
		SenderID: sender,
		ChatID:   chat,
		ChatKind: bus.ChatGuild,
		Content:  text,
	}
}
