package reply

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TypingOptions configures a typing indicator controller.
type TypingOptions struct {
	// KeepaliveInterval re-sends the indicator before the platform expires it
	// (Discord: 10s, Telegram: 5s).
	KeepaliveInterval time.Duration
	// MaxDuration stops the indicator even if Stop is never called.
	MaxDuration time.Duration
	StartFn     func() error
}

// TypingController keeps a platform typing indicator alive until stopped.
type TypingController struct {
	opts    TypingOptions
	started atomic.Bool
	stop    chan struct{}
	once    sync.Once
	done    chan struct{}
}

// NewTypingController creates a controller; call Start to begin.
func NewTypingController(opts TypingOptions) *TypingController {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 9 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 60 * time.Second
	}
	return &TypingController{
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start sends the indicator immediately and then on every keepalive tick.
func (c *TypingController) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.send()
	go func() {
		defer close(c.done)
		keepalive := time.NewTicker(c.opts.KeepaliveInterval)
		defer keepalive.Stop()
		ttl := time.NewTimer(c.opts.MaxDuration)
		defer ttl.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ttl.C:
				return
			case <-keepalive.C:
				c.send()
			}
		}
	}()
}

// Stop ends the keepalive loop. Safe to call more than once.
func (c *TypingController) Stop() {
	c.once.Do(func() { close(c.stop) })
	if c.started.Load() {
		<-c.done
	}
}

func (c *TypingController) send() {
	if c.opts.StartFn == nil {
		return
	}
	if err := c.opts.StartFn(); err != nil {
		slog.Debug("typing indicator failed", "error", err)
	}
}
