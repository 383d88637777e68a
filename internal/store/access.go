package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// AccessCache keeps the active-channel and ignore lists in memory so the
// inbound path never waits on the database. Mutations write through to
// the backing stores first and update the cache only on success.
type AccessCache struct {
	channels ChannelStore
	ignores  IgnoreStore

	mu      sync.RWMutex
	active  map[string]struct{}
	ignored map[string]struct{}
}

// NewAccessCache builds an empty cache; call Load before serving traffic.
func NewAccessCache(channels ChannelStore, ignores IgnoreStore) *AccessCache {
	return &AccessCache{
		channels: channels,
		ignores:  ignores,
		active:   make(map[string]struct{}),
		ignored:  make(map[string]struct{}),
	}
}

// Load replaces the cached sets with the persisted lists.
func (c *AccessCache) Load(ctx context.Context) error {
	chans, err := c.channels.ListActiveChannels(ctx)
	if err != nil {
		return fmt.Errorf("load active channels: %w", err)
	}
	users, err := c.ignores.ListIgnoredUsers(ctx)
	if err != nil {
		return fmt.Errorf("load ignored users: %w", err)
	}

	active := make(map[string]struct{}, len(chans))
	for _, ch := range chans {
		active[ch.ChatKey] = struct{}{}
	}
	ignored := make(map[string]struct{}, len(users))
	for _, u := range users {
		ignored[u.SenderKey] = struct{}{}
	}

	c.mu.Lock()
	c.active, c.ignored = active, ignored
	c.mu.Unlock()
	slog.Info("access lists loaded", "active_channels", len(active), "ignored_users", len(ignored))
	return nil
}

func (c *AccessCache) IsChannelActive(chatKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[chatKey]
	return ok
}

func (c *AccessCache) IsSenderIgnored(senderKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ignored[senderKey]
	return ok
}

// ToggleChannel flips chatKey's active state and returns the new state.
func (c *AccessCache) ToggleChannel(ctx context.Context, chatKey, by string) (bool, error) {
	if c.IsChannelActive(chatKey) {
		if err := c.channels.RemoveActiveChannel(ctx, chatKey); err != nil {
			return true, err
		}
		c.mu.Lock()
		delete(c.active, chatKey)
		c.mu.Unlock()
		return false, nil
	}
	if err := c.channels.AddActiveChannel(ctx, chatKey, by); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.active[chatKey] = struct{}{}
	c.mu.Unlock()
	return true, nil
}

// ToggleIgnore flips senderKey's ignore state and returns the new state.
func (c *AccessCache) ToggleIgnore(ctx context.Context, senderKey, by, reason string) (bool, error) {
	if c.IsSenderIgnored(senderKey) {
		if err := c.ignores.RemoveIgnoredUser(ctx, senderKey); err != nil {
			return true, err
		}
		c.mu.Lock()
		delete(c.ignored, senderKey)
		c.mu.Unlock()
		return false, nil
	}
	if err := c.ignores.AddIgnoredUser(ctx, senderKey, by, reason); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.ignored[senderKey] = struct{}{}
	c.mu.Unlock()
	return true, nil
}

// Counts returns the sizes of the active and ignored sets.
func (c *AccessCache) Counts() (active, ignored int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active), len(c.ignored)
}
