package providers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// LimitedProvider wraps a Provider with a request rate limit.
type LimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit returns p limited to rpm requests per minute.
// rpm <= 0 returns p unchanged.
func WithRateLimit(p Provider, rpm int) Provider {
	if rpm <= 0 {
		return p
	}
	return &LimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Chat waits for a token, then delegates.
func (l *LimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", l.Name(), err)
	}
	return l.Provider.Chat(ctx, req)
}
