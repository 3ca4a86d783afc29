package gateway

import (
	"context"
	"sync"
	"time"
)

// DefaultTokenSkew refreshes a token this long before the provider expires it.
const DefaultTokenSkew = 30 * time.Second

type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenCache holds one provider access token. Concurrent callers that find
// it stale wait for a single refresh instead of each fetching their own.
type TokenCache struct {
	mu    sync.Mutex
	token Token
	skew  time.Duration
	now   func() time.Time
}

func NewTokenCache(skew time.Duration) *TokenCache {
	if skew < 0 {
		skew = 0
	}
	return &TokenCache{skew: skew, now: time.Now}
}

func (c *TokenCache) Get(ctx context.Context, fetch func(ctx context.Context) (Token, error)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Value != "" && c.now().Add(c.skew).Before(c.token.ExpiresAt) {
		return c.token.Value, nil
	}
	t, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = t
	return t.Value, nil
}

// Invalidate drops the cached token, e.g. after the provider answered 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}
