package cache

import (
	"context"
	"time"

	"fulfillment-sync/internal/provider"
)

// TokenCache stores provider access tokens in Redis so restarts and
// concurrent runs share one login.
type TokenCache struct {
	redis *Redis
	now   func() time.Time
}

var _ provider.TokenCache = (*TokenCache)(nil)

// NewTokenCache builds a provider.TokenCache on top of r.
func NewTokenCache(r *Redis) *TokenCache {
	return &TokenCache{redis: r, now: time.Now}
}

type cachedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *TokenCache) GetToken(ctx context.Context, key string) (provider.Token, bool, error) {
	var ct cachedToken
	ok, err := c.redis.GetJSON(ctx, key, &ct)
	if err != nil || !ok {
		return provider.Token{}, false, err
	}
	tok := provider.Token{Value: ct.Value, ExpiresAt: ct.ExpiresAt}
	if !tok.Valid(c.now()) {
		return provider.Token{}, false, nil
	}
	return tok, true, nil
}

func (c *TokenCache) SetToken(ctx context.Context, key string, token provider.Token) error {
	ttl := tokenTTL(token, c.now())
	if ttl <= 0 {
		return nil
	}
	return c.redis.SetJSON(ctx, key, cachedToken{Value: token.Value, ExpiresAt: token.ExpiresAt}, ttl)
}

func (c *TokenCache) DeleteToken(ctx context.Context, key string) error {
	return c.redis.Delete(ctx, key)
}

// tokenTTL keeps a token until shortly before it expires. Tokens without an
// expiry are kept for a day.
func tokenTTL(token provider.Token, now time.Time) time.Duration {
	if token.Value == "" {
		return 0
	}
	if token.ExpiresAt.IsZero() {
		return 24 * time.Hour
	}
	return token.ExpiresAt.Sub(now) - time.Minute
}
