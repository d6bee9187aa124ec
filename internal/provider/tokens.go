package provider

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenCache stores provider tokens between runs. The Redis-backed
// implementation lives in the cache package.
type TokenCache interface {
	GetToken(ctx context.Context, key string) (Token, bool, error)
	SetToken(ctx context.Context, key string, token Token) error
	DeleteToken(ctx context.Context, key string) error
}

// MemoryTokenCache is a process-local TokenCache.
type MemoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]Token
	now    func() time.Time
}

// NewMemoryTokenCache returns an empty in-memory cache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{tokens: make(map[string]Token), now: time.Now}
}

func (c *MemoryTokenCache) GetToken(_ context.Context, key string) (Token, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[key]
	if !ok {
		return Token{}, false, nil
	}
	if !tok.Valid(c.now()) {
		delete(c.tokens, key)
		return Token{}, false, nil
	}
	return tok, true, nil
}

func (c *MemoryTokenCache) SetToken(_ context.Context, key string, token Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = token
	return nil
}

func (c *MemoryTokenCache) DeleteToken(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, key)
	return nil
}

// TokenCacheKey namespaces a cached token per provider and account.
func TokenCacheKey(key Key, accountID string) string {
	return "provider:token:" + string(key) + ":" + accountID
}

// TokenSource authenticates through login and caches the result.
type TokenSource struct {
	cache    TokenCache
	cacheKey string
	login    func(ctx context.Context) (Token, error)
	now      func() time.Time

	mu sync.Mutex
}

// NewTokenSource wires a login function to a cache slot.
func NewTokenSource(cache TokenCache, cacheKey string, login func(ctx context.Context) (Token, error)) *TokenSource {
	return &TokenSource{cache: cache, cacheKey: cacheKey, login: login, now: time.Now}
}

// Token returns a cached token or logs in again.
func (s *TokenSource) Token(ctx context.Context) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		if tok, ok, err := s.cache.GetToken(ctx, s.cacheKey); err == nil && ok && tok.Valid(s.now()) {
			return tok, nil
		}
	}
	tok, err := s.login(ctx)
	if err != nil {
		return Token{}, err
	}
	if s.cache != nil {
		_ = s.cache.SetToken(ctx, s.cacheKey, tok)
	}
	return tok, nil
}

// Invalidate drops the cached token after the provider rejected it.
func (s *TokenSource) Invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.DeleteToken(ctx, s.cacheKey)
	}
}

// Do runs fn with a token. When the provider rejects the token, the cached
// copy is dropped and fn runs once more with a fresh login.
func (s *TokenSource) Do(ctx context.Context, fn func(Token) error) error {
	tok, err := s.Token(ctx)
	if err != nil {
		return err
	}
	err = fn(tok)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	s.Invalidate(ctx)
	tok, err = s.Token(ctx)
	if err != nil {
		return err
	}
	return fn(tok)
}
