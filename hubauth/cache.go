package hubauth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenCache holds at most one token pair per destination host and decides,
// atomically per host, whether to reuse, refresh or re-authenticate. Callers
// for the same host never trigger duplicate authentications; callers for
// different hosts never block each other.
type TokenCache struct {
	authenticator Authenticator
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// each entry has its own lock so hosts are independent
type cacheEntry struct {
	mu   sync.Mutex
	pair *TokenPair
}

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// NewTokenCache creates a cache backed by the given authenticator.
func NewTokenCache(authenticator Authenticator, options ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		authenticator: authenticator,
		logger:        slog.Default(),
		now:           time.Now,
		entries:       make(map[string]*cacheEntry),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// TokenFor returns a currently valid access token for the host, performing
// whichever of reuse, refresh or fresh authentication is needed. The
// read-check-write for one host is atomic with respect to concurrent callers.
func (c *TokenCache) TokenFor(ctx context.Context, host string) (Token, error) {
	entry := c.entry(host)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := c.now()

	if entry.pair == nil {
		c.logger.Info("acquiring access token for host as there is none yet", "host", host)
		return c.replace(ctx, entry)
	}

	if !entry.pair.AccessToken.Expired(now) {
		return entry.pair.AccessToken, nil
	}

	if refresh := entry.pair.RefreshToken; refresh != nil && !refresh.Expired(now) {
		c.logger.Info("refreshing access token", "host", host)
		pair, err := c.authenticator.Refresh(ctx, *refresh)
		if err != nil {
			return Token{}, err
		}
		entry.pair = &pair
		return pair.AccessToken, nil
	}

	c.logger.Warn("refresh token absent or expired, acquiring new token pair", "host", host)
	return c.replace(ctx, entry)
}

func (c *TokenCache) replace(ctx context.Context, entry *cacheEntry) (Token, error) {
	pair, err := c.authenticator.Authenticate(ctx)
	if err != nil {
		return Token{}, err
	}
	entry.pair = &pair
	return pair.AccessToken, nil
}

func (c *TokenCache) entry(host string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[host]
	if !ok {
		entry = &cacheEntry{}
		c.entries[host] = entry
	}
	return entry
}
