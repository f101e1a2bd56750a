package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Anvoria/sessionkeeper/internal/domain/user"
)

const (
	// IdentityCachePrefix is the prefix for cached identity keys
	IdentityCachePrefix = "identity:"
)

// IdentitySource is the provider being cached
type IdentitySource interface {
	Authenticate(ctx context.Context, username, password string) (*user.Identity, error)
	Lookup(ctx context.Context, username string) (*user.Identity, error)
}

// IdentityCache caches Lookup results in Redis for a short TTL. Authenticate is never cached.
// A disabled user keeps refreshing for at most one TTL.
type IdentityCache struct {
	client redis.UniversalClient
	next   IdentitySource
	ttl    time.Duration
}

// NewIdentityCache wraps next with a Redis-backed lookup cache
func NewIdentityCache(client redis.UniversalClient, next IdentitySource, ttl time.Duration) *IdentityCache {
	return &IdentityCache{client: client, next: next, ttl: ttl}
}

// Authenticate always goes to the source, then refreshes the cached identity
func (c *IdentityCache) Authenticate(ctx context.Context, username, password string) (*user.Identity, error) {
	ident, err := c.next.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	c.store(ctx, ident)
	return ident, nil
}

// Lookup returns the cached identity or falls back to the source. Cache errors are not fatal.
func (c *IdentityCache) Lookup(ctx context.Context, username string) (*user.Identity, error) {
	key := IdentityCachePrefix + username

	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var ident user.Identity
		if err := json.Unmarshal(cached, &ident); err == nil {
			slog.Debug("Identity cache hit", "username", username)
			return &ident, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("Identity cache unavailable", "username", username, "error", err)
	}

	ident, err := c.next.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	c.store(ctx, ident)
	return ident, nil
}

func (c *IdentityCache) store(ctx context.Context, ident *user.Identity) {
	data, err := json.Marshal(ident)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, IdentityCachePrefix+ident.Username, data, c.ttl).Err(); err != nil {
		slog.Warn("Failed to cache identity", "username", ident.Username, "error", err)
	}
}

// Invalidate drops the cached identity of username
func (c *IdentityCache) Invalidate(ctx context.Context, username string) error {
	return c.client.Del(ctx, IdentityCachePrefix+username).Err()
}
