package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/domain/token"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the prefix for blacklist keys; the suffix is the token fingerprint
const KeyPrefix = "blacklist:"

// Redis is a Blacklist shared by every instance pointing at the same Redis.
// Entries carry a TTL so Redis evicts them itself.
type Redis struct {
	client  redis.UniversalClient
	clock   clock.Clock
	timeout time.Duration
}

// NewRedis creates a Redis-backed blacklist
func NewRedis(client redis.UniversalClient, clk clock.Clock, timeout time.Duration) *Redis {
	return &Redis{client: client, clock: clk, timeout: timeout}
}

func key(tok string) string {
	return KeyPrefix + token.Fingerprint(tok)
}

func (r *Redis) Add(ctx context.Context, tok string, expiry time.Time) error {
	ttl := expiry.Sub(r.clock.Now())
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, key(tok), expiry.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *Redis) Contains(ctx context.Context, tok string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.Exists(ctx, key(tok)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Sweep is a no-op; key TTLs expire entries
func (r *Redis) Sweep(context.Context) (int, error) {
	return 0, nil
}
