package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/domain/token"
	"github.com/redis/go-redis/v9"
)

// Records and indexes live in disjoint namespaces so no username or device id
// can make a record key collide with an index key.
const (
	// RedisSessionPrefix prefixes session records: session:rec:<username>:<deviceId>
	RedisSessionPrefix = "session:rec:"
	// RedisUserPrefix prefixes the per-user device set
	RedisUserPrefix = "session:idx:user:"
	// RedisTokenPrefix prefixes the refresh token index, keyed by token fingerprint
	RedisTokenPrefix = "session:idx:token:"
	// RedisExpiryKey is the sorted set of session keys scored by expiry (unix ms)
	RedisExpiryKey = "session:idx:expiry"
)

// maxWatchRetries bounds optimistic retries when a watched record changes mid-write
const maxWatchRetries = 10

// RedisStore keeps sessions in Redis with a TTL matching each session's expiry
type RedisStore struct {
	client  redis.UniversalClient
	clock   clock.Clock
	timeout time.Duration
}

// NewRedisStore creates a Redis-backed store. Every call is bounded by timeout.
func NewRedisStore(client redis.UniversalClient, clk clock.Clock, timeout time.Duration) *RedisStore {
	return &RedisStore{client: client, clock: clk, timeout: timeout}
}

func recordKey(k Key) string  { return RedisSessionPrefix + k.String() }
func userKey(u string) string { return RedisUserPrefix + u }
func tokenKey(t string) string {
	return RedisTokenPrefix + token.Fingerprint(t)
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// watch runs fn under WATCH on keys, retrying while another writer touches them
func (r *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range maxWatchRetries {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return unavailable(redis.TxFailedErr)
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := s.ExpiresAt.Sub(r.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}

	key := s.Key()
	err = r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.read(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil && old.RefreshToken != s.RefreshToken {
				pipe.Del(ctx, tokenKey(old.RefreshToken))
			}
			pipe.Set(ctx, recordKey(key), data, ttl)
			pipe.Set(ctx, tokenKey(s.RefreshToken), key.String(), ttl)
			pipe.SAdd(ctx, userKey(key.Username), key.DeviceID)
			pipe.ZAdd(ctx, RedisExpiryKey, redis.Z{Score: float64(s.ExpiresAt.UnixMilli()), Member: key.String()})
			return nil
		})
		return err
	}, recordKey(key))
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *RedisStore) get(ctx context.Context, key Key) (*Session, error) {
	return r.read(ctx, r.client, key)
}

// getter is satisfied by both the client and a WATCH transaction
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) read(ctx context.Context, c getter, key Key) (*Session, error) {
	data, err := c.Get(ctx, recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", key, err)
	}
	return &s, nil
}

func (r *RedisStore) Get(ctx context.Context, key Key) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.get(ctx, key)
}

func (r *RedisStore) FindByUsername(ctx context.Context, username string) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	devices, err := r.client.SMembers(ctx, userKey(username)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(devices) == 0 {
		return []Session{}, nil
	}

	keys := make([]string, len(devices))
	for i, d := range devices {
		keys[i] = recordKey(Key{Username: username, DeviceID: d})
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]Session, 0, len(values))
	var stale []string
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// record expired natively, index entry left behind
			stale = append(stale, devices[i])
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", keys[i], err)
		}
		out = append(out, s)
	}

	if len(stale) > 0 {
		r.pruneStale(ctx, username, stale)
	}

	return out, nil
}

// pruneStale drops devices from the user index whose records are gone. Each removal
// runs under WATCH on the record so a concurrent Put of the same device wins.
// Best effort: the sweeper removes anything left.
func (r *RedisStore) pruneStale(ctx context.Context, username string, devices []string) {
	for _, device := range devices {
		key := Key{Username: username, DeviceID: device}
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, recordKey(key)).Result()
			if err != nil || n > 0 {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SRem(ctx, userKey(username), device)
				return nil
			})
			return err
		}, recordKey(key))
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			slog.Debug("Failed to prune session index", "username", username, "device_id", device, "error", err)
		}
	}
}

func (r *RedisStore) FindByToken(ctx context.Context, refreshToken string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	composite, err := r.client.Get(ctx, tokenKey(refreshToken)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	key, ok := ParseKey(composite)
	if !ok {
		return nil, ErrNotFound
	}

	s, err := r.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.RefreshToken != refreshToken {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, key Key) (bool, error) {
	return r.deleteIf(ctx, key, nil)
}

// DeleteExpired removes the session only while its stored expiry is strictly before ts.
// Index entries of a record Redis already evicted are cleaned up as well.
func (r *RedisStore) DeleteExpired(ctx context.Context, key Key, ts time.Time) (bool, error) {
	return r.deleteIf(ctx, key, func(s *Session) bool {
		return s.ExpiresAt.Before(ts)
	})
}

// deleteIf removes key and its index entries under WATCH. A nil cond deletes unconditionally;
// otherwise a present record is kept unless cond accepts it.
func (r *RedisStore) deleteIf(ctx context.Context, key Key, cond func(*Session) bool) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var deleted bool
	err := r.watch(ctx, func(tx *redis.Tx) error {
		deleted = false
		old, err := r.read(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if old != nil && cond != nil && !cond(old) {
			return nil
		}

		var del *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, recordKey(key))
			if old != nil {
				pipe.Del(ctx, tokenKey(old.RefreshToken))
			}
			pipe.SRem(ctx, userKey(key.Username), key.DeviceID)
			pipe.ZRem(ctx, RedisExpiryKey, key.String())
			return nil
		})
		if err != nil {
			return err
		}
		deleted = del.Val() > 0
		return nil
	}, recordKey(key))
	if err != nil {
		return false, unavailable(err)
	}

	return deleted, nil
}

// DeleteAll deletes each device in the user's index separately; a device logged in
// concurrently may survive, matching the other stores' last-write-wins semantics.
func (r *RedisStore) DeleteAll(ctx context.Context, username string) (int, error) {
	sessions, err := r.FindByUsername(ctx, username)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range sessions {
		deleted, err := r.deleteIf(ctx, s.Key(), nil)
		if err != nil {
			return n, err
		}
		if deleted {
			n++
		}
	}
	return n, nil
}

// FindExpiredBefore reads the expiry index. Records Redis already evicted are
// returned as key-only sessions so their index entries can still be deleted.
func (r *RedisStore) FindExpiredBefore(ctx context.Context, ts time.Time) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries, err := r.client.ZRangeByScoreWithScores(ctx, RedisExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(ts.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		member, _ := e.Member.(string)
		key, ok := ParseKey(member)
		if !ok {
			continue
		}

		s, err := r.get(ctx, key)
		switch {
		case err == nil:
			out = append(out, *s)
		case errors.Is(err, ErrNotFound):
			out = append(out, Session{
				Username:  key.Username,
				DeviceID:  key.DeviceID,
				ExpiresAt: time.UnixMilli(int64(e.Score)).UTC(),
			})
		default:
			return nil, err
		}
	}
	return out, nil
}
