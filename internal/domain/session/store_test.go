package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRedisStore(t *testing.T, clk clock.Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, clk, time.Second), mr
}

func testSession(username, device, refresh string, expiry time.Time) *Session {
	return &Session{
		Username:               username,
		DeviceID:               device,
		RefreshToken:           refresh,
		AccessTokenFingerprint: "fp-" + refresh,
		ExpiresAt:              expiry,
		CreatedAt:              epoch,
		LastUsedAt:             epoch,
		UserAgent:              "curl/8.0",
		IPAddress:              "10.0.0.1",
	}
}

func assertSameSession(t *testing.T, want, got *Session) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.Key(), got.Key())
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.AccessTokenFingerprint, got.AccessTokenFingerprint)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiry %v != %v", want.ExpiresAt, got.ExpiresAt)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.LastUsedAt.Equal(got.LastUsedAt))
	assert.Equal(t, want.UserAgent, got.UserAgent)
	assert.Equal(t, want.IPAddress, got.IPAddress)
}

// runStoreContract exercises behaviour every Store must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	later := epoch.Add(30 * 24 * time.Hour)

	t.Run("put and get", func(t *testing.T) {
		store := newStore(t)
		want := testSession("alice", "laptop", "r1", later)
		require.NoError(t, store.Put(ctx, want))

		got, err := store.Get(ctx, Key{Username: "alice", DeviceID: "laptop"})
		require.NoError(t, err)
		assertSameSession(t, want, got)

		_, err = store.Get(ctx, Key{Username: "alice", DeviceID: "phone"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put replaces and reindexes token", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", later)))
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r2", later)))

		got, err := store.FindByToken(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, "laptop", got.DeviceID)

		_, err = store.FindByToken(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := store.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("find by username", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", later)))
		require.NoError(t, store.Put(ctx, testSession("alice", "phone", "r2", later)))
		require.NoError(t, store.Put(ctx, testSession("bob", "phone", "r3", later)))

		all, err := store.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		devices := []string{}
		for _, s := range all {
			devices = append(devices, s.DeviceID)
		}
		assert.ElementsMatch(t, []string{"laptop", "phone"}, devices)

		none, err := store.FindByUsername(ctx, "carol")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		key := Key{Username: "alice", DeviceID: "laptop"}
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", later)))

		deleted, err := store.Delete(ctx, key)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.Delete(ctx, key)
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.FindByToken(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete all", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", later)))
		require.NoError(t, store.Put(ctx, testSession("alice", "phone", "r2", later)))
		require.NoError(t, store.Put(ctx, testSession("bob", "phone", "r3", later)))

		n, err := store.DeleteAll(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := store.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, left)

		_, err = store.Get(ctx, Key{Username: "bob", DeviceID: "phone"})
		assert.NoError(t, err)

		n, err = store.DeleteAll(ctx, "alice")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("delete expired keeps live sessions", func(t *testing.T) {
		store := newStore(t)
		key := Key{Username: "alice", DeviceID: "laptop"}
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", epoch.Add(time.Hour))))

		deleted, err := store.DeleteExpired(ctx, key, epoch.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, deleted, "expiry equal to the cutoff is not expired")

		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r2", later)))
		deleted, err = store.DeleteExpired(ctx, key, epoch.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, deleted, "a replaced session is not swept on the old expiry")

		got, err := store.FindByToken(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, "laptop", got.DeviceID)

		deleted, err = store.DeleteExpired(ctx, key, later.Add(time.Second))
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)

		deleted, err = store.DeleteExpired(ctx, key, later.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("usernames shaped like index names stay isolated", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", later)))
		require.NoError(t, store.Put(ctx, testSession("user", "alice", "r2", later)))
		require.NoError(t, store.Put(ctx, testSession("token", "x", "r3", later)))
		require.NoError(t, store.Put(ctx, testSession("alice", "phone", "r4", later)))

		for _, tc := range []struct {
			username string
			devices  []string
		}{
			{username: "alice", devices: []string{"laptop", "phone"}},
			{username: "user", devices: []string{"alice"}},
			{username: "token", devices: []string{"x"}},
		} {
			all, err := store.FindByUsername(ctx, tc.username)
			require.NoError(t, err)
			devices := []string{}
			for _, s := range all {
				devices = append(devices, s.DeviceID)
			}
			assert.ElementsMatch(t, tc.devices, devices, tc.username)
		}

		n, err := store.DeleteAll(ctx, "user")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := store.Get(ctx, Key{Username: "alice", DeviceID: "laptop"})
		require.NoError(t, err)
		assert.Equal(t, "r1", got.RefreshToken)
	})

	t.Run("find expired before", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, testSession("alice", "old", "r1", epoch.Add(time.Hour))))
		require.NoError(t, store.Put(ctx, testSession("alice", "edge", "r2", epoch.Add(2*time.Hour))))
		require.NoError(t, store.Put(ctx, testSession("bob", "new", "r3", later)))

		expired, err := store.FindExpiredBefore(ctx, epoch.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "old", expired[0].DeviceID)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store, _ := newRedisStore(t, clock.NewManual(epoch))
		return store
	})
}

func TestPostgresStore(t *testing.T) {
	db := utils.SetupTestDB(t, &Session{})
	runStoreContract(t, func(t *testing.T) Store {
		db.Exec("DELETE FROM sessions")
		return NewPostgresStore(db, 2*time.Second)
	})
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, clock.NewManual(epoch))

	require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", epoch.Add(time.Hour))))

	assert.Equal(t, time.Hour, mr.TTL(RedisSessionPrefix+"alice:laptop"))
	assert.True(t, mr.Exists(RedisExpiryKey))
	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "r1", "raw refresh tokens are never used as keys")
	}
}

func TestRedisStore_NativeExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, clock.NewManual(epoch))

	require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", epoch.Add(time.Hour))))
	require.NoError(t, store.Put(ctx, testSession("alice", "phone", "r2", epoch.Add(48*time.Hour))))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, Key{Username: "alice", DeviceID: "laptop"})
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "phone", all[0].DeviceID)

	members, err := mr.Members(RedisUserPrefix + "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"phone"}, members, "stale device pruned from the user index")

	expired, err := store.FindExpiredBefore(ctx, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, Key{Username: "alice", DeviceID: "laptop"}, expired[0].Key())
	assert.True(t, epoch.Add(time.Hour).Equal(expired[0].ExpiresAt))

	deleted, err := store.Delete(ctx, expired[0].Key())
	require.NoError(t, err)
	assert.False(t, deleted)

	expired, err = store.FindExpiredBefore(ctx, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired, "expiry index cleaned by delete")
}

func TestRedisStore_IndexNamespaces(t *testing.T) {
	ctx := context.Background()
	later := epoch.Add(time.Hour)

	t.Run("record before colliding username", func(t *testing.T) {
		store, _ := newRedisStore(t, clock.NewManual(epoch))
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", later)))
		require.NoError(t, store.Put(ctx, testSession("user", "alice", "r2", later)))
		require.NoError(t, store.Put(ctx, testSession("alice", "phone", "r3", later)))
	})

	t.Run("colliding username before record", func(t *testing.T) {
		store, _ := newRedisStore(t, clock.NewManual(epoch))
		require.NoError(t, store.Put(ctx, testSession("user", "alice", "r1", later)))
		require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r2", later)))

		all, err := store.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "laptop", all[0].DeviceID)
	})

	t.Run("records and indexes use disjoint prefixes", func(t *testing.T) {
		store, mr := newRedisStore(t, clock.NewManual(epoch))
		require.NoError(t, store.Put(ctx, testSession("token", "user", "r1", later)))

		for _, k := range mr.Keys() {
			isRecord := strings.HasPrefix(k, RedisSessionPrefix)
			isIndex := strings.HasPrefix(k, "session:idx:")
			assert.True(t, isRecord != isIndex, "key %s", k)
		}
	})
}

func TestRedisStore_PruneKeepsReaddedDevice(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, clock.NewManual(epoch))

	require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", epoch.Add(time.Hour))))
	_, err := mr.SAdd(RedisUserPrefix+"alice", "gone")
	require.NoError(t, err)

	// laptop was reported stale by an earlier read but has a live record again
	store.pruneStale(ctx, "alice", []string{"laptop", "gone"})

	members, err := mr.Members(RedisUserPrefix + "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"laptop"}, members)
}

func TestRedisStore_ConcurrentPutsLeaveOneTokenIndex(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, clock.NewManual(epoch))

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Put(ctx, testSession("alice", "laptop", fmt.Sprintf("r%d", i), epoch.Add(time.Hour))); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Positive(t, succeeded.Load())

	tokens := 0
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, RedisTokenPrefix) {
			tokens++
		}
	}
	assert.Equal(t, 1, tokens, "replaced tokens are unindexed")

	current, err := store.Get(ctx, Key{Username: "alice", DeviceID: "laptop"})
	require.NoError(t, err)
	got, err := store.FindByToken(ctx, current.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, current.RefreshToken, got.RefreshToken)
}

func TestRedisStore_DeleteExpiredCleansEvictedRecord(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, clock.NewManual(epoch))
	key := Key{Username: "alice", DeviceID: "laptop"}

	require.NoError(t, store.Put(ctx, testSession("alice", "laptop", "r1", epoch.Add(time.Hour))))
	mr.FastForward(2 * time.Hour)

	deleted, err := store.DeleteExpired(ctx, key, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, deleted, "Redis already evicted the record")

	expired, err := store.FindExpiredBefore(ctx, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.False(t, mr.Exists(RedisUserPrefix+"alice"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, clock.NewManual(epoch))
	mr.Close()

	err := store.Put(ctx, testSession("alice", "laptop", "r1", epoch.Add(time.Hour)))
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Get(ctx, Key{Username: "alice", DeviceID: "laptop"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Delete(ctx, Key{Username: "alice", DeviceID: "laptop"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.DeleteExpired(ctx, Key{Username: "alice", DeviceID: "laptop"}, epoch)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.FindExpiredBefore(ctx, epoch)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want Key
		ok   bool
	}{
		{in: "alice:laptop", want: Key{Username: "alice", DeviceID: "laptop"}, ok: true},
		{in: "a:b:c", want: Key{Username: "a:b", DeviceID: "c"}, ok: true},
		{in: "alice", ok: false},
		{in: ":laptop", ok: false},
		{in: "alice:", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseKey(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}
