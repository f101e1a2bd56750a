package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/domain/blacklist"
	"github.com/Anvoria/sessionkeeper/internal/domain/token"
	"github.com/Anvoria/sessionkeeper/internal/domain/user"
	"github.com/Anvoria/sessionkeeper/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 30 * 24 * time.Hour
)

// fakeIdentities is an in-memory IdentityProvider
type fakeIdentities struct {
	mu       sync.Mutex
	users    map[string]fakeUser
	failWith error
}

type fakeUser struct {
	password string
	role     user.Role
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{users: map[string]fakeUser{
		"alice": {password: "alice-pw", role: user.RoleUser},
		"bob":   {password: "bob-pw", role: user.RoleUser},
		"root":  {password: "root-pw", role: user.RoleAdmin},
	}}
}

func (f *fakeIdentities) Authenticate(_ context.Context, username, password string) (*user.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	u, ok := f.users[username]
	if !ok || u.password != password {
		return nil, user.ErrInvalidCredentials
	}
	return &user.Identity{Username: username, Role: u.role}, nil
}

func (f *fakeIdentities) Lookup(_ context.Context, username string) (*user.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	u, ok := f.users[username]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &user.Identity{Username: username, Role: u.role}, nil
}

func (f *fakeIdentities) setRole(username string, role user.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[username]
	u.role = role
	f.users[username] = u
}

func (f *fakeIdentities) remove(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, username)
}

// flakyStore wraps a MemoryStore and fails selected operations
type flakyStore struct {
	*MemoryStore
	mu         sync.Mutex
	failAll    bool
	failDelete map[Key]bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore(), failDelete: map[Key]bool{}}
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connection refused")

func (f *flakyStore) down() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failAll
}

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	f.failAll = v
	f.mu.Unlock()
}

func (f *flakyStore) Put(ctx context.Context, s *Session) error {
	if f.down() {
		return unavailable(errConnRefused)
	}
	return f.MemoryStore.Put(ctx, s)
}

func (f *flakyStore) Get(ctx context.Context, key Key) (*Session, error) {
	if f.down() {
		return nil, unavailable(errConnRefused)
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) FindByUsername(ctx context.Context, username string) ([]Session, error) {
	if f.down() {
		return nil, unavailable(errConnRefused)
	}
	return f.MemoryStore.FindByUsername(ctx, username)
}

func (f *flakyStore) Delete(ctx context.Context, key Key) (bool, error) {
	f.mu.Lock()
	fail := f.failAll || f.failDelete[key]
	f.mu.Unlock()
	if fail {
		return false, unavailable(errConnRefused)
	}
	return f.MemoryStore.Delete(ctx, key)
}

func (f *flakyStore) DeleteExpired(ctx context.Context, key Key, ts time.Time) (bool, error) {
	f.mu.Lock()
	fail := f.failAll || f.failDelete[key]
	f.mu.Unlock()
	if fail {
		return false, unavailable(errConnRefused)
	}
	return f.MemoryStore.DeleteExpired(ctx, key, ts)
}

func (f *flakyStore) FindExpiredBefore(ctx context.Context, ts time.Time) ([]Session, error) {
	if f.down() {
		return nil, unavailable(errConnRefused)
	}
	return f.MemoryStore.FindExpiredBefore(ctx, ts)
}

// brokenBlacklist always fails
type brokenBlacklist struct{}

func (brokenBlacklist) Add(context.Context, string, time.Time) error {
	return blacklist.ErrStoreUnavailable
}

func (brokenBlacklist) Contains(context.Context, string) (bool, error) {
	return false, blacklist.ErrStoreUnavailable
}

func (brokenBlacklist) Sweep(context.Context) (int, error) {
	return 0, blacklist.ErrStoreUnavailable
}

type harness struct {
	svc        Service
	store      *flakyStore
	blacklist  blacklist.Blacklist
	identities *fakeIdentities
	codec      token.Codec
	clock      *clock.Manual
	metrics    *metrics.Metrics
}

type harnessOption func(*Config, *harness)

func withRotation() harnessOption {
	return func(c *Config, _ *harness) { c.RotateRefreshOnRefresh = true }
}

func withBrokenBlacklist(failOpen bool) harnessOption {
	return func(c *Config, h *harness) {
		c.BlacklistFailOpen = failOpen
		h.blacklist = brokenBlacklist{}
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	clk := clock.NewManual(epoch)
	codec, err := token.NewHMACCodec([]byte(strings.Repeat("s", token.MinSecretLength)), clk)
	require.NoError(t, err)

	h := &harness{
		store:      newFlakyStore(),
		blacklist:  blacklist.NewMemory(clk),
		identities: newFakeIdentities(),
		codec:      codec,
		clock:      clk,
		metrics:    metrics.New(prometheus.NewRegistry()),
	}

	cfg := Config{AccessTTL: accessTTL, RefreshTTL: refreshTTL}
	for _, opt := range opts {
		opt(&cfg, h)
	}

	h.svc = NewService(h.store, h.codec, h.blacklist, h.identities, clk, h.metrics, cfg)
	return h
}

func (h *harness) login(t *testing.T, username, password, device string) *Result {
	t.Helper()
	res, err := h.svc.Login(context.Background(), LoginRequest{
		Username:  username,
		Password:  password,
		DeviceID:  device,
		UserAgent: "test-agent",
		IPAddress: "127.0.0.1",
	})
	require.NoError(t, err)
	return res
}
