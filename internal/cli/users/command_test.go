package users

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anvoria/sessionkeeper/internal/domain/session"
	"github.com/Anvoria/sessionkeeper/internal/domain/user"
)

// memRepo is an in-memory user.Repository
type memRepo struct {
	users map[string]user.User
}

func (r *memRepo) Create(_ context.Context, u *user.User) error {
	if _, ok := r.users[u.Username]; ok {
		return user.ErrUsernameExists
	}
	r.users[u.Username] = *u
	return nil
}

func (r *memRepo) GetByUsername(_ context.Context, username string) (*user.User, error) {
	u, ok := r.users[username]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}

func (r *memRepo) Update(_ context.Context, u *user.User) error {
	r.users[u.Username] = *u
	return nil
}

func (r *memRepo) List(context.Context) ([]user.User, error) {
	out := make([]user.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func newCommand() (*Command, *memRepo, *bytes.Buffer) {
	repo := &memRepo{users: map[string]user.User{}}
	svc := user.NewService(repo)
	var out bytes.Buffer
	c := &Command{
		Open: func() (user.Service, func(), error) { return svc, func() {}, nil },
		Out:  &out,
	}
	c.Sessions = func() (session.Store, Invalidator, func(), error) {
		return nil, nil, func() {}, nil
	}
	return c, repo, &out
}

func TestCommand_Create(t *testing.T) {
	c, repo, out := newCommand()

	require.NoError(t, c.Run([]string{"create", "-username", "alice", "-password", "s3cret", "-role", "admin"}))
	assert.Contains(t, out.String(), "Username: alice")
	assert.Contains(t, out.String(), "Role:     ADMIN")

	stored := repo.users["alice"]
	assert.Equal(t, user.RoleAdmin, stored.Role)
	assert.NotEqual(t, "s3cret", stored.Password)
	assert.True(t, user.VerifyPassword("s3cret", stored.Password))

	err := c.Run([]string{"create", "-username", "alice", "-password", "other"})
	assert.ErrorIs(t, err, user.ErrUsernameExists)
}

func TestCommand_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "missing username", args: []string{"create", "-password", "pw"}, wantErr: user.ErrUsernameRequired},
		{name: "missing password", args: []string{"create", "-username", "bob"}, wantErr: user.ErrPasswordRequired},
		{name: "unknown role", args: []string{"create", "-username", "bob", "-password", "pw", "-role", "root"}, wantErr: user.ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, repo, _ := newCommand()
			assert.ErrorIs(t, c.Run(tt.args), tt.wantErr)
			assert.Empty(t, repo.users)
		})
	}
}

func TestCommand_EnableDisableAndList(t *testing.T) {
	c, repo, out := newCommand()
	require.NoError(t, c.Run([]string{"create", "-username", "alice", "-password", "pw"}))
	require.NoError(t, c.Run([]string{"create", "-username", "bob", "-password", "pw"}))

	require.NoError(t, c.Run([]string{"disable", "-username", "bob"}))
	assert.False(t, repo.users["bob"].IsActive)

	out.Reset()
	require.NoError(t, c.Run([]string{"list"}))
	assert.Regexp(t, `alice\s+USER\s+true`, out.String())
	assert.Regexp(t, `bob\s+USER\s+false`, out.String())

	require.NoError(t, c.Run([]string{"enable", "-username", "bob"}))
	assert.True(t, repo.users["bob"].IsActive)

	assert.ErrorIs(t, c.Run([]string{"disable", "-username", "carol"}), user.ErrUserNotFound)
	assert.ErrorIs(t, c.Run([]string{"disable"}), user.ErrUsernameRequired)
}

// recordingCache remembers invalidated usernames
type recordingCache struct {
	invalidated []string
	err         error
}

func (r *recordingCache) Invalidate(_ context.Context, username string) error {
	r.invalidated = append(r.invalidated, username)
	return r.err
}

func TestCommand_DisableRevokesAccess(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	store := session.NewMemoryStore()
	for _, s := range []session.Session{
		{Username: "bob", DeviceID: "laptop", RefreshToken: "r1", ExpiresAt: expiry},
		{Username: "bob", DeviceID: "phone", RefreshToken: "r2", ExpiresAt: expiry},
		{Username: "alice", DeviceID: "laptop", RefreshToken: "r3", ExpiresAt: expiry},
	} {
		s := s
		require.NoError(t, store.Put(ctx, &s))
	}
	identities := &recordingCache{}
	closed := false

	c, repo, out := newCommand()
	c.Sessions = func() (session.Store, Invalidator, func(), error) {
		return store, identities, func() { closed = true }, nil
	}
	require.NoError(t, c.Run([]string{"create", "-username", "bob", "-password", "pw"}))

	require.NoError(t, c.Run([]string{"disable", "-username", "bob"}))
	assert.False(t, repo.users["bob"].IsActive)
	assert.Equal(t, []string{"bob"}, identities.invalidated)
	assert.Contains(t, out.String(), "Revoked 2 session(s) for bob")
	assert.Equal(t, 1, store.Len(), "other users keep their sessions")
	assert.True(t, closed)

	identities.invalidated = nil
	require.NoError(t, c.Run([]string{"enable", "-username", "bob"}))
	assert.Empty(t, identities.invalidated, "enabling leaves caches alone")
}

func TestCommand_DisableReportsCacheFailure(t *testing.T) {
	c, repo, _ := newCommand()
	c.Sessions = func() (session.Store, Invalidator, func(), error) {
		return session.NewMemoryStore(), &recordingCache{err: errors.New("connection refused")}, func() {}, nil
	}
	require.NoError(t, c.Run([]string{"create", "-username", "bob", "-password", "pw"}))

	err := c.Run([]string{"disable", "-username", "bob"})
	assert.ErrorContains(t, err, "cached identity was not dropped")
	assert.False(t, repo.users["bob"].IsActive, "the user stays disabled")
}

func TestCommand_Unknown(t *testing.T) {
	c, _, _ := newCommand()
	assert.Error(t, c.Run(nil))
	assert.ErrorContains(t, c.Run([]string{"delete"}), "unknown subcommand")
}
