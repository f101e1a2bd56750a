package user

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, u *User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, u *User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockRepository) List(ctx context.Context) ([]User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]User), args.Error(1)
}

func newUser(t *testing.T, username, password string, role Role, active bool) *User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return &User{Username: username, Password: hash, Role: role, IsActive: active}
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()
	alice := newUser(t, "alice", "pw-alice", RoleUser, true)
	carol := newUser(t, "carol", "pw-carol", RoleAdmin, false)

	repo := new(MockRepository)
	repo.On("GetByUsername", mock.Anything, "alice").Return(alice, nil)
	repo.On("GetByUsername", mock.Anything, "carol").Return(carol, nil)
	repo.On("GetByUsername", mock.Anything, "ghost").Return(nil, ErrUserNotFound)
	repo.On("GetByUsername", mock.Anything, "broken").Return(nil, errors.New("connection refused"))

	svc := NewService(repo)

	tests := []struct {
		name     string
		username string
		password string
		want     *Identity
		wantErr  error
	}{
		{name: "valid credentials", username: "alice", password: "pw-alice", want: &Identity{Username: "alice", Role: RoleUser}},
		{name: "wrong password", username: "alice", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown user", username: "ghost", password: "pw", wantErr: ErrInvalidCredentials},
		{name: "inactive user", username: "carol", password: "pw-carol", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Authenticate(ctx, tt.username, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("repository failure is not a credential error", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "broken", "pw")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestService_Lookup(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("GetByUsername", mock.Anything, "alice").Return(&User{Username: "alice", Role: RoleAdmin, IsActive: true}, nil)
	repo.On("GetByUsername", mock.Anything, "carol").Return(&User{Username: "carol", Role: RoleUser, IsActive: false}, nil)
	repo.On("GetByUsername", mock.Anything, "ghost").Return(nil, ErrUserNotFound)

	svc := NewService(repo)

	id, err := svc.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, id.Role)

	_, err = svc.Lookup(ctx, "carol")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.Lookup(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("success with default role", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetByUsername", mock.Anything, "dave").Return(nil, ErrUserNotFound)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*user.User")).Return(nil)

		u, err := NewService(repo).Create(ctx, CreateRequest{Username: "  dave ", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "dave", u.Username)
		assert.Equal(t, RoleUser, u.Role)
		assert.True(t, u.IsActive)
		assert.NotEqual(t, "secret", u.Password)
		assert.True(t, VerifyPassword("secret", u.Password))
		repo.AssertExpectations(t)
	})

	t.Run("duplicate username", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetByUsername", mock.Anything, "alice").Return(&User{Username: "alice"}, nil)

		_, err := NewService(repo).Create(ctx, CreateRequest{Username: "alice", Password: "x"})
		assert.ErrorIs(t, err, ErrUsernameExists)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("validation", func(t *testing.T) {
		svc := NewService(new(MockRepository))

		_, err := svc.Create(ctx, CreateRequest{Username: " ", Password: "x"})
		assert.ErrorIs(t, err, ErrUsernameRequired)

		_, err = svc.Create(ctx, CreateRequest{Username: "eve"})
		assert.ErrorIs(t, err, ErrPasswordRequired)

		_, err = svc.Create(ctx, CreateRequest{Username: "eve", Password: "x", Role: "ROOT"})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("repository error", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetByUsername", mock.Anything, "frank").Return(nil, ErrUserNotFound)
		repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("database error"))

		_, err := NewService(repo).Create(ctx, CreateRequest{Username: "frank", Password: "x"})
		assert.EqualError(t, err, "database error")
	})
}

func TestService_SetActive(t *testing.T) {
	ctx := context.Background()
	u := &User{Username: "alice", IsActive: true}

	repo := new(MockRepository)
	repo.On("GetByUsername", mock.Anything, "alice").Return(u, nil)
	repo.On("Update", mock.Anything, u).Return(nil)

	require.NoError(t, NewService(repo).SetActive(ctx, "alice", false))
	assert.False(t, u.IsActive)
	repo.AssertExpectations(t)
}
