package user

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrInvalidCredentials is returned for an unknown user, a wrong password or an inactive account
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when no active user has the username
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameExists is returned when trying to create a user whose username is taken
	ErrUsernameExists = errors.New("username already exists")
	// ErrUsernameRequired is returned when trying to create a user with an empty username
	ErrUsernameRequired = errors.New("username is required")
	// ErrPasswordRequired is returned when trying to create a user with an empty password
	ErrPasswordRequired = errors.New("password is required")
	// ErrInvalidRole is returned for an unknown role
	ErrInvalidRole = errors.New("invalid role")
)

// CreateRequest represents the input for provisioning a user
type CreateRequest struct {
	Username string
	Password string
	Role     Role
}

// Service interface for user operations. It is the identity provider used by sessions.
type Service interface {
	Authenticate(ctx context.Context, username, password string) (*Identity, error)
	Lookup(ctx context.Context, username string) (*Identity, error)
	Create(ctx context.Context, req CreateRequest) (*User, error)
	SetActive(ctx context.Context, username string, active bool) error
	List(ctx context.Context) ([]User, error)
}

// service struct for user operations
type service struct {
	repo Repository
}

// NewService creates a new user service
func NewService(repo Repository) Service {
	return &service{repo}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnVerify runs a password check against a fixed hash so unknown usernames
// take as long to reject as wrong passwords
func burnVerify(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("not-a-real-password")
	})
	VerifyPassword(password, dummyHash)
}

// Authenticate checks a username/password pair
func (s *service) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			burnVerify(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyPassword(password, u.Password) || !u.IsActive {
		return nil, ErrInvalidCredentials
	}

	return u.Identity(), nil
}

// Lookup returns the current identity of an active user
func (s *service) Lookup(ctx context.Context, username string) (*Identity, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserNotFound
	}
	return u.Identity(), nil
}

// Create provisions a new active user
func (s *service) Create(ctx context.Context, req CreateRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return nil, ErrUsernameRequired
	}
	if req.Password == "" {
		return nil, ErrPasswordRequired
	}
	if req.Role == "" {
		req.Role = RoleUser
	}
	if !req.Role.IsValid() {
		return nil, ErrInvalidRole
	}

	if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username: req.Username,
		Password: hashedPassword,
		Role:     req.Role,
		IsActive: true,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// SetActive enables or disables a user. Disabled users fail Authenticate and Lookup.
func (s *service) SetActive(ctx context.Context, username string, active bool) error {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	u.IsActive = active
	return s.repo.Update(ctx, u)
}

// List returns every provisioned user
func (s *service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}
