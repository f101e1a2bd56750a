package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/domain/blacklist"
	"github.com/Anvoria/sessionkeeper/internal/domain/token"
	"github.com/Anvoria/sessionkeeper/internal/domain/user"
	"github.com/Anvoria/sessionkeeper/internal/metrics"
	"github.com/google/uuid"
)

const maxDeviceIDLength = 128

// IdentityProvider verifies credentials and resolves the current role of a user
type IdentityProvider interface {
	Authenticate(ctx context.Context, username, password string) (*user.Identity, error)
	Lookup(ctx context.Context, username string) (*user.Identity, error)
}

// Config holds token lifetimes and policy switches
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefreshOnRefresh mints and stores a new refresh token on every refresh
	RotateRefreshOnRefresh bool
	// BlacklistFailOpen accepts access tokens when the blacklist cannot be queried
	BlacklistFailOpen bool
}

// LoginRequest represents the input for a login
type LoginRequest struct {
	Username             string
	Password             string
	DeviceID             string
	ExistingRefreshToken string
	UserAgent            string
	IPAddress            string
}

// Result is returned by Login and Refresh. RefreshToken is empty when it was not rotated.
type Result struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	DeviceID         string
	Identity         *user.Identity
}

// Service interface for session lifecycle operations
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*Result, error)
	Refresh(ctx context.Context, refreshToken string) (*Result, error)
	Logout(ctx context.Context, accessToken, refreshToken string)
	ListSessions(ctx context.Context, username, currentDeviceID string) ([]Info, error)
	RevokeSession(ctx context.Context, username, deviceID string) error
	RevokeOtherSessions(ctx context.Context, username, currentDeviceID string) (int, error)
	RevokeAllSessions(ctx context.Context, username string) (int, error)
	ValidateAccessToken(ctx context.Context, accessToken string) (*token.Claims, error)
	CurrentDevice(username, refreshToken string) (string, error)
}

// service struct for session operations
type service struct {
	store     Store
	codec     token.Codec
	blacklist blacklist.Blacklist
	identity  IdentityProvider
	clock     clock.Clock
	metrics   *metrics.Metrics
	cfg       Config
	locks     keyLocks
}

// NewService creates a session Service
func NewService(
	store Store,
	codec token.Codec,
	list blacklist.Blacklist,
	identity IdentityProvider,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg Config,
) Service {
	return &service{
		store:     store,
		codec:     codec,
		blacklist: list,
		identity:  identity,
		clock:     clk,
		metrics:   m,
		cfg:       cfg,
	}
}

// keyLocks serializes operations on the same session key within this process
type keyLocks [64]sync.Mutex

func (l *keyLocks) lock(k Key) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	mu := &l[h.Sum32()%uint32(len(l))]
	mu.Lock()
	return mu.Unlock
}

func storeErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func validDeviceID(id string) bool {
	return id != "" && len(id) <= maxDeviceIDLength && !strings.ContainsAny(id, ": \t\r\n")
}

// Login authenticates the user and replaces any session on the resolved device
func (s *service) Login(ctx context.Context, req LoginRequest) (*Result, error) {
	ident, err := s.identity.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) || errors.Is(err, user.ErrUserNotFound) {
			s.metrics.Login(metrics.ResultFailure)
			slog.Info("Login failed", "username", req.Username, "ip", req.IPAddress)
			return nil, ErrAuthenticationFailed
		}
		s.metrics.Login(metrics.ResultError)
		return nil, storeErr(err)
	}

	deviceID, err := s.resolveDevice(ctx, ident.Username, req)
	if err != nil {
		return nil, err
	}

	key := Key{Username: ident.Username, DeviceID: deviceID}
	unlock := s.locks.lock(key)
	defer unlock()

	if replaced, err := s.store.Delete(ctx, key); err != nil {
		return nil, storeErr(err)
	} else if replaced {
		s.metrics.Revoked(metrics.ReasonReplaced, 1)
	}

	access, accessClaims, err := s.codec.Mint(token.KindAccess, ident.Username, string(ident.Role), deviceID, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}
	refresh, refreshClaims, err := s.codec.Mint(token.KindRefresh, ident.Username, "", deviceID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint refresh token: %w", err)
	}

	now := s.clock.Now()
	sess := &Session{
		Username:               ident.Username,
		DeviceID:               deviceID,
		RefreshToken:           refresh,
		AccessTokenFingerprint: token.Fingerprint(access),
		ExpiresAt:              refreshClaims.ExpiresAt,
		CreatedAt:              now,
		LastUsedAt:             now,
		UserAgent:              req.UserAgent,
		IPAddress:              req.IPAddress,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, storeErr(err)
	}

	s.metrics.Login(metrics.ResultSuccess)
	slog.Info("User logged in", "username", ident.Username, "device_id", deviceID, "ip", req.IPAddress)

	return &Result{
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
		DeviceID:         deviceID,
		Identity:         ident,
	}, nil
}

// resolveDevice picks the explicit device id, else the device of a live session
// named by the presented refresh token, else a fresh UUID
func (s *service) resolveDevice(ctx context.Context, username string, req LoginRequest) (string, error) {
	if req.DeviceID != "" {
		if !validDeviceID(req.DeviceID) {
			return "", ErrInvalidDeviceID
		}
		return req.DeviceID, nil
	}

	if req.ExistingRefreshToken != "" {
		claims, err := s.codec.Verify(req.ExistingRefreshToken)
		if err == nil && claims.Kind == token.KindRefresh && claims.Subject == username && validDeviceID(claims.DeviceID) {
			sess, err := s.store.Get(ctx, Key{Username: username, DeviceID: claims.DeviceID})
			switch {
			case err == nil && !sess.Expired(s.clock.Now()):
				return claims.DeviceID, nil
			case err != nil && !errors.Is(err, ErrNotFound):
				return "", storeErr(err)
			}
		}
	}

	return uuid.NewString(), nil
}

// Refresh mints a new access token for the session holding refreshToken
func (s *service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	claims, err := s.codec.Verify(refreshToken)
	if err != nil || claims.Kind != token.KindRefresh || claims.DeviceID == "" {
		s.metrics.Refresh(metrics.ResultFailure)
		return nil, ErrInvalidRefreshToken
	}

	key := Key{Username: claims.Subject, DeviceID: claims.DeviceID}
	unlock := s.locks.lock(key)
	defer unlock()

	sess, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		s.metrics.Refresh(metrics.ResultFailure)
		return nil, ErrSessionNotFound
	}
	if err != nil {
		s.metrics.Refresh(metrics.ResultError)
		return nil, storeErr(err)
	}

	if subtle.ConstantTimeCompare([]byte(sess.RefreshToken), []byte(refreshToken)) != 1 {
		slog.Warn("Refresh token reuse detected, revoking session",
			"event", "token_reuse_detected",
			"username", key.Username,
			"device_id", key.DeviceID,
			"token_id", claims.ID,
		)
		s.metrics.Refresh(metrics.ResultReuse)
		s.metrics.Reuse()
		s.revoke(ctx, key, metrics.ReasonReuse)
		return nil, ErrTokenReuseDetected
	}

	now := s.clock.Now()
	if sess.Expired(now) {
		s.metrics.Refresh(metrics.ResultFailure)
		s.revoke(ctx, key, metrics.ReasonExpired)
		return nil, ErrInvalidRefreshToken
	}

	ident, err := s.identity.Lookup(ctx, key.Username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.metrics.Refresh(metrics.ResultFailure)
			s.revoke(ctx, key, metrics.ReasonSingle)
			return nil, ErrInvalidRefreshToken
		}
		s.metrics.Refresh(metrics.ResultError)
		return nil, storeErr(err)
	}

	access, accessClaims, err := s.codec.Mint(token.KindAccess, key.Username, string(ident.Role), key.DeviceID, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}

	result := &Result{
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshExpiresAt: sess.ExpiresAt,
		DeviceID:         key.DeviceID,
		Identity:         ident,
	}

	if s.cfg.RotateRefreshOnRefresh {
		refresh, refreshClaims, err := s.codec.Mint(token.KindRefresh, key.Username, "", key.DeviceID, s.cfg.RefreshTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to mint refresh token: %w", err)
		}
		sess.RefreshToken = refresh
		sess.ExpiresAt = refreshClaims.ExpiresAt
		result.RefreshToken = refresh
		result.RefreshExpiresAt = refreshClaims.ExpiresAt
	}

	sess.LastUsedAt = now
	sess.AccessTokenFingerprint = token.Fingerprint(access)
	if err := s.store.Put(ctx, sess); err != nil {
		s.metrics.Refresh(metrics.ResultError)
		return nil, storeErr(err)
	}

	s.metrics.Refresh(metrics.ResultSuccess)
	slog.Debug("Access token refreshed", "username", key.Username, "device_id", key.DeviceID)

	return result, nil
}

// revoke deletes a session as a side effect of a failed refresh; failures are only logged
func (s *service) revoke(ctx context.Context, key Key, reason string) {
	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		slog.Error("Failed to delete session", "username", key.Username, "device_id", key.DeviceID, "reason", reason, "error", err)
		return
	}
	if deleted {
		s.metrics.Revoked(reason, 1)
	}
}

// Logout deletes the session named by the tokens and blacklists a live access token.
// It never fails from the caller's point of view.
func (s *service) Logout(ctx context.Context, accessToken, refreshToken string) {
	var accessClaims *token.Claims
	if accessToken != "" {
		if c, err := s.codec.Verify(accessToken); err == nil && c.Kind == token.KindAccess {
			accessClaims = c
		}
	}

	var key *Key
	if refreshToken != "" {
		if c, err := s.codec.Inspect(refreshToken); err == nil && c.Kind == token.KindRefresh && c.DeviceID != "" {
			key = &Key{Username: c.Subject, DeviceID: c.DeviceID}
		}
	}
	if key == nil && accessClaims != nil && accessClaims.DeviceID != "" {
		key = &Key{Username: accessClaims.Subject, DeviceID: accessClaims.DeviceID}
	}

	if key != nil {
		unlock := s.locks.lock(*key)
		deleted, err := s.store.Delete(ctx, *key)
		unlock()

		switch {
		case err != nil:
			slog.Error("Logout failed to delete session", "username", key.Username, "device_id", key.DeviceID, "error", err)
		case deleted:
			s.metrics.Revoked(metrics.ReasonLogout, 1)
			slog.Info("User logged out", "username", key.Username, "device_id", key.DeviceID)
		}
	}

	if accessClaims != nil {
		if err := s.blacklist.Add(ctx, accessToken, accessClaims.ExpiresAt); err != nil {
			slog.Error("Logout failed to blacklist access token", "username", accessClaims.Subject, "error", err)
		} else {
			s.metrics.Blacklisted()
		}
	}
}

// ListSessions returns the live sessions of a user, most recently used first
func (s *service) ListSessions(ctx context.Context, username, currentDeviceID string) ([]Info, error) {
	sessions, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}

	now := s.clock.Now()
	out := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Expired(now) {
			continue
		}
		out = append(out, Info{
			DeviceID:        sess.DeviceID,
			CreatedAt:       sess.CreatedAt,
			LastUsedAt:      sess.LastUsedAt,
			IsCurrentDevice: sess.DeviceID == currentDeviceID,
			UserAgent:       sess.UserAgent,
			IPAddress:       sess.IPAddress,
		})
	}

	slices.SortFunc(out, func(a, b Info) int {
		if c := b.LastUsedAt.Compare(a.LastUsedAt); c != 0 {
			return c
		}
		return strings.Compare(a.DeviceID, b.DeviceID)
	})

	return out, nil
}

// RevokeSession deletes one session. Revoking an absent session is not an error.
func (s *service) RevokeSession(ctx context.Context, username, deviceID string) error {
	key := Key{Username: username, DeviceID: deviceID}
	unlock := s.locks.lock(key)
	defer unlock()

	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		return storeErr(err)
	}
	if deleted {
		s.metrics.Revoked(metrics.ReasonSingle, 1)
	}
	slog.Info("Revoked session", "username", username, "device_id", deviceID, "existed", deleted)
	return nil
}

// RevokeOtherSessions deletes every session of the user except currentDeviceID
func (s *service) RevokeOtherSessions(ctx context.Context, username, currentDeviceID string) (int, error) {
	sessions, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return 0, storeErr(err)
	}

	revoked := 0
	for _, sess := range sessions {
		if sess.DeviceID == currentDeviceID {
			continue
		}
		key := sess.Key()
		unlock := s.locks.lock(key)
		deleted, err := s.store.Delete(ctx, key)
		unlock()
		if err != nil {
			return revoked, storeErr(err)
		}
		if deleted {
			revoked++
		}
	}

	s.metrics.Revoked(metrics.ReasonOthers, revoked)
	slog.Info("Revoked other sessions", "username", username, "count", revoked)
	return revoked, nil
}

// RevokeAllSessions deletes every session of the user
func (s *service) RevokeAllSessions(ctx context.Context, username string) (int, error) {
	n, err := s.store.DeleteAll(ctx, username)
	if err != nil {
		return 0, storeErr(err)
	}

	s.metrics.Revoked(metrics.ReasonAll, n)
	slog.Info("Revoked all sessions", "username", username, "count", n)
	return n, nil
}

// ValidateAccessToken checks signature, expiry, kind and the blacklist
func (s *service) ValidateAccessToken(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := s.codec.Verify(accessToken)
	if err != nil || claims.Kind != token.KindAccess {
		return nil, ErrInvalidAccessToken
	}

	revoked, err := s.blacklist.Contains(ctx, accessToken)
	if err != nil {
		if !s.cfg.BlacklistFailOpen {
			return nil, storeErr(err)
		}
		slog.Warn("Blacklist unavailable, accepting token", "username", claims.Subject, "error", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// CurrentDevice returns the device id named by an authentic refresh token of username, expired or not
func (s *service) CurrentDevice(username, refreshToken string) (string, error) {
	claims, err := s.codec.Inspect(refreshToken)
	if err != nil || claims.Kind != token.KindRefresh || claims.DeviceID == "" || claims.Subject != username {
		return "", ErrInvalidRefreshToken
	}
	return claims.DeviceID, nil
}
