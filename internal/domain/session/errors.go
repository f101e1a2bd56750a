package session

import "errors"

var (
	// ErrAuthenticationFailed is returned for any credential failure at login
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInvalidRefreshToken is returned when a refresh token is malformed, forged or expired
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrInvalidAccessToken is returned when an access token is malformed, forged or expired
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrTokenRevoked is returned for a blacklisted access token
	ErrTokenRevoked = errors.New("token revoked")
	// ErrSessionNotFound is returned when a valid refresh token has no session
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenReuseDetected is returned when a refresh token differs from the stored one
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable is returned when the session store or a collaborator cannot be reached
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrDeviceMismatch is returned when a caller tries to revoke its own device through revocation
	ErrDeviceMismatch = errors.New("cannot revoke current device, use logout")
	// ErrInvalidDeviceID is returned for an unusable client-supplied device id
	ErrInvalidDeviceID = errors.New("invalid device id")

	// ErrNotFound is returned by stores when no record exists for a key
	ErrNotFound = errors.New("session record not found")
)
