package auth

import "github.com/Anvoria/sessionkeeper/internal/domain/user"

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

// TokenResponse is returned by login and refresh. The refresh token only travels in the cookie.
type TokenResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int64          `json:"expires_in"`
	DeviceID    string         `json:"device_id"`
	User        *user.Identity `json:"user,omitempty"`
}

// Identity is the authenticated caller stored in the fiber context
type Identity struct {
	Username string
	Role     string
	DeviceID string
	TokenID  string
}
