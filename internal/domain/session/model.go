package session

import (
	"strings"
	"time"
)

// Key identifies a session: one per (username, device)
type Key struct {
	Username string
	DeviceID string
}

// String returns the composite "<username>:<deviceId>" form
func (k Key) String() string {
	return k.Username + ":" + k.DeviceID
}

// ParseKey splits a composite key. Device ids never contain ':' so the last one separates.
func ParseKey(s string) (Key, bool) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Key{}, false
	}
	return Key{Username: s[:i], DeviceID: s[i+1:]}, true
}

// Session is the server-side record pairing a user and device to a live refresh token
type Session struct {
	Username               string    `gorm:"column:username;primaryKey" json:"username"`
	DeviceID               string    `gorm:"column:device_id;primaryKey" json:"device_id"`
	RefreshToken           string    `gorm:"column:refresh_token;not null" json:"refresh_token"`
	AccessTokenFingerprint string    `gorm:"column:access_token_fingerprint" json:"access_token_fingerprint"`
	ExpiresAt              time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	LastUsedAt             time.Time `gorm:"column:last_used_at" json:"last_used_at"`
	UserAgent              string    `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	IPAddress              string    `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
}

func (Session) TableName() string {
	return "sessions"
}

// Key returns the session's composite key
func (s *Session) Key() Key {
	return Key{Username: s.Username, DeviceID: s.DeviceID}
}

// Expired reports whether now is past the session expiry
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Info is the projection returned by session listings
type Info struct {
	DeviceID        string    `json:"device_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
	IsCurrentDevice bool      `json:"is_current_device"`
	UserAgent       string    `json:"user_agent,omitempty"`
	IPAddress       string    `json:"ip_address,omitempty"`
}
