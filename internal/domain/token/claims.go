package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claim names carried by every token
const (
	ClaimSubject  = "sub"
	ClaimRole     = "role"
	ClaimDeviceID = "did"
	ClaimType     = "typ"
	ClaimExpiry   = "exp"
)

// Claims are the decoded contents of an access or refresh token
type Claims struct {
	ID        string
	Kind      Kind
	Subject   string
	Role      string
	DeviceID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether now is past the token expiry
func (c *Claims) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Codec mints and decodes signed tokens.
// Verify checks signature and expiry; Inspect checks the signature only.
type Codec interface {
	Mint(kind Kind, subject, role, deviceID string, ttl time.Duration) (string, *Claims, error)
	Verify(token string) (*Claims, error)
	Inspect(token string) (*Claims, error)
}

// ExtractClaim reads a single claim from an authentic token, expired or not
func ExtractClaim(c Codec, token, name string) (string, error) {
	claims, err := c.Inspect(token)
	if err != nil {
		return "", err
	}

	switch name {
	case ClaimSubject:
		return claims.Subject, nil
	case ClaimRole:
		return claims.Role, nil
	case ClaimDeviceID:
		return claims.DeviceID, nil
	case ClaimType:
		return string(claims.Kind), nil
	case ClaimExpiry:
		return strconv.FormatInt(claims.ExpiresAt.Unix(), 10), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownClaim, name)
	}
}

// Fingerprint returns the SHA-256 hex digest of a token
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// newClaims builds claims for a fresh token. Times are truncated to whole
// seconds so the returned claims match what decoding the token yields.
func newClaims(kind Kind, subject, role, deviceID string, now time.Time, ttl time.Duration) (*Claims, error) {
	if kind == KindRefresh && deviceID == "" {
		return nil, ErrMissingDeviceID
	}

	iat := now.UTC().Truncate(time.Second)
	return &Claims{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		Role:      role,
		DeviceID:  deviceID,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(ttl).Truncate(time.Second),
	}, nil
}
