package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted HMAC secret size in bytes
const MinSecretLength = 32

type hmacClaims struct {
	Type     string `json:"typ"`
	Role     string `json:"role,omitempty"`
	DeviceID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// HMACCodec is an HS256 Codec keyed by a shared secret
type HMACCodec struct {
	secret []byte
	clock  clock.Clock
	parser *jwt.Parser
}

// NewHMACCodec creates an HS256 codec
func NewHMACCodec(secret []byte, clk clock.Clock) (*HMACCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	return &HMACCodec{
		secret: secret,
		clock:  clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Mint signs a new token of the given kind
func (h *HMACCodec) Mint(kind Kind, subject, role, deviceID string, ttl time.Duration) (string, *Claims, error) {
	claims, err := newClaims(kind, subject, role, deviceID, h.clock.Now(), ttl)
	if err != nil {
		return "", nil, err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, hmacClaims{
		Type:     string(claims.Kind),
		Role:     claims.Role,
		DeviceID: claims.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.ID,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})

	signed, err := tok.SignedString(h.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, claims, nil
}

// Inspect verifies the signature and decodes claims without checking expiry
func (h *HMACCodec) Inspect(token string) (*Claims, error) {
	var hc hmacClaims
	_, err := h.parser.ParseWithClaims(token, &hc, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrMalformed
		}
		return nil, ErrInvalidSignature
	}

	if hc.ExpiresAt == nil || hc.Type == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{
		ID:        hc.ID,
		Kind:      Kind(hc.Type),
		Subject:   hc.Subject,
		Role:      hc.Role,
		DeviceID:  hc.DeviceID,
		ExpiresAt: hc.ExpiresAt.UTC(),
	}
	if hc.IssuedAt != nil {
		claims.IssuedAt = hc.IssuedAt.UTC()
	}

	return claims, nil
}

// Verify checks signature then expiry
func (h *HMACCodec) Verify(token string) (*Claims, error) {
	claims, err := h.Inspect(token)
	if err != nil {
		return nil, err
	}
	if claims.Expired(h.clock.Now()) {
		return nil, ErrExpired
	}
	return claims, nil
}
