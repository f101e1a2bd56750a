package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

const kidPrefix = "key-"

// KeyStore is an RS256 Codec backed by a set of RSA keys.
// Tokens are signed with the active key and verified against every loaded key.
type KeyStore struct {
	ActiveKid string
	KeySet    jwk.Set

	publicSet jwk.Set
	clock     clock.Clock
}

// LoadKeys reads private-<kid>.pem / public-<kid>.pem pairs from path
func LoadKeys(path, activeKid string, clk clock.Clock) (*KeyStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ErrKeysDirectoryNotAccessible{Path: path, Err: err}
	}
	if !info.IsDir() {
		return nil, &ErrKeysPathNotDirectory{Path: path}
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys directory: %w", err)
	}

	keySet := jwk.NewSet()
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "private-") || filepath.Ext(name) != ".pem" {
			continue
		}

		kid := strings.TrimSuffix(strings.TrimPrefix(name, "private-"), ".pem")
		if kid == "" {
			continue
		}

		priv, err := readPrivateKey(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}

		if err := checkPublicKey(filepath.Join(path, fmt.Sprintf("public-%s.pem", kid)), priv); err != nil {
			return nil, err
		}

		if err := addKey(keySet, priv, kid); err != nil {
			return nil, err
		}
	}

	return newKeyStore(keySet, activeKid, clk)
}

// NewKeyStore builds a single-key store, used when no keys directory is configured
func NewKeyStore(priv *rsa.PrivateKey, kid string, clk clock.Clock) (*KeyStore, error) {
	keySet := jwk.NewSet()
	if err := addKey(keySet, priv, kid); err != nil {
		return nil, err
	}
	return newKeyStore(keySet, kid, clk)
}

func newKeyStore(keySet jwk.Set, activeKid string, clk clock.Clock) (*KeyStore, error) {
	publicSet, err := jwk.PublicSetOf(keySet)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key set: %w", err)
	}

	ks := &KeyStore{
		ActiveKid: activeKid,
		KeySet:    keySet,
		publicSet: publicSet,
		clock:     clk,
	}

	if _, err := ks.GetActiveKey(); err != nil {
		return nil, err
	}

	return ks, nil
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrKeyFile{FileName: name, Reason: "read failed", Err: err}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &ErrKeyFile{FileName: name, Reason: "invalid PEM"}
	}

	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}

	pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &ErrKeyFile{FileName: name, Reason: "parse failed", Err: err}
	}

	rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, &ErrKeyFile{FileName: name, Reason: "not an RSA key"}
	}

	return rsaKey, nil
}

func checkPublicKey(path string, priv *rsa.PrivateKey) error {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return &ErrKeyFile{FileName: name, Reason: "read failed", Err: err}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return &ErrKeyFile{FileName: name, Reason: "invalid PEM"}
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return &ErrKeyFile{FileName: name, Reason: "parse failed", Err: err}
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return &ErrKeyFile{FileName: name, Reason: "not an RSA key"}
	}
	if !rsaPub.Equal(&priv.PublicKey) {
		return &ErrKeyFile{FileName: name, Reason: "does not match private key"}
	}

	return nil
}

func addKey(set jwk.Set, priv *rsa.PrivateKey, kid string) error {
	key, err := jwk.Import(priv)
	if err != nil {
		return fmt.Errorf("failed to convert private key to JWK: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kidPrefix+kid); err != nil {
		return fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return fmt.Errorf("failed to set algorithm: %w", err)
	}
	if err := set.AddKey(key); err != nil {
		return fmt.Errorf("failed to add key to set: %w", err)
	}
	return nil
}

// GetActiveKey returns the key used for signing
func (ks *KeyStore) GetActiveKey() (jwk.Key, error) {
	kid := ks.ActiveKid
	if !strings.HasPrefix(kid, kidPrefix) {
		kid = kidPrefix + kid
	}

	key, ok := ks.KeySet.LookupKeyID(kid)
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// JWKS returns the public half of every loaded key
func (ks *KeyStore) JWKS() jwk.Set {
	return ks.publicSet
}

// Mint signs a new token of the given kind
func (ks *KeyStore) Mint(kind Kind, subject, role, deviceID string, ttl time.Duration) (string, *Claims, error) {
	claims, err := newClaims(kind, subject, role, deviceID, ks.clock.Now(), ttl)
	if err != nil {
		return "", nil, err
	}

	key, err := ks.GetActiveKey()
	if err != nil {
		return "", nil, err
	}

	b := jwt.NewBuilder().
		JwtID(claims.ID).
		Subject(claims.Subject).
		IssuedAt(claims.IssuedAt).
		Expiration(claims.ExpiresAt).
		Claim(ClaimType, string(claims.Kind))
	if claims.Role != "" {
		b = b.Claim(ClaimRole, claims.Role)
	}
	if claims.DeviceID != "" {
		b = b.Claim(ClaimDeviceID, claims.DeviceID)
	}

	tok, err := b.Build()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256(), key))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), claims, nil
}

// Inspect verifies the signature and decodes claims without checking expiry
func (ks *KeyStore) Inspect(token string) (*Claims, error) {
	if _, err := jwt.ParseInsecure([]byte(token)); err != nil {
		return nil, ErrMalformed
	}

	verified, err := jwt.Parse(
		[]byte(token),
		jwt.WithKeySet(ks.publicSet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	return claimsFromJWT(verified)
}

// Verify checks signature then expiry
func (ks *KeyStore) Verify(token string) (*Claims, error) {
	claims, err := ks.Inspect(token)
	if err != nil {
		return nil, err
	}
	if claims.Expired(ks.clock.Now()) {
		return nil, ErrExpired
	}
	return claims, nil
}

func claimsFromJWT(tok jwt.Token) (*Claims, error) {
	exp, ok := tok.Expiration()
	if !ok {
		return nil, ErrMalformed
	}

	claims := &Claims{ExpiresAt: exp.UTC()}
	claims.Subject, _ = tok.Subject()
	claims.ID, _ = tok.JwtID()
	if iat, ok := tok.IssuedAt(); ok {
		claims.IssuedAt = iat.UTC()
	}

	var kind string
	if err := tok.Get(ClaimType, &kind); err != nil {
		return nil, ErrMalformed
	}
	claims.Kind = Kind(kind)

	// optional private claims
	_ = tok.Get(ClaimRole, &claims.Role)
	_ = tok.Get(ClaimDeviceID, &claims.DeviceID)

	return claims, nil
}
