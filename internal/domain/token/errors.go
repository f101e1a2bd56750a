package token

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a token cannot be parsed
	ErrMalformed = errors.New("malformed token")
	// ErrInvalidSignature is returned when the signature does not verify
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired is returned when the token expiry has passed
	ErrExpired = errors.New("token expired")
	// ErrMissingDeviceID is returned when minting a refresh token without a device
	ErrMissingDeviceID = errors.New("refresh token requires a device id")
	// ErrUnknownClaim is returned by ExtractClaim for unsupported claim names
	ErrUnknownClaim = errors.New("unknown claim")
	// ErrUnknownKey is returned when the active signing key is not loaded
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrWeakSecret is returned when an HMAC secret is too short
	ErrWeakSecret = errors.New("hmac secret too short")
)

// ErrKeysDirectoryNotAccessible is returned when the keys directory cannot be stat'ed
type ErrKeysDirectoryNotAccessible struct {
	Path string
	Err  error
}

func (e *ErrKeysDirectoryNotAccessible) Error() string {
	return fmt.Sprintf("keys directory %s not accessible: %v", e.Path, e.Err)
}

func (e *ErrKeysDirectoryNotAccessible) Unwrap() error { return e.Err }

// ErrKeysPathNotDirectory is returned when the keys path is a file
type ErrKeysPathNotDirectory struct {
	Path string
}

func (e *ErrKeysPathNotDirectory) Error() string {
	return fmt.Sprintf("keys path %s is not a directory", e.Path)
}

// ErrKeyFile is returned when a PEM key file cannot be read or parsed
type ErrKeyFile struct {
	FileName string
	Reason   string
	Err      error
}

func (e *ErrKeyFile) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key file %s: %s: %v", e.FileName, e.Reason, e.Err)
	}
	return fmt.Sprintf("key file %s: %s", e.FileName, e.Reason)
}

func (e *ErrKeyFile) Unwrap() error { return e.Err }
