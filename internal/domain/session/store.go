package session

import (
	"context"
	"time"
)

// Store persists sessions. Writes are atomic per key; cross-key operations are not transactional.
// Implementations wrap backend failures in ErrStoreUnavailable.
type Store interface {
	// Put inserts or replaces the session for its key
	Put(ctx context.Context, s *Session) error
	// Get returns ErrNotFound when no record exists
	Get(ctx context.Context, key Key) (*Session, error)
	// FindByUsername returns a snapshot of every stored session for the user
	FindByUsername(ctx context.Context, username string) ([]Session, error)
	// FindByToken returns the session currently holding refreshToken
	FindByToken(ctx context.Context, refreshToken string) (*Session, error)
	// Delete removes one session and reports whether it existed
	Delete(ctx context.Context, key Key) (bool, error)
	// DeleteExpired removes the session only if its stored expiry is strictly before ts,
	// so a session replaced after it was found expired survives
	DeleteExpired(ctx context.Context, key Key, ts time.Time) (bool, error)
	// DeleteAll removes every session of the user and returns how many existed
	DeleteAll(ctx context.Context, username string) (int, error)
	// FindExpiredBefore returns sessions whose expiry is strictly before ts
	FindExpiredBefore(ctx context.Context, ts time.Time) ([]Session, error)
}
