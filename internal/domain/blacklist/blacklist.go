package blacklist

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached
var ErrStoreUnavailable = errors.New("blacklist store unavailable")

// Blacklist is the revocation set for access tokens.
// An entry is live while now is not after its expiry.
type Blacklist interface {
	Add(ctx context.Context, token string, expiry time.Time) error
	Contains(ctx context.Context, token string) (bool, error)
	// Sweep removes entries whose expiry is at or before now and reports how many
	Sweep(ctx context.Context) (int, error)
}
