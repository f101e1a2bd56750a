package session

import (
	"context"
	"log/slog"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/metrics"
)

// Sweeper purges sessions whose expiry has passed. Store TTLs are the primary
// expiry mechanism where the backend has them; this catches the rest.
type Sweeper struct {
	store   Store
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewSweeper creates a sweeper over store
func NewSweeper(store Store, clk clock.Clock, m *metrics.Metrics) *Sweeper {
	return &Sweeper{store: store, clock: clk, metrics: m}
}

// SweepOnce deletes every session that expired before now and returns how many
// it removed. Each deletion re-checks the stored expiry, so a device that logged
// in again after the scan keeps its new session. A failed deletion is logged and
// the sweep continues.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()

	expired, err := s.store.FindExpiredBefore(ctx, now)
	if err != nil {
		return 0, storeErr(err)
	}

	deleted := 0
	for _, sess := range expired {
		removed, err := s.store.DeleteExpired(ctx, sess.Key(), now)
		if err != nil {
			slog.Error("Failed to delete expired session",
				"username", sess.Username,
				"device_id", sess.DeviceID,
				"error", err,
			)
			continue
		}
		if removed {
			deleted++
		}
	}

	s.metrics.SessionSweep(deleted)
	slog.Info("Expired sessions swept", "found", len(expired), "deleted", deleted)
	return deleted, nil
}

// Run performs one sweep. Its signature matches scheduler tasks.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.SweepOnce(ctx)
	return err
}
