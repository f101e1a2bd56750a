package blacklist

import (
	"context"
	"log/slog"

	"github.com/Anvoria/sessionkeeper/internal/metrics"
)

// Janitor purges expired blacklist entries on a schedule
type Janitor struct {
	list    Blacklist
	metrics *metrics.Metrics
}

// NewJanitor creates a janitor for list
func NewJanitor(list Blacklist, m *metrics.Metrics) *Janitor {
	return &Janitor{list: list, metrics: m}
}

// Run performs one sweep. Its signature matches scheduler tasks.
func (j *Janitor) Run(ctx context.Context) error {
	removed, err := j.list.Sweep(ctx)
	if err != nil {
		return err
	}

	j.metrics.BlacklistSweep(removed)
	if removed > 0 {
		slog.Info("Blacklist swept", "removed", removed)
	}
	return nil
}
