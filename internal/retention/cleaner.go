// Package retention implements the retention cleaner (C4): a ticker loop
// that periodically deletes terminal envelopes past their retention
// period, grounded on the periodic-sweep shape of a scan-and-reclaim
// worker loop, adapted to a scan-and-delete one.
package retention

import (
	"context"
	"time"

	"github.com/wadcom/minimailgun/internal/pkg/logger"
	"github.com/wadcom/minimailgun/internal/store"
)

const (
	// DefaultInterval is how often the cleaner sweeps the store.
	DefaultInterval = 5 * time.Minute

	// DefaultRetentionSeconds is how long a terminal envelope survives
	// before cleanup, set higher than what is promised to clients because
	// cleanup here runs per-envelope rather than per-submission: a
	// submission with several recipients can have some envelopes cleaned
	// up before others, so the customer-facing retention window must be
	// comfortably shorter than this value.
	DefaultRetentionSeconds = 2 * 3 * 3600
)

// Cleaner periodically removes terminal envelopes older than its
// retention period.
type Cleaner struct {
	store            store.Store
	interval         time.Duration
	retentionSeconds int64
}

// New creates a Cleaner with the given sweep interval and retention
// period. Zero values fall back to the defaults above.
func New(st store.Store, interval time.Duration, retentionSeconds int64) *Cleaner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retentionSeconds <= 0 {
		retentionSeconds = DefaultRetentionSeconds
	}
	return &Cleaner{store: st, interval: interval, retentionSeconds: retentionSeconds}
}

// Run blocks, sweeping on every tick, until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	logger.Info("retention: starting", "interval", c.interval.String(), "retention_seconds", c.retentionSeconds)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("retention: stopping")
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) {
	removed, err := c.store.RemoveInactive(ctx, c.retentionSeconds)
	if err != nil {
		logger.Error("retention: sweep failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("retention: removed inactive envelopes", "count", removed)
	}
}
