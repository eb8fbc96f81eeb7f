package search

import (
	"context"
	"log/slog"
	"time"
)

// CacheSweeper deletes expired search cache rows.
type CacheSweeper interface {
	DeleteExpiredSearches(cutoff time.Time) (int64, error)
}

// Janitor periodically sweeps expired rows out of the search cache. Expired
// entries are already ignored on read; the janitor just keeps the table from
// growing without bound.
type Janitor struct {
	store    CacheSweeper
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a Janitor sweeping rows older than ttl.
// If interval is <= 0, it defaults to 10 minutes.
func NewJanitor(store CacheSweeper, ttl, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.RunOnce(); err != nil {
				j.logger.Error("cache sweep failed", "error", err)
			}
		}
	}
}

// RunOnce deletes every cache row older than the TTL.
func (j *Janitor) RunOnce() error {
	n, err := j.store.DeleteExpiredSearches(time.Now().Add(-j.ttl))
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Debug("swept expired search cache rows", "count", n)
	}
	return nil
}
