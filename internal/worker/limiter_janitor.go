package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/cachemgr/internal/ratelimit"
)

const (
	janitorInterval = 5 * time.Minute
	limiterIdleTTL  = 30 * time.Minute
)

// LimiterJanitor evicts rate limiters of tokens that have gone idle.
type LimiterJanitor struct {
	registry *ratelimit.Registry
	interval time.Duration
	ttl      time.Duration
}

// NewLimiterJanitor creates a LimiterJanitor for registry.
func NewLimiterJanitor(registry *ratelimit.Registry) *LimiterJanitor {
	return &LimiterJanitor{registry: registry, interval: janitorInterval, ttl: limiterIdleTTL}
}

// Name returns the worker identifier.
func (j *LimiterJanitor) Name() string { return "limiter_janitor" }

// Run evicts idle limiters on a fixed schedule until ctx is cancelled.
func (j *LimiterJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := j.registry.EvictStale(now.Add(-j.ttl)); n > 0 {
				slog.Debug("evicted idle rate limiters", "count", n)
			}
		}
	}
}
