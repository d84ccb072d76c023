package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/cachemgr/internal/ratelimit"
)

const quotaSyncInterval = 60 * time.Second

// QuotaSyncWorker periodically reloads flush quota counters from the purge log.
type QuotaSyncWorker struct {
	quota    *ratelimit.FlushQuota
	store    ratelimit.QuotaStore
	interval time.Duration
}

// NewQuotaSyncWorker creates a QuotaSyncWorker.
func NewQuotaSyncWorker(quota *ratelimit.FlushQuota, store ratelimit.QuotaStore) *QuotaSyncWorker {
	return &QuotaSyncWorker{quota: quota, store: store, interval: quotaSyncInterval}
}

// Name returns the worker identifier.
func (w *QuotaSyncWorker) Name() string { return "quota_sync" }

// Run performs an initial sync, then syncs periodically until ctx is cancelled.
func (w *QuotaSyncWorker) Run(ctx context.Context) error {
	w.sync(ctx, "initial flush quota sync failed")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sync(ctx, "flush quota sync failed")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *QuotaSyncWorker) sync(ctx context.Context, msg string) {
	if err := w.quota.SyncAll(ctx, w.store); err != nil && ctx.Err() == nil {
		slog.LogAttrs(ctx, slog.LevelError, msg, slog.String("error", err.Error()))
	}
}
