package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/telemetry"
)

const (
	purgeChanSize   = 1000
	purgeBatchSize  = 100
	purgeFlushEvery = 5 * time.Second
	purgeDrainTime  = 30 * time.Second
)

// PurgeStore is the persistence interface consumed by PurgeRecorder.
type PurgeStore interface {
	InsertPurges(ctx context.Context, events []pagecache.PurgeEvent) error
}

// PurgeRecorder buffers purge audit events and batch-flushes them to the
// store. Events are dropped if the channel is full (back-pressure on slow DB).
type PurgeRecorder struct {
	ch      chan pagecache.PurgeEvent
	store   PurgeStore
	metrics *telemetry.Metrics // nil disables queue metrics
}

// NewPurgeRecorder creates a PurgeRecorder backed by store. metrics may be nil.
func NewPurgeRecorder(store PurgeStore, metrics *telemetry.Metrics) *PurgeRecorder {
	return &PurgeRecorder{
		ch:      make(chan pagecache.PurgeEvent, purgeChanSize),
		store:   store,
		metrics: metrics,
	}
}

// Name returns the worker identifier.
func (p *PurgeRecorder) Name() string { return "purge_recorder" }

// Record enqueues an event. It never blocks; drops on full channel.
func (p *PurgeRecorder) Record(e pagecache.PurgeEvent) {
	select {
	case p.ch <- e:
		if p.metrics != nil {
			p.metrics.PurgeQueueLength.Set(float64(len(p.ch)))
		}
	default:
		slog.Warn("purge event dropped, channel full", "action", e.Action, "url", e.URL)
		if p.metrics != nil {
			p.metrics.PurgesDropped.Inc()
		}
	}
}

// Run processes events until ctx is cancelled, then drains the remainder.
func (p *PurgeRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(purgeFlushEvery)
	defer ticker.Stop()

	buf := make([]pagecache.PurgeEvent, 0, purgeBatchSize)

	for {
		select {
		case e := <-p.ch:
			buf = append(buf, e)
			if len(buf) >= purgeBatchSize {
				p.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				p.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			p.drain(buf)
			return nil
		}
	}
}

func (p *PurgeRecorder) drain(buf []pagecache.PurgeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), purgeDrainTime)
	defer cancel()

	for {
		select {
		case e := <-p.ch:
			buf = append(buf, e)
			if len(buf) >= purgeBatchSize {
				p.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				p.flush(ctx, buf)
			}
			return
		}
	}
}

func (p *PurgeRecorder) flush(ctx context.Context, buf []pagecache.PurgeEvent) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]pagecache.PurgeEvent, len(buf))
	copy(batch, buf)

	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
		if batch[i].CreatedAt.IsZero() {
			batch[i].CreatedAt = time.Now().UTC()
		}
	}

	if err := p.store.InsertPurges(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "purge log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if p.metrics != nil {
		p.metrics.PurgeQueueLength.Set(float64(len(p.ch)))
	}
}
