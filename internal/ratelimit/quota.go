package ratelimit

import (
	"context"
	"sync"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
)

// FlushWindow is the rolling window a flush quota applies to.
const FlushWindow = 24 * time.Hour

// QuotaStore counts recorded purge events for quota sync.
type QuotaStore interface {
	CountPurges(ctx context.Context, f pagecache.PurgeFilter) (int, error)
}

type quotaEntry struct {
	limit    int64
	consumed int64
	pending  int64 // reserved by flushes still running
}

// FlushQuota caps how many full-cache flushes each subject may trigger per
// FlushWindow. In-memory counts are authoritative between syncs; SyncAll
// reloads them from the purge log so restarts and window expiry are honoured.
type FlushQuota struct {
	mu      sync.Mutex
	entries map[string]*quotaEntry
}

// NewFlushQuota creates an empty FlushQuota.
func NewFlushQuota() *FlushQuota {
	return &FlushQuota{entries: make(map[string]*quotaEntry)}
}

// Check reports whether subject may flush again. A limit of 0 is unlimited.
func (q *FlushQuota) Check(subject string, limit int64) bool {
	if limit <= 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[subject]
	if !ok {
		q.entries[subject] = &quotaEntry{limit: limit}
		return true
	}
	e.limit = limit
	return e.consumed+e.pending < limit
}

// Reserve claims one flush for subject if the quota allows it. Every
// successful Reserve must be followed by Commit or Release. A limit of 0 is
// unlimited.
func (q *FlushQuota) Reserve(subject string, limit int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entry(subject)
	e.limit = limit
	if limit > 0 && e.consumed+e.pending >= limit {
		return false
	}
	e.pending++
	return true
}

// Commit turns a reservation into a consumed flush.
func (q *FlushQuota) Commit(subject string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entry(subject)
	if e.pending > 0 {
		e.pending--
	}
	e.consumed++
}

// Release returns a reservation whose flush did not happen.
func (q *FlushQuota) Release(subject string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[subject]; ok && e.pending > 0 {
		e.pending--
	}
}

func (q *FlushQuota) entry(subject string) *quotaEntry {
	e, ok := q.entries[subject]
	if !ok {
		e = &quotaEntry{}
		q.entries[subject] = e
	}
	return e
}

// Sync reloads subject's successful flush count within the window from the
// store. Reservations in flight are kept.
func (q *FlushQuota) Sync(ctx context.Context, store QuotaStore, subject string) error {
	n, err := store.CountPurges(ctx, pagecache.PurgeFilter{
		Action:      pagecache.ActionFlush,
		Subject:     subject,
		Since:       time.Now().Add(-FlushWindow).UTC().Format(time.RFC3339),
		SuccessOnly: true,
	})
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entry(subject).consumed = int64(n)
	return nil
}

// SyncAll reloads the counts of all tracked subjects.
func (q *FlushQuota) SyncAll(ctx context.Context, store QuotaStore) error {
	q.mu.Lock()
	subjects := make([]string, 0, len(q.entries))
	for k := range q.entries {
		subjects = append(subjects, k)
	}
	q.mu.Unlock()

	for _, s := range subjects {
		if err := q.Sync(ctx, store, s); err != nil {
			return err
		}
	}
	return nil
}
