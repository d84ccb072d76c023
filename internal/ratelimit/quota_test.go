package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	pagecache "github.com/eugener/cachemgr/internal"
)

type fakeQuotaStore struct {
	counts map[string]int
	err    error
	last   pagecache.PurgeFilter
}

func (s *fakeQuotaStore) CountPurges(_ context.Context, f pagecache.PurgeFilter) (int, error) {
	s.last = f
	return s.counts[f.Subject], s.err
}

func TestFlushQuota_WithinQuota(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()

	if !q.Check("ops", 2) {
		t.Error("new subject should be within quota")
	}
}

func TestFlushQuota_Exhausted(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()

	q.Commit("ops")
	if !q.Check("ops", 2) {
		t.Error("1/2 should be within quota")
	}
	q.Commit("ops")
	if q.Check("ops", 2) {
		t.Error("2/2 should be exhausted")
	}
	if !q.Check("other", 2) {
		t.Error("quota must be per subject")
	}
}

func TestFlushQuota_Unlimited(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()

	for range 100 {
		q.Commit("ops")
	}
	if !q.Check("ops", 0) {
		t.Error("limit 0 should be unlimited")
	}
}

func TestFlushQuota_Sync(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()
	store := &fakeQuotaStore{counts: map[string]int{"ops": 3}}

	q.Check("ops", 3)
	if err := q.SyncAll(context.Background(), store); err != nil {
		t.Fatal(err)
	}
	if q.Check("ops", 3) {
		t.Error("synced count 3/3 should be exhausted")
	}
	if store.last.Action != pagecache.ActionFlush || store.last.Since == "" || !store.last.SuccessOnly {
		t.Errorf("filter = %+v, want successful flushes with a since bound", store.last)
	}

	// The window rolled over: the log now reports fewer flushes.
	store.counts["ops"] = 1
	if err := q.Sync(context.Background(), store, "ops"); err != nil {
		t.Fatal(err)
	}
	if !q.Check("ops", 3) {
		t.Error("1/3 after sync should be within quota")
	}
}

func TestFlushQuota_SyncError(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()
	q.Check("ops", 1)
	want := errors.New("db down")

	if err := q.SyncAll(context.Background(), &fakeQuotaStore{err: want}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestFlushQuota_ReserveCommitRelease(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()

	if !q.Reserve("ops", 1) {
		t.Fatal("first reservation should succeed")
	}
	if q.Reserve("ops", 1) {
		t.Error("second reservation must wait for the first to settle")
	}
	q.Release("ops")
	if !q.Reserve("ops", 1) {
		t.Fatal("released reservation should free the slot")
	}
	q.Commit("ops")
	if q.Reserve("ops", 1) || q.Check("ops", 1) {
		t.Error("committed flush should exhaust 1/1")
	}
	if !q.Reserve("ops", 0) {
		t.Error("limit 0 should be unlimited")
	}
}

func TestFlushQuota_ConcurrentReserve(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()

	var granted atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if q.Reserve("ops", 5) {
				granted.Add(1)
			}
		})
	}
	wg.Wait()
	if got := granted.Load(); got != 5 {
		t.Errorf("granted = %d, want 5", got)
	}
}

func TestFlushQuota_SyncKeepsReservations(t *testing.T) {
	t.Parallel()
	q := NewFlushQuota()
	store := &fakeQuotaStore{counts: map[string]int{"ops": 1}}

	if !q.Reserve("ops", 2) {
		t.Fatal("reserve")
	}
	if err := q.Sync(context.Background(), store, "ops"); err != nil {
		t.Fatal(err)
	}
	if q.Reserve("ops", 2) {
		t.Error("1 synced + 1 in flight should exhaust 2")
	}
}
