package testutil

import (
	"context"
	"sync"

	pagecache "github.com/eugener/cachemgr/internal"
)

// Call records one provider invocation.
type Call struct {
	Op  string
	URL string
}

// callLog is a concurrency-safe list of calls.
type callLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *callLog) record(op, url string) {
	l.mu.Lock()
	l.calls = append(l.calls, Call{Op: op, URL: url})
	l.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (l *callLog) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// CallsOf returns the recorded calls for one operation.
func (l *callLog) CallsOf(op string) []Call {
	var out []Call
	for _, c := range l.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// FakeStoreProvider is a Checkable, Deletable, Flushable provider backed by
// an in-memory set of URLs.
type FakeStoreProvider struct {
	callLog
	ProviderName string

	mu      sync.Mutex
	entries map[string]pagecache.EntryInfo
}

// NewFakeStoreProvider returns a FakeStoreProvider holding the given URLs.
func NewFakeStoreProvider(urls ...string) *FakeStoreProvider {
	p := &FakeStoreProvider{ProviderName: "fake-store", entries: make(map[string]pagecache.EntryInfo)}
	for _, u := range urls {
		p.entries[u] = pagecache.EntryInfo{Path: "/cache/" + u}
	}
	return p
}

// Put stores an entry for u.
func (p *FakeStoreProvider) Put(u string, info pagecache.EntryInfo) {
	p.mu.Lock()
	p.entries[u] = info
	p.mu.Unlock()
}

// Name returns the configured provider name.
func (p *FakeStoreProvider) Name() string { return p.ProviderName }

// Exists reports whether u is stored.
func (p *FakeStoreProvider) Exists(_ context.Context, u string) bool {
	p.record("exists", u)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[u]
	return ok
}

// Writable reports whether u is stored.
func (p *FakeStoreProvider) Writable(_ context.Context, u string) bool {
	p.record("writable", u)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[u]
	return ok
}

// Delete removes u and reports whether it was present.
func (p *FakeStoreProvider) Delete(_ context.Context, u string) bool {
	p.record("delete", u)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[u]
	delete(p.entries, u)
	return ok
}

// Flush removes everything and reports whether anything was present.
func (p *FakeStoreProvider) Flush(context.Context) bool {
	p.record("flush", "")
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.entries)
	clear(p.entries)
	return n > 0
}

// Inspect returns the stored entry info for u.
func (p *FakeStoreProvider) Inspect(_ context.Context, u string) (pagecache.EntryInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.entries[u]
	return info, ok
}

// FakeSignalProvider is a Creatable, Refreshable provider that records
// signals and returns Result.
type FakeSignalProvider struct {
	callLog
	Result bool
}

// Name returns "fake-signal".
func (p *FakeSignalProvider) Name() string { return "fake-signal" }

// Create records the call.
func (p *FakeSignalProvider) Create(_ context.Context, u string) bool {
	p.record("create", u)
	return p.Result
}

// Refresh records the call.
func (p *FakeSignalProvider) Refresh(_ context.Context, u string) bool {
	p.record("refresh", u)
	return p.Result
}
