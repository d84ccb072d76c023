// Package provider aggregates cache providers behind a single MultiCache that
// fans every operation out to each capable backend.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/telemetry"
)

// Operation names used for metrics and spans.
const (
	OpCreate   = "create"
	OpDelete   = "delete"
	OpExists   = "exists"
	OpWritable = "writable"
	OpRefresh  = "refresh"
	OpFlush    = "flush"
)

type registered struct {
	p    pagecache.Provider
	caps pagecache.CapabilitySet
}

// MultiCache holds the registered providers and the union of their
// capabilities. It is safe for concurrent use.
type MultiCache struct {
	mu        sync.RWMutex
	providers []registered
	caps      pagecache.CapabilitySet

	metrics *telemetry.Metrics // nil disables metrics
	tracer  trace.Tracer
}

// NewMultiCache returns an empty MultiCache. metrics may be nil.
func NewMultiCache(metrics *telemetry.Metrics) *MultiCache {
	return &MultiCache{
		metrics: metrics,
		tracer:  telemetry.Tracer("github.com/eugener/cachemgr/internal/provider"),
	}
}

// AddProvider registers p and folds its capabilities into the aggregate set.
// Registering the same instance twice is a no-op that returns false.
// Providers must be comparable (pointer types in practice).
func (m *MultiCache) AddProvider(p pagecache.Provider) bool {
	if p == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.providers {
		if r.p == p {
			return false
		}
	}
	caps := pagecache.CapabilitiesOf(p)
	m.providers = append(m.providers, registered{p: p, caps: caps})
	m.caps = m.caps.Union(caps)
	return true
}

// Has reports whether at least one registered provider supports c.
func (m *MultiCache) Has(c pagecache.Capability) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps.Has(c)
}

// Capabilities returns the aggregate capability set.
func (m *MultiCache) Capabilities() pagecache.CapabilitySet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps
}

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// Providers lists the registered providers in registration order.
func (m *MultiCache) Providers() []ProviderInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ProviderInfo, len(m.providers))
	for i, r := range m.providers {
		out[i] = ProviderInfo{Name: r.p.Name(), Capabilities: r.caps.List()}
	}
	return out
}

// Len returns the number of registered providers.
func (m *MultiCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers)
}

// Create asks every Creatable provider to populate the cache for u.
func (m *MultiCache) Create(ctx context.Context, u string) (bool, error) {
	return m.dispatch(ctx, OpCreate, pagecache.Creatable, u, func(ctx context.Context, p pagecache.Provider) bool {
		return p.(pagecache.Creator).Create(ctx, u)
	})
}

// Delete asks every Deletable provider to remove the entry for u.
func (m *MultiCache) Delete(ctx context.Context, u string) (bool, error) {
	return m.dispatch(ctx, OpDelete, pagecache.Deletable, u, func(ctx context.Context, p pagecache.Provider) bool {
		return p.(pagecache.Deleter).Delete(ctx, u)
	})
}

// Exists reports whether any Checkable provider holds an entry for u.
func (m *MultiCache) Exists(ctx context.Context, u string) (bool, error) {
	return m.dispatch(ctx, OpExists, pagecache.Checkable, u, func(ctx context.Context, p pagecache.Provider) bool {
		return p.(pagecache.Checker).Exists(ctx, u)
	})
}

// Writable reports whether any Checkable provider can modify the entry for u.
func (m *MultiCache) Writable(ctx context.Context, u string) (bool, error) {
	return m.dispatch(ctx, OpWritable, pagecache.Checkable, u, func(ctx context.Context, p pagecache.Provider) bool {
		return p.(pagecache.Checker).Writable(ctx, u)
	})
}

// Refresh asks every Refreshable provider to purge and re-fetch u.
func (m *MultiCache) Refresh(ctx context.Context, u string) (bool, error) {
	return m.dispatch(ctx, OpRefresh, pagecache.Refreshable, u, func(ctx context.Context, p pagecache.Provider) bool {
		return p.(pagecache.Refresher).Refresh(ctx, u)
	})
}

// Flush asks every Flushable provider to drop all entries.
func (m *MultiCache) Flush(ctx context.Context) (bool, error) {
	targets := m.capable(pagecache.Flushable)
	if len(targets) == 0 {
		return false, nil
	}
	ok := false
	for _, p := range targets {
		ok = m.invoke(ctx, OpFlush, p, "", func(ctx context.Context, p pagecache.Provider) bool {
			return p.(pagecache.Flusher).Flush(ctx)
		}) || ok
	}
	return ok, nil
}

// Inspect returns the entry info of the first Inspector provider that has
// an entry for u.
func (m *MultiCache) Inspect(ctx context.Context, u string) (pagecache.EntryInfo, bool, error) {
	if err := ValidateURL(u); err != nil {
		return pagecache.EntryInfo{}, false, err
	}
	m.mu.RLock()
	providers := make([]pagecache.Provider, 0, len(m.providers))
	for _, r := range m.providers {
		providers = append(providers, r.p)
	}
	m.mu.RUnlock()

	for _, p := range providers {
		in, ok := p.(pagecache.Inspector)
		if !ok {
			continue
		}
		if info, found := in.Inspect(ctx, u); found {
			return info, true, nil
		}
	}
	return pagecache.EntryInfo{}, false, nil
}

// dispatch validates u, then invokes call on every provider holding c and
// ORs the results. All capable providers run even after one succeeds.
func (m *MultiCache) dispatch(ctx context.Context, op string, c pagecache.Capability, u string,
	call func(context.Context, pagecache.Provider) bool) (bool, error) {

	if err := ValidateURL(u); err != nil {
		return false, err
	}
	targets := m.capable(c)
	if len(targets) == 0 {
		return false, nil
	}
	ok := false
	for _, p := range targets {
		ok = m.invoke(ctx, op, p, u, call) || ok
	}
	return ok, nil
}

func (m *MultiCache) capable(c pagecache.Capability) []pagecache.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.caps.Has(c) {
		return nil
	}
	out := make([]pagecache.Provider, 0, len(m.providers))
	for _, r := range m.providers {
		if r.caps.Has(c) {
			out = append(out, r.p)
		}
	}
	return out
}

func (m *MultiCache) invoke(ctx context.Context, op string, p pagecache.Provider, u string,
	call func(context.Context, pagecache.Provider) bool) bool {

	name := p.Name()
	ctx, span := m.tracer.Start(ctx, "provider."+op, trace.WithAttributes(
		attribute.String("cache.provider", name),
		attribute.String("cache.url", u),
	))
	defer span.End()

	start := time.Now()
	ok := call(ctx, p)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Bool("cache.result", ok))
	if !ok {
		span.SetStatus(codes.Error, op+" returned false")
	}
	if m.metrics != nil {
		m.metrics.ProviderOpDuration.WithLabelValues(name, op).Observe(elapsed.Seconds())
		m.metrics.ProviderOpResults.WithLabelValues(name, op, strconv.FormatBool(ok)).Inc()
	}
	return ok
}

// ValidateURL checks that u is an absolute http(s) URL with a host.
// Errors wrap pagecache.ErrInvalidArgument.
func ValidateURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("%w: url %q: %v", pagecache.ErrInvalidArgument, u, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url %q: scheme must be http or https", pagecache.ErrInvalidArgument, u)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url %q: missing host", pagecache.ErrInvalidArgument, u)
	}
	return nil
}
