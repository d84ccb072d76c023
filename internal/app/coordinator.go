// Package app implements the cache coordinator: the application service that
// binds pages to cache handlers, performs operator actions and reacts to
// content lifecycle events.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/locator"
	"github.com/eugener/cachemgr/internal/provider"
	"github.com/eugener/cachemgr/internal/storage"
	"github.com/eugener/cachemgr/internal/telemetry"
	"github.com/eugener/cachemgr/internal/urlnorm"
)

// DefaultCacheValid mirrors fastcgi_cache_valid 60m.
const DefaultCacheValid = 60 * time.Minute

// DefaultHandlerCacheSize bounds how many CacheHandlers stay resident.
const DefaultHandlerCacheSize = 4096

// State is the coordinator lifecycle state.
type State int32

const (
	Uninitialized State = iota
	ProvidersRegistered
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ProvidersRegistered:
		return "providers_registered"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// PurgeRecorder receives audit events for performed cache operations.
type PurgeRecorder interface {
	Record(e pagecache.PurgeEvent)
}

// CoordinatorDeps holds the collaborators of a Coordinator. Cache and
// Normalizer are required; the rest may be nil.
type CoordinatorDeps struct {
	Cache      *provider.MultiCache
	Normalizer *urlnorm.Normalizer
	Locator    *locator.Locator
	CacheDir   string
	CacheValid time.Duration
	Content    storage.ContentStore
	Recorder   PurgeRecorder
	Metrics    *telemetry.Metrics

	// HandlerCacheSize <= 0 selects DefaultHandlerCacheSize.
	HandlerCacheSize int
}

// Coordinator maps page URLs to cache handlers and drives the MultiCache.
// It is safe for concurrent use.
type Coordinator struct {
	cache      *provider.MultiCache
	norm       *urlnorm.Normalizer
	locator    *locator.Locator
	cacheDir   string
	cacheValid time.Duration
	content    storage.ContentStore
	recorder   PurgeRecorder
	metrics    *telemetry.Metrics

	state atomic.Int32

	mu       sync.Mutex
	handlers *otter.Cache[pagecache.NormalizedURL, *CacheHandler]
}

// NewCoordinator returns a Coordinator in the Uninitialized state. Providers
// already registered on deps.Cache move it straight to ProvidersRegistered.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	valid := deps.CacheValid
	if valid <= 0 {
		valid = DefaultCacheValid
	}
	size := deps.HandlerCacheSize
	if size <= 0 {
		size = DefaultHandlerCacheSize
	}
	handlers := otter.Must(&otter.Options[pagecache.NormalizedURL, *CacheHandler]{
		MaximumSize: size,
	})
	c := &Coordinator{
		cache:      deps.Cache,
		norm:       deps.Normalizer,
		locator:    deps.Locator,
		cacheDir:   deps.CacheDir,
		cacheValid: valid,
		content:    deps.Content,
		recorder:   deps.Recorder,
		metrics:    deps.Metrics,
		handlers:   handlers,
	}
	if c.cache.Len() > 0 {
		c.state.Store(int32(ProvidersRegistered))
	}
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Cache returns the underlying MultiCache.
func (c *Coordinator) Cache() *provider.MultiCache { return c.cache }

// AddProvider registers p with the MultiCache.
func (c *Coordinator) AddProvider(p pagecache.Provider) bool {
	if !c.cache.AddProvider(p) {
		return false
	}
	c.state.CompareAndSwap(int32(Uninitialized), int32(ProvidersRegistered))
	slog.Info("cache provider registered",
		"provider", p.Name(),
		"capabilities", pagecache.CapabilitiesOf(p).String(),
	)
	return true
}

func (c *Coordinator) requireProviders() error {
	if c.State() == Uninitialized {
		return pagecache.ErrNotReady
	}
	return nil
}

// Handler returns the CacheHandler of raw. Raw URLs that normalize to the
// same NormalizedURL share one handler while it stays in the handler cache.
func (c *Coordinator) Handler(raw string) (*CacheHandler, error) {
	u, err := c.norm.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return c.handlerFor(u)
}

func (c *Coordinator) handlerFor(u pagecache.NormalizedURL) (*CacheHandler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handlers.GetIfPresent(u); ok {
		return h, nil
	}
	key, err := urlnorm.Key(u)
	if err != nil {
		return nil, err
	}
	h := &CacheHandler{url: u, key: key, cache: c.cache}
	c.handlers.Set(u, h)
	return h, nil
}

// Perform runs an operator action. path is resolved against the home URL;
// flush ignores it.
func (c *Coordinator) Perform(ctx context.Context, action pagecache.Action, path string) (bool, error) {
	if err := c.requireProviders(); err != nil {
		return false, err
	}
	if action.Capability() == 0 {
		return false, fmt.Errorf("%w: unknown action %q", pagecache.ErrInvalidArgument, action)
	}
	if !c.cache.Has(action.Capability()) {
		return false, nil
	}

	if action == pagecache.ActionFlush {
		ok, err := c.cache.Flush(ctx)
		if err != nil {
			return false, err
		}
		c.record(ctx, action, "", pagecache.TriggerAction, ok)
		return ok, nil
	}

	if path == "" {
		return false, fmt.Errorf("%w: path required", pagecache.ErrInvalidArgument)
	}
	u, err := c.norm.Home(path)
	if err != nil {
		return false, err
	}
	h, err := c.handlerFor(u)
	if err != nil {
		return false, err
	}

	var ok bool
	switch action {
	case pagecache.ActionCreate:
		ok, err = h.Create(ctx)
	case pagecache.ActionRefresh:
		ok, err = h.Refresh(ctx)
	case pagecache.ActionDelete:
		ok, err = h.Delete(ctx)
	}
	if err != nil {
		return false, err
	}
	c.record(ctx, action, string(u), pagecache.TriggerAction, ok)
	return ok, nil
}

// ContentRef identifies the content a lifecycle event is about. Permalink
// wins over ID when both are set.
type ContentRef struct {
	ID        int64
	Permalink string
}

// OnContentTransition invalidates the cached page of ref when its status
// leaves a publicly visible state (publish or private). Every other
// transition, first publication included, is a no-op. When it fires it
// issues exactly one Delete.
func (c *Coordinator) OnContentTransition(ctx context.Context, newStatus, oldStatus pagecache.ContentStatus, ref ContentRef) (bool, error) {
	if err := c.requireProviders(); err != nil {
		return false, err
	}
	if !oldStatus.IsPubliclyVisible() {
		return false, nil
	}
	if !c.cache.Has(pagecache.Deletable) {
		return false, nil
	}

	permalink := ref.Permalink
	if permalink == "" {
		if c.content == nil || ref.ID <= 0 {
			return false, fmt.Errorf("%w: content reference has no permalink", pagecache.ErrInvalidArgument)
		}
		item, err := c.content.GetContent(ctx, ref.ID)
		if err != nil {
			return false, fmt.Errorf("resolve content %d: %w", ref.ID, err)
		}
		permalink = item.Permalink
	}

	u, err := c.norm.Home(permalink)
	if err != nil {
		return false, err
	}
	h, err := c.handlerFor(u)
	if err != nil {
		return false, err
	}
	ok, err := h.Delete(ctx)
	if err != nil {
		return false, err
	}

	slog.LogAttrs(ctx, slog.LevelInfo, "content transition invalidated page",
		slog.String("url", string(u)),
		slog.String("old_status", string(oldStatus)),
		slog.String("new_status", string(newStatus)),
		slog.Bool("deleted", ok),
	)
	c.record(ctx, pagecache.ActionDelete, string(u), pagecache.TriggerLifecycle, ok)
	return ok, nil
}

// SaveContent upserts item and fires the lifecycle transition from its
// previously stored status. The permalink stored before the update is the one
// invalidated, so a changed slug purges the page that was actually cached.
func (c *Coordinator) SaveContent(ctx context.Context, item *pagecache.Content) (invalidated bool, err error) {
	if c.content == nil {
		return false, fmt.Errorf("%w: no content store", pagecache.ErrNotReady)
	}
	prev, err := c.content.GetContent(ctx, item.ID)
	if err != nil && !isNotFound(err) {
		return false, err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	if err := c.content.PutContent(ctx, item); err != nil {
		return false, err
	}
	if prev == nil || c.State() == Uninitialized {
		return false, nil
	}
	return c.OnContentTransition(ctx, item.Status, prev.Status, ContentRef{ID: prev.ID, Permalink: prev.Permalink})
}

func (c *Coordinator) record(ctx context.Context, action pagecache.Action, u string, trigger pagecache.Trigger, ok bool) {
	if c.metrics != nil {
		c.metrics.CacheOpsTotal.WithLabelValues(string(action), string(trigger), strconv.FormatBool(ok)).Inc()
	}
	if c.recorder == nil {
		return
	}
	e := pagecache.PurgeEvent{
		Action:    action,
		URL:       u,
		Trigger:   trigger,
		Success:   ok,
		RequestID: pagecache.RequestIDFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if id := pagecache.IdentityFromContext(ctx); id != nil {
		e.Subject = id.Subject
	}
	c.recorder.Record(e)
}
