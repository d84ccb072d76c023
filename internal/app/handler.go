package app

import (
	"context"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/locator"
	"github.com/eugener/cachemgr/internal/provider"
)

// CacheHandler is the cache entry of one NormalizedURL. It is immutable.
type CacheHandler struct {
	url   pagecache.NormalizedURL
	key   pagecache.CacheKey
	cache *provider.MultiCache
}

// URL returns the normalized page URL.
func (h *CacheHandler) URL() pagecache.NormalizedURL { return h.url }

// Key returns the cache key derived from the URL.
func (h *CacheHandler) Key() pagecache.CacheKey { return h.key }

// CachePath returns the on-disk location of the entry under dir.
func (h *CacheHandler) CachePath(loc *locator.Locator, dir string) string {
	return loc.Locate(h.key, dir)
}

func (h *CacheHandler) Create(ctx context.Context) (bool, error) {
	return h.cache.Create(ctx, string(h.url))
}

func (h *CacheHandler) Delete(ctx context.Context) (bool, error) {
	return h.cache.Delete(ctx, string(h.url))
}

func (h *CacheHandler) Exists(ctx context.Context) (bool, error) {
	return h.cache.Exists(ctx, string(h.url))
}

func (h *CacheHandler) Writable(ctx context.Context) (bool, error) {
	return h.cache.Writable(ctx, string(h.url))
}

func (h *CacheHandler) Refresh(ctx context.Context) (bool, error) {
	return h.cache.Refresh(ctx, string(h.url))
}
