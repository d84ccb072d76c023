package app

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
)

// editScreen is the admin screen whose content ID identifies a page.
const editScreen = "post.php"

// PageRequest describes the page an operator is looking at.
type PageRequest struct {
	// Path is an explicit site-relative path; when set it wins.
	Path string
	// Screen is the admin screen name; empty means a public page.
	Screen    string
	Action    string
	ContentID int64
	// URL is the public page address; scheme may be omitted.
	URL string
	// Secure reports whether the page was served over TLS. It fills in a
	// missing scheme.
	Secure bool
}

// MenuItem is one action entry exposed for a bound page.
type MenuItem struct {
	ID     string           `json:"id"`
	Title  string           `json:"title"`
	Action pagecache.Action `json:"action"`
	Path   string           `json:"path,omitempty"`
}

// Page is a page bound to its cache handler.
type Page struct {
	URL     pagecache.NormalizedURL `json:"url,omitempty"`
	State   string                  `json:"state"`
	Actions []MenuItem              `json:"actions"`
	Handler *CacheHandler           `json:"-"`
}

// Bind resolves the current page of req, binds its CacheHandler and exposes
// the actions the registered providers can perform on it. Flush needs no page
// and is offered whenever a provider can flush.
func (c *Coordinator) Bind(ctx context.Context, req PageRequest) (*Page, error) {
	if err := c.requireProviders(); err != nil {
		return nil, err
	}

	page := &Page{Actions: []MenuItem{}}
	u, ok := c.ResolveCurrentURL(ctx, req)
	var path string
	if ok {
		h, err := c.handlerFor(u)
		if err != nil {
			return nil, err
		}
		page.URL = u
		page.Handler = h
		path = h.Key().Path
	}

	for _, a := range pagecache.Actions {
		if !c.cache.Has(a.Capability()) {
			continue
		}
		item := MenuItem{ID: a.MenuID(), Title: a.Title(), Action: a}
		if a != pagecache.ActionFlush {
			if !ok {
				continue
			}
			item.Path = path
		}
		page.Actions = append(page.Actions, item)
	}

	c.state.CompareAndSwap(int32(ProvidersRegistered), int32(Ready))
	page.State = c.State().String()
	return page, nil
}

// ResolveCurrentURL derives the page URL of req. An explicit path wins. On the
// admin edit screen the content ID is resolved to its permalink, provided the
// content type is public. Otherwise the public page URL is used.
func (c *Coordinator) ResolveCurrentURL(ctx context.Context, req PageRequest) (pagecache.NormalizedURL, bool) {
	if req.Path != "" {
		u, err := c.norm.Home(req.Path)
		return u, err == nil
	}
	if req.Screen != "" {
		return c.resolveAdmin(ctx, req)
	}
	if req.URL == "" {
		return "", false
	}

	raw := req.URL
	if !strings.Contains(raw, "://") {
		scheme := "http"
		if req.Secure {
			scheme = "https"
		}
		raw = scheme + "://" + strings.TrimPrefix(raw, "//")
	}
	u, err := c.norm.Normalize(raw)
	if err != nil {
		return "", false
	}
	return u, true
}

func (c *Coordinator) resolveAdmin(ctx context.Context, req PageRequest) (pagecache.NormalizedURL, bool) {
	if req.Screen != editScreen || req.Action != "edit" || req.ContentID <= 0 || c.content == nil {
		return "", false
	}
	item, err := c.content.GetContent(ctx, req.ContentID)
	if err != nil {
		if !isNotFound(err) {
			slog.Warn("content lookup failed", "content_id", req.ContentID, "error", err)
		}
		return "", false
	}
	ct, err := c.content.GetContentType(ctx, item.Type)
	if err != nil || !ct.Public {
		return "", false
	}

	path := "/"
	if p, err := url.Parse(item.Permalink); err == nil && p.EscapedPath() != "" {
		path = p.EscapedPath()
	}
	u, err := c.norm.Home(path)
	return u, err == nil
}

// CacheStatus reports the state of one page's cache entry.
type CacheStatus struct {
	URL      pagecache.NormalizedURL `json:"url"`
	Key      string                  `json:"key"`
	Path     string                  `json:"path,omitempty"`
	Exists   bool                    `json:"exists"`
	Writable bool                    `json:"writable"`
	Size     int64                   `json:"size,omitempty"`
	ModTime  *time.Time              `json:"mod_time,omitempty"`
	Age      string                  `json:"age,omitempty"`
	Expired  bool                    `json:"expired"`
}

// Status inspects the cache entry of raw. Expired reports whether the entry
// is older than the configured cache validity.
func (c *Coordinator) Status(ctx context.Context, raw string) (*CacheStatus, error) {
	if err := c.requireProviders(); err != nil {
		return nil, err
	}
	h, err := c.Handler(raw)
	if err != nil {
		return nil, err
	}

	st := &CacheStatus{URL: h.URL(), Key: h.Key().String()}
	if c.locator != nil && c.cacheDir != "" {
		st.Path = h.CachePath(c.locator, c.cacheDir)
	}
	if st.Exists, err = h.Exists(ctx); err != nil {
		return nil, err
	}
	if st.Writable, err = h.Writable(ctx); err != nil {
		return nil, err
	}

	info, found, err := c.cache.Inspect(ctx, string(h.URL()))
	if err != nil {
		return nil, err
	}
	if found && !info.ModTime.IsZero() {
		now := time.Now()
		mt := info.ModTime
		st.ModTime = &mt
		st.Size = info.Size
		st.Age = info.Age(now).Truncate(time.Second).String()
		st.Expired = mt.Add(c.cacheValid).Before(now)
	}
	return st, nil
}

func isNotFound(err error) bool { return errors.Is(err, pagecache.ErrNotFound) }
