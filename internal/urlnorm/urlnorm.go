// Package urlnorm validates and canonicalizes page URLs into the
// scheme://host/path identity used to address cache entries.
package urlnorm

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/maypok86/otter/v2"

	pagecache "github.com/eugener/cachemgr/internal"
)

// forbiddenHostChars may never appear in a hostname. Ports are carried by
// url.URL.Host, so a colon here can only come from an IPv6 literal.
const forbiddenHostChars = ":#?[]"

// DefaultMemoSize bounds the raw URL -> NormalizedURL memo.
const DefaultMemoSize = 4096

// Normalizer turns raw URLs into NormalizedURLs for a single site.
// It is safe for concurrent use.
type Normalizer struct {
	homeScheme string
	homeHost   string // lower-cased host[:port]
	memo       *otter.Cache[string, pagecache.NormalizedURL]
}

// New returns a Normalizer for the site whose home URL is home
// (e.g. "https://example.com"). memoSize <= 0 selects DefaultMemoSize.
func New(home string, memoSize int) (*Normalizer, error) {
	u, err := url.Parse(strings.TrimSpace(home))
	if err != nil {
		return nil, fmt.Errorf("parse home url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("home url %q: scheme must be http or https", home)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("home url %q: host required", home)
	}
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := otter.New(&otter.Options[string, pagecache.NormalizedURL]{
		MaximumSize: memoSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create normalizer memo: %w", err)
	}
	return &Normalizer{
		homeScheme: scheme,
		homeHost:   strings.ToLower(u.Host),
		memo:       memo,
	}, nil
}

// HomeHost returns the configured home host (lower-cased, with port if any).
func (n *Normalizer) HomeHost() string { return n.homeHost }

// HomeScheme returns the scheme of the configured home URL.
func (n *Normalizer) HomeScheme() string { return n.homeScheme }

// Normalize validates raw and returns its canonical form. Errors wrap
// pagecache.ErrInvalidURL.
func (n *Normalizer) Normalize(raw string) (pagecache.NormalizedURL, error) {
	if cached, ok := n.memo.GetIfPresent(raw); ok {
		return cached, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", invalid(raw, "unparseable")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", invalid(raw, "scheme must be http or https")
	}
	if u.Host == "" {
		return "", invalid(raw, "missing host")
	}
	if u.User != nil {
		return "", invalid(raw, "userinfo not allowed")
	}
	if strings.ContainsAny(u.Hostname(), forbiddenHostChars) || strings.HasPrefix(u.Host, "[") {
		return "", invalid(raw, "forbidden character in host")
	}
	host := strings.ToLower(u.Host)
	if host != n.homeHost {
		return "", invalid(raw, "host does not match site")
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	normalized := pagecache.NormalizedURL(scheme + "://" + host + path)
	n.memo.Set(raw, normalized)
	return normalized, nil
}

// Home resolves a site-relative path (or an absolute URL) against the home
// URL and normalizes the result.
func (n *Normalizer) Home(path string) (pagecache.NormalizedURL, error) {
	path = strings.TrimSpace(path)
	if u, err := url.Parse(path); err == nil && u.Scheme != "" && u.Host != "" {
		return n.Normalize(path)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return n.Normalize(n.homeScheme + "://" + n.homeHost + path)
}

// Key derives the cache key of an already normalized URL.
func Key(u pagecache.NormalizedURL) (pagecache.CacheKey, error) {
	parsed, err := url.Parse(string(u))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return pagecache.CacheKey{}, fmt.Errorf("%w: %q", pagecache.ErrInvalidArgument, u)
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return pagecache.CacheKey{
		Scheme: parsed.Scheme,
		Method: pagecache.CacheMethod,
		Host:   parsed.Host,
		Path:   path,
	}, nil
}

func invalid(raw, reason string) error {
	return fmt.Errorf("%w: %s: %q", pagecache.ErrInvalidURL, reason, raw)
}
