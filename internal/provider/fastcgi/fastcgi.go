// Package fastcgi implements a cache provider backed by the on-disk Nginx
// FastCGI cache directory.
package fastcgi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/locator"
	"github.com/eugener/cachemgr/internal/urlnorm"
)

// Provider checks, deletes and flushes cache files under a single root.
// Mutations are not serialized; concurrent deletes of one file are harmless.
type Provider struct {
	dir string
	loc *locator.Locator
}

var (
	_ pagecache.Checker   = (*Provider)(nil)
	_ pagecache.Deleter   = (*Provider)(nil)
	_ pagecache.Flusher   = (*Provider)(nil)
	_ pagecache.Inspector = (*Provider)(nil)
)

// New returns a Provider rooted at dir. It fails with
// pagecache.ErrDirectoryNotWritable when dir is missing, is not a directory
// or cannot be written by this process.
func New(dir string, loc *locator.Locator) (*Provider, error) {
	if loc == nil {
		return nil, fmt.Errorf("fastcgi: locator is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pagecache.ErrDirectoryNotWritable, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pagecache.ErrDirectoryNotWritable, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s: not a directory", pagecache.ErrDirectoryNotWritable, abs)
	}
	if err := unix.Access(abs, unix.W_OK); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pagecache.ErrDirectoryNotWritable, abs, err)
	}
	return &Provider{dir: abs, loc: loc}, nil
}

// Name returns "fastcgi".
func (p *Provider) Name() string { return "fastcgi" }

// Dir returns the absolute cache root.
func (p *Provider) Dir() string { return p.dir }

// Path returns the cache file path for u.
func (p *Provider) Path(u string) (string, error) {
	key, err := urlnorm.Key(pagecache.NormalizedURL(u))
	if err != nil {
		return "", err
	}
	return p.loc.Locate(key, p.dir), nil
}

// Exists reports whether a cache file for u is present.
func (p *Provider) Exists(_ context.Context, u string) bool {
	_, ok := p.stat(u)
	return ok
}

// Writable reports whether the cache file for u exists and may be removed.
func (p *Provider) Writable(_ context.Context, u string) bool {
	path, err := p.Path(u)
	if err != nil {
		return false
	}
	return writable(path)
}

// Delete removes the cache file for u. It returns false when the file is
// absent or not writable.
func (p *Provider) Delete(_ context.Context, u string) bool {
	path, err := p.Path(u)
	if err != nil {
		return false
	}
	if !writable(path) {
		return false
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("fastcgi: remove failed", "path", path, "error", err)
		}
		return false
	}
	return true
}

// Flush removes every writable regular file below the root and reports
// whether at least one was removed. Directories are left in place.
func (p *Provider) Flush(ctx context.Context) bool {
	removed := 0
	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: skip it, keep flushing the rest.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() || !writable(path) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("fastcgi: flush remove failed", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		slog.Warn("fastcgi: flush interrupted", "dir", p.dir, "removed", removed, "error", err)
	}
	return removed > 0
}

// Inspect returns size and modification time of the cache file for u.
func (p *Provider) Inspect(_ context.Context, u string) (pagecache.EntryInfo, bool) {
	path, err := p.Path(u)
	if err != nil {
		return pagecache.EntryInfo{}, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return pagecache.EntryInfo{}, false
	}
	return pagecache.EntryInfo{Path: path, Size: info.Size(), ModTime: info.ModTime()}, true
}

func (p *Provider) stat(u string) (fs.FileInfo, bool) {
	path, err := p.Path(u)
	if err != nil {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	return info, true
}

func writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
