// Package locator maps cache keys to the on-disk file the Nginx FastCGI
// cache stores them in.
//
// Nginx names each entry after the MD5 hex digest of its cache key and shards
// it into directories taken from the end of that digest, as configured by
// fastcgi_cache_path levels=. With levels=1:2 the key whose digest is
// "b8308c77c6f3e78b1fecd5beb442d7aa" lives at <root>/a/7a/b830...d7aa.
// The layout here must match the cache's configuration exactly or every
// existence check silently misses.
package locator

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maypok86/otter/v2"

	pagecache "github.com/eugener/cachemgr/internal"
)

// DefaultLevels mirrors "levels=1:2".
var DefaultLevels = []int{1, 2}

// DefaultMemoSize bounds the (key, dir) -> path memo.
const DefaultMemoSize = 4096

// ParseLevels parses an Nginx levels value such as "1:2".
// Nginx allows one to three levels of one or two characters each.
func ParseLevels(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]int(nil), DefaultLevels...), nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return nil, fmt.Errorf("levels %q: at most 3 levels", raw)
	}
	levels := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 2 {
			return nil, fmt.Errorf("levels %q: each level must be 1 or 2", raw)
		}
		levels = append(levels, n)
	}
	return levels, nil
}

// Locator derives cache file paths. It is safe for concurrent use.
type Locator struct {
	levels []int
	memo   *otter.Cache[string, string]
}

// New returns a Locator using the given shard levels (nil selects
// DefaultLevels). memoSize <= 0 selects DefaultMemoSize.
func New(levels []int, memoSize int) (*Locator, error) {
	if levels == nil {
		levels = DefaultLevels
	}
	for _, n := range levels {
		if n < 1 || n > 2 {
			return nil, fmt.Errorf("invalid level width %d", n)
		}
	}
	if len(levels) > 3 {
		return nil, fmt.Errorf("too many levels: %d", len(levels))
	}
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := otter.New(&otter.Options[string, string]{MaximumSize: memoSize})
	if err != nil {
		return nil, fmt.Errorf("create locator memo: %w", err)
	}
	return &Locator{levels: append([]int(nil), levels...), memo: memo}, nil
}

// Levels returns a copy of the configured shard levels.
func (l *Locator) Levels() []int { return append([]int(nil), l.levels...) }

// Locate returns the cache file path of key under dir.
func (l *Locator) Locate(key pagecache.CacheKey, dir string) string {
	// The memo is keyed on dir as well so a moved root never serves a stale path.
	memoKey := dir + "\x00" + key.String()
	if p, ok := l.memo.GetIfPresent(memoKey); ok {
		return p
	}
	p := l.locate(key, dir)
	l.memo.Set(memoKey, p)
	return p
}

func (l *Locator) locate(key pagecache.CacheKey, dir string) string {
	hash := Hash(key)

	elems := make([]string, 0, len(l.levels)+2)
	elems = append(elems, dir)
	end := len(hash)
	for _, width := range l.levels {
		elems = append(elems, hash[end-width:end])
		end -= width
	}
	elems = append(elems, hash)
	return filepath.Join(elems...)
}

// Hash returns the hex digest naming key's cache file.
func Hash(key pagecache.CacheKey) string {
	sum := md5.Sum([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}
