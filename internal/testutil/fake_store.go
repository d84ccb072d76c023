package testutil

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu      sync.RWMutex
	tokens  map[string]*pagecache.Token
	content map[int64]*pagecache.Content
	types   map[string]*pagecache.ContentType
	purges  []pagecache.PurgeEvent
	PingErr error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		tokens:  make(map[string]*pagecache.Token),
		content: make(map[int64]*pagecache.Content),
		types:   make(map[string]*pagecache.ContentType),
	}
}

// --- TokenStore ---

// CreateToken stores a token.
func (s *FakeStore) CreateToken(_ context.Context, tok *pagecache.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.TokenHash == tok.TokenHash {
			return pagecache.ErrConflict
		}
	}
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

// GetToken looks up a token by ID.
func (s *FakeStore) GetToken(_ context.Context, id string) (*pagecache.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, pagecache.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetTokenByHash looks up a token by hash.
func (s *FakeStore) GetTokenByHash(_ context.Context, hash string) (*pagecache.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, pagecache.ErrNotFound
}

// ListTokens returns tokens ordered by ID.
func (s *FakeStore) ListTokens(_ context.Context, offset, limit int) ([]*pagecache.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pagecache.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, offset, limit), nil
}

// UpdateToken replaces a stored token.
func (s *FakeStore) UpdateToken(_ context.Context, tok *pagecache.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tok.ID]; !ok {
		return pagecache.ErrNotFound
	}
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

// DeleteToken removes a token.
func (s *FakeStore) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return pagecache.ErrNotFound
	}
	delete(s.tokens, id)
	return nil
}

// TouchTokenUsed stamps the token's last-used time.
func (s *FakeStore) TouchTokenUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return pagecache.ErrNotFound
	}
	now := time.Now().UTC()
	t.LastUsedAt = &now
	return nil
}

// --- ContentStore ---

// GetContent looks up content by ID.
func (s *FakeStore) GetContent(_ context.Context, id int64) (*pagecache.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.content[id]
	if !ok {
		return nil, pagecache.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// PutContent stores content.
func (s *FakeStore) PutContent(_ context.Context, c *pagecache.Content) error {
	s.mu.Lock()
	cp := *c
	s.content[c.ID] = &cp
	s.mu.Unlock()
	return nil
}

// DeleteContent removes content.
func (s *FakeStore) DeleteContent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.content[id]; !ok {
		return pagecache.ErrNotFound
	}
	delete(s.content, id)
	return nil
}

// GetContentType looks up a content type.
func (s *FakeStore) GetContentType(_ context.Context, name string) (*pagecache.ContentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.types[name]
	if !ok {
		return nil, pagecache.ErrNotFound
	}
	cp := *ct
	return &cp, nil
}

// PutContentType stores a content type.
func (s *FakeStore) PutContentType(_ context.Context, ct *pagecache.ContentType) error {
	s.mu.Lock()
	cp := *ct
	s.types[ct.Name] = &cp
	s.mu.Unlock()
	return nil
}

// ListContentTypes returns content types ordered by name.
func (s *FakeStore) ListContentTypes(context.Context) ([]*pagecache.ContentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pagecache.ContentType, 0, len(s.types))
	for _, ct := range s.types {
		cp := *ct
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- PurgeLogStore ---

// InsertPurges appends events.
func (s *FakeStore) InsertPurges(_ context.Context, events []pagecache.PurgeEvent) error {
	s.mu.Lock()
	s.purges = append(s.purges, events...)
	s.mu.Unlock()
	return nil
}

// ListPurges returns matching events, newest first.
func (s *FakeStore) ListPurges(_ context.Context, f pagecache.PurgeFilter) ([]pagecache.PurgeEvent, error) {
	out := s.matching(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, f.Offset, limit), nil
}

// CountPurges returns the number of matching events.
func (s *FakeStore) CountPurges(_ context.Context, f pagecache.PurgeFilter) (int, error) {
	return len(s.matching(f)), nil
}

// Purges returns every stored event in insertion order.
func (s *FakeStore) Purges() []pagecache.PurgeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.purges)
}

func (s *FakeStore) matching(f pagecache.PurgeFilter) []pagecache.PurgeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pagecache.PurgeEvent
	for i := len(s.purges) - 1; i >= 0; i-- {
		e := s.purges[i]
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Trigger != "" && e.Trigger != f.Trigger {
			continue
		}
		if f.URL != "" && e.URL != f.URL {
			continue
		}
		if f.Subject != "" && e.Subject != f.Subject {
			continue
		}
		if f.Since != "" && e.CreatedAt.UTC().Format(time.RFC3339) < f.Since {
			continue
		}
		if f.SuccessOnly && !e.Success {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Ping returns PingErr.
func (s *FakeStore) Ping(context.Context) error { return s.PingErr }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
