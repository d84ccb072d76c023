// Package auth implements admin token authentication for cachemgr.
// Tokens are validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second
	cacheMaxLen = 1_000
	defaultRole = "viewer"
)

// TokenAuth authenticates requests using bearer tokens with the "cmg_" prefix.
type TokenAuth struct {
	store         storage.TokenStore
	cache         *otter.Cache[string, *pagecache.Token]
	tokenIDToHash sync.Map // token ID -> hash for invalidation
}

// NewTokenAuth returns a TokenAuth backed by store.
func NewTokenAuth(store storage.TokenStore) (*TokenAuth, error) {
	c, err := otter.New(&otter.Options[string, *pagecache.Token]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *pagecache.Token](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &TokenAuth{store: store, cache: c}, nil
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates it against the store, and returns the caller's Identity.
func (a *TokenAuth) Authenticate(ctx context.Context, r *http.Request) (*pagecache.Identity, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" || !strings.HasPrefix(raw, pagecache.TokenPrefix) {
		return nil, pagecache.ErrUnauthorized
	}

	hash := pagecache.HashKey(raw)

	if tok, ok := a.cache.GetIfPresent(hash); ok {
		if tok.Blocked {
			return nil, pagecache.ErrTokenBlocked
		}
		return buildIdentity(tok), nil
	}

	tok, err := a.store.GetTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, pagecache.ErrNotFound) {
			return nil, pagecache.ErrUnauthorized
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(tok.TokenHash), []byte(hash)) != 1 {
		return nil, pagecache.ErrUnauthorized
	}

	a.cache.Set(hash, tok)
	a.tokenIDToHash.Store(tok.ID, hash)

	if tok.Blocked {
		return nil, pagecache.ErrTokenBlocked
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchTokenUsed(ctx, tok.ID) //nolint:errcheck
	}()

	return buildIdentity(tok), nil
}

// InvalidateByTokenID removes a cached token by its ID. Admin operations that
// block, update or delete a token call this so the change applies at once.
func (a *TokenAuth) InvalidateByTokenID(id string) {
	if hash, ok := a.tokenIDToHash.LoadAndDelete(id); ok {
		a.cache.Invalidate(hash.(string))
	}
}

func buildIdentity(tok *pagecache.Token) *pagecache.Identity {
	role := tok.Role
	if role == "" {
		role = defaultRole
	}
	id := &pagecache.Identity{
		Subject: tok.TokenPrefix,
		TokenID: tok.ID,
		Role:    role,
		Perms:   pagecache.RolePermissions[role],
	}
	if tok.RPMLimit != nil {
		id.RPMLimit = *tok.RPMLimit
	}
	return id
}
