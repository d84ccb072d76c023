package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/storage"
)

// TokenInvalidator drops cached credentials of a token.
type TokenInvalidator interface {
	InvalidateByTokenID(id string)
}

// TokenManager handles admin token lifecycle.
type TokenManager struct {
	store      storage.TokenStore
	invalidate TokenInvalidator // may be nil
}

// NewTokenManager returns a TokenManager backed by store. inv, when non-nil,
// is told about every token that is blocked or deleted.
func NewTokenManager(store storage.TokenStore, inv TokenInvalidator) *TokenManager {
	return &TokenManager{store: store, invalidate: inv}
}

// CreateTokenOpts holds all fields for token creation.
type CreateTokenOpts struct {
	Name     string
	Role     string
	RPMLimit *int64
}

// CreateToken generates a new token, stores its hash and returns the
// plaintext (shown once) along with the persisted record.
func (tm *TokenManager) CreateToken(ctx context.Context, opts CreateTokenOpts) (string, *pagecache.Token, error) {
	role := opts.Role
	if role == "" {
		role = "viewer"
	}
	if _, ok := pagecache.RolePermissions[role]; !ok {
		return "", nil, fmt.Errorf("%w: unknown role %q", pagecache.ErrBadRequest, role)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := pagecache.TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	prefix := plaintext
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}

	tok := &pagecache.Token{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        opts.Name,
		TokenHash:   pagecache.HashKey(plaintext),
		TokenPrefix: prefix,
		Role:        role,
		RPMLimit:    opts.RPMLimit,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tm.store.CreateToken(ctx, tok); err != nil {
		return "", nil, err
	}
	return plaintext, tok, nil
}

// SetBlocked blocks or unblocks the token with the given ID.
func (tm *TokenManager) SetBlocked(ctx context.Context, id string, blocked bool) (*pagecache.Token, error) {
	tok, err := tm.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}
	tok.Blocked = blocked
	if err := tm.store.UpdateToken(ctx, tok); err != nil {
		return nil, err
	}
	tm.drop(id)
	return tok, nil
}

// DeleteToken removes the token with the given ID.
func (tm *TokenManager) DeleteToken(ctx context.Context, id string) error {
	if err := tm.store.DeleteToken(ctx, id); err != nil {
		return err
	}
	tm.drop(id)
	return nil
}

// ListTokens returns a page of tokens.
func (tm *TokenManager) ListTokens(ctx context.Context, offset, limit int) ([]*pagecache.Token, error) {
	return tm.store.ListTokens(ctx, offset, limit)
}

func (tm *TokenManager) drop(id string) {
	if tm.invalidate != nil {
		tm.invalidate.InvalidateByTokenID(id)
	}
}
