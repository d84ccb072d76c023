package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/storage"
)

// Bootstrap seeds the database from the config file. Existing rows are left
// untouched so edits made through the API survive restarts.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, ct := range cfg.ContentTypes {
		if _, err := store.GetContentType(ctx, ct.Name); err == nil {
			continue
		} else if !errors.Is(err, pagecache.ErrNotFound) {
			return err
		}
		if err := store.PutContentType(ctx, &pagecache.ContentType{Name: ct.Name, Public: ct.Public}); err != nil {
			return err
		}
		slog.Info("bootstrapped content type", "name", ct.Name, "public", ct.Public)
	}

	tokens := cfg.Tokens
	if cfg.Auth.AdminToken != "" {
		tokens = append(tokens, TokenEntry{Name: "admin", Token: cfg.Auth.AdminToken, Role: "admin"})
	}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		hash := pagecache.HashKey(t.Token)

		existing, _ := store.GetTokenByHash(ctx, hash)
		if existing != nil {
			continue
		}

		prefix := t.Token
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}
		role := t.Role
		if role == "" {
			role = "viewer"
		}

		tok := &pagecache.Token{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Name:        t.Name,
			TokenHash:   hash,
			TokenPrefix: prefix,
			Role:        role,
			RPMLimit:    t.RPMLimit,
			CreatedAt:   time.Now().UTC(),
		}
		if err := store.CreateToken(ctx, tok); err != nil {
			return err
		}
		slog.Info("bootstrapped token", "name", t.Name, "prefix", prefix, "role", role)
	}

	return nil
}

// GenerateAdminToken creates a random admin token and returns the plaintext.
func GenerateAdminToken() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return pagecache.TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
