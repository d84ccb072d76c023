package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/testutil"
)

type recordingInvalidator struct{ ids []string }

func (r *recordingInvalidator) InvalidateByTokenID(id string) { r.ids = append(r.ids, id) }

func TestCreateToken(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	tm := NewTokenManager(store, nil)

	plaintext, tok, err := tm.CreateToken(context.Background(), CreateTokenOpts{Name: "ci"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plaintext, pagecache.TokenPrefix) {
		t.Errorf("plaintext %q missing prefix", plaintext)
	}
	if tok.TokenHash != pagecache.HashKey(plaintext) {
		t.Error("stored hash does not match plaintext")
	}
	if tok.TokenPrefix != plaintext[:12] {
		t.Errorf("prefix = %q", tok.TokenPrefix)
	}
	if tok.Role != "viewer" {
		t.Errorf("role = %q, want viewer", tok.Role)
	}
	if _, err := store.GetTokenByHash(context.Background(), tok.TokenHash); err != nil {
		t.Errorf("token not persisted: %v", err)
	}
}

func TestCreateToken_UnknownRole(t *testing.T) {
	t.Parallel()

	tm := NewTokenManager(testutil.NewFakeStore(), nil)
	_, _, err := tm.CreateToken(context.Background(), CreateTokenOpts{Name: "x", Role: "root"})
	if !errors.Is(err, pagecache.ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
}

func TestSetBlockedAndDelete(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	inv := &recordingInvalidator{}
	tm := NewTokenManager(store, inv)
	ctx := context.Background()

	_, tok, err := tm.CreateToken(ctx, CreateTokenOpts{Name: "ci", Role: "editor"})
	if err != nil {
		t.Fatal(err)
	}

	blocked, err := tm.SetBlocked(ctx, tok.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if !blocked.Blocked {
		t.Error("token not blocked")
	}
	if err := tm.DeleteToken(ctx, tok.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetToken(ctx, tok.ID); !errors.Is(err, pagecache.ErrNotFound) {
		t.Errorf("token still present: %v", err)
	}
	if len(inv.ids) != 2 || inv.ids[0] != tok.ID {
		t.Errorf("invalidations = %v", inv.ids)
	}

	if err := tm.DeleteToken(ctx, "missing"); !errors.Is(err, pagecache.ErrNotFound) {
		t.Errorf("delete missing err = %v", err)
	}
}
