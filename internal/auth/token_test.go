package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/testutil"
)

const testToken = "cmg_test_token_12345678901234567890"

func newTestAuth(t *testing.T) (*TokenAuth, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	auth, err := NewTokenAuth(store)
	if err != nil {
		t.Fatal(err)
	}
	return auth, store
}

func addToken(t *testing.T, store *testutil.FakeStore, raw string, tok *pagecache.Token) {
	t.Helper()
	tok.TokenHash = pagecache.HashKey(raw)
	if err := store.CreateToken(context.Background(), tok); err != nil {
		t.Fatal(err)
	}
}

func makeRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/cache/delete", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthenticate_ValidToken(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	rpm := int64(30)
	addToken(t, store, testToken, &pagecache.Token{
		ID:          "tok-1",
		TokenPrefix: "cmg_test_tok",
		Role:        "editor",
		RPMLimit:    &rpm,
	})

	id, err := auth.Authenticate(context.Background(), makeRequest(testToken))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Subject != "cmg_test_tok" {
		t.Errorf("Subject = %q, want cmg_test_tok", id.Subject)
	}
	if id.TokenID != "tok-1" {
		t.Errorf("TokenID = %q, want tok-1", id.TokenID)
	}
	if id.RPMLimit != 30 {
		t.Errorf("RPMLimit = %d, want 30", id.RPMLimit)
	}
	if !id.Can(pagecache.PermPurgePage) {
		t.Error("editor should have PermPurgePage")
	}
	if id.Can(pagecache.PermFlushAll) {
		t.Error("editor should not have PermFlushAll")
	}
}

func TestAuthenticate_CacheHit(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	addToken(t, store, testToken, &pagecache.Token{ID: "tok-1", TokenPrefix: "cmg_test_tok"})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testToken)); err != nil {
		t.Fatal(err)
	}

	// Remove from store -- second call should hit cache.
	if err := store.DeleteToken(context.Background(), "tok-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := auth.Authenticate(context.Background(), makeRequest(testToken)); err != nil {
		t.Fatalf("cache miss: %v", err)
	}
}

func TestAuthenticate_Invalidate(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	addToken(t, store, testToken, &pagecache.Token{ID: "tok-1", TokenPrefix: "cmg_test_tok"})
	if _, err := auth.Authenticate(context.Background(), makeRequest(testToken)); err != nil {
		t.Fatal(err)
	}

	store.DeleteToken(context.Background(), "tok-1")
	auth.InvalidateByTokenID("tok-1")

	_, err := auth.Authenticate(context.Background(), makeRequest(testToken))
	if !errors.Is(err, pagecache.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuth(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"foreign prefix", "Bearer sk-not-a-cachemgr-token"},
		{"unknown token", "Bearer cmg_unknown_token_does_not_exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			_, err := auth.Authenticate(context.Background(), r)
			if !errors.Is(err, pagecache.ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestAuthenticate_BlockedToken(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	addToken(t, store, testToken, &pagecache.Token{ID: "tok-blocked", TokenPrefix: "cmg_test_tok", Blocked: true})

	for range 2 { // second call is served from cache
		_, err := auth.Authenticate(context.Background(), makeRequest(testToken))
		if !errors.Is(err, pagecache.ErrTokenBlocked) {
			t.Errorf("err = %v, want ErrTokenBlocked", err)
		}
	}
}

func TestAuthenticate_TouchTokenUsed(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	addToken(t, store, testToken, &pagecache.Token{ID: "tok-touch", TokenPrefix: "cmg_test_tok"})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testToken)); err != nil {
		t.Fatal(err)
	}

	// TouchTokenUsed runs in a goroutine; give it a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		tok, err := store.GetToken(context.Background(), "tok-touch")
		if err == nil && tok.LastUsedAt != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("last_used_at was not updated")
}

func TestBuildIdentity_DefaultRole(t *testing.T) {
	t.Parallel()

	id := buildIdentity(&pagecache.Token{TokenPrefix: "cmg_empty_role"})
	if id.Role != "viewer" {
		t.Errorf("Role = %q, want viewer", id.Role)
	}
	if id.Perms != pagecache.RolePermissions["viewer"] {
		t.Errorf("Perms = %v, want viewer perms", id.Perms)
	}
	if id.Can(pagecache.PermPurgePage) {
		t.Error("viewer should not purge")
	}
}

func TestBuildIdentity_Admin(t *testing.T) {
	t.Parallel()

	id := buildIdentity(&pagecache.Token{TokenPrefix: "cmg_admin", Role: "admin"})
	for _, p := range []pagecache.Permission{
		pagecache.PermViewCache, pagecache.PermPurgePage, pagecache.PermFlushAll,
		pagecache.PermManageContent, pagecache.PermViewAudit,
	} {
		if !id.Can(p) {
			t.Errorf("admin missing permission %d", p)
		}
	}
}
