package pagecache

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestHashKey(t *testing.T) {
	t.Parallel()

	t.Run("known vector", func(t *testing.T) {
		t.Parallel()
		got := HashKey(TokenPrefix + "test")
		if len(got) != 64 {
			t.Fatalf("len = %d, want 64", len(got))
		}
		if got != HashKey("cmg_test") {
			t.Error("HashKey is not deterministic")
		}
	})

	t.Run("distinct inputs produce distinct hashes", func(t *testing.T) {
		t.Parallel()
		if HashKey("cmg_a") == HashKey("cmg_b") {
			t.Error("distinct inputs produced same hash")
		}
	})
}

func TestIdentity_Can(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		perms Permission
		check Permission
		want  bool
	}{
		{name: "exact match single", perms: PermViewCache, check: PermViewCache, want: true},
		{name: "superset", perms: PermViewCache | PermPurgePage, check: PermPurgePage, want: true},
		{name: "missing", perms: PermPurgePage, check: PermFlushAll, want: false},
		{name: "zero perms", perms: 0, check: PermViewCache, want: false},
		{name: "all perms", perms: ^Permission(0), check: PermManageTokens, want: true},
		{name: "multi-bit check partial", perms: PermPurgePage, check: PermPurgePage | PermFlushAll, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id := &Identity{Perms: tt.perms}
			if got := id.Can(tt.check); got != tt.want {
				t.Errorf("Can(%v) = %v, want %v (perms=%v)", tt.check, got, tt.want, tt.perms)
			}
		})
	}
}

func TestRolePermissions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		perms []Permission
		lacks []Permission
	}{
		{
			role:  "admin",
			perms: []Permission{PermViewCache, PermPurgePage, PermFlushAll, PermManageContent, PermViewAudit, PermManageTokens},
		},
		{
			role:  "editor",
			perms: []Permission{PermViewCache, PermPurgePage, PermManageContent},
			lacks: []Permission{PermFlushAll, PermViewAudit, PermManageTokens},
		},
		{
			role:  "hook",
			perms: []Permission{PermManageContent},
			lacks: []Permission{PermViewCache, PermPurgePage, PermFlushAll},
		},
		{
			role:  "viewer",
			perms: []Permission{PermViewCache, PermViewAudit},
			lacks: []Permission{PermPurgePage, PermManageContent, PermManageTokens},
		},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()
			id := &Identity{Perms: RolePermissions[tt.role]}
			for _, perm := range tt.perms {
				if !id.Can(perm) {
					t.Errorf("role %q: expected Can(%v) = true", tt.role, perm)
				}
			}
			for _, perm := range tt.lacks {
				if id.Can(perm) {
					t.Errorf("role %q: expected Can(%v) = false", tt.role, perm)
				}
			}
		})
	}
}

type checkOnly struct{}

func (checkOnly) Name() string { return "check" }
func (checkOnly) Exists(context.Context, string) bool { return true }
func (checkOnly) Writable(context.Context, string) bool { return true }
func (checkOnly) Delete(context.Context, string) bool { return true }

type signalOnly struct{}

func (signalOnly) Name() string { return "signal" }
func (signalOnly) Create(context.Context, string) bool { return true }
func (signalOnly) Refresh(context.Context, string) bool { return true }

type bare struct{}

func (bare) Name() string { return "bare" }

func TestCapabilitiesOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Provider
		want []string
	}{
		{name: "checker and deleter", p: checkOnly{}, want: []string{"checkable", "deletable"}},
		{name: "signal", p: signalOnly{}, want: []string{"creatable", "refreshable"}},
		{name: "nothing", p: bare{}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CapabilitiesOf(tt.p).List(); !slices.Equal(got, tt.want) {
				t.Errorf("CapabilitiesOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCapabilitySet(t *testing.T) {
	t.Parallel()

	var s CapabilitySet
	if s.Has(Checkable) {
		t.Error("zero set has Checkable")
	}
	s = s.With(Deletable)
	u := s.Union(CapabilitySet(0).With(Checkable).With(Flushable))
	if !u.Has(Checkable) || !u.Has(Deletable) || !u.Has(Flushable) {
		t.Errorf("union = %s, missing bits", u)
	}
	if u.Has(Creatable) {
		t.Error("union has Creatable")
	}
	if got := u.String(); got != "checkable,deletable,flushable" {
		t.Errorf("String() = %q", got)
	}
	if got := Capability(0x80).String(); got != "unknown" {
		t.Errorf("unknown capability String() = %q", got)
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Action
		ok   bool
	}{
		{in: "create", want: ActionCreate, ok: true},
		{in: "Refresh", want: ActionRefresh, ok: true},
		{in: "cm-delete-cache", want: ActionDelete, ok: true},
		{in: "cm-flush", want: ActionFlush, ok: true},
		{in: " delete ", want: ActionDelete, ok: true},
		{in: "purge", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseAction(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseAction(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action Action
		cap    Capability
		menuID string
		title  string
	}{
		{ActionCreate, Creatable, "cm-create-cache", "Create Cache"},
		{ActionRefresh, Refreshable, "cm-refresh-cache", "Refresh Cache"},
		{ActionDelete, Deletable, "cm-delete-cache", "Delete Cache"},
		{ActionFlush, Flushable, "cm-flush-cache", "Flush Cache"},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			t.Parallel()
			if got := tt.action.Capability(); got != tt.cap {
				t.Errorf("Capability() = %v, want %v", got, tt.cap)
			}
			if got := tt.action.MenuID(); got != tt.menuID {
				t.Errorf("MenuID() = %q, want %q", got, tt.menuID)
			}
			if got := tt.action.Title(); got != tt.title {
				t.Errorf("Title() = %q, want %q", got, tt.title)
			}
			// MenuID round-trips through ParseAction.
			if a, ok := ParseAction(tt.action.MenuID()); !ok || a != tt.action {
				t.Errorf("ParseAction(MenuID()) = %q, %v", a, ok)
			}
		})
	}

	if Action("bogus").Capability() != 0 {
		t.Error("unknown action should require no capability")
	}
	if Action("").Title() != "" {
		t.Error("empty action title should be empty")
	}
}

func TestContentStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  ContentStatus
		visible bool
		valid   bool
	}{
		{StatusPublish, true, true},
		{StatusPrivate, true, true},
		{StatusDraft, false, true},
		{StatusPending, false, true},
		{StatusFuture, false, true},
		{StatusTrash, false, true},
		{"inherit", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			if got := tt.status.IsPubliclyVisible(); got != tt.visible {
				t.Errorf("IsPubliclyVisible() = %v, want %v", got, tt.visible)
			}
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestCacheKey_String(t *testing.T) {
	t.Parallel()
	k := CacheKey{Scheme: "https", Method: CacheMethod, Host: "example.com", Path: "/foo"}
	if got := k.String(); got != "httpsGETexample.com/foo" {
		t.Errorf("String() = %q", got)
	}
}

func TestEntryInfo_Age(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := (EntryInfo{}).Age(now); got != 0 {
		t.Errorf("zero ModTime age = %v, want 0", got)
	}
	e := EntryInfo{ModTime: now.Add(-90 * time.Second)}
	if got := e.Age(now); got != 90*time.Second {
		t.Errorf("Age = %v, want 90s", got)
	}
}

func TestContextWithRequestID_RequestIDFromContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
	}{
		{name: "non-empty", id: "req-abc-123"},
		{name: "empty string", id: ""},
		{name: "uuid-like", id: "018f1b2c-3d4e-7a5b-8c9d-0e1f2a3b4c5d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := ContextWithRequestID(context.Background(), tt.id)
			if got := RequestIDFromContext(ctx); got != tt.id {
				t.Errorf("RequestIDFromContext = %q, want %q", got, tt.id)
			}
		})
	}

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		if got := RequestIDFromContext(context.Background()); got != "" {
			t.Errorf("RequestIDFromContext on bare ctx = %q, want empty", got)
		}
	})
}

func TestContextWithIdentity_IdentityFromContext(t *testing.T) {
	t.Parallel()

	t.Run("set on bare context", func(t *testing.T) {
		t.Parallel()
		id := &Identity{Subject: "ops", Role: "admin", Perms: RolePermissions["admin"]}
		ctx := ContextWithIdentity(context.Background(), id)
		if got := IdentityFromContext(ctx); got != id {
			t.Errorf("IdentityFromContext = %v, want %v", got, id)
		}
	})

	t.Run("mutates existing meta", func(t *testing.T) {
		t.Parallel()
		ctx := ContextWithRequestID(context.Background(), "req-xyz")
		id := &Identity{Subject: "hook", Role: "hook"}
		ctx2 := ContextWithIdentity(ctx, id)
		if ctx2 != ctx {
			t.Error("ContextWithIdentity should return same ctx when meta already present")
		}
		if got := IdentityFromContext(ctx2); got != id {
			t.Errorf("IdentityFromContext = %v, want %v", got, id)
		}
		if got := RequestIDFromContext(ctx2); got != "req-xyz" {
			t.Errorf("RequestIDFromContext after ContextWithIdentity = %q, want req-xyz", got)
		}
	})

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		if got := IdentityFromContext(context.Background()); got != nil {
			t.Errorf("IdentityFromContext on bare ctx = %v, want nil", got)
		}
	})
}
