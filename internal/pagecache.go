// Package pagecache defines domain types and interfaces for the cachemgr
// page-cache coordinator. This package has no project imports -- it is the
// dependency root.
package pagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// --- Capabilities ---

// Capability is a single cache operation a provider may support.
type Capability uint8

const (
	Checkable Capability = 1 << iota // Exists, Writable
	Creatable                        // Create
	Deletable                        // Delete
	Flushable                        // Flush
	Refreshable                      // Refresh
)

// AllCapabilities lists every capability in display order.
var AllCapabilities = []Capability{Checkable, Creatable, Deletable, Flushable, Refreshable}

var capabilityNames = map[Capability]string{
	Checkable:   "checkable",
	Creatable:   "creatable",
	Deletable:   "deletable",
	Flushable:   "flushable",
	Refreshable: "refreshable",
}

// String returns the lower-case capability name.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

// CapabilitySet is a bitmask of capabilities.
type CapabilitySet uint8

// Has reports whether every bit of c is present in the set.
func (s CapabilitySet) Has(c Capability) bool { return s&CapabilitySet(c) == CapabilitySet(c) }

// With returns the set with c added.
func (s CapabilitySet) With(c Capability) CapabilitySet { return s | CapabilitySet(c) }

// Union returns the combination of both sets.
func (s CapabilitySet) Union(o CapabilitySet) CapabilitySet { return s | o }

// List returns the names of all capabilities in the set.
func (s CapabilitySet) List() []string {
	out := make([]string, 0, len(AllCapabilities))
	for _, c := range AllCapabilities {
		if s.Has(c) {
			out = append(out, c.String())
		}
	}
	return out
}

// String renders the set as a comma separated list.
func (s CapabilitySet) String() string {
	return strings.Join(s.List(), ",")
}

// --- Provider ---

// Provider is the interface every cache backend implements. The operations a
// provider actually supports are expressed through the optional capability
// interfaces below and detected once, at registration, by type assertion.
type Provider interface {
	// Name returns the provider identifier (e.g., "signal", "fastcgi").
	Name() string
}

// Checker reports on the presence of a cached page.
type Checker interface {
	Exists(ctx context.Context, url string) bool
	Writable(ctx context.Context, url string) bool
}

// Creator populates the cache for a page.
type Creator interface {
	Create(ctx context.Context, url string) bool
}

// Deleter removes a cached page.
type Deleter interface {
	Delete(ctx context.Context, url string) bool
}

// Flusher removes every cached page.
type Flusher interface {
	Flush(ctx context.Context) bool
}

// Refresher purges and re-fetches a cached page.
type Refresher interface {
	Refresh(ctx context.Context, url string) bool
}

// Inspector is an optional interface for providers that can describe the
// stored entry of a page. It is not a capability and never gates actions.
type Inspector interface {
	Inspect(ctx context.Context, url string) (EntryInfo, bool)
}

// CapabilitiesOf returns the capabilities p supports.
func CapabilitiesOf(p Provider) CapabilitySet {
	var s CapabilitySet
	if _, ok := p.(Checker); ok {
		s = s.With(Checkable)
	}
	if _, ok := p.(Creator); ok {
		s = s.With(Creatable)
	}
	if _, ok := p.(Deleter); ok {
		s = s.With(Deletable)
	}
	if _, ok := p.(Flusher); ok {
		s = s.With(Flushable)
	}
	if _, ok := p.(Refresher); ok {
		s = s.With(Refreshable)
	}
	return s
}

// --- Cache identity ---

// CacheMethod is the only request method the origin cache stores.
const CacheMethod = "GET"

// NormalizedURL is the canonical scheme://host/path identity of a page.
type NormalizedURL string

// CacheKey is the tuple the external cache hashes to locate an entry.
type CacheKey struct {
	Scheme string
	Method string
	Host   string
	Path   string
}

// String returns the concatenated key the cache engine hashes
// (Nginx: $scheme$request_method$host$request_uri).
func (k CacheKey) String() string {
	return k.Scheme + k.Method + k.Host + k.Path
}

// EntryInfo describes a cached entry on disk.
type EntryInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Age returns how long ago the entry was written.
func (e EntryInfo) Age(now time.Time) time.Duration {
	if e.ModTime.IsZero() {
		return 0
	}
	return now.Sub(e.ModTime)
}

// --- Actions ---

// Action is an operator-triggered cache operation.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRefresh Action = "refresh"
	ActionDelete  Action = "delete"
	ActionFlush   Action = "flush"
)

// Actions lists the menu order of all actions.
var Actions = []Action{ActionCreate, ActionRefresh, ActionDelete, ActionFlush}

// ParseAction maps an action identifier to an Action. Both the bare name and
// the menu ID form ("cm-create", "cm-create-cache") are accepted.
func ParseAction(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "cm-")
	s = strings.TrimSuffix(s, "-cache")
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Capability returns the capability an action requires.
func (a Action) Capability() Capability {
	switch a {
	case ActionCreate:
		return Creatable
	case ActionRefresh:
		return Refreshable
	case ActionDelete:
		return Deletable
	case ActionFlush:
		return Flushable
	default:
		return 0
	}
}

// MenuID returns the menu entry identifier for the action.
func (a Action) MenuID() string { return "cm-" + string(a) + "-cache" }

// Title returns the human readable menu title.
func (a Action) Title() string {
	if a == "" {
		return ""
	}
	return strings.ToUpper(string(a[:1])) + string(a[1:]) + " Cache"
}

// --- Content lifecycle ---

// ContentStatus is the publication state of a piece of content.
type ContentStatus string

const (
	StatusPublish ContentStatus = "publish"
	StatusPrivate ContentStatus = "private"
	StatusDraft   ContentStatus = "draft"
	StatusPending ContentStatus = "pending"
	StatusFuture  ContentStatus = "future"
	StatusTrash   ContentStatus = "trash"
)

// IsPubliclyVisible reports whether content in this status may have a cached
// page. Private content is included because logged-in views still reach the
// cache key space.
func (s ContentStatus) IsPubliclyVisible() bool {
	return s == StatusPublish || s == StatusPrivate
}

// Valid reports whether s is a known status.
func (s ContentStatus) Valid() bool {
	switch s {
	case StatusPublish, StatusPrivate, StatusDraft, StatusPending, StatusFuture, StatusTrash:
		return true
	}
	return false
}

// Content is an editorial item with a public permalink.
type Content struct {
	ID        int64         `json:"id"`
	Type      string        `json:"type"`
	Permalink string        `json:"permalink"`
	Status    ContentStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ContentType describes whether items of a type are publicly viewable.
type ContentType struct {
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

// --- Audit ---

// Trigger identifies what caused a cache operation.
type Trigger string

const (
	TriggerAction    Trigger = "action"
	TriggerLifecycle Trigger = "lifecycle"
)

// PurgeEvent records a single coordinated cache operation.
type PurgeEvent struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	URL       string    `json:"url,omitempty"`
	Trigger   Trigger   `json:"trigger"`
	Success   bool      `json:"success"`
	Subject   string    `json:"subject,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PurgeFilter selects purge events. Zero fields match everything.
type PurgeFilter struct {
	Action  Action
	Trigger Trigger
	URL     string
	Subject string
	Since   string // RFC 3339, inclusive
	Until   string // RFC 3339, exclusive
	Offset  int
	Limit   int

	SuccessOnly bool // only operations that reported success
}

// --- Admin identity ---

// Token is an admin API token.
type Token struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	TokenHash   string     `json:"-"` // SHA-256 hex, never exposed
	TokenPrefix string     `json:"token_prefix"`
	Role        string     `json:"role"`
	RPMLimit    *int64     `json:"rpm_limit,omitempty"`
	Blocked     bool       `json:"blocked"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Permission is a bitmask representing authorization capabilities.
type Permission uint32

const (
	PermViewCache    Permission = 1 << iota // page binding, status, capabilities
	PermPurgePage                           // create, refresh, delete one page
	PermFlushAll                            // flush the whole cache
	PermManageContent                       // content catalog + lifecycle hooks
	PermViewAudit                           // purge log
	PermManageTokens                        // admin token lifecycle
)

// RolePermissions maps role names to their permission bitmasks.
var RolePermissions = map[string]Permission{
	"admin":  PermViewCache | PermPurgePage | PermFlushAll | PermManageContent | PermViewAudit | PermManageTokens,
	"editor": PermViewCache | PermPurgePage | PermManageContent,
	"hook":   PermManageContent,
	"viewer": PermViewCache | PermViewAudit,
}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Subject  string     `json:"subject"`
	TokenID  string     `json:"token_id"`
	Role     string     `json:"role"`
	Perms    Permission `json:"-"`
	RPMLimit int64      `json:"-"` // 0 = unlimited
}

// Can reports whether the identity has the given permission.
func (id *Identity) Can(p Permission) bool { return id.Perms&p == p }

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// TokenPrefix is the prefix for all cachemgr admin tokens.
const TokenPrefix = "cmg_"

// HashKey returns the hex-encoded SHA-256 hash of a raw token.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// Identity is filled in later by the authenticate middleware.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, otherwise it creates new metadata (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
