package testutil

import (
	"context"
	"net/http"

	pagecache "github.com/eugener/cachemgr/internal"
)

// FakeAuth always authenticates successfully. The zero value is an admin;
// set Role to test narrower permissions.
type FakeAuth struct {
	Role string
}

// Authenticate returns a test identity for the configured role.
func (a FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*pagecache.Identity, error) {
	role := a.Role
	if role == "" {
		role = "admin"
	}
	return &pagecache.Identity{
		Subject: "test",
		TokenID: "tok-test",
		Role:    role,
		Perms:   pagecache.RolePermissions[role],
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*pagecache.Identity, error) {
	return nil, pagecache.ErrUnauthorized
}
