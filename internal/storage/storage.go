// Package storage defines persistence interfaces for cachemgr.
package storage

import (
	"context"

	pagecache "github.com/eugener/cachemgr/internal"
)

// TokenStore manages admin token persistence.
type TokenStore interface {
	CreateToken(ctx context.Context, tok *pagecache.Token) error
	GetToken(ctx context.Context, id string) (*pagecache.Token, error)
	GetTokenByHash(ctx context.Context, hash string) (*pagecache.Token, error)
	ListTokens(ctx context.Context, offset, limit int) ([]*pagecache.Token, error)
	UpdateToken(ctx context.Context, tok *pagecache.Token) error
	DeleteToken(ctx context.Context, id string) error
	TouchTokenUsed(ctx context.Context, id string) error
}

// ContentStore manages the content catalog used to resolve permalinks.
type ContentStore interface {
	GetContent(ctx context.Context, id int64) (*pagecache.Content, error)
	PutContent(ctx context.Context, c *pagecache.Content) error
	DeleteContent(ctx context.Context, id int64) error
	GetContentType(ctx context.Context, name string) (*pagecache.ContentType, error)
	PutContentType(ctx context.Context, ct *pagecache.ContentType) error
	ListContentTypes(ctx context.Context) ([]*pagecache.ContentType, error)
}

// PurgeLogStore manages the cache operation audit log.
type PurgeLogStore interface {
	InsertPurges(ctx context.Context, events []pagecache.PurgeEvent) error
	ListPurges(ctx context.Context, f pagecache.PurgeFilter) ([]pagecache.PurgeEvent, error)
	CountPurges(ctx context.Context, f pagecache.PurgeFilter) (int, error)
}

// Store combines all storage interfaces.
type Store interface {
	TokenStore
	ContentStore
	PurgeLogStore
	Ping(ctx context.Context) error
	Close() error
}
