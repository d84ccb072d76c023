package pagecache

import "errors"

// Sentinel errors for the page cache domain.
var (
	ErrInvalidURL           = errors.New("invalid url")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrDirectoryNotWritable = errors.New("directory not writable")
	ErrNotReady             = errors.New("coordinator not ready")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrRateLimited          = errors.New("rate limited")
	ErrBadRequest           = errors.New("bad request")
	ErrTokenBlocked         = errors.New("token blocked")
)
