// Package sqlite implements the storage interfaces using SQLite via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/eugener/cachemgr/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store. Writes are funnelled through a single
// connection; reads use a separate pool.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the database at dsn (a file path or ":memory:"), applies
// pending migrations and returns a Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	// Shared cache lets both pools see one in-memory database.
	fullDSN := "file:" + dsn + "?" + pragmas
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := migrate(ctx, write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		slog.Debug("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Ping verifies database connectivity by pinging the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both database handles.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
