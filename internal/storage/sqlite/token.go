package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
)

const tokenColumns = `id, name, token_hash, token_prefix, role, rpm_limit, blocked, last_used_at, created_at`

// CreateToken inserts a new admin token.
func (s *Store) CreateToken(ctx context.Context, tok *pagecache.Token) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.Name, tok.TokenHash, tok.TokenPrefix, roleOrDefault(tok.Role),
		tok.RPMLimit, boolToInt(tok.Blocked), timeToStr(tok.LastUsedAt),
		tok.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetToken retrieves a token by ID.
func (s *Store) GetToken(ctx context.Context, id string) (*pagecache.Token, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, id)
	return scanToken(row)
}

// GetTokenByHash retrieves a token by the SHA-256 hash of its raw value.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*pagecache.Token, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE token_hash = ?`, hash)
	return scanToken(row)
}

// ListTokens returns tokens, newest first.
func (s *Store) ListTokens(ctx context.Context, offset, limit int) ([]*pagecache.Token, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pagecache.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// UpdateToken updates the mutable fields of a token.
func (s *Store) UpdateToken(ctx context.Context, tok *pagecache.Token) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE tokens SET name=?, role=?, rpm_limit=?, blocked=? WHERE id=?`,
		tok.Name, roleOrDefault(tok.Role), tok.RPMLimit, boolToInt(tok.Blocked), tok.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "token")
}

// DeleteToken removes a token.
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM tokens WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "token")
}

// TouchTokenUsed updates the last_used_at timestamp.
func (s *Store) TouchTokenUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE tokens SET last_used_at=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*pagecache.Token, error) {
	var t pagecache.Token
	var rpm sql.NullInt64
	var blocked int
	var lastUsedAt sql.NullString
	var createdAt string

	err := s.Scan(&t.ID, &t.Name, &t.TokenHash, &t.TokenPrefix, &t.Role,
		&rpm, &blocked, &lastUsedAt, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if rpm.Valid {
		v := rpm.Int64
		t.RPMLimit = &v
	}
	t.Blocked = blocked != 0
	t.LastUsedAt = parseTime(lastUsedAt)
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		t.CreatedAt = ts
	}
	return &t, nil
}

// helpers

// notFoundErr translates sql.ErrNoRows to pagecache.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return pagecache.ErrNotFound
	}
	return err
}

func roleOrDefault(role string) string {
	if role == "" {
		return "viewer"
	}
	return role
}

func timeToStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, pagecache.ErrNotFound)
	}
	return nil
}
