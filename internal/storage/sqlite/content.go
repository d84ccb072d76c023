package sqlite

import (
	"context"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
)

// GetContent retrieves a content item by ID.
func (s *Store) GetContent(ctx context.Context, id int64) (*pagecache.Content, error) {
	var c pagecache.Content
	var status, updatedAt string
	err := s.read.QueryRowContext(ctx,
		`SELECT id, type, permalink, status, updated_at FROM content WHERE id = ?`, id,
	).Scan(&c.ID, &c.Type, &c.Permalink, &status, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	c.Status = pagecache.ContentStatus(status)
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

// PutContent inserts or replaces a content item. A zero UpdatedAt is
// stamped with the current time.
func (s *Store) PutContent(ctx context.Context, c *pagecache.Content) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO content (id, type, permalink, status, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 type = excluded.type,
		 permalink = excluded.permalink,
		 status = excluded.status,
		 updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Permalink, string(c.Status), c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteContent removes a content item.
func (s *Store) DeleteContent(ctx context.Context, id int64) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "content")
}

// GetContentType retrieves a content type by name.
func (s *Store) GetContentType(ctx context.Context, name string) (*pagecache.ContentType, error) {
	var ct pagecache.ContentType
	var public int
	err := s.read.QueryRowContext(ctx,
		`SELECT name, public FROM content_types WHERE name = ?`, name,
	).Scan(&ct.Name, &public)
	if err != nil {
		return nil, notFoundErr(err)
	}
	ct.Public = public != 0
	return &ct, nil
}

// PutContentType inserts or updates a content type.
func (s *Store) PutContentType(ctx context.Context, ct *pagecache.ContentType) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO content_types (name, public) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET public = excluded.public`,
		ct.Name, boolToInt(ct.Public),
	)
	return err
}

// ListContentTypes returns all content types ordered by name.
func (s *Store) ListContentTypes(ctx context.Context) ([]*pagecache.ContentType, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT name, public FROM content_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pagecache.ContentType
	for rows.Next() {
		var ct pagecache.ContentType
		var public int
		if err := rows.Scan(&ct.Name, &public); err != nil {
			return nil, err
		}
		ct.Public = public != 0
		out = append(out, &ct)
	}
	return out, rows.Err()
}
