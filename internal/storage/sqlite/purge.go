package sqlite

import (
	"context"
	"strings"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
)

// InsertPurges batch-inserts purge events.
func (s *Store) InsertPurges(ctx context.Context, events []pagecache.PurgeEvent) error {
	if len(events) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 8
	placeholders := make([]string, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, string(e.Action), e.URL, string(e.Trigger), boolToInt(e.Success),
			e.Subject, e.RequestID, e.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO purge_events
		(id, action, url, cause, success, subject, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// ListPurges returns purge events matching the filter, newest first.
func (s *Store) ListPurges(ctx context.Context, f pagecache.PurgeFilter) ([]pagecache.PurgeEvent, error) {
	where, args := purgeWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx,
		`SELECT id, action, url, cause, success, subject, request_id, created_at
		 FROM purge_events`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pagecache.PurgeEvent
	for rows.Next() {
		var e pagecache.PurgeEvent
		var action, cause, createdAt string
		var success int
		if err := rows.Scan(&e.ID, &action, &e.URL, &cause, &success,
			&e.Subject, &e.RequestID, &createdAt); err != nil {
			return nil, err
		}
		e.Action = pagecache.Action(action)
		e.Trigger = pagecache.Trigger(cause)
		e.Success = success != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountPurges returns the number of purge events matching the filter.
func (s *Store) CountPurges(ctx context.Context, f pagecache.PurgeFilter) (int, error) {
	where, args := purgeWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purge_events`+where, args...,
	).Scan(&n)
	return n, err
}

func purgeWhere(f pagecache.PurgeFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.Trigger != "" {
		clauses = append(clauses, "cause = ?")
		args = append(args, string(f.Trigger))
	}
	if f.URL != "" {
		clauses = append(clauses, "url = ?")
		args = append(args, f.URL)
	}
	if f.Subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	if f.SuccessOnly {
		clauses = append(clauses, "success = 1")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
