package store

import (
	"context"
	"time"
)

// InsertTemplate adds a message template and returns its ID.
func (s *Store) InsertTemplate(ctx context.Context, t MessageTemplate) (int64, error) {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, title, content, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.Title, t.Content, boolToInt(t.Active), created.UTC().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ActiveTemplates returns the user's active message templates.
func (s *Store) ActiveTemplates(ctx context.Context, userID int64) ([]MessageTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, content, is_active, created_at
		FROM messages
		WHERE user_id = ? AND is_active = 1
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageTemplate
	for rows.Next() {
		var (
			m       MessageTemplate
			active  int
			created int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &m.Content, &active, &created); err != nil {
			return nil, err
		}
		m.Active = active != 0
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertTarget adds a dispatch target and returns its ID.
func (s *Store) InsertTarget(ctx context.Context, t Target) (int64, error) {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (user_id, chat_id, title, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.ChatID, t.Title, boolToInt(t.Active), created.UTC().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ActiveTargets returns the user's active targets before quarantine filtering.
func (s *Store) ActiveTargets(ctx context.Context, userID int64) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, chat_id, title, is_active, created_at
		FROM targets
		WHERE user_id = ? AND is_active = 1
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var (
			t       Target
			active  int
			created int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.ChatID, &t.Title, &active, &created); err != nil {
			return nil, err
		}
		t.Active = active != 0
		t.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
