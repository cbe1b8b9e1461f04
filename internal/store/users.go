package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertUser inserts or updates a user row.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, bot_token, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET bot_token = excluded.bot_token`,
		u.ID, u.BotToken, created.UTC().Unix(),
	)
	return err
}

func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BotToken returns the stored provider credential for a user.
// ErrNotFound if the user does not exist.
func (s *Store) BotToken(ctx context.Context, userID int64) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT bot_token FROM users WHERE id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// EligibleUserIDs returns users holding at least one active template AND one
// active target: the precondition set scanned on engine restart.
func (s *Store) EligibleUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id
		FROM users u
		JOIN messages m ON m.user_id = u.id AND m.is_active = 1
		JOIN targets  t ON t.user_id = u.id AND t.is_active = 1
		ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
