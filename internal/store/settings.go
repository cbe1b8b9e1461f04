package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SettingsFor returns the user's pacing settings, creating the default row on
// first read.
func (s *Store) SettingsFor(ctx context.Context, userID int64) (Settings, error) {
	out, err := s.settings(ctx, userID)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, min_interval, max_interval, min_delay, max_delay, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, DefaultMinInterval, DefaultMaxInterval, DefaultMinDelay, DefaultMaxDelay, now.UTC().Unix(),
	)
	if err != nil {
		return Settings{}, err
	}
	return s.settings(ctx, userID)
}

func (s *Store) settings(ctx context.Context, userID int64) (Settings, error) {
	var (
		out     Settings
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, min_interval, max_interval, min_delay, max_delay, updated_at
		FROM settings WHERE user_id = ?`, userID).
		Scan(&out.UserID, &out.MinInterval, &out.MaxInterval, &out.MinDelay, &out.MaxDelay, &updated)
	if err != nil {
		return Settings{}, err
	}
	out.UpdatedAt = time.Unix(updated, 0).UTC()
	return out, nil
}

// UpdateSettings validates and persists pacing bounds.
// The scheduler relies on min <= max when sampling, so it is enforced here.
func (s *Store) UpdateSettings(ctx context.Context, in Settings) error {
	if in.MinInterval <= 0 || in.MinDelay < 0 {
		return fmt.Errorf("store: settings: bounds must be positive")
	}
	if in.MinInterval > in.MaxInterval {
		return fmt.Errorf("store: settings: min_interval %d > max_interval %d", in.MinInterval, in.MaxInterval)
	}
	if in.MinDelay > in.MaxDelay {
		return fmt.Errorf("store: settings: min_delay %d > max_delay %d", in.MinDelay, in.MaxDelay)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, min_interval, max_interval, min_delay, max_delay, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			min_interval = excluded.min_interval,
			max_interval = excluded.max_interval,
			min_delay    = excluded.min_delay,
			max_delay    = excluded.max_delay,
			updated_at   = excluded.updated_at`,
		in.UserID, in.MinInterval, in.MaxInterval, in.MinDelay, in.MaxDelay, time.Now().UTC().Unix(),
	)
	return err
}
