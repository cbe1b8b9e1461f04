package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ReplaceQuarantine inserts an entry for (user_id, chat_id), atomically
// replacing any existing entry for the same key, and returns the stored row.
func (s *Store) ReplaceQuarantine(ctx context.Context, e QuarantineEntry) (QuarantineEntry, error) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine (user_id, chat_id, kind, reason, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, chat_id) DO UPDATE SET
			kind       = excluded.kind,
			reason     = excluded.reason,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		e.UserID, e.ChatID, string(e.Kind), e.Reason, toNullUnix(e.ExpiresAt), created.UTC().Unix(),
	)
	if err != nil {
		return QuarantineEntry{}, err
	}
	return s.quarantineByKey(ctx, e.UserID, e.ChatID)
}

func (s *Store) quarantineByKey(ctx context.Context, userID int64, chatID string) (QuarantineEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, kind, reason, expires_at, created_at
		FROM quarantine WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	return scanQuarantine(row)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanQuarantine(row rowScanner) (QuarantineEntry, error) {
	var (
		e       QuarantineEntry
		kind    string
		exp     sql.NullInt64
		created int64
	)
	err := row.Scan(&e.ID, &e.UserID, &e.ChatID, &kind, &e.Reason, &exp, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return QuarantineEntry{}, ErrNotFound
	}
	if err != nil {
		return QuarantineEntry{}, err
	}
	e.Kind = QuarantineKind(kind)
	e.ExpiresAt = fromNullUnix(exp)
	e.CreatedAt = time.Unix(created, 0).UTC()
	return e, nil
}

// HasActiveQuarantine reports whether an active entry exists for the key:
// permanent, or temporary with expires_at in the future.
func (s *Store) HasActiveQuarantine(ctx context.Context, userID int64, chatID string, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM quarantine
		WHERE user_id = ? AND chat_id = ?
		  AND (kind = 'permanent' OR expires_at > ?)
		LIMIT 1`,
		userID, chatID, now.UTC().Unix()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteQuarantineByKey removes the entry for (user, chat). Reports whether a
// row existed.
func (s *Store) DeleteQuarantineByKey(ctx context.Context, userID int64, chatID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quarantine WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteQuarantineByID removes one entry by row ID, scoped to the owning user.
// ErrNotFound if the entry doesn't exist or belongs to someone else.
func (s *Store) DeleteQuarantineByID(ctx context.Context, userID, entryID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quarantine WHERE id = ? AND user_id = ?`, entryID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredQuarantine deletes temporary entries past their expiry.
// userID == 0 sweeps all users. Returns the number of rows removed.
func (s *Store) DeleteExpiredQuarantine(ctx context.Context, userID int64, now time.Time) (int64, error) {
	q := `DELETE FROM quarantine
	      WHERE kind = 'temporary' AND expires_at IS NOT NULL AND expires_at <= ?`
	args := []any{now.UTC().Unix()}
	if userID != 0 {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListQuarantine returns all entries for a user, newest first.
func (s *Store) ListQuarantine(ctx context.Context, userID int64) ([]QuarantineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, chat_id, kind, reason, expires_at, created_at
		FROM quarantine WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuarantineEntry
	for rows.Next() {
		e, err := scanQuarantine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// QuarantineCounts holds per-user aggregates for the stats view.
type QuarantineCounts struct {
	Total            int
	Permanent        int
	TemporaryActive  int
	TemporaryExpired int
}

func (s *Store) CountQuarantine(ctx context.Context, userID int64, now time.Time) (QuarantineCounts, error) {
	var c QuarantineCounts
	ts := now.UTC().Unix()
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN kind = 'permanent' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN kind = 'temporary' AND expires_at >  ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN kind = 'temporary' AND expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM quarantine WHERE user_id = ?`,
		ts, ts, userID).
		Scan(&c.Total, &c.Permanent, &c.TemporaryActive, &c.TemporaryExpired)
	return c, err
}
