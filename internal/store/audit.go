package store

import (
	"context"
	"database/sql"
	"time"
)

// AppendDispatch records one send attempt. Append-only.
func (s *Store) AppendDispatch(ctx context.Context, r DispatchRecord) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var tmpl any
	if r.TemplateID != 0 {
		tmpl = r.TemplateID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_log (cycle_id, user_id, chat_id, template_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.UserID, r.ChatID, tmpl, string(r.Status), r.Error, created.UTC().Unix(),
	)
	return err
}

// RecentDispatches returns a user's latest send attempts, newest first.
func (s *Store) RecentDispatches(ctx context.Context, userID int64, limit int) ([]DispatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, user_id, chat_id, template_id, status, error, created_at
		FROM dispatch_log
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var (
			r       DispatchRecord
			status  string
			tmpl    sql.NullInt64
			created int64
		)
		if err := rows.Scan(&r.ID, &r.CycleID, &r.UserID, &r.ChatID, &tmpl, &status, &r.Error, &created); err != nil {
			return nil, err
		}
		r.Status = DispatchStatus(status)
		r.TemplateID = tmpl.Int64
		r.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
