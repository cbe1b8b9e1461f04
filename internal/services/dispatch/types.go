package dispatch

import (
	"context"

	"sendbot/internal/services/quarantine"
	"sendbot/internal/store"
)

// CatalogStore supplies the read-only inputs to a cycle.
type CatalogStore interface {
	ActiveTemplates(ctx context.Context, userID int64) ([]store.MessageTemplate, error)
	ActiveTargets(ctx context.Context, userID int64) ([]store.Target, error)
}

type UserStore interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// AuditLog receives one record per send attempt.
type AuditLog interface {
	AppendDispatch(ctx context.Context, r store.DispatchRecord) error
}

// Quarantine is the slice of the quarantine service a cycle needs.
type Quarantine interface {
	IsQuarantined(ctx context.Context, userID int64, chatID string) (bool, error)
	AddForError(ctx context.Context, userID int64, chatID string, sendErr error) (store.QuarantineEntry, quarantine.Decision, error)
	CleanupExpired(ctx context.Context, userID int64) (int64, error)
}

// Result summarizes one completed tick.
type Result struct {
	// CycleID correlates logs and audit records of this tick.
	CycleID string
	// Sent / Failed are mutually exclusive; both false means no send happened.
	Sent   bool
	Failed bool
	// Skipped means preconditions held but nothing was sendable this tick.
	Skipped bool
	// Stop tells the scheduler to stop the user's job (terminal: the user no
	// longer exists or lost provider authentication).
	Stop bool
}

// DispatchEvent is published on the event bus after every send attempt.
type DispatchEvent struct {
	CycleID    string
	UserID     int64
	ChatID     string
	TemplateID int64
	Status     store.DispatchStatus
	Error      string
}
