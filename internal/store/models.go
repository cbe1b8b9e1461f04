package store

import "time"

// User is a registered account the engine dispatches for.
// The bot token is what backs the user's provider session.
type User struct {
	ID        int64
	BotToken  string
	CreatedAt time.Time
}

// MessageTemplate is read-only input to the engine.
type MessageTemplate struct {
	ID        int64
	UserID    int64
	Title     string
	Content   string
	Active    bool
	CreatedAt time.Time
}

// Target is a messaging destination (a group/channel). ChatID is the stable
// external key used for quarantine lookups.
type Target struct {
	ID        int64
	UserID    int64
	ChatID    string
	Title     string
	Active    bool
	CreatedAt time.Time
}

type QuarantineKind string

const (
	QuarantineTemporary QuarantineKind = "temporary"
	QuarantinePermanent QuarantineKind = "permanent"
)

type QuarantineEntry struct {
	ID        int64
	UserID    int64
	ChatID    string
	Kind      QuarantineKind
	Reason    string
	ExpiresAt *time.Time // nil for permanent entries
	CreatedAt time.Time
}

// ActiveAt reports whether the entry still suppresses its target at the given
// instant. Expired temporary entries are inactive even before cleanup deletes
// them.
func (e QuarantineEntry) ActiveAt(now time.Time) bool {
	if e.Kind == QuarantinePermanent {
		return true
	}
	return e.ExpiresAt != nil && e.ExpiresAt.After(now)
}

// Default settings, matching what SettingsFor creates for a new user.
const (
	DefaultMinInterval = 4200 // seconds
	DefaultMaxInterval = 5400
	DefaultMinDelay    = 5
	DefaultMaxDelay    = 10
)

// Settings holds per-user pacing bounds, all in seconds.
// Write-time validation guarantees min <= max for both pairs.
type Settings struct {
	UserID      int64
	MinInterval int
	MaxInterval int
	MinDelay    int
	MaxDelay    int
	UpdatedAt   time.Time
}

type DispatchStatus string

const (
	DispatchSent        DispatchStatus = "sent"
	DispatchFailed      DispatchStatus = "failed"
	DispatchQuarantined DispatchStatus = "quarantined"
)

// DispatchRecord is one line of the append-only audit log: a single send
// attempt and its outcome. CycleID ties the record to engine logs.
type DispatchRecord struct {
	ID         int64
	CycleID    string
	UserID     int64
	ChatID     string
	TemplateID int64
	Status     DispatchStatus
	Error      string
	CreatedAt  time.Time
}
