package scheduler

import (
	"context"
	"time"

	"sendbot/internal/services/dispatch"
	"sendbot/internal/store"
)

// Config controls the per-user job scheduler and its master clock.
type Config struct {
	Enabled bool
	// CleanupEvery is the master-clock sweep interval for expired quarantine
	// entries. Zero falls back to 10 minutes.
	CleanupEvery time.Duration
	// Timezone is the IANA location for the master clock. Empty means local.
	Timezone string
}

// SettingsStore supplies per-user pacing settings. They are re-read on every
// tick so edits take effect without a job restart.
type SettingsStore interface {
	SettingsFor(ctx context.Context, userID int64) (store.Settings, error)
}

// UserDirectory enumerates users whose jobs should survive a restart.
type UserDirectory interface {
	EligibleUserIDs(ctx context.Context) ([]int64, error)
}

// Sweeper purges expired quarantine entries. userID 0 sweeps all users.
type Sweeper interface {
	CleanupExpired(ctx context.Context, userID int64) (int64, error)
}

// CycleRunner executes one dispatch cycle on a timer tick.
type CycleRunner interface {
	Run(ctx context.Context, userID int64, settings store.Settings) (dispatch.Result, error)
}

// Preflight holds the job-start precondition check.
type Preflight interface {
	CanStart(ctx context.Context, userID int64) (bool, error)
}

// JobStatus is a point-in-time snapshot of one user's job.
type JobStatus struct {
	UserID      int64
	StartedAt   time.Time
	LastRunAt   time.Time
	NextRunAt   time.Time
	IntervalSec int
	TotalSent   int64
	TotalErrors int64
	InFlight    bool
}

// jobState is the scheduler's per-user bookkeeping. Guarded by Service.mu;
// the armed timer fires tick() which re-locks before touching it.
type jobState struct {
	timer       *time.Timer
	ver         uint64
	startedAt   time.Time
	lastRunAt   time.Time
	nextRunAt   time.Time
	intervalSec int
	totalSent   int64
	totalErrors int64
	inFlight    bool
}
