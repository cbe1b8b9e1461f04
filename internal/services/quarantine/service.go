package quarantine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sendbot/internal/store"
	logx "sendbot/pkg/logx"
)

var (
	// ErrDurationRequired rejects temporary adds without an expiry window.
	ErrDurationRequired = errors.New("quarantine: temporary entry requires a duration")
	// ErrNotFound is returned by targeted removals when no matching entry
	// belongs to the user.
	ErrNotFound = errors.New("quarantine: entry not found")
)

// Repo is the persistence surface the service needs from the store.
type Repo interface {
	ReplaceQuarantine(ctx context.Context, e store.QuarantineEntry) (store.QuarantineEntry, error)
	HasActiveQuarantine(ctx context.Context, userID int64, chatID string, now time.Time) (bool, error)
	DeleteQuarantineByKey(ctx context.Context, userID int64, chatID string) (bool, error)
	DeleteQuarantineByID(ctx context.Context, userID, entryID int64) error
	DeleteExpiredQuarantine(ctx context.Context, userID int64, now time.Time) (int64, error)
	ListQuarantine(ctx context.Context, userID int64) ([]store.QuarantineEntry, error)
	CountQuarantine(ctx context.Context, userID int64, now time.Time) (store.QuarantineCounts, error)
}

type Service struct {
	repo Repo
	log  logx.Logger

	// now is swappable in tests.
	now func() time.Time
}

func New(repo Repo, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{repo: repo, log: log, now: time.Now}
}

// IsQuarantined reports whether an active entry exists for the key, evaluated
// at call time.
func (s *Service) IsQuarantined(ctx context.Context, userID int64, chatID string) (bool, error) {
	return s.repo.HasActiveQuarantine(ctx, userID, chatID, s.now())
}

// Add stores an entry for the key, replacing any existing one.
// Temporary entries must carry a positive duration.
func (s *Service) Add(ctx context.Context, userID int64, chatID string, kind store.QuarantineKind, reason string, duration time.Duration) (store.QuarantineEntry, error) {
	e := store.QuarantineEntry{
		UserID:    userID,
		ChatID:    chatID,
		Kind:      kind,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	switch kind {
	case store.QuarantinePermanent:
		// no expiry
	case store.QuarantineTemporary:
		if duration <= 0 {
			return store.QuarantineEntry{}, ErrDurationRequired
		}
		exp := e.CreatedAt.Add(duration)
		e.ExpiresAt = &exp
	default:
		return store.QuarantineEntry{}, fmt.Errorf("quarantine: invalid kind %q", kind)
	}

	stored, err := s.repo.ReplaceQuarantine(ctx, e)
	if err != nil {
		return store.QuarantineEntry{}, fmt.Errorf("quarantine: add %d/%s: %w", userID, chatID, err)
	}
	s.log.Info("target quarantined",
		logx.Int64("user", userID),
		logx.String("chat", chatID),
		logx.String("kind", string(kind)),
		logx.Duration("for", duration),
	)
	return stored, nil
}

// AddForError classifies a provider failure and stores the resulting entry.
func (s *Service) AddForError(ctx context.Context, userID int64, chatID string, sendErr error) (store.QuarantineEntry, Decision, error) {
	d := Classify(sendErr)
	e, err := s.Add(ctx, userID, chatID, d.Kind, d.Reason, d.Duration)
	return e, d, err
}

// Remove deletes the entry for (user, chat). Reports whether one existed.
func (s *Service) Remove(ctx context.Context, userID int64, chatID string) (bool, error) {
	ok, err := s.repo.DeleteQuarantineByKey(ctx, userID, chatID)
	if err == nil && ok {
		s.log.Info("target released", logx.Int64("user", userID), logx.String("chat", chatID))
	}
	return ok, err
}

// RemoveByID deletes one entry by row ID with an ownership check.
func (s *Service) RemoveByID(ctx context.Context, userID, entryID int64) error {
	err := s.repo.DeleteQuarantineByID(ctx, userID, entryID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// CleanupExpired deletes temporary entries past expiry. userID == 0 sweeps all
// users. Safe to call concurrently with Add/IsQuarantined; a racing add may
// leave one extra expired row until the next pass, which is acceptable.
func (s *Service) CleanupExpired(ctx context.Context, userID int64) (int64, error) {
	n, err := s.repo.DeleteExpiredQuarantine(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debug("expired quarantine entries removed", logx.Int64("user", userID), logx.Int64("count", n))
	}
	return n, nil
}

// List returns all of a user's entries, newest first (expired ones included
// until cleanup catches up).
func (s *Service) List(ctx context.Context, userID int64) ([]store.QuarantineEntry, error) {
	return s.repo.ListQuarantine(ctx, userID)
}

// Stats summarizes a user's quarantine state.
type Stats struct {
	Total            int
	Permanent        int
	TemporaryActive  int
	TemporaryExpired int
	// Active = Permanent + TemporaryActive.
	Active int
}

func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	c, err := s.repo.CountQuarantine(ctx, userID, s.now())
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Total:            c.Total,
		Permanent:        c.Permanent,
		TemporaryActive:  c.TemporaryActive,
		TemporaryExpired: c.TemporaryExpired,
		Active:           c.Permanent + c.TemporaryActive,
	}, nil
}
