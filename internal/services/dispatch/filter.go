package dispatch

import (
	"context"

	"sendbot/internal/store"
)

// Filter computes the currently sendable subset of a user's catalog.
// Results are evaluated at call time; quarantine state changes every cycle,
// so nothing is cached.
type Filter struct {
	catalog    CatalogStore
	quarantine Quarantine
}

func NewFilter(catalog CatalogStore, q Quarantine) *Filter {
	return &Filter{catalog: catalog, quarantine: q}
}

// SendableTemplates returns the user's active templates. Templates are never
// quarantined, so this is the raw active set.
func (f *Filter) SendableTemplates(ctx context.Context, userID int64) ([]store.MessageTemplate, error) {
	return f.catalog.ActiveTemplates(ctx, userID)
}

// SendableTargets returns active targets whose chat ID is not currently
// quarantined.
func (f *Filter) SendableTargets(ctx context.Context, userID int64) ([]store.Target, error) {
	targets, err := f.catalog.ActiveTargets(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := targets[:0]
	for _, t := range targets {
		blocked, err := f.quarantine.IsQuarantined(ctx, userID, t.ChatID)
		if err != nil {
			return nil, err
		}
		if !blocked {
			out = append(out, t)
		}
	}
	return out, nil
}

// CanStart reports the job-start precondition: at least one active template
// and one active target. Quarantine is not consulted here; a job may start
// with every target suppressed and wait for one to become eligible.
func (f *Filter) CanStart(ctx context.Context, userID int64) (bool, error) {
	templates, err := f.catalog.ActiveTemplates(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(templates) == 0 {
		return false, nil
	}
	targets, err := f.catalog.ActiveTargets(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(targets) > 0, nil
}
