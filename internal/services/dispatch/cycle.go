package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"sendbot/internal/eventbus"
	"sendbot/internal/provider"
	"sendbot/internal/store"
	"sendbot/pkg/logx"
)

// EventDispatch is the bus event type carrying a DispatchEvent payload.
const EventDispatch = "dispatch.attempt"

// Runner executes dispatch cycles. It is stateless between ticks; everything
// a cycle needs is read fresh from the store.
type Runner struct {
	log        logx.Logger
	users      UserStore
	filter     *Filter
	quarantine Quarantine
	audit      AuditLog
	client     provider.Client
	bus        eventbus.Bus

	// sleep and randInt are swapped out in tests.
	sleep   func(ctx context.Context, d time.Duration) error
	randInt func(min, max int) int
}

func NewRunner(log logx.Logger, users UserStore, catalog CatalogStore, q Quarantine, audit AuditLog, client provider.Client, bus eventbus.Bus) *Runner {
	return &Runner{
		log:        log,
		users:      users,
		filter:     NewFilter(catalog, q),
		quarantine: q,
		audit:      audit,
		client:     client,
		bus:        bus,
		sleep:      sleepCtx,
		randInt:    randBetween,
	}
}

// Filter exposes the runner's eligibility filter for precondition checks.
func (r *Runner) Filter() *Filter { return r.filter }

// Run performs one dispatch cycle for one user.
//
// Flow: verify the user and their provider session still exist, purge the
// user's expired quarantine entries, pick one random sendable template and
// one random sendable target, sleep a randomized per-message delay, send, and
// record the outcome. A returned error only means the cycle itself could not
// run (store failures); send failures are a normal outcome captured in Result
// and the audit log.
func (r *Runner) Run(ctx context.Context, userID int64, settings store.Settings) (Result, error) {
	res := Result{CycleID: uuid.NewString()}
	log := r.log.With(logx.String("cycle_id", res.CycleID), logx.Int64("user_id", userID))

	exists, err := r.users.UserExists(ctx, userID)
	if err != nil {
		return res, err
	}
	if !exists {
		log.Warn("user no longer exists, stopping job")
		res.Stop = true
		return res, nil
	}
	if !r.client.HasSession(ctx, userID) {
		log.Warn("user has no provider session, stopping job")
		res.Stop = true
		return res, nil
	}
	if err := r.client.EnsureSession(ctx, userID); err != nil {
		// Transient: the session may come back; skip this tick without
		// counting it against the user.
		log.Warn("provider session unavailable, skipping tick", logx.Err(err))
		return res, nil
	}

	// Lazy cleanup so lapsed entries free their targets before selection.
	if n, err := r.quarantine.CleanupExpired(ctx, userID); err != nil {
		return res, err
	} else if n > 0 {
		log.Debug("expired quarantine entries purged", logx.Int64("count", n))
	}

	templates, err := r.filter.SendableTemplates(ctx, userID)
	if err != nil {
		return res, err
	}
	targets, err := r.filter.SendableTargets(ctx, userID)
	if err != nil {
		return res, err
	}
	if len(templates) == 0 || len(targets) == 0 {
		log.Debug("nothing sendable this tick",
			logx.Int("templates", len(templates)),
			logx.Int("targets", len(targets)))
		res.Skipped = true
		return res, nil
	}

	tpl := templates[r.randInt(0, len(templates)-1)]
	tgt := targets[r.randInt(0, len(targets)-1)]

	delay := time.Duration(r.randInt(settings.MinDelay, settings.MaxDelay)) * time.Second
	log.Debug("cycle delay", logx.Duration("delay", delay), logx.String("chat_id", tgt.ChatID))
	if err := r.sleep(ctx, delay); err != nil {
		return res, err
	}

	sendErr := r.client.Send(ctx, userID, tgt.ChatID, tpl.Content)
	if sendErr == nil {
		res.Sent = true
		r.record(ctx, log, store.DispatchRecord{
			CycleID:    res.CycleID,
			UserID:     userID,
			ChatID:     tgt.ChatID,
			TemplateID: tpl.ID,
			Status:     store.DispatchSent,
		})
		log.Info("message sent", logx.String("chat_id", tgt.ChatID), logx.Int64("template_id", tpl.ID))
		return res, nil
	}
	if ctx.Err() != nil {
		// Shutdown mid-send; don't quarantine the target over our own cancel.
		return res, ctx.Err()
	}

	res.Failed = true
	entry, decision, qerr := r.quarantine.AddForError(ctx, userID, tgt.ChatID, sendErr)
	if qerr != nil {
		log.Error("quarantine update failed", logx.Err(qerr), logx.String("chat_id", tgt.ChatID))
	}
	status := store.DispatchFailed
	if decision.Throttled {
		status = store.DispatchQuarantined
	}
	r.record(ctx, log, store.DispatchRecord{
		CycleID:    res.CycleID,
		UserID:     userID,
		ChatID:     tgt.ChatID,
		TemplateID: tpl.ID,
		Status:     status,
		Error:      sendErr.Error(),
	})
	log.Warn("send failed",
		logx.String("chat_id", tgt.ChatID),
		logx.String("status", string(status)),
		logx.String("quarantine", string(entry.Kind)),
		logx.Err(sendErr))
	return res, nil
}

// record appends the audit row and fans the attempt out on the bus. Audit
// failures are logged, not propagated: the send already happened.
func (r *Runner) record(ctx context.Context, log logx.Logger, rec store.DispatchRecord) {
	if err := r.audit.AppendDispatch(ctx, rec); err != nil {
		log.Error("audit append failed", logx.Err(err))
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: EventDispatch,
			Time: time.Now(),
			Data: DispatchEvent{
				CycleID:    rec.CycleID,
				UserID:     rec.UserID,
				ChatID:     rec.ChatID,
				TemplateID: rec.TemplateID,
				Status:     rec.Status,
				Error:      rec.Error,
			},
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// randBetween returns a uniform int in [min, max]. Degenerate ranges collapse
// to min.
func randBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min+1)
}
