// Package scheduler arms one re-randomizing one-shot timer per running user
// job and drives the dispatch runner on every tick. A cron master clock
// performs periodic housekeeping (expired-quarantine sweeps) independently of
// user timers.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sendbot/internal/eventbus"
	"sendbot/internal/store"
	"sendbot/pkg/logx"
)

const (
	defaultCleanupEvery = 10 * time.Minute
	heartbeatEvery      = time.Minute
)

// Bus event types published on job lifecycle transitions.
const (
	EventJobStarted = "scheduler.job_started"
	EventJobStopped = "scheduler.job_stopped"
)

// ErrNotStarted means StartJob was called before Start (or after Stop).
var ErrNotStarted = errors.New("scheduler: not started")

// Service owns the per-user timers and the master clock.
//
// Each running job holds exactly one armed *time.Timer. Ticks never overlap
// for a user: a tick that fires while the previous one is still in flight is
// dropped and the timer re-armed. Timer callbacks carry a version number so a
// stop/start cycle invalidates callbacks from the previous generation.
type Service struct {
	log      logx.Logger
	settings SettingsStore
	users    UserDirectory
	sweeper  Sweeper
	runner   CycleRunner
	pre      Preflight
	bus      eventbus.Bus

	mu       sync.Mutex
	cfg      Config
	jobs     map[int64]*jobState
	c        *cron.Cron
	stopCh   chan struct{}
	stopDone chan struct{}
	runCtx   context.Context
	runStop  context.CancelFunc
	tickWG   sync.WaitGroup

	// afterFunc and randInt are swapped out in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
	randInt   func(min, max int) int
}

func New(cfg Config, log logx.Logger, settings SettingsStore, users UserDirectory, sweeper Sweeper, runner CycleRunner, pre Preflight, bus eventbus.Bus) *Service {
	return &Service{
		log:       log,
		settings:  settings,
		users:     users,
		sweeper:   sweeper,
		runner:    runner,
		pre:       pre,
		bus:       bus,
		cfg:       cfg,
		jobs:      map[int64]*jobState{},
		afterFunc: time.AfterFunc,
		randInt:   randBetween,
	}
}

// Enabled reports the current config flag. Apply may run concurrently.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. A timezone change restarts the master clock; user
// timers are untouched since they carry no wall-clock schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldSweep := s.cfg.CleanupEvery
	s.cfg = cfg

	if s.stopCh == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) || oldSweep != cfg.CleanupEvery {
		s.restartClockLocked()
	}
}

// Start brings up the master clock. It does not start any user jobs; callers
// follow up with RestartAllEligible or StartJob.
func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to finish first.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// Already running.
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runStop = context.WithCancel(ctx)
	s.startClockLocked()
	s.log.Info("scheduler started")
}

// Stop halts the master clock, disarms every job timer, and waits for
// in-flight ticks to drain. Job rows in the store are untouched; a later
// Start + RestartAllEligible resumes them.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopCh == nil || s.stopDone != nil {
		s.mu.Unlock()
		return
	}
	s.stopDone = make(chan struct{})
	close(s.stopCh)
	if s.runStop != nil {
		s.runStop()
	}
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	for id, js := range s.jobs {
		js.ver++
		if js.timer != nil {
			js.timer.Stop()
		}
		delete(s.jobs, id)
	}
	done := s.stopDone
	s.mu.Unlock()

	s.tickWG.Wait()

	s.mu.Lock()
	s.stopCh = nil
	s.stopDone = nil
	s.mu.Unlock()
	close(done)
	s.log.Info("scheduler stopped")
}

// StartJob starts (or restarts) the user's job. It returns false without
// arming a timer when the user has no active templates or no active targets.
func (s *Service) StartJob(ctx context.Context, userID int64) (bool, error) {
	ok, err := s.pre.CanStart(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Debug("job not started, nothing to send", logx.Int64("user_id", userID))
		return false, nil
	}
	set, err := s.settings.SettingsFor(ctx, userID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return false, ErrNotStarted
	}

	js := s.jobs[userID]
	if js == nil {
		js = &jobState{}
		s.jobs[userID] = js
	} else if js.timer != nil {
		js.timer.Stop()
	}
	js.ver++
	js.startedAt = time.Now()
	js.lastRunAt = time.Time{}
	js.totalSent = 0
	js.totalErrors = 0
	// inFlight is deliberately left alone: a cycle from the previous
	// generation may still be running, and overlapping it would break the
	// one-cycle-per-user guarantee.
	s.armLocked(userID, js, set)
	s.log.Info("job started",
		logx.Int64("user_id", userID),
		logx.Int("interval_sec", js.intervalSec))
	s.publish(EventJobStarted, userID)
	return true, nil
}

// StopJob disarms the user's timer. It reports whether a job was running.
func (s *Service) StopJob(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[userID]
	if !ok {
		return false
	}
	js.ver++
	if js.timer != nil {
		js.timer.Stop()
	}
	delete(s.jobs, userID)
	s.log.Info("job stopped", logx.Int64("user_id", userID))
	s.publish(EventJobStopped, userID)
	return true
}

func (s *Service) IsRunning(userID int64) bool {
	s.mu.Lock()
	_, ok := s.jobs[userID]
	s.mu.Unlock()
	return ok
}

// Status snapshots one user's job. ok is false when no job is running.
func (s *Service) Status(userID int64) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[userID]
	if !ok {
		return JobStatus{}, false
	}
	return JobStatus{
		UserID:      userID,
		StartedAt:   js.startedAt,
		LastRunAt:   js.lastRunAt,
		NextRunAt:   js.nextRunAt,
		IntervalSec: js.intervalSec,
		TotalSent:   js.totalSent,
		TotalErrors: js.totalErrors,
		InFlight:    js.inFlight,
	}, true
}

// Running lists the user IDs with an armed job.
func (s *Service) Running() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	return out
}

// RestartAllEligible starts a job for every user who has both active
// templates and active targets. One user failing does not stop the rest; the
// first error is returned after all users were attempted.
func (s *Service) RestartAllEligible(ctx context.Context) (started int, err error) {
	ids, err := s.users.EligibleUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	var firstErr error
	for _, id := range ids {
		ok, serr := s.StartJob(ctx, id)
		if serr != nil {
			s.log.Error("job restart failed", logx.Int64("user_id", id), logx.Err(serr))
			if firstErr == nil {
				firstErr = serr
			}
			continue
		}
		if ok {
			started++
		}
	}
	s.log.Info("eligible jobs restarted", logx.Int("started", started), logx.Int("candidates", len(ids)))
	return started, firstErr
}

// armLocked schedules the next tick with a fresh random interval drawn from
// settings. Caller holds s.mu.
func (s *Service) armLocked(userID int64, js *jobState, set store.Settings) {
	sec := s.randInt(set.MinInterval, set.MaxInterval)
	js.intervalSec = sec
	js.nextRunAt = time.Now().Add(time.Duration(sec) * time.Second)
	ver := js.ver
	js.timer = s.afterFunc(time.Duration(sec)*time.Second, func() {
		s.tick(userID, ver)
	})
}

// tick runs one dispatch cycle and re-arms the timer. It fires on a timer
// goroutine, so it takes the lock itself and validates the version before
// doing anything.
func (s *Service) tick(userID int64, ver uint64) {
	s.mu.Lock()
	js, ok := s.jobs[userID]
	if !ok || js.ver != ver || s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if js.inFlight {
		// Previous tick still running; push this one back rather than overlap.
		set := store.Settings{MinInterval: js.intervalSec, MaxInterval: js.intervalSec}
		s.armLocked(userID, js, set)
		s.mu.Unlock()
		return
	}
	js.inFlight = true
	js.lastRunAt = time.Now()
	ctx := s.runCtx
	// Register with the drain group while still holding the lock so Stop()
	// cannot Wait() between our unlock and Add.
	s.tickWG.Add(1)
	s.mu.Unlock()

	defer s.tickWG.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in dispatch tick",
				logx.Int64("user_id", userID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			s.finishTick(userID, ver, false, true)
		}
	}()

	set, err := s.settings.SettingsFor(ctx, userID)
	if err != nil {
		s.log.Error("settings read failed", logx.Int64("user_id", userID), logx.Err(err))
		s.finishTick(userID, ver, false, true)
		return
	}

	res, err := s.runner.Run(ctx, userID, set)
	if err != nil {
		if ctx.Err() != nil {
			s.finishTickNoRearm(userID, ver)
			return
		}
		s.log.Error("dispatch cycle failed", logx.Int64("user_id", userID), logx.Err(err))
		s.finishTick(userID, ver, false, true)
		return
	}
	if res.Stop {
		s.mu.Lock()
		if js, ok := s.jobs[userID]; ok && js.ver == ver {
			js.ver++
			if js.timer != nil {
				js.timer.Stop()
			}
			delete(s.jobs, userID)
		}
		s.mu.Unlock()
		s.log.Info("job auto-stopped", logx.Int64("user_id", userID))
		s.publish(EventJobStopped, userID)
		return
	}
	s.finishTick(userID, ver, res.Sent, res.Failed)
}

// finishTick updates stats and re-arms with a fresh random interval.
// A stale generation (job restarted mid-cycle) only releases the in-flight
// guard; the restarted generation owns its own timer and stats.
func (s *Service) finishTick(userID int64, ver uint64, sent, failed bool) {
	set, err := s.settings.SettingsFor(context.Background(), userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[userID]
	if !ok {
		return
	}
	js.inFlight = false
	if js.ver != ver {
		return
	}
	if sent {
		js.totalSent++
	}
	if failed {
		js.totalErrors++
	}
	if s.stopCh == nil {
		return
	}
	if err != nil {
		// Keep the last interval rather than kill the job over a settings read.
		set = store.Settings{MinInterval: js.intervalSec, MaxInterval: js.intervalSec}
	}
	s.armLocked(userID, js, set)
}

func (s *Service) finishTickNoRearm(userID int64, _ uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if js, ok := s.jobs[userID]; ok {
		js.inFlight = false
	}
}

// startClockLocked builds and starts the cron master clock. Caller holds s.mu.
func (s *Service) startClockLocked() {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	every := s.cfg.CleanupEvery
	if every <= 0 {
		every = defaultCleanupEvery
	}
	s.c = cron.New(cron.WithLocation(loc))
	s.c.Schedule(cron.Every(every), cron.FuncJob(s.sweep))
	s.c.Schedule(cron.Every(heartbeatEvery), cron.FuncJob(s.heartbeat))
	s.c.Start()
}

// heartbeat logs a periodic running-jobs snapshot.
func (s *Service) heartbeat() {
	s.mu.Lock()
	total := len(s.jobs)
	inFlight := 0
	for _, js := range s.jobs {
		if js.inFlight {
			inFlight++
		}
	}
	s.mu.Unlock()
	s.log.Debug("scheduler heartbeat", logx.Int("jobs", total), logx.Int("in_flight", inFlight))
}

func (s *Service) restartClockLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.startClockLocked()
}

// sweep purges expired quarantine entries for all users.
func (s *Service) sweep() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	n, err := s.sweeper.CleanupExpired(ctx, 0)
	if err != nil {
		s.log.Error("quarantine sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("quarantine sweep", logx.Int64("purged", n))
	}
}

// publish emits a job lifecycle event. Non-blocking; nil bus is allowed.
func (s *Service) publish(typ string, userID int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: userID})
}

func randBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min+1)
}
