// Package app wires configuration, storage, the provider client, and the
// dispatch engine into one process.
package app

import (
	"context"
	"fmt"
	"time"

	"sendbot/internal/config"
	"sendbot/internal/eventbus"
	"sendbot/internal/provider/telegram"
	"sendbot/internal/services/dispatch"
	"sendbot/internal/services/quarantine"
	"sendbot/internal/services/scheduler"
	"sendbot/internal/store"
	"sendbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  *store.Store
	client *telegram.Client

	quarantine *quarantine.Service
	runner     *dispatch.Runner
	sched      *scheduler.Service

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := telegram.New(tc, st, log.With(logx.String("comp", "telegram")))

	qsvc := quarantine.New(st, log.With(logx.String("comp", "quarantine")))
	runner := dispatch.NewRunner(log.With(logx.String("comp", "dispatch")),
		st, st, qsvc, st, client, bus)

	ec, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(ec, log.With(logx.String("comp", "scheduler")),
		st, st, qsvc, runner, runner.Filter(), bus)

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      st,
		client:     client,
		quarantine: qsvc,
		runner:     runner,
		sched:      sched,
	}, nil
}

// Scheduler exposes job control to outer surfaces (CLI, admin handlers).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Quarantine exposes entry management to outer surfaces.
func (a *App) Quarantine() *quarantine.Service { return a.quarantine }

func (a *App) Store() *store.Store { return a.store }

// RecentDispatches returns the user's latest audit records, bounded by the
// configured engine.history_limit.
func (a *App) RecentDispatches(ctx context.Context, userID int64) ([]store.DispatchRecord, error) {
	limit := 0
	if cfg := a.cfgm.Get(); cfg != nil {
		limit = cfg.Engine.HistoryLimit
	}
	return a.store.RecentDispatches(ctx, userID, limit)
}

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTelegramConfig(cfg); err != nil {
			return err
		}
		_, err := mapSchedulerConfig(cfg)
		return err
	})

	cfg := a.cfgm.Get()
	if cfg.Engine.Enabled {
		a.sched.Start(ctx)
		started, err := a.sched.RestartAllEligible(ctx)
		if err != nil {
			a.log.Warn("not all jobs restarted", logx.Err(err))
		}
		a.log.Info("engine up", logx.Int("jobs", started))
	} else {
		a.log.Info("engine disabled by config")
	}

	// Hot reload: re-apply logging and scheduler config on file change.
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	sub := a.cfgm.Subscribe(4)
	go func() {
		defer close(a.watchDone)
		for {
			select {
			case <-wctx.Done():
				a.cfgm.Unsubscribe(sub)
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(next)
			}
		}
	}()
	go func() {
		if err := a.cfgm.Watch(wctx); err != nil && wctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	// Operational trace of engine events (job lifecycle, send attempts).
	events, unsub := a.bus.Subscribe(32)
	go func() {
		defer unsub()
		for {
			select {
			case <-wctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("engine event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	}()
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	ec, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Error("scheduler config rejected on reload", logx.Err(err))
		return
	}
	a.sched.Apply(ec)
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}
	a.sched.Stop()
	if err := a.store.Close(); err != nil {
		a.log.Error("store close failed", logx.Err(err))
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	if cfg.Storage.Path == "" {
		return store.Config{}, fmt.Errorf("storage.path is required")
	}
	bt, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Path: cfg.Storage.Path, BusyTimeout: bt}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	st, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 0)
	if err != nil {
		return telegram.Config{}, err
	}
	if cfg.Telegram.RatePerSec < 0 {
		return telegram.Config{}, fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	return telegram.Config{
		RatePerSec:  cfg.Telegram.RatePerSec,
		SendTimeout: st,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	ce, err := config.ParseDurationOrDefault("engine.cleanup_every", cfg.Engine.CleanupEvery, 10*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	if cfg.Engine.HistoryLimit < 0 {
		return scheduler.Config{}, fmt.Errorf("engine.history_limit must be >= 0")
	}
	return scheduler.Config{
		Enabled:      cfg.Engine.Enabled,
		CleanupEvery: ce,
		Timezone:     cfg.Engine.Timezone,
	}, nil
}
