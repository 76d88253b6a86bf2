package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"routined/internal/config"
	"routined/internal/eventbus"
	"routined/internal/history"
	"routined/internal/observability/debug"
	"routined/internal/observability/metrics"
	"routined/internal/routine"
	"routined/internal/runtime/supervisor"
	"routined/internal/storage"
	logx "routined/pkg/logx"
)

// App wires config, logging, storage, observability and the routine manager.
type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.Fanout
	store storage.Store

	metrics  *metrics.Metrics
	recorder *history.Recorder
	debug    *debug.Server
	mgr      *routine.Manager

	sup     *supervisor.Supervisor
	started time.Time
}

// NewApp loads and validates the config at cfgPath and registers every
// routine. Nothing runs until Run.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", cfgPath, err)
	}

	sender, err := newLogSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("telegram log sink: %w", err)
	}
	logSvc, log := logx.New(mapLoggingConfig(cfg), sender)
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New(), metrics: metrics.New()}
	fail := func(err error) (*App, error) {
		a.close()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.recorder = history.NewRecorder(a.bus, a.store, a.metrics, log)
	a.debug = debug.New(log, a.metrics.Handler(), a.health)
	a.mgr = routine.NewManager(routine.NewRegistry(),
		routine.WithManagerLogger(log.With(logx.String("comp", "routines"))),
		routine.WithEventBus(a.bus),
	)

	rts, err := buildRoutines(cfg, a.deps())
	if err != nil {
		return fail(err)
	}
	if err := a.mgr.Register(rts...); err != nil {
		return fail(err)
	}
	return a, nil
}

func (a *App) deps() routineDeps {
	return routineDeps{store: a.store, channel: a.logs.Channel}
}

// Manager exposes the routine manager, mostly for status output.
func (a *App) Manager() *routine.Manager { return a.mgr }

// Run starts background services and the routines, and blocks until ctx is
// cancelled and every routine acknowledged. Call Stop afterwards.
func (a *App) Run(ctx context.Context) error {
	if a.sup != nil {
		return routine.ErrAlreadyRunning
	}
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// Subscribe before the routines start so the first cycles are recorded.
	events, unsub := a.recorder.Subscribe()
	a.sup.Go("history.recorder", func(c context.Context) error {
		defer unsub()
		return a.recorder.Run(c, events)
	})

	a.debug.Apply(a.sup.Context(), mapDebugConfig(a.cfgm.Get()))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := buildRoutines(cfg, routineDeps{})
		return err
	})
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int("routines", len(a.mgr.Snapshot())))
	return a.mgr.Run(ctx)
}

// reloadLoop applies hot-reloadable sections. Routine and storage changes
// only take effect after a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// keep only the latest config of a burst
		coalesce:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break coalesce
				}
			}

			sections, attrs, rc := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				lastApplied = newCfg
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Debug("config change summary", fields...)

			for _, s := range sections {
				switch s {
				case "storage":
					a.log.Warn("storage config changed; restart required for changes to take effect")
				case "routines":
					a.log.Warn("routine config changed; restart required for changes to take effect",
						logx.Any("added", rc.Added),
						logx.Any("removed", rc.Removed),
						logx.Any("modified", rc.Modified),
					)
				}
			}
			if lastApplied.Logging.Telegram.Token != newCfg.Logging.Telegram.Token ||
				lastApplied.Logging.Telegram.ChatID != newCfg.Logging.Telegram.ChatID ||
				lastApplied.Logging.Telegram.ThreadID != newCfg.Logging.Telegram.ThreadID {
				a.log.Warn("telegram log target changed; restart required for changes to take effect")
			}

			a.logs.Apply(mapLoggingConfig(newCfg))
			a.debug.Apply(ctx, mapDebugConfig(newCfg))
			lastApplied = newCfg

			a.log.Info("config reloaded", fields...)
		}
	}
}

// Stop shuts everything down in order: routines, background loops, debug
// server, storage, logging. Each step is bounded so one component cannot
// stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < limit {
				limit = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	step("routines", 10*time.Second, a.mgr.Shutdown)
	step("supervisor", 3*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Stop(c)
	})
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	a.log.Info("stopped", logx.Duration("uptime", a.uptime()))
	a.close()
	return errors.Join(errs...)
}

// close releases storage and logging. Safe on a partially built App.
func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

func (a *App) uptime() time.Duration {
	if a.started.IsZero() {
		return 0
	}
	return time.Since(a.started).Round(time.Second)
}
