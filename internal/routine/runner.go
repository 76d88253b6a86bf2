package routine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"routined/internal/eventbus"
	logx "routined/pkg/logx"
)

// Stats is a point-in-time view of a runner's progress.
type Stats struct {
	Cycles    uint64
	Failures  uint64
	LastErr   string
	LastRun   time.Time
	LastTook  time.Duration
	LastDelay time.Duration
	NextRun   time.Time
}

type RunnerOption func(*Runner)

// WithClock replaces the wall clock used for delays and timestamps.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithUnit sets the real duration of one schedule second. Only tests should
// change it from time.Second.
func WithUnit(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.unit = d
		}
	}
}

// WithBus publishes cycle and lifecycle events to bus.
func WithBus(bus eventbus.Bus) RunnerOption {
	return func(r *Runner) { r.bus = bus }
}

// WithFallbackLogger is used when the routine carries no logger of its own.
func WithFallbackLogger(log logx.Logger) RunnerOption {
	return func(r *Runner) { r.fallback = log }
}

// Runner drives a single routine: run, compute delay, sleep, repeat.
type Runner struct {
	routine  Routine
	clock    Clock
	unit     time.Duration
	bus      eventbus.Bus
	fallback logx.Logger

	mu    sync.Mutex
	stats Stats
}

func NewRunner(rt Routine, opts ...RunnerOption) *Runner {
	r := &Runner{routine: rt, clock: realClock{}, unit: time.Second}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

func (r *Runner) Name() string { return r.routine.Name }

func (r *Runner) Schedule() Rule { return r.routine.Schedule }

func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Runner) logger() logx.Logger {
	if !r.routine.Log.IsZero() {
		return r.routine.Log
	}
	if !r.fallback.IsZero() {
		return r.fallback.With(logx.String("routine", r.routine.Name))
	}
	return logx.Nop()
}

// Run loops until ctx is cancelled and then returns ctx.Err(). Failed cycles
// never end the loop.
func (r *Runner) Run(ctx context.Context) error {
	log := r.logger()
	name := r.routine.Name
	r.publish(EventStarted, LifecycleEvent{Routine: name, Schedule: r.routine.Schedule.String()})
	log.Info("routine started", logx.String("schedule", r.routine.Schedule.String()))
	defer func() {
		st := r.Stats()
		r.publish(EventStopped, LifecycleEvent{Routine: name, Schedule: r.routine.Schedule.String(), Cycles: st.Cycles})
		log.Info("routine stopped", logx.Uint64("cycles", st.Cycles), logx.Uint64("failures", st.Failures))
	}()

	if r.routine.DelayFirst {
		delay := r.delay()
		log.Debug("first run delayed", logx.Duration("delay", delay))
		if err := r.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, execErr := r.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := r.delay()
		next := r.Stats().NextRun
		ev.Delay = delay
		ev.NextRun = next
		r.publish(EventCycle, ev)
		if execErr != nil {
			fields := []logx.Field{
				logx.Err(execErr),
				logx.Int64("delay_s", int64(delay/r.unit)),
				logx.Time("next_run", next),
			}
			if execErr.Panic != nil {
				fields = append(fields, logx.Any("panic", execErr.Panic), logx.Stack(execErr.stack))
			}
			log.Error("routine failed", fields...)
		}

		if err := r.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		if execErr == nil {
			log.Info("SUCCESS",
				logx.Int64("delay_s", int64(delay/r.unit)),
				logx.Uint64("cycle", r.Stats().Cycles),
			)
		}
	}
}

// delay computes the wait after the current moment and records it.
func (r *Runner) delay() time.Duration {
	now := r.clock.Now()
	secs := r.routine.Schedule.SecondsUntilNextRun(now)
	if secs < 0 {
		secs = 0
	}
	d := scaleSeconds(secs, r.unit)
	r.mu.Lock()
	r.stats.LastDelay = d
	r.stats.NextRun = now.Add(scaleSeconds(secs, time.Second))
	r.mu.Unlock()
	return d
}

// runOnce executes the action one time and records the outcome. The
// returned error is the cycle failure; it is nil on success and when ctx was
// cancelled mid-run.
func (r *Runner) runOnce(ctx context.Context) (CycleEvent, *ExecutionError) {
	r.mu.Lock()
	r.stats.Cycles++
	cycle := r.stats.Cycles
	r.mu.Unlock()

	started := r.clock.Now()
	pan, stack, err := r.invoke(ctx)
	took := r.clock.Now().Sub(started)
	ev := CycleEvent{Routine: r.routine.Name, Cycle: cycle, StartedAt: started, Took: took, Panicked: pan != nil}

	if ctx.Err() != nil && pan == nil {
		return ev, nil
	}

	var execErr *ExecutionError
	if err != nil || pan != nil {
		execErr = &ExecutionError{Routine: r.routine.Name, Cycle: cycle, Err: err, Panic: pan, stack: stack}
		ev.Err = execErr.Error()
	}

	r.mu.Lock()
	r.stats.LastRun = started
	r.stats.LastTook = took
	if execErr != nil {
		r.stats.Failures++
		r.stats.LastErr = ev.Err
	} else {
		r.stats.LastErr = ""
	}
	r.mu.Unlock()
	return ev, execErr
}

func (r *Runner) invoke(ctx context.Context) (pan any, stack string, err error) {
	runCtx := ctx
	if r.routine.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.routine.Timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			pan = p
			stack = string(debug.Stack())
		}
	}()
	err = r.routine.Action(runCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", r.routine.Timeout, err)
	}
	return nil, "", err
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.clock.Now(), Data: data})
}
