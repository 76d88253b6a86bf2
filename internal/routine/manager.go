package routine

import (
	"context"
	"sync"
	"time"

	"routined/internal/eventbus"
	"routined/internal/runtime/supervisor"
	logx "routined/pkg/logx"
)

// TaskInfo describes one registered routine for status output.
type TaskInfo struct {
	Name     string
	Schedule string
	State    supervisor.State
	Stats    Stats
	TaskErr  string
}

type ManagerOption func(*Manager)

func WithManagerLogger(log logx.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func WithEventBus(bus eventbus.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithRunnerOptions applies opts to every runner the manager creates.
func WithRunnerOptions(opts ...RunnerOption) ManagerOption {
	return func(m *Manager) { m.runnerOpts = append(m.runnerOpts, opts...) }
}

// Manager owns a set of routines and runs them concurrently until cancelled.
//
// Register is only valid before Run. Run may be called once. Shutdown is
// idempotent; calling it before Run closes the manager.
type Manager struct {
	reg        *Registry
	log        logx.Logger
	bus        eventbus.Bus
	runnerOpts []RunnerOption

	mu      sync.Mutex
	runners []*Runner
	tasks   map[string]*supervisor.Task
	sup     *supervisor.Supervisor
	closed  bool
}

// NewManager creates a manager backed by reg. A nil reg gets a fresh registry.
func NewManager(reg *Registry, opts ...ManagerOption) *Manager {
	if reg == nil {
		reg = NewRegistry()
	}
	m := &Manager{reg: reg, tasks: map[string]*supervisor.Task{}}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

func (m *Manager) Registry() *Registry { return m.reg }

// Register adds routines in order. It stops at the first invalid routine and
// returns a *ConfigurationError; routines before it stay registered.
func (m *Manager) Register(routines ...Routine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup != nil {
		return ErrAlreadyRunning
	}
	if m.closed {
		return ErrManagerClosed
	}
	for _, rt := range routines {
		if err := rt.validate(); err != nil {
			return &ConfigurationError{Routine: rt.Name, Err: err}
		}
		if err := m.reg.Add(rt.Name); err != nil {
			return &ConfigurationError{Routine: rt.Name, Err: err}
		}
		opts := make([]RunnerOption, 0, len(m.runnerOpts)+2)
		opts = append(opts, WithFallbackLogger(m.log), WithBus(m.bus))
		opts = append(opts, m.runnerOpts...)
		m.runners = append(m.runners, NewRunner(rt, opts...))
	}
	return nil
}

// Run starts every registered routine and blocks until all of them stopped.
// Cancelling ctx (or calling Shutdown) stops them; Run then returns nil.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.sup != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log))
	m.sup = sup
	for _, r := range m.runners {
		m.tasks[r.Name()] = sup.Go(r.Name(), r.Run)
	}
	n := len(m.runners)
	m.mu.Unlock()

	m.log.Info("routines started", logx.Int("count", n))
	start := time.Now()

	_ = sup.Wait(context.Background())

	m.log.Info("routines stopped", logx.Int("count", n), logx.Duration("uptime", time.Since(start)))
	return nil
}

// Shutdown cancels all running routines and waits until they acknowledged or
// ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sup := m.sup
	m.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Snapshot reports every registered routine in registration order.
func (m *Manager) Snapshot() []TaskInfo {
	m.mu.Lock()
	runners := append([]*Runner(nil), m.runners...)
	tasks := make(map[string]*supervisor.Task, len(m.tasks))
	for k, v := range m.tasks {
		tasks[k] = v
	}
	m.mu.Unlock()

	out := make([]TaskInfo, 0, len(runners))
	for _, r := range runners {
		ti := TaskInfo{
			Name:     r.Name(),
			Schedule: r.Schedule().String(),
			State:    supervisor.StatePending,
			Stats:    r.Stats(),
		}
		if t := tasks[r.Name()]; t != nil {
			info := t.Info()
			ti.State = info.State
			ti.TaskErr = info.Err
			if info.Panic != "" && ti.TaskErr == "" {
				ti.TaskErr = "panic: " + info.Panic
			}
		}
		out = append(out, ti)
	}
	return out
}
