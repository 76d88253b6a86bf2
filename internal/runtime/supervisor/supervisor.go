package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "routined/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
// - Named tasks with their own cancel handle and lifecycle state
// - Panic recovery (a panicking task ends Failed, the others keep running)
// - Optional cancel-on-first-error
// - Graceful stop that waits for every task to acknowledge
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Counters are best-effort operational metrics.
	started uint64
	active  int64

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // stores error
	wg          sync.WaitGroup

	mu    sync.Mutex
	tasks []*Task
}

type Option func(*Supervisor)

// Counters exposes best-effort goroutine counters.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// TaskInfo is a point-in-time view of one task.
type TaskInfo struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at"`
	Runtime   time.Duration `json:"runtime"`
	Err       string        `json:"err,omitempty"`
	Panic     string        `json:"panic,omitempty"`
}

// Snapshot is a point-in-time snapshot of a supervisor.
type Snapshot struct {
	Counters   Counters   `json:"counters"`
	FirstError string     `json:"first_error,omitempty"`
	Tasks      []TaskInfo `json:"tasks"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// If enabled, the first non-nil error from any task will cancel the supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for tasks to exit.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	v := s.firstErr.Load()
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}

// Counters returns best-effort goroutine counters for this supervisor.
func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		Active:  atomic.LoadInt64(&s.active),
		Started: atomic.LoadUint64(&s.started),
	}
}

// Tasks returns the tasks started so far, in start order.
func (s *Supervisor) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.tasks...)
}

// Snapshot returns a point-in-time snapshot of the supervisor.
//
// This is intended for observability/debug output, not for synchronization.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	tasks := s.Tasks()
	snap.Tasks = make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, t.Info())
	}
	sort.SliceStable(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

// Go starts fn in its own goroutine under a child context and returns its handle.
//
// A nil return or context.Canceled after cancellation ends the task Cancelled;
// a nil return without cancellation ends it Completed; anything else (including
// a panic) ends it Failed.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{name: name, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	t.state.Store(int32(StatePending))

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	if fn == nil {
		t.finish(StateCompleted, nil, nil)
		return t
	}

	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		t.begin()

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in %s: %v", name, r)
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
				t.finish(StateFailed, err, r)
				s.setErr(err)
				if s.cancelOnErr {
					s.cancel()
				}
			}
		}()

		if !s.log.IsZero() {
			s.log.Debug("goroutine started", logx.String("name", name))
		}
		err := fn(ctx)
		switch {
		case ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)):
			t.finish(StateCancelled, nil, nil)
		case err == nil:
			t.finish(StateCompleted, nil, nil)
		case errors.Is(err, context.Canceled):
			t.finish(StateCancelled, nil, nil)
		default:
			err2 := fmt.Errorf("%s: %w", name, err)
			t.finish(StateFailed, err2, nil)
			s.setErr(err2)
			if s.cancelOnErr {
				s.cancel()
			}
		}
		if !s.log.IsZero() {
			s.log.Debug("goroutine stopped", logx.String("name", name), logx.String("state", t.State().String()))
		}
	}()
	return t
}

// Stop cancels every task and waits for each to acknowledge.
// Tasks that already finished count as acknowledged; calling Stop again is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	for _, t := range s.Tasks() {
		t.Cancel()
	}
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has finished or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, t := range s.Tasks() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Done():
		}
	}
	return nil
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
