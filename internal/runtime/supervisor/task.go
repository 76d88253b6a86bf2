package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a supervised task.
//
//	Pending -> Running -> {Cancelled, Completed, Failed}
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCancelled
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether the task has finished.
func (s State) Terminal() bool { return s >= StateCancelled }

// Task is the live handle of one supervised goroutine.
type Task struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	mu        sync.Mutex
	startedAt time.Time
	stoppedAt time.Time
	err       error
	panicVal  any
}

func (t *Task) Name() string { return t.name }

func (t *Task) State() State { return State(t.state.Load()) }

// Cancel requests cancellation. Safe to call any number of times, also after
// the task finished.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once the task reached a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure of a Failed task, nil otherwise.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		Name:      t.name,
		State:     t.State(),
		StartedAt: t.startedAt,
		StoppedAt: t.stoppedAt,
	}
	if !t.startedAt.IsZero() {
		end := t.stoppedAt
		if end.IsZero() {
			end = time.Now()
		}
		info.Runtime = end.Sub(t.startedAt)
	}
	if t.err != nil {
		info.Err = t.err.Error()
	}
	if t.panicVal != nil {
		info.Panic = fmt.Sprint(t.panicVal)
	}
	return info
}

func (t *Task) begin() {
	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
	t.state.CompareAndSwap(int32(StatePending), int32(StateRunning))
}

func (t *Task) finish(st State, err error, pan any) {
	t.mu.Lock()
	if t.State().Terminal() {
		t.mu.Unlock()
		return
	}
	t.stoppedAt = time.Now()
	t.err = err
	t.panicVal = pan
	t.state.Store(int32(st))
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}
