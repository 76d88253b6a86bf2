package routine

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "routined/pkg/logx"
)

// Action is the body of a routine. It receives a context that is cancelled
// on shutdown (and on Timeout, when set).
type Action func(ctx context.Context) error

// Routine is a named action bound to a schedule rule.
type Routine struct {
	Name     string
	Schedule Rule
	Action   Action

	// Log receives the cycle records. The zero value falls back to the
	// manager's logger.
	Log logx.Logger

	// Timeout bounds a single run of Action. Zero means no bound.
	Timeout time.Duration

	// DelayFirst waits one schedule delay before the first run instead of
	// running immediately.
	DelayFirst bool
}

type Option func(*Routine)

func WithLogger(log logx.Logger) Option {
	return func(r *Routine) { r.Log = log }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Routine) { r.Timeout = d }
}

// WithRunOnStart controls whether the first cycle runs immediately (default).
func WithRunOnStart(enabled bool) Option {
	return func(r *Routine) { r.DelayFirst = !enabled }
}

func New(name string, schedule Rule, action Action, opts ...Option) Routine {
	r := Routine{Name: strings.TrimSpace(name), Schedule: schedule, Action: action}
	for _, o := range opts {
		if o != nil {
			o(&r)
		}
	}
	return r
}

func (r Routine) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyTaskName
	}
	if r.Schedule == nil {
		return fmt.Errorf("schedule required")
	}
	if r.Action == nil {
		return fmt.Errorf("action required")
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	return nil
}
