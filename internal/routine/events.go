package routine

import "time"

// Event types published on the event bus.
const (
	EventCycle   = "routine.cycle"
	EventStarted = "routine.started"
	EventStopped = "routine.stopped"
)

// CycleEvent is the Data of an EventCycle event. Err is empty on success.
type CycleEvent struct {
	Routine   string
	Cycle     uint64
	StartedAt time.Time
	Took      time.Duration
	Err       string
	Panicked  bool
	Delay     time.Duration
	NextRun   time.Time
}

func (e CycleEvent) OK() bool { return e.Err == "" }

// LifecycleEvent is the Data of EventStarted and EventStopped events.
type LifecycleEvent struct {
	Routine  string
	Schedule string
	Cycles   uint64
}
