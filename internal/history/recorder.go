// Package history turns routine bus events into persisted run records and
// Prometheus samples.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"routined/internal/eventbus"
	"routined/internal/observability/metrics"
	"routined/internal/routine"
	"routined/internal/storage"
	logx "routined/pkg/logx"
)

// Recorder consumes routine events. Store and Metrics are both optional.
type Recorder struct {
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics
	log     logx.Logger

	mu     sync.Mutex
	recent map[string]storage.RunRecord
}

func NewRecorder(bus eventbus.Bus, store storage.Store, m *metrics.Metrics, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		bus:     bus,
		store:   store,
		metrics: m,
		log:     log.With(logx.String("comp", "history")),
		recent:  map[string]storage.RunRecord{},
	}
}

// Subscribe registers on the bus. Call it before the routines start so the
// first cycles are not missed; then pass the channel to Run.
func (r *Recorder) Subscribe() (<-chan eventbus.Event, func()) {
	return r.bus.Subscribe(256)
}

// Run handles events until ctx is done or the channel closes.
func (r *Recorder) Run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(events)
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ctx, e)
		}
	}
}

// drain records events that were already buffered when ctx was cancelled.
func (r *Recorder) drain(events <-chan eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case routine.EventCycle:
		ev, ok := e.Data.(routine.CycleEvent)
		if !ok {
			return
		}
		r.recordCycle(ctx, ev)
	case routine.EventStarted:
		if r.metrics != nil {
			r.metrics.RoutineStarted()
		}
	case routine.EventStopped:
		if r.metrics != nil {
			r.metrics.RoutineStopped()
		}
	default:
		r.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
	if fo, ok := r.bus.(*eventbus.Fanout); ok && r.metrics != nil {
		r.metrics.SetEventsDropped(fo.Stats().Dropped)
	}
}

func (r *Recorder) recordCycle(ctx context.Context, ev routine.CycleEvent) {
	rec := storage.RunRecord{
		ID:        uuid.NewString(),
		Routine:   ev.Routine,
		Cycle:     ev.Cycle,
		StartedAt: ev.StartedAt,
		TookMS:    ev.Took.Milliseconds(),
		OK:        ev.OK(),
		Error:     ev.Err,
		NextRun:   ev.NextRun,
	}

	r.mu.Lock()
	r.recent[ev.Routine] = rec
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordCycle(ev.Routine, rec.OK, ev.Took, ev.StartedAt.Add(ev.Took), ev.NextRun)
	}
	if r.store != nil {
		if err := r.store.AppendRun(ctx, rec); err != nil {
			r.log.Warn("append run failed", logx.String("routine", ev.Routine), logx.Err(err))
		}
	}
}

// Last returns the most recent record seen for routine since startup.
func (r *Recorder) Last(routineName string) (storage.RunRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recent[routineName]
	return rec, ok
}
