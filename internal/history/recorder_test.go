package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"routined/internal/eventbus"
	"routined/internal/observability/metrics"
	"routined/internal/routine"
	"routined/internal/storage"
	logx "routined/pkg/logx"
)

func TestRecorderPersistsCycles(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	bus := eventbus.New()
	rec := NewRecorder(bus, st, metrics.New(), logx.Nop())
	events, unsub := rec.Subscribe()
	defer unsub()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: routine.EventStarted, Data: routine.LifecycleEvent{Routine: "sync"}})
	bus.Publish(eventbus.Event{Type: routine.EventCycle, Data: routine.CycleEvent{
		Routine: "sync", Cycle: 1, StartedAt: start, Took: 1500 * time.Millisecond, NextRun: start.Add(time.Minute),
	}})
	bus.Publish(eventbus.Event{Type: routine.EventCycle, Data: routine.CycleEvent{
		Routine: "sync", Cycle: 2, StartedAt: start.Add(time.Minute), Err: "boom",
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx, events); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := st.RecentRuns(context.Background(), "sync", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Cycle != 2 || runs[0].OK || runs[0].Error != "boom" {
		t.Fatalf("newest run = %+v", runs[0])
	}
	if runs[1].TookMS != 1500 || !runs[1].OK {
		t.Fatalf("oldest run = %+v", runs[1])
	}
	if _, err := uuid.Parse(runs[0].ID); err != nil {
		t.Fatalf("run id %q: %v", runs[0].ID, err)
	}

	last, ok := rec.Last("sync")
	if !ok || last.Cycle != 2 {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestRecorderWithoutStore(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	rec := NewRecorder(bus, nil, nil, logx.Nop())
	events, unsub := rec.Subscribe()

	bus.Publish(eventbus.Event{Type: routine.EventCycle, Data: routine.CycleEvent{Routine: "x", Cycle: 1}})
	unsub()
	if err := rec.Run(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	if _, ok := rec.Last("x"); !ok {
		t.Fatal("cycle not recorded")
	}
}
