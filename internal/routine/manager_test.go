package routine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"routined/internal/eventbus"
	"routined/internal/runtime/supervisor"
	logx "routined/pkg/logx"
)

// fakeClock advances virtual time on Sleep and cancels the run after limit
// sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	c.mu.Unlock()
	if c.limit > 0 && n >= c.limit {
		c.cancel()
	}
	return ctx.Err()
}

func noop(context.Context) error { return nil }

func TestRunnerSleepsScheduleDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{now: at(2024, 1, 1, 0, 0, 0), limit: 4, cancel: cancel}

	var calls atomic.Int32
	var buf bytes.Buffer
	rt := New("tick", FixedInterval{Seconds: 3}, func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithLogger(logx.NewWriter(&buf, "debug")))

	r := NewRunner(rt, WithClock(clk))
	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	if got := calls.Load(); got != 4 {
		t.Fatalf("calls = %d, want 4", got)
	}
	for i, d := range clk.sleeps {
		if d != 3*time.Second {
			t.Fatalf("sleep %d = %s, want 3s", i, d)
		}
	}
	// The last sleep was interrupted, so only three cycles completed.
	if got := strings.Count(buf.String(), "SUCCESS"); got != 3 {
		t.Fatalf("SUCCESS records = %d, want 3\n%s", got, buf.String())
	}
	if !strings.Contains(buf.String(), `"delay_s":3`) {
		t.Fatalf("missing delay_s in log:\n%s", buf.String())
	}
	st := r.Stats()
	if st.Cycles != 4 || st.Failures != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if want := at(2024, 1, 1, 0, 0, 12); !st.NextRun.Equal(want) {
		t.Fatalf("NextRun = %s, want %s", st.NextRun, want)
	}
}

func TestRunnerSurvivesFailuresAndPanics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{now: at(2024, 1, 1, 0, 0, 0), limit: 5, cancel: cancel}

	var calls atomic.Int32
	var buf bytes.Buffer
	rt := New("flaky", FixedInterval{Seconds: 1}, func(context.Context) error {
		if calls.Add(1)%2 == 0 {
			panic("kaboom")
		}
		return errors.New("always fails")
	}, WithLogger(logx.NewWriter(&buf, "debug")))

	r := NewRunner(rt, WithClock(clk))
	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("calls = %d, want 5", got)
	}
	st := r.Stats()
	if st.Failures != 5 {
		t.Fatalf("failures = %d, want 5", st.Failures)
	}
	if got := strings.Count(buf.String(), "routine failed"); got != 5 {
		t.Fatalf("failure records = %d, want 5\n%s", got, buf.String())
	}
	// one error record per failed cycle; panics carry their stack on it
	if got := strings.Count(buf.String(), `"level":"error"`); got != 5 {
		t.Fatalf("error records = %d, want 5\n%s", got, buf.String())
	}
	if got := strings.Count(buf.String(), `"stack":`); got != 2 {
		t.Fatalf("records with stack = %d, want 2\n%s", got, buf.String())
	}
	if strings.Contains(buf.String(), "SUCCESS") {
		t.Fatal("failed cycles logged SUCCESS")
	}
}

func TestRunnerCancelDuringAction(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{now: at(2024, 1, 1, 0, 0, 0)}

	var calls atomic.Int32
	var buf bytes.Buffer
	started := make(chan struct{})
	rt := New("busy", FixedInterval{Seconds: 1}, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithLogger(logx.NewWriter(&buf, "debug")))

	r := NewRunner(rt, WithClock(clk))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-started
	cancel()
	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if st := r.Stats(); st.Failures != 0 || st.LastErr != "" {
		t.Fatalf("stats = %+v", st)
	}
	if strings.Contains(buf.String(), "routine failed") || strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("cancelled cycle logged as failure:\n%s", buf.String())
	}
	if len(clk.sleeps) != 0 {
		t.Fatalf("slept %v after cancel", clk.sleeps)
	}
}

func TestRunnerHugeIntervalNeverSpins(t *testing.T) {
	t.Parallel()

	if _, err := ParseRule("10000000000"); err == nil {
		t.Fatal("ParseRule accepted an interval beyond time.Duration range")
	}
	if _, err := NewFixedInterval(MaxIntervalSeconds + 1); err == nil {
		t.Fatal("NewFixedInterval accepted an out-of-range interval")
	}
	longest, err := NewFixedInterval(MaxIntervalSeconds)
	if err != nil {
		t.Fatal(err)
	}
	if s := longest.String(); strings.Contains(s, "-") {
		t.Fatalf("String = %q", s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{now: at(2024, 1, 1, 0, 0, 0), limit: 2, cancel: cancel}
	// a larger unit would overflow without saturation
	r := NewRunner(New("far", longest, noop), WithClock(clk), WithUnit(time.Hour))
	_ = r.Run(ctx)

	if len(clk.sleeps) == 0 {
		t.Fatal("runner never slept")
	}
	for i, d := range clk.sleeps {
		if d <= 0 {
			t.Fatalf("sleep %d = %s, want positive", i, d)
		}
	}
	if st := r.Stats(); st.LastDelay <= 0 || !st.NextRun.After(at(2024, 1, 1, 0, 0, 0)) {
		t.Fatalf("stats = %+v", st)
	}
}

func TestScaleSecondsSaturates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		secs int64
		unit time.Duration
		want time.Duration
	}{
		{0, time.Second, 0},
		{-5, time.Second, 0},
		{3, time.Second, 3 * time.Second},
		{3, time.Millisecond, 3 * time.Millisecond},
		{MaxIntervalSeconds, time.Second, time.Duration(MaxIntervalSeconds) * time.Second},
		{MaxIntervalSeconds + 1, time.Second, time.Duration(math.MaxInt64)},
		{math.MaxInt64, time.Hour, time.Duration(math.MaxInt64)},
	}
	for _, tc := range tests {
		if got := scaleSeconds(tc.secs, tc.unit); got != tc.want {
			t.Errorf("scaleSeconds(%d, %s) = %s, want %s", tc.secs, tc.unit, got, tc.want)
		}
	}
}

func TestRunnerDelayFirst(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{now: at(2024, 1, 1, 0, 0, 0), limit: 1, cancel: cancel}

	var calls atomic.Int32
	rt := New("late", FixedInterval{Seconds: 60}, func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithRunOnStart(false))

	_ = NewRunner(rt, WithClock(clk)).Run(ctx)
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestRunnerTimeoutIsFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{limit: 1, cancel: cancel}

	rt := New("slow", FixedInterval{Seconds: 1}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(5*time.Millisecond))

	r := NewRunner(rt, WithClock(clk))
	_ = r.Run(ctx)
	st := r.Stats()
	if st.Failures != 1 || !strings.Contains(st.LastErr, "timed out") {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRunnerPublishesCycleEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{now: at(2024, 1, 1, 0, 0, 0), limit: 2, cancel: cancel}

	n := 0
	rt := New("evt", FixedInterval{Seconds: 10}, func(context.Context) error {
		n++
		if n == 2 {
			return errors.New("second fails")
		}
		return nil
	})
	_ = NewRunner(rt, WithClock(clk), WithBus(bus)).Run(ctx)

	var cycles []CycleEvent
	for len(ch) > 0 {
		ev := <-ch
		if ce, ok := ev.Data.(CycleEvent); ok && ev.Type == EventCycle {
			cycles = append(cycles, ce)
		}
	}
	if len(cycles) != 2 {
		t.Fatalf("cycle events = %d, want 2", len(cycles))
	}
	if !cycles[0].OK() || cycles[1].OK() {
		t.Fatalf("events = %+v", cycles)
	}
	if cycles[0].Delay != 10*time.Second || !cycles[0].NextRun.Equal(at(2024, 1, 1, 0, 0, 10)) {
		t.Fatalf("first event = %+v", cycles[0])
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if err := m.Register(New("ping", every(time.Second), noop)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := m.Register(New("ping", every(time.Minute), noop))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || !errors.Is(err, ErrDuplicateTaskName) {
		t.Fatalf("Register duplicate = %v", err)
	}
	if cfgErr.Routine != "ping" {
		t.Fatalf("routine = %q", cfgErr.Routine)
	}
	if got := len(m.Snapshot()); got != 1 {
		t.Fatalf("snapshot len = %d, want 1", got)
	}
}

func TestRegisterSharedRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := NewManager(reg)
	b := NewManager(reg)
	if err := a.Register(New("sync", every(time.Second), noop)); err != nil {
		t.Fatal(err)
	}
	if err := b.Register(New("sync", every(time.Second), noop)); !errors.Is(err, ErrDuplicateTaskName) {
		t.Fatalf("second manager Register = %v", err)
	}
	if err := b.Register(New("", every(time.Second), noop)); !errors.Is(err, ErrEmptyTaskName) {
		t.Fatalf("empty name Register = %v", err)
	}
}

func TestManagerShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, WithRunnerOptions(WithUnit(time.Millisecond)))
	if err := m.Register(
		New("a", every(time.Second), noop),
		New("b", every(2*time.Second), noop),
	); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	waitFor(t, func() bool {
		for _, ti := range m.Snapshot() {
			if ti.Stats.Cycles == 0 {
				return false
			}
		}
		return true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := m.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown #%d: %v", i, err)
		}
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	for _, ti := range m.Snapshot() {
		if ti.State != supervisor.StateCancelled {
			t.Fatalf("%s state = %s", ti.Name, ti.State)
		}
	}
	if err := m.Run(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("Run after Shutdown = %v", err)
	}
}

func TestManagerShutdownBeforeRun(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := m.Run(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("Run = %v", err)
	}
}

func TestManagerRunTwice(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if err := m.Register(New("only", every(time.Hour), noop)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	waitFor(t, func() bool { return m.Snapshot()[0].Stats.Cycles > 0 })

	if err := m.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestManagerRunsRoutinesIndependently(t *testing.T) {
	t.Parallel()

	var fast, slow atomic.Int32
	m := NewManager(nil, WithRunnerOptions(WithUnit(20*time.Millisecond)))
	if err := m.Register(
		New("fast", every(time.Second), func(context.Context) error { fast.Add(1); return nil }),
		New("slow", every(3*time.Second), func(context.Context) error { slow.Add(1); return nil }),
		New("broken", every(time.Second), func(context.Context) error { return errors.New("nope") }),
	); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 190*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run = %v", err)
	}

	f, s := fast.Load(), slow.Load()
	if s < 2 || f < 2*s {
		t.Fatalf("fast=%d slow=%d, want fast roughly 3x slow", f, s)
	}
	for _, ti := range m.Snapshot() {
		if ti.Name == "broken" && ti.Stats.Failures < 2 {
			t.Fatalf("broken failures = %d", ti.Stats.Failures)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
