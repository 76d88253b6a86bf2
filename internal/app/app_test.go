package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"routined/internal/config"
	"routined/internal/routine"
)

func routineCfg(name, kind, schedule, raw string) config.RoutineConfig {
	return config.RoutineConfig{Name: name, Kind: kind, Schedule: schedule, Config: json.RawMessage(raw)}
}

func TestBuildRoutinesKinds(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Routines: []config.RoutineConfig{
		routineCfg("sh", "command", "1h", `{"command":"true"}`),
		routineCfg("vaults", "ForceGraph", "30m", `{"data_dir":"data","vaults":[{"path":"notes","save_name":"g"}]}`),
		routineCfg("restart", "restart_services", "weekly:sun@00", `{"services":["nginx"]}`),
		routineCfg("speed", "speedtest", "0 */6 * * *", ``),
	}}
	rts, err := buildRoutines(cfg, routineDeps{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rts) != 4 {
		t.Fatalf("built %d routines", len(rts))
	}
	if got := rts[2].Schedule.String(); got != "weekly sunday at 00:00" {
		t.Fatalf("schedule = %q", got)
	}
}

func TestBuildRoutinesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rc   config.RoutineConfig
		want string
	}{
		{"unknown kind", routineCfg("x", "ftp", "1h", ``), "unknown kind"},
		{"bad schedule", routineCfg("x", "command", "soon", `{"command":"true"}`), "schedule"},
		{"unknown field", routineCfg("x", "command", "1h", `{"command":"true","shell":"zsh"}`), "unknown field"},
		{"kind validation", routineCfg("x", "forcegraph", "1h", `{}`), "data_dir"},
		{"bad timeout", config.RoutineConfig{Name: "x", Kind: "command", Schedule: "1h", Timeout: "forever", Config: json.RawMessage(`{"command":"true"}`)}, "timeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := buildRoutines(&config.Config{Routines: []config.RoutineConfig{tc.rc}}, routineDeps{})
			var ce *routine.ConfigurationError
			if !errors.As(err, &ce) || ce.Routine != "x" {
				t.Fatalf("err = %v, want ConfigurationError for x", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()

	ok := &config.Config{Routines: []config.RoutineConfig{routineCfg("a", "command", "1h", `{"command":"true"}`)}}
	if err := CheckConfig(ok); err != nil {
		t.Fatalf("CheckConfig = %v", err)
	}

	dup := &config.Config{Routines: []config.RoutineConfig{
		routineCfg("a", "command", "1h", `{"command":"true"}`),
		routineCfg("a", "command", "2h", `{"command":"true"}`),
	}}
	if err := CheckConfig(dup); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("CheckConfig(dup) = %v", err)
	}
}

func TestPlanRuns(t *testing.T) {
	t.Parallel()

	no := false
	now := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC) // Wednesday
	cfg := &config.Config{Routines: []config.RoutineConfig{
		routineCfg("tick", "command", "30m", ``),
		{Name: "weekly", Kind: "command", Schedule: "weekly:sun@00", RunOnStart: &no},
	}}
	plan, err := PlanRuns(cfg, now, 3)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string][]time.Time{
		"tick": {now, now.Add(30 * time.Minute), now.Add(time.Hour)},
		"weekly": {
			time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 11, 8, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, u := range plan {
		w := want[u.Name]
		if len(u.Runs) != len(w) {
			t.Fatalf("%s runs = %v", u.Name, u.Runs)
		}
		for i := range w {
			if !u.Runs[i].Equal(w[i]) {
				t.Fatalf("%s run %d = %v, want %v", u.Name, i, u.Runs[i], w[i])
			}
		}
	}

	if _, err := PlanRuns(&config.Config{Routines: []config.RoutineConfig{routineCfg("x", "command", "", ``)}}, now, 1); err == nil {
		t.Fatal("PlanRuns accepted empty schedule")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "File", Path: "state"}, enabled: true, driver: "file"},
		{name: "sqlite default busy", in: &config.StorageConfig{Driver: "sqlite", Path: "db"}, enabled: true, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite", Path: "db", BusyTimeout: "5s"}, enabled: true, driver: "sqlite", busy: 5 * time.Second},
		{name: "missing path", in: &config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "bad driver", in: &config.StorageConfig{Driver: "redis", Path: "x"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if enabled != tc.enabled || sc.Driver != tc.driver || sc.BusyTimeout != tc.busy {
				t.Fatalf("got %+v enabled=%v", sc, enabled)
			}
		})
	}
}

func TestAppRunAndStop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "routined.yaml")
	data := `
logging: {level: warn}
storage: {driver: file, path: ` + filepath.Join(dir, "state") + `}
routines:
  - name: tick
    kind: command
    schedule: 1h
    config: {command: "true"}
`
	if err := os.WriteFile(cfgPath, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if rec, ok := a.recorder.Last("tick"); ok {
			if !rec.OK || rec.Cycle != 1 {
				t.Fatalf("first record = %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first cycle never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rep := a.health().(healthReport)
	if rep.Status != "ok" || len(rep.Routines) != 1 || rep.Routines[0].Cycles != 1 {
		t.Fatalf("health = %+v", rep)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopContext); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	runs, err := os.ReadFile(filepath.Join(dir, "state.runs.jsonl"))
	if err != nil || !strings.Contains(string(runs), `"routine":"tick"`) {
		t.Fatalf("runs = %q, %v", runs, err)
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "routined.json")
	if err := os.WriteFile(cfgPath, []byte(`{"routines":[{"name":"a","kind":"ftp","schedule":"1h"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(cfgPath); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("NewApp = %v", err)
	}
}
