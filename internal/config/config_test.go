package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const yamlConfig = `
logging:
  level: debug
  console: true
  routines: {enabled: true, dir: ./logs, keep: 7}
storage: {driver: file, path: ./data/state.json}
routines:
  - name: vaults
    kind: forcegraph
    schedule: 30m
    config:
      data_dir: ./data
      vaults:
        - {path: notes, save_name: graph}
  - name: restart
    kind: restart_services
    schedule: "weekly:sun@00"
    run_on_start: false
    config: {list_file: service_list.txt}
`

const tomlConfig = `
[logging]
level = "info"
console = true

[[routines]]
name = "speed"
kind = "speedtest"
schedule = "0 */6 * * *"
timeout = "2m"

[[routines]]
name = "backup"
kind = "command"
schedule = "every:1h"
[routines.config]
command = "restic"
args = ["backup", "/srv"]
`

const jsonConfig = `{
  "logging": {"level": "warn", "console": true},
  "routines": [{"name": "tick", "kind": "command", "schedule": "90", "config": {"command": "true"}}]
}`

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseFormats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		file     string
		data     string
		routines int
		check    func(t *testing.T, cfg *Config)
	}{
		{"c.yaml", yamlConfig, 2, func(t *testing.T, cfg *Config) {
			if cfg.Logging.Routines.Keep != 7 || cfg.Storage == nil || cfg.Storage.Driver != "file" {
				t.Fatalf("cfg = %+v", cfg)
			}
			if cfg.Routines[1].StartsImmediately() || !cfg.Routines[0].StartsImmediately() {
				t.Fatal("run_on_start not decoded")
			}
			if !strings.Contains(string(cfg.Routines[0].Config), `"save_name":"graph"`) {
				t.Fatalf("routine config = %s", cfg.Routines[0].Config)
			}
		}},
		{"c.toml", tomlConfig, 2, func(t *testing.T, cfg *Config) {
			if cfg.Routines[0].Timeout != "2m" || cfg.Routines[1].Kind != "command" {
				t.Fatalf("routines = %+v", cfg.Routines)
			}
			var cmd struct {
				Command string   `json:"command"`
				Args    []string `json:"args"`
			}
			if err := DecodeStrict(cfg.Routines[1].Config, &cmd); err != nil || cmd.Command != "restic" || len(cmd.Args) != 2 {
				t.Fatalf("command config = %+v, %v", cmd, err)
			}
		}},
		{"c.json", jsonConfig, 1, func(t *testing.T, cfg *Config) {
			if cfg.Logging.Level != "warn" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
		}},
	}
	for _, tc := range tests {
		m := NewManager(writeFile(t, dir, tc.file, tc.data))
		cfg, err := m.Load()
		if err != nil {
			t.Fatalf("%s: Load: %v", tc.file, err)
		}
		if len(cfg.Routines) != tc.routines {
			t.Fatalf("%s: routines = %d", tc.file, len(cfg.Routines))
		}
		if err := Validate(cfg); err != nil {
			t.Fatalf("%s: Validate: %v", tc.file, err)
		}
		tc.check(t, cfg)
		if m.Get() != cfg {
			t.Fatalf("%s: Get did not return committed config", tc.file)
		}
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	if _, err := ParseBytes("x.json", []byte(`{"routines": [], "bogus": 1}`)); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := ParseBytes("x.yaml", []byte("logging:\n  levle: info\n")); err == nil {
		t.Fatal("unknown yaml field accepted")
	}
	if _, err := ParseBytes("x.json", []byte(`{"routines": []}{"routines": []}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Logging: LoggingConfig{Level: "loud", Telegram: LoggingTelegram{Enabled: true}},
		Storage: &StorageConfig{Driver: "sqlite"},
		Routines: []RoutineConfig{
			{Name: "a", Kind: "command", Schedule: "1m"},
			{Name: "a", Kind: "command", Schedule: "1m"},
			{Name: "", Kind: "", Schedule: "whenever", Timeout: "soon"},
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted invalid config")
	}
	for _, want := range []string{
		"logging.level",
		"logging.telegram.token",
		"logging.telegram.chat_id",
		"storage.path",
		"duplicate",
		"routines[2].name: required",
		"routines[2].kind: required",
		"routines[2].schedule",
		"routines[2].timeout",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q:\n%v", want, err)
		}
	}

	if err := Validate(&Config{}); err == nil || !strings.Contains(err.Error(), "at least one routine") {
		t.Fatalf("empty config = %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Routines: []RoutineConfig{
			{Name: "a", Kind: "command", Schedule: "1m", Config: []byte(`{"command":"x","args":["1"]}`)},
			{Name: "b", Kind: "command", Schedule: "1m"},
		},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Routines: []RoutineConfig{
			{Name: "a", Kind: "command", Schedule: "1m", Config: []byte(`{ "args": ["1"], "command": "x" }`)},
			{Name: "c", Kind: "command", Schedule: "1m"},
		},
	}
	sections, _, rc := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "logging,routines" {
		t.Fatalf("sections = %v", sections)
	}
	if len(rc.Modified) != 0 || len(rc.Added) != 1 || rc.Added[0] != "c" || len(rc.Removed) != 1 || rc.Removed[0] != "b" {
		t.Fatalf("routine changes = %+v", rc)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "routined.json", jsonConfig)

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Logging.Level == "error" {
			return errors.New("rejected for test")
		}
		return Validate(cfg)
	})
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "routined.json", strings.Replace(jsonConfig, `"warn"`, `"error"`, 1))
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config published: %+v", cfg.Logging)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, dir, "routined.json", strings.Replace(jsonConfig, `"warn"`, `"debug"`, 1))
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reloaded config not committed")
	}
}

func TestDurationFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout string
		want    time.Duration
		wantErr string
	}{
		{name: "unset"},
		{name: "spaces", timeout: "  "},
		{name: "minutes", timeout: " 2m ", want: 2 * time.Minute},
		{name: "garbage", timeout: "soon", wantErr: `timeout: "soon" is not a duration`},
		{name: "negative", timeout: "-1s", wantErr: `timeout: "-1s" is negative`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := RoutineConfig{Timeout: tc.timeout}.TimeoutDuration()
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %v, %v; want %v", got, err, tc.want)
			}
		})
	}

	if d, err := (StorageConfig{}).BusyTimeoutDuration(); err != nil || d != DefaultBusyTimeout {
		t.Fatalf("default busy = %v, %v", d, err)
	}
	if d, err := (StorageConfig{BusyTimeout: "0s"}).BusyTimeoutDuration(); err != nil || d != DefaultBusyTimeout {
		t.Fatalf("zero busy = %v, %v", d, err)
	}
	if _, err := (StorageConfig{BusyTimeout: "-5s"}).BusyTimeoutDuration(); err == nil || !strings.HasPrefix(err.Error(), "storage.busy_timeout:") {
		t.Fatalf("negative busy = %v", err)
	}

	if got := RoutinePath(3, " backup "); got != "routines[3](backup)" {
		t.Fatalf("RoutinePath = %q", got)
	}
	if got := RoutinePath(0, ""); got != "routines[0]" {
		t.Fatalf("RoutinePath(empty) = %q", got)
	}
}
