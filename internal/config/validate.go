package config

import (
	"errors"
	"fmt"
	"strings"

	"routined/internal/routine"
	"routined/internal/storage"
	logx "routined/pkg/logx"
)

// Validate checks everything that can be checked without building routines.
// Kind-specific routine config is checked by the routine factory. All
// problems are reported at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if t := cfg.Logging.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			add("logging.telegram.token: required when telegram logging is enabled")
		}
		if t.ChatID == 0 {
			add("logging.telegram.chat_id: required when telegram logging is enabled")
		}
		if !logx.ValidLevel(t.MinLevel) {
			add("logging.telegram.min_level: unknown level %q", t.MinLevel)
		}
		if t.RatePerSec < 0 {
			add("logging.telegram.rate_per_sec: must be >= 0")
		}
	}
	if cfg.Logging.Routines.Keep < 0 {
		add("logging.routines.keep: must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		if !storage.ValidDriver(s.Driver) {
			add("storage.driver: unknown driver %q", s.Driver)
		}
		d := strings.ToLower(strings.TrimSpace(s.Driver))
		if d != "" && d != "none" && strings.TrimSpace(s.Path) == "" {
			add("storage.path: required for driver %q", s.Driver)
		}
		if _, err := s.BusyTimeoutDuration(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(cfg.Routines) == 0 {
		add("routines: at least one routine is required")
	}
	seen := map[string]int{}
	for i, rc := range cfg.Routines {
		path := RoutinePath(i, rc.Name)
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			add("%s.name: required", path)
		} else {
			if j, dup := seen[name]; dup {
				add("%s.name: duplicate of routines[%d]", path, j)
			}
			seen[name] = i
		}
		if strings.TrimSpace(rc.Kind) == "" {
			add("%s.kind: required", path)
		}
		if _, err := routine.ParseRule(rc.Schedule); err != nil {
			add("%s.schedule: %v", path, err)
		}
		if _, err := rc.TimeoutDuration(); err != nil {
			add("%s.%w", path, err)
		}
	}
	return errors.Join(errs...)
}
