package config

import (
	"fmt"
	"strings"
	"time"
)

// DefaultBusyTimeout applies when storage.busy_timeout is unset or zero.
const DefaultBusyTimeout = time.Second

// RoutinePath names routine i in error messages, e.g. "routines[2](backup)".
func RoutinePath(i int, name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return fmt.Sprintf("routines[%d]", i)
	}
	return fmt.Sprintf("routines[%d](%s)", i, name)
}

// TimeoutDuration parses the routine's timeout. Empty means no timeout.
func (rc RoutineConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("timeout", rc.Timeout)
}

// BusyTimeoutDuration parses busy_timeout, falling back to DefaultBusyTimeout.
func (sc StorageConfig) BusyTimeoutDuration() (time.Duration, error) {
	d, err := parseDuration("storage.busy_timeout", sc.BusyTimeout)
	if err != nil || d > 0 {
		return d, err
	}
	return DefaultBusyTimeout, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. 30s, 5m, 1h30m)", field, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", field, raw)
	}
	return d, nil
}
