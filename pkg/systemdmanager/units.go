package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")
	ErrClosed      = errors.New("systemd connection is closed")
	ErrNoSuchUnit  = errors.New("no such unit")
)

var unitSuffixes = []string{
	".service", ".socket", ".timer", ".target", ".mount", ".automount",
	".path", ".slice", ".scope", ".device", ".swap",
}

// UnitName appends ".service" to bare names, the way systemctl does.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	for _, s := range unitSuffixes {
		if strings.HasSuffix(name, s) {
			return name
		}
	}
	return name + ".service"
}

// jobResultErr maps a systemd job result to an error. "done" is success.
func jobResultErr(unit, result string) error {
	switch result {
	case "done":
		return nil
	case "":
		return fmt.Errorf("restart %s: job finished without result", unit)
	default:
		return fmt.Errorf("restart %s: job %s", unit, result)
	}
}
