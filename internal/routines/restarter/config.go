package restarter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Kind is the routine kind handled by this package.
const Kind = "restart_services"

// Config is the "restart_services" routine config. Units come from ListFile
// (re-read every cycle) followed by Services.
//
// Example:
//
//	config: {list_file: ./service_list.txt, method: auto, rate_per_sec: 1}
type Config struct {
	ListFile    string   `json:"list_file,omitempty"`
	Services    []string `json:"services,omitempty"`
	Method      string   `json:"method,omitempty"` // auto (default), dbus, systemctl
	Sudo        bool     `json:"sudo,omitempty"`   // systemctl only
	RatePerSec  float64  `json:"rate_per_sec,omitempty"`
	UnitTimeout string   `json:"unit_timeout,omitempty"` // default 30s

	unitTimeout time.Duration
}

const (
	MethodAuto      = "auto"
	MethodDBus      = "dbus"
	MethodSystemctl = "systemctl"

	defaultRatePerSec  = 1
	defaultUnitTimeout = 30 * time.Second
)

func (c *Config) normalize() error {
	var errs []error
	c.Method = strings.ToLower(strings.TrimSpace(c.Method))
	switch c.Method {
	case "":
		c.Method = MethodAuto
	case MethodAuto, MethodDBus, MethodSystemctl:
	default:
		errs = append(errs, fmt.Errorf("method: unknown method %q", c.Method))
	}
	if strings.TrimSpace(c.ListFile) == "" && len(c.Services) == 0 {
		errs = append(errs, errors.New("list_file or services: at least one is required"))
	}
	for i, s := range c.Services {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Errorf("services[%d]: empty unit name", i))
		}
	}
	if c.RatePerSec < 0 {
		errs = append(errs, errors.New("rate_per_sec: must be >= 0"))
	}
	if c.RatePerSec == 0 {
		c.RatePerSec = defaultRatePerSec
	}
	c.unitTimeout = defaultUnitTimeout
	if s := strings.TrimSpace(c.UnitTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("unit_timeout: invalid duration %q", s))
		} else {
			c.unitTimeout = d
		}
	}
	return errors.Join(errs...)
}

// parseServiceList reads one unit per line. Blank lines and lines starting
// with '#' are skipped.
func parseServiceList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func (c Config) units() ([]string, error) {
	var out []string
	if p := strings.TrimSpace(c.ListFile); p != "" {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open service list: %w", err)
		}
		defer f.Close()
		list, err := parseServiceList(f)
		if err != nil {
			return nil, fmt.Errorf("read service list: %w", err)
		}
		out = append(out, list...)
	}
	for _, s := range c.Services {
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}
