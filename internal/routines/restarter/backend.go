package restarter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	logx "routined/pkg/logx"
	"routined/pkg/systemdmanager"
)

// Backend restarts one unit at a time.
type Backend interface {
	Restart(ctx context.Context, unit string) error
	Close() error
}

// stateReporter is implemented by backends that can report a unit's state
// after a restart.
type stateReporter interface {
	ActiveState(ctx context.Context, unit string) (string, error)
}

// Dialer opens a Backend for one cycle.
type Dialer func(ctx context.Context) (Backend, error)

// systemctl shells out to "systemctl restart", optionally through "sudo -n".
type systemctl struct{ sudo bool }

func (s systemctl) Restart(ctx context.Context, unit string) error {
	args := []string{"systemctl", "restart", unit}
	if s.sudo {
		args = append([]string{"sudo", "-n"}, args...)
	}
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (systemctl) Close() error { return nil }

func dialerFor(cfg Config, log logx.Logger) Dialer {
	viaSystemctl := func(context.Context) (Backend, error) { return systemctl{sudo: cfg.Sudo}, nil }
	viaDBus := func(ctx context.Context) (Backend, error) { return systemdmanager.Connect(ctx) }

	switch cfg.Method {
	case MethodSystemctl:
		return viaSystemctl
	case MethodDBus:
		return viaDBus
	default:
		return func(ctx context.Context) (Backend, error) {
			b, err := viaDBus(ctx)
			if err == nil {
				return b, nil
			}
			log.Warn("systemd D-Bus unavailable; falling back to systemctl", logx.Err(err))
			return viaSystemctl(ctx)
		}
	}
}
