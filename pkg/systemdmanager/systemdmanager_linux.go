//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager restarts and inspects units over the systemd D-Bus API.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// Connect opens a connection to the system bus.
// If ctx is nil, context.Background() is used.
func Connect(ctx context.Context) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// Restart queues a restart job for unit and waits for the job result.
func (m *Manager) Restart(ctx context.Context, unit string) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrClosed
	}

	unit = UnitName(unit)
	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		if isNoSuchUnitErr(err) {
			return fmt.Errorf("restart %s: %w", unit, ErrNoSuchUnit)
		}
		return fmt.Errorf("restart %s: %w", unit, err)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("restart %s: %w", unit, ctx.Err())
	case result := <-done:
		return jobResultErr(unit, result)
	}
}

// ActiveState returns the unit's ActiveState ("active", "failed", ...).
// Units systemd does not know report "not-found".
func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return "", ErrClosed
	}

	unit = UnitName(unit)
	units, err := conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		if isNoSuchUnitErr(err) {
			return "not-found", nil
		}
		return "", fmt.Errorf("status %s: %w", unit, err)
	}
	for _, u := range units {
		if u.Name != unit {
			continue
		}
		if u.LoadState == "not-found" {
			return "not-found", nil
		}
		return u.ActiveState, nil
	}
	return "not-found", nil
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
