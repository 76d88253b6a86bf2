//go:build !linux

package systemdmanager

import "context"

// Manager is unavailable outside linux; Connect always fails.
type Manager struct{}

func Connect(context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() error { return nil }

func (m *Manager) Restart(context.Context, string) error { return ErrUnsupported }

func (m *Manager) ActiveState(context.Context, string) (string, error) { return "", ErrUnsupported }
