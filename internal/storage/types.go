package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one finished routine cycle.
type RunRecord struct {
	ID        string    `json:"id"`
	Routine   string    `json:"routine"`
	Cycle     uint64    `json:"cycle"`
	StartedAt time.Time `json:"started_at"`
	TookMS    int64     `json:"took_ms"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	NextRun   time.Time `json:"next_run"`
}
