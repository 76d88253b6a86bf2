package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Debug    DebugConfig     `json:"debug,omitempty"`
	Routines []RoutineConfig `json:"routines"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/routined.db, busy_timeout: 5s }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional debug HTTP server (pprof, /metrics,
// /healthz). Prefer a loopback address; set Token when binding elsewhere.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"` // default: "127.0.0.1:6060"
	Token   string `json:"token,omitempty"`   // do not log

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Routines LoggingRoutines `json:"routines"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRoutines writes one log file per routine (<dir>/<name>.log), rotated
// at local midnight. Keep bounds the rotated files per routine; 0 keeps all.
type LoggingRoutines struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
	Keep    int    `json:"keep,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// RoutineConfig declares one scheduled routine.
//
// Schedule accepts every form routine.ParseRule understands. Timeout is a Go
// duration string; empty means unbounded. RunOnStart defaults to true.
// Config is decoded by the routine kind.
type RoutineConfig struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Schedule   string          `json:"schedule"`
	Timeout    string          `json:"timeout,omitempty"`
	RunOnStart *bool           `json:"run_on_start,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
}

func (r RoutineConfig) StartsImmediately() bool {
	return r.RunOnStart == nil || *r.RunOnStart
}

// DecodeStrict decodes raw into out, rejecting unknown fields. Empty raw
// leaves out untouched.
func DecodeStrict(raw json.RawMessage, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
