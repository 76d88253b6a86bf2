package config

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	logx "routined/pkg/logx"
)

// RoutineChanges lists routine names added, removed or modified between two
// configs.
type RoutineChanges struct {
	Added    []string
	Removed  []string
	Modified []string
}

func (c RoutineChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// SummarizeConfigChange returns the changed top-level sections, safe
// structured fields for logging (never tokens), and the routine changes.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, RoutineChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	fields := make([]logx.Field, 0, 12)

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level || ol.Console != nl.Console || ol.File != nl.File || ol.Routines != nl.Routines || ol.Telegram != nl.Telegram {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.routines_enabled", nl.Routines.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	var oldStore, newStore StorageConfig
	if oldCfg.Storage != nil {
		oldStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newStore = *newCfg.Storage
	}
	if oldStore != newStore {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newStore.Driver))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.address", strings.TrimSpace(newCfg.Debug.Address)),
		)
	}

	rc := diffRoutines(oldCfg.Routines, newCfg.Routines)
	if !rc.Empty() {
		changed = append(changed, "routines")
		fields = append(fields,
			logx.Any("routines.added", rc.Added),
			logx.Any("routines.removed", rc.Removed),
			logx.Any("routines.modified", rc.Modified),
		)
	}
	return changed, fields, rc
}

func diffRoutines(oldR, newR []RoutineConfig) RoutineChanges {
	byName := func(list []RoutineConfig) map[string]RoutineConfig {
		m := make(map[string]RoutineConfig, len(list))
		for _, r := range list {
			m[strings.TrimSpace(r.Name)] = r
		}
		return m
	}
	om, nm := byName(oldR), byName(newR)

	var out RoutineChanges
	for name, n := range nm {
		o, ok := om[name]
		switch {
		case !ok:
			out.Added = append(out.Added, name)
		case !sameRoutine(o, n):
			out.Modified = append(out.Modified, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			out.Removed = append(out.Removed, name)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Removed)
	sort.Strings(out.Modified)
	return out
}

func sameRoutine(a, b RoutineConfig) bool {
	if a.Kind != b.Kind || a.Schedule != b.Schedule || a.Timeout != b.Timeout {
		return false
	}
	if a.StartsImmediately() != b.StartsImmediately() {
		return false
	}
	return canonicalHashJSON(a.Config) == canonicalHashJSON(b.Config)
}

// canonicalHashJSON hashes JSON after canonicalizing it so whitespace and key
// order do not matter. Invalid JSON is hashed as raw bytes.
func canonicalHashJSON(raw []byte) uint64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := DecodeStrict(raw, &v); err != nil {
		return hashBytes(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return hashBytes(raw)
	}
	return hashBytes(b)
}
