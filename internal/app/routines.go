package app

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"routined/internal/config"
	"routined/internal/routine"
	"routined/internal/routines/command"
	"routined/internal/routines/forcegraph"
	"routined/internal/routines/restarter"
	"routined/internal/routines/speedtest"
	"routined/internal/storage"
	logx "routined/pkg/logx"
)

// routineDeps are the shared services handed to routine bodies. Both fields
// may be empty: store when storage is disabled, channel in dry builds.
type routineDeps struct {
	store   storage.Store
	channel func(name string) logx.Logger
}

func (d routineDeps) log(name string) logx.Logger {
	if d.channel == nil {
		return logx.Nop()
	}
	return d.channel(name)
}

type actionFactory func(name string, raw json.RawMessage, deps routineDeps) (routine.Action, error)

var factories = map[string]actionFactory{
	command.Kind: func(name string, raw json.RawMessage, deps routineDeps) (routine.Action, error) {
		var c command.Config
		if err := config.DecodeStrict(raw, &c); err != nil {
			return nil, err
		}
		cmd, err := command.New(c, deps.log(name))
		if err != nil {
			return nil, err
		}
		return cmd.Run, nil
	},
	forcegraph.Kind: func(name string, raw json.RawMessage, deps routineDeps) (routine.Action, error) {
		var c forcegraph.Config
		if err := config.DecodeStrict(raw, &c); err != nil {
			return nil, err
		}
		var marks forcegraph.Marks
		if deps.store != nil {
			marks = deps.store
		}
		e, err := forcegraph.New(c, marks, deps.log(name))
		if err != nil {
			return nil, err
		}
		return e.Run, nil
	},
	restarter.Kind: func(name string, raw json.RawMessage, deps routineDeps) (routine.Action, error) {
		var c restarter.Config
		if err := config.DecodeStrict(raw, &c); err != nil {
			return nil, err
		}
		r, err := restarter.New(c, deps.log(name))
		if err != nil {
			return nil, err
		}
		return r.Run, nil
	},
	speedtest.Kind: func(name string, raw json.RawMessage, deps routineDeps) (routine.Action, error) {
		var c speedtest.Config
		if err := config.DecodeStrict(raw, &c); err != nil {
			return nil, err
		}
		var marks speedtest.Marks
		if deps.store != nil {
			marks = deps.store
		}
		t, err := speedtest.New(name, c, marks, deps.log(name))
		if err != nil {
			return nil, err
		}
		return t.Run, nil
	},
}

// Kinds lists the routine kinds the factory understands.
func Kinds() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// buildRoutines turns config entries into routines. Errors name the routine.
func buildRoutines(cfg *config.Config, deps routineDeps) ([]routine.Routine, error) {
	out := make([]routine.Routine, 0, len(cfg.Routines))
	for _, rc := range cfg.Routines {
		rt, err := buildRoutine(rc, deps)
		if err != nil {
			return nil, &routine.ConfigurationError{Routine: rc.Name, Err: err}
		}
		out = append(out, rt)
	}
	return out, nil
}

func buildRoutine(rc config.RoutineConfig, deps routineDeps) (routine.Routine, error) {
	name := strings.TrimSpace(rc.Name)
	kind := strings.ToLower(strings.TrimSpace(rc.Kind))
	factory, ok := factories[kind]
	if !ok {
		return routine.Routine{}, fmt.Errorf("unknown kind %q (known: %s)", rc.Kind, strings.Join(Kinds(), ", "))
	}
	rule, err := routine.ParseRule(rc.Schedule)
	if err != nil {
		return routine.Routine{}, fmt.Errorf("schedule: %w", err)
	}
	timeout, err := rc.TimeoutDuration()
	if err != nil {
		return routine.Routine{}, err
	}
	action, err := factory(name, rc.Config, deps)
	if err != nil {
		return routine.Routine{}, fmt.Errorf("%s config: %w", kind, err)
	}
	return routine.New(name, rule, action,
		routine.WithLogger(deps.log(name)),
		routine.WithTimeout(timeout),
		routine.WithRunOnStart(rc.StartsImmediately()),
	), nil
}

// CheckConfig validates cfg and builds every routine without starting
// anything.
func CheckConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	rts, err := buildRoutines(cfg, routineDeps{})
	if err != nil {
		return err
	}
	return routine.NewManager(nil).Register(rts...)
}

// Upcoming is the planned run times of one routine.
type Upcoming struct {
	Name     string
	Schedule string
	Runs     []time.Time
}

// PlanRuns returns the next n run times of every routine starting at now,
// assuming each cycle takes no time. Routines that run on start get now as
// their first run.
func PlanRuns(cfg *config.Config, now time.Time, n int) ([]Upcoming, error) {
	out := make([]Upcoming, 0, len(cfg.Routines))
	for _, rc := range cfg.Routines {
		rule, err := routine.ParseRule(rc.Schedule)
		if err != nil {
			return nil, &routine.ConfigurationError{Routine: rc.Name, Err: err}
		}
		u := Upcoming{Name: strings.TrimSpace(rc.Name), Schedule: rule.String()}
		at := now
		if rc.StartsImmediately() && n > 0 {
			u.Runs = append(u.Runs, at)
		}
		for len(u.Runs) < n {
			at = routine.NextRun(rule, at)
			u.Runs = append(u.Runs, at)
		}
		out = append(out, u)
	}
	return out, nil
}
