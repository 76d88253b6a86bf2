package app

import (
	"time"

	"routined/internal/storage"
)

type healthReport struct {
	Status   string          `json:"status"`
	Uptime   string          `json:"uptime"`
	Routines []routineHealth `json:"routines"`
}

type routineHealth struct {
	Name     string             `json:"name"`
	Schedule string             `json:"schedule"`
	State    string             `json:"state"`
	Cycles   uint64             `json:"cycles"`
	Failures uint64             `json:"failures"`
	LastErr  string             `json:"last_error,omitempty"`
	LastRun  *time.Time         `json:"last_run,omitempty"`
	NextRun  *time.Time         `json:"next_run,omitempty"`
	Last     *storage.RunRecord `json:"last,omitempty"`
}

// health is served on /healthz. Status is "degraded" when any routine's
// last cycle failed.
func (a *App) health() any {
	rep := healthReport{Status: "ok", Uptime: a.uptime().String()}
	for _, ti := range a.mgr.Snapshot() {
		rh := routineHealth{
			Name:     ti.Name,
			Schedule: ti.Schedule,
			State:    ti.State.String(),
			Cycles:   ti.Stats.Cycles,
			Failures: ti.Stats.Failures,
			LastErr:  ti.Stats.LastErr,
		}
		if !ti.Stats.LastRun.IsZero() {
			t := ti.Stats.LastRun
			rh.LastRun = &t
		}
		if !ti.Stats.NextRun.IsZero() {
			t := ti.Stats.NextRun
			rh.NextRun = &t
		}
		if rec, ok := a.recorder.Last(ti.Name); ok {
			rh.Last = &rec
			if !rec.OK {
				rep.Status = "degraded"
			}
		}
		rep.Routines = append(rep.Routines, rh)
	}
	return rep
}
