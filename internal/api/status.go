package api

import (
	"sync"
	"time"

	"github.com/omu-rag/newsingest/internal/orchestrator"
)

// RunState describes where the crawl is in its lifecycle.
type RunState string

// Run states.
const (
	StateIdle     RunState = "idle"
	StateRunning  RunState = "running"
	StateFinished RunState = "finished"
)

// Status is a point-in-time view of the crawl run.
type Status struct {
	State      RunState
	StartedAt  time.Time
	FinishedAt time.Time
	Report     *orchestrator.Report
}

// Tracker records crawl progress for the status endpoint. The zero value is
// an idle tracker.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// Begin marks a run as started.
func (t *Tracker) Begin(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = Status{State: StateRunning, StartedAt: at}
}

// Finish stores the report of the completed run.
func (t *Tracker) Finish(report orchestrator.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = StateFinished
	t.status.FinishedAt = report.FinishedAt
	t.status.Report = &report
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	if s.State == "" {
		s.State = StateIdle
	}
	return s
}
