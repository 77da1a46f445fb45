// Package syncrun contains the per-run value types shared by the sync engine
// and its callers: progress events, item results and the run summary.
package syncrun

import (
	"log/slog"

	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
)

// Phase names the running phase in progress events.
type Phase string

const (
	PhaseOutbound Phase = "outbound"
	PhaseInbound  Phase = "inbound"
)

// LogDirection maps a phase onto the sync log direction.
func (p Phase) LogDirection() synclog.Direction {
	if p == PhaseInbound {
		return synclog.DirectionInbound
	}
	return synclog.DirectionOutbound
}

// Progress is one progress event. Total is nil while unknown.
type Progress struct {
	Phase   Phase `json:"phase"`
	Current int   `json:"current"`
	Total   *int  `json:"total"`
}

// ProgressFunc receives progress events. It is an observability side channel:
// whatever it does, the run is not affected.
type ProgressFunc func(Progress)

// Notify delivers p to fn, swallowing panics raised by the consumer (for
// example a write to a client that already disconnected).
func Notify(fn ProgressFunc, p Progress) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("progress consumer failed", "phase", p.Phase, "current", p.Current, "panic", r)
		}
	}()
	fn(p)
}

// Result is the outcome of one item, one batch or one phase.
type Result struct {
	Synced    int `json:"synced"`
	Errors    int `json:"errors"`
	Conflicts int `json:"conflicts"`
}

// Add folds o into r.
func (r *Result) Add(o Result) {
	r.Synced += o.Synced
	r.Errors += o.Errors
	r.Conflicts += o.Conflicts
}

// Summary is returned to the caller of a run. Counts are the single source
// of truth for the run outcome.
type Summary struct {
	RunID     string `json:"run_id"`
	Synced    int    `json:"synced"`
	Errors    int    `json:"errors"`
	Conflicts int    `json:"conflicts"`
}

// Add folds a phase result into the summary.
func (s *Summary) Add(r Result) {
	s.Synced += r.Synced
	s.Errors += r.Errors
	s.Conflicts += r.Conflicts
}
