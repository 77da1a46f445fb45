// Package synclog contains the append-only audit trail written by sync runs.
package synclog

import (
	"encoding/json"
	"time"
)

// Direction is the phase an entry belongs to.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Status is the outcome recorded by an entry.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusError    Status = "ERROR"
	StatusConflict Status = "CONFLICT"
	StatusSkipped  Status = "SKIPPED"
)

// MessagePhaseMarker tags the synthetic entry written per active direction at
// run start, so a run's directions are known even if a phase logged nothing else.
const MessagePhaseMarker = "phase_marker"

// Entry is one immutable record of an attempted operation.
type Entry struct {
	ID            string          `json:"id"`
	IntegrationID string          `json:"integration_id"`
	SyncRunID     string          `json:"sync_run_id"`
	MappingID     string          `json:"mapping_id,omitempty"`
	Direction     Direction       `json:"direction"`
	Status        Status          `json:"status"`
	Message       string          `json:"message,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsPhaseMarker reports whether e is a run-start phase marker.
func (e *Entry) IsPhaseMarker() bool {
	return e.Status == StatusSkipped && e.Message == MessagePhaseMarker
}

// Details marshals a flat key/value set into the Details payload. Marshal
// failures are impossible for map[string]any of scalars, so nil is returned
// rather than an error.
func Details(kv map[string]any) json.RawMessage {
	if len(kv) == 0 {
		return nil
	}
	data, err := json.Marshal(kv)
	if err != nil {
		return nil
	}
	return data
}

// RunDirections derives the directions of a run from its phase markers.
func RunDirections(entries []Entry) []Direction {
	var dirs []Direction
	seen := make(map[Direction]bool, 2)
	for i := range entries {
		e := &entries[i]
		if e.IsPhaseMarker() && !seen[e.Direction] {
			seen[e.Direction] = true
			dirs = append(dirs, e.Direction)
		}
	}
	return dirs
}
