package mapping

import (
	"fmt"
	"time"
)

// Event is an outcome of syncing one item that moves a mapping between states.
type Event string

const (
	EventSynced   Event = "synced"
	EventFailed   Event = "failed"
	EventConflict Event = "conflict"
)

// Next returns the status a mapping moves to on e. Every status accepts every
// event: a failed or conflicting mapping is healed by the next successful
// sync, and a conflict stays flagged until one happens.
func Next(from Status, e Event) (Status, error) {
	if from != "" && !from.Valid() {
		return "", fmt.Errorf("unknown mapping status %q", from)
	}
	switch e {
	case EventSynced:
		return StatusSynced, nil
	case EventFailed:
		return StatusError, nil
	case EventConflict:
		return StatusConflict, nil
	default:
		return "", fmt.Errorf("unknown mapping event %q", e)
	}
}

// Apply moves m to the status implied by e. A successful sync records at as
// LastSyncAt and clears the last error; failures and conflicts keep
// LastSyncAt untouched so the conflict rule keeps comparing against the last
// confirmed sync.
func (m *Mapping) Apply(e Event, at time.Time, reason string) error {
	next, err := Next(m.SyncStatus, e)
	if err != nil {
		return err
	}
	m.SyncStatus = next
	switch e {
	case EventSynced:
		t := at
		m.LastSyncAt = &t
		m.LastError = ""
	default:
		m.LastError = reason
	}
	return nil
}

// ConflictDetected implements the last-writer detection rule for inbound
// changes in bidirectional mode: the local entity was edited after the last
// successful sync of the mapping. Only timestamps are compared, never field
// contents. A mapping that was never confirmed synced counts as conflicting.
func ConflictDetected(localUpdatedAt time.Time, m *Mapping) bool {
	if m.LastSyncAt == nil {
		return true
	}
	return localUpdatedAt.After(*m.LastSyncAt)
}

// ConflictReason builds the LastError stored on a conflicting mapping.
func ConflictReason(localUpdatedAt time.Time, m *Mapping) string {
	last := "never"
	if m.LastSyncAt != nil {
		last = m.LastSyncAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("local post updated at %s after last sync at %s while the remote item also changed; resolve manually",
		localUpdatedAt.UTC().Format(time.RFC3339), last)
}
