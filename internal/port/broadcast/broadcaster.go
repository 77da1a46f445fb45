// Package broadcast defines the port for pushing real-time events to
// connected clients of one tenant.
package broadcast

import "context"

// Event types.
const (
	EventSyncProgress  = "sync.progress"
	EventSyncCompleted = "sync.completed"
)

// Broadcaster sends real-time events to the connected clients of a tenant.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any)
}

// SyncProgressEvent is broadcast for every progress event of a run.
type SyncProgressEvent struct {
	IntegrationID string `json:"integration_id"`
	RunID         string `json:"run_id"`
	Phase         string `json:"phase"`
	Current       int    `json:"current"`
	Total         *int   `json:"total"`
}

// SyncCompletedEvent is broadcast once a run returned its summary.
type SyncCompletedEvent struct {
	IntegrationID string `json:"integration_id"`
	RunID         string `json:"run_id"`
	Synced        int    `json:"synced"`
	Errors        int    `json:"errors"`
	Conflicts     int    `json:"conflicts"`
}
