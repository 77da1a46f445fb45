package messagequeue

import "time"

// SyncRequestedPayload is the schema for sync.requested messages.
type SyncRequestedPayload struct {
	IntegrationID string    `json:"integration_id"`
	TenantID      string    `json:"tenant_id"`
	Trigger       string    `json:"trigger"` // "schedule" | "manual"
	RequestedAt   time.Time `json:"requested_at"`
}

// SyncCompletedPayload is the schema for sync.completed messages.
type SyncCompletedPayload struct {
	IntegrationID string `json:"integration_id"`
	TenantID      string `json:"tenant_id"`
	RunID         string `json:"run_id"`
	Synced        int    `json:"synced"`
	Errors        int    `json:"errors"`
	Conflicts     int    `json:"conflicts"`
	Error         string `json:"error,omitempty"`
}
