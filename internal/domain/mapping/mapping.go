// Package mapping contains the durable correspondence between a local entity
// and a remote entity, its sync status state machine and the conflict rule.
package mapping

import "time"

// LocalTypePost is the only local entity type synchronized today.
const LocalTypePost = "post"

// Status is the sync status of a mapping.
type Status string

const (
	StatusSynced   Status = "SYNCED"
	StatusError    Status = "ERROR"
	StatusConflict Status = "CONFLICT"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSynced, StatusError, StatusConflict:
		return true
	}
	return false
}

// Origin records which phase created a mapping.
type Origin string

const (
	OriginInbound  Origin = "inbound"
	OriginOutbound Origin = "outbound"
)

// metadataDirection is the metadata key holding the Origin.
const metadataDirection = "direction"

// Mapping links one local entity to one remote entity for one integration.
type Mapping struct {
	ID            string            `json:"id"`
	IntegrationID string            `json:"integration_id"`
	LocalType     string            `json:"local_type"`
	LocalID       string            `json:"local_id"`
	RemoteID      string            `json:"remote_id"`
	RemoteURL     string            `json:"remote_url,omitempty"`
	SyncStatus    Status            `json:"sync_status"`
	LastSyncAt    *time.Time        `json:"last_sync_at,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Origin returns the direction that created the mapping. Mappings without a
// recorded direction are treated as outbound.
func (m *Mapping) Origin() Origin {
	if m.Metadata != nil && Origin(m.Metadata[metadataDirection]) == OriginInbound {
		return OriginInbound
	}
	return OriginOutbound
}

// InboundOrigin reports whether the mapping was created by an inbound pull.
// Such mappings are never re-pushed as local content.
func (m *Mapping) InboundOrigin() bool {
	return m.Origin() == OriginInbound
}

// OriginMetadata returns the metadata recorded on a newly created mapping.
func OriginMetadata(o Origin) map[string]string {
	return map[string]string{metadataDirection: string(o)}
}

// UpsertRequest persists a successful sync of one item. The store inserts a
// new mapping or updates the one keyed by (integration, local type, local id).
// Metadata is only written on insert.
type UpsertRequest struct {
	IntegrationID string
	LocalType     string
	LocalID       string
	RemoteID      string
	RemoteURL     string
	SyncedAt      time.Time
	Metadata      map[string]string
}
