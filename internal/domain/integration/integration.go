// Package integration contains the domain model for a tenant's connection to
// an external service that posts are synchronized with.
package integration

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/feedbacksync/internal/domain"
)

// ErrNotFound is returned when the integration does not exist or belongs to
// another tenant. Both cases are reported identically to the caller.
var ErrNotFound = fmt.Errorf("integration %w", domain.ErrNotFound)

// ErrDisabled is returned when a sync is requested for a disabled integration.
var ErrDisabled = errors.New("integration is disabled")

// SyncDirection specifies which phases a sync run executes.
type SyncDirection string

const (
	DirectionInbound       SyncDirection = "inbound"       // remote -> local
	DirectionOutbound      SyncDirection = "outbound"      // local -> remote
	DirectionBidirectional SyncDirection = "bidirectional" // both, outbound first
)

// IncludesOutbound reports whether the outbound phase runs for d.
func (d SyncDirection) IncludesOutbound() bool {
	return d == DirectionOutbound || d == DirectionBidirectional
}

// IncludesInbound reports whether the inbound phase runs for d.
func (d SyncDirection) IncludesInbound() bool {
	return d == DirectionInbound || d == DirectionBidirectional
}

// Valid reports whether d is a known direction.
func (d SyncDirection) Valid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound, DirectionBidirectional:
		return true
	}
	return false
}

// BoardMapping links a remote category (select option, label, ...) to a local board.
type BoardMapping struct {
	RemoteCategoryID string `json:"remote_category_id"`
	BoardID          string `json:"board_id"`
}

// StatusMapping links a remote status option to a local post status.
type StatusMapping struct {
	RemoteStatusID string `json:"remote_status_id"`
	StatusID       string `json:"status_id"`
}

// Config holds the mapping tables of an integration.
type Config struct {
	BoardMappings    []BoardMapping    `json:"board_mappings"`
	StatusMappings   []StatusMapping   `json:"status_mappings"`
	PropertyMappings map[string]string `json:"property_mappings,omitempty"`
	DefaultBoardID   string            `json:"default_board_id,omitempty"`
}

// Integration is one configured connection from a tenant to an external service.
type Integration struct {
	ID                   string        `json:"id"`
	TenantID             string        `json:"tenant_id"`
	Type                 string        `json:"type"`
	Enabled              bool          `json:"enabled"`
	EncryptedCredentials string        `json:"-"`
	Config               Config        `json:"config"`
	SyncDirection        SyncDirection `json:"sync_direction"`
	LastSyncCursor       string        `json:"last_sync_cursor,omitempty"`
	LastSyncAt           *time.Time    `json:"last_sync_at,omitempty"`
	TenantURL            string        `json:"tenant_url,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// BoardIDs returns every board referenced by the board mappings plus the
// default board, deduplicated, in mapping order.
func (c *Config) BoardIDs() []string {
	seen := make(map[string]bool, len(c.BoardMappings)+1)
	ids := make([]string, 0, len(c.BoardMappings)+1)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, m := range c.BoardMappings {
		add(m.BoardID)
	}
	add(c.DefaultBoardID)
	return ids
}

// ResolveBoard finds the local board for a remote category. A change
// without a category lands on the first mapped board, then the default
// board. A category that is set but not mapped only falls back to the
// default board: it is a configuration gap, not a reason to guess. ok is
// false when no board can be resolved.
func (c *Config) ResolveBoard(remoteCategoryID string) (boardID string, ok bool) {
	if remoteCategoryID != "" {
		for _, m := range c.BoardMappings {
			if m.RemoteCategoryID == remoteCategoryID {
				return m.BoardID, m.BoardID != ""
			}
		}
		return c.DefaultBoardID, c.DefaultBoardID != ""
	}
	if len(c.BoardMappings) > 0 && c.BoardMappings[0].BoardID != "" {
		return c.BoardMappings[0].BoardID, true
	}
	return c.DefaultBoardID, c.DefaultBoardID != ""
}

// ResolveStatus returns the local status for a remote status option, or nil
// when the status is not mapped.
func (c *Config) ResolveStatus(remoteStatusID string) *string {
	if remoteStatusID == "" {
		return nil
	}
	for _, m := range c.StatusMappings {
		if m.RemoteStatusID == remoteStatusID && m.StatusID != "" {
			id := m.StatusID
			return &id
		}
	}
	return nil
}

// RemoteStatusFor is the reverse of ResolveStatus, used when pushing a post.
func (c *Config) RemoteStatusFor(statusID string) string {
	for _, m := range c.StatusMappings {
		if m.StatusID == statusID {
			return m.RemoteStatusID
		}
	}
	return ""
}

// RemoteCategoryFor returns the remote category mapped to boardID.
func (c *Config) RemoteCategoryFor(boardID string) string {
	for _, m := range c.BoardMappings {
		if m.BoardID == boardID {
			return m.RemoteCategoryID
		}
	}
	return ""
}
