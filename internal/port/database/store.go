// Package database defines the database store ports (interfaces) used by the
// sync engine. Lookups of missing rows return an error wrapping
// domain.ErrNotFound.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/post"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/domain/tenant"
)

// IntegrationStore reads integrations and records cursor progress.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id string) (*integration.Integration, error)
	ListEnabledIntegrations(ctx context.Context) ([]integration.Integration, error)
	UpdateSyncCursor(ctx context.Context, id, cursor string, syncedAt time.Time) error
}

// MappingStore persists local <-> remote correspondences. Upserts must be
// atomic per row; the engine holds no locks of its own.
type MappingStore interface {
	GetMappingByLocal(ctx context.Context, integrationID, localType, localID string) (*mapping.Mapping, error)
	GetMappingByRemote(ctx context.Context, integrationID, remoteID string) (*mapping.Mapping, error)
	UpsertMapping(ctx context.Context, req *mapping.UpsertRequest) (*mapping.Mapping, error)
	SetMappingStatus(ctx context.Context, id string, status mapping.Status, lastError string) error
	ListMappings(ctx context.Context, integrationID string, status mapping.Status) ([]mapping.Mapping, error)
}

// SyncLogStore is the append-only audit trail.
type SyncLogStore interface {
	AppendSyncLog(ctx context.Context, e *synclog.Entry) error
	ListSyncLogs(ctx context.Context, integrationID, runID string, limit int) ([]synclog.Entry, error)
}

// PostStore is the local side of the sync.
type PostStore interface {
	ListPostsByBoards(ctx context.Context, tenantID string, boardIDs []string) ([]post.Post, error)
	GetPost(ctx context.Context, id string) (*post.Post, error)
	// ImportPost creates a post pulled in from a remote change together with
	// its mapping, atomically. link.LocalID is set to the new post's id.
	ImportPost(ctx context.Context, req *post.CreateRequest, link *mapping.UpsertRequest) (*post.Post, *mapping.Mapping, error)
	ApplyInboundUpdate(ctx context.Context, id string, upd *post.InboundUpdate) error
	GetBoardSlug(ctx context.Context, boardID string) (string, error)
}

// Store is the union of all stores, implemented by the postgres adapter.
type Store interface {
	IntegrationStore
	MappingStore
	SyncLogStore
	PostStore
}

// ProvisioningStore creates the rows a sync needs. The host application
// normally owns tenants and boards; these writers serve the admin CLI.
type ProvisioningStore interface {
	CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error)
	CreateBoard(ctx context.Context, tenantID, name, slug string) (string, error)
	CreateIntegration(ctx context.Context, in *integration.Integration) (*integration.Integration, error)
}
