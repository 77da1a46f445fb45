package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/feedbacksync/internal/domain"
	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/port/database"
)

// Sync log page sizes.
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// SyncQueryService serves the read side of the sync: the audit trail and
// the mapping list, scoped to the caller's tenant.
type SyncQueryService struct {
	store database.Store
}

// NewSyncQueryService creates a SyncQueryService.
func NewSyncQueryService(store database.Store) *SyncQueryService {
	return &SyncQueryService{store: store}
}

// owned loads an integration and hides those of other tenants.
func (s *SyncQueryService) owned(ctx context.Context, integrationID, tenantID string) (*integration.Integration, error) {
	in, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", integrationID, integration.ErrNotFound)
		}
		return nil, err
	}
	if in.TenantID != tenantID {
		return nil, fmt.Errorf("%s: %w", integrationID, integration.ErrNotFound)
	}
	return in, nil
}

// SyncLogs returns the audit trail of an integration, optionally for one
// run. limit is clamped to [1, MaxLogLimit]; 0 selects DefaultLogLimit.
func (s *SyncQueryService) SyncLogs(ctx context.Context, integrationID, tenantID, runID string, limit int) ([]synclog.Entry, error) {
	if _, err := s.owned(ctx, integrationID, tenantID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}
	entries, err := s.store.ListSyncLogs(ctx, integrationID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	return entries, nil
}

// Mappings returns the mappings of an integration, optionally filtered by
// status (for example the open conflicts).
func (s *SyncQueryService) Mappings(ctx context.Context, integrationID, tenantID string, status mapping.Status) ([]mapping.Mapping, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown mapping status %q: %w", status, domain.ErrValidation)
	}
	if _, err := s.owned(ctx, integrationID, tenantID); err != nil {
		return nil, err
	}
	ms, err := s.store.ListMappings(ctx, integrationID, status)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return ms, nil
}
