package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
	"github.com/Strob0t/feedbacksync/internal/port/synclock"
)

// SyncGate keeps runs of one integration single-flight across all
// instances by holding a lock for the duration of each run.
type SyncGate struct {
	sync   *SyncService
	locker synclock.Locker
}

// NewSyncGate creates a SyncGate.
func NewSyncGate(s *SyncService, locker synclock.Locker) *SyncGate {
	return &SyncGate{sync: s, locker: locker}
}

// LockedRun is a prepared run holding its integration's lock. It must be
// either executed or released.
type LockedRun struct {
	run     *PreparedRun
	release synclock.Release
}

// Start runs the pre-flight checks and takes the lock. It fails with
// synclock.ErrHeld when a run of the integration is already in flight.
func (g *SyncGate) Start(ctx context.Context, integrationID, tenantID string) (*LockedRun, error) {
	run, err := g.sync.Prepare(ctx, integrationID, tenantID)
	if err != nil {
		return nil, err
	}
	release, err := g.locker.Acquire(ctx, synclock.Key(integrationID))
	if err != nil {
		return nil, fmt.Errorf("lock integration %s: %w", integrationID, err)
	}
	return &LockedRun{run: run, release: release}, nil
}

// Run starts and executes a run in one call.
func (g *SyncGate) Run(ctx context.Context, integrationID, tenantID string, onProgress syncrun.ProgressFunc) (*syncrun.Summary, error) {
	lr, err := g.Start(ctx, integrationID, tenantID)
	if err != nil {
		return nil, err
	}
	return lr.Execute(ctx, onProgress), nil
}

// IntegrationID returns the id of the locked integration.
func (r *LockedRun) IntegrationID() string { return r.run.in.ID }

// Execute runs the sync and releases the lock.
func (r *LockedRun) Execute(ctx context.Context, onProgress syncrun.ProgressFunc) *syncrun.Summary {
	defer r.Release(ctx)
	return r.run.Execute(ctx, onProgress)
}

// Release gives up the lock without running. It is safe to call twice.
func (r *LockedRun) Release(ctx context.Context) {
	if r.release == nil {
		return
	}
	release := r.release
	r.release = nil
	if err := release(context.WithoutCancel(ctx)); err != nil {
		slog.WarnContext(ctx, "release sync lock failed", "integration_id", r.run.in.ID, "error", err)
	}
}
