package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/feedbacksync/internal/adapter/otel"
	"github.com/Strob0t/feedbacksync/internal/batch"
	"github.com/Strob0t/feedbacksync/internal/domain"
	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/post"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
	"github.com/Strob0t/feedbacksync/internal/port/remoteprovider"
)

// inbound applies the remote changes since the stored cursor to local posts.
func (r *syncRun) inbound(ctx context.Context) (syncrun.Result, error) {
	ctx, span := cfotel.StartSyncPhaseSpan(ctx, string(syncrun.PhaseInbound))
	defer span.End()

	r.report(syncrun.Progress{Phase: syncrun.PhaseInbound})

	since := r.in.LastSyncCursor
	total, err := r.provider.Count(ctx, since)
	if err != nil {
		return syncrun.Result{}, fmt.Errorf("count changes: %w", err)
	}
	if total != nil {
		r.report(syncrun.Progress{Phase: syncrun.PhaseInbound, Total: total})
	}

	opts := batch.Options[remoteprovider.Change]{
		Concurrency: r.svc.cfg.InboundConcurrency,
		Phase:       syncrun.PhaseInbound,
		Total:       total,
		OnProgress:  r.report,
	}
	if r.provider.Capabilities().LazyContent {
		opts.Prepare = r.hydrate
	}

	return batch.Run(ctx, r.provider.Changes(ctx, since), opts, r.applyChange)
}

// hydrate fetches the content of every change in the batch that was listed
// without it. A failed fetch leaves the change without content; the item
// is still applied with an empty description.
func (r *syncRun) hydrate(ctx context.Context, changes []remoteprovider.Change) {
	var g errgroup.Group
	for i := range changes {
		if changes[i].Description != nil {
			continue
		}
		g.Go(func() error {
			content, err := r.provider.Hydrate(ctx, changes[i].RemoteID)
			if err != nil {
				slog.WarnContext(ctx, "fetch remote content failed", "integration_id", r.in.ID, "remote_id", changes[i].RemoteID, "error", err)
				return nil
			}
			changes[i].Description = &content
			return nil
		})
	}
	_ = g.Wait()
}

// applyChange syncs one remote change. Failures are recorded and counted,
// never returned.
func (r *syncRun) applyChange(ctx context.Context, c remoteprovider.Change) syncrun.Result {
	details := map[string]any{"remote_id": c.RemoteID}

	existing, err := r.svc.store.GetMappingByRemote(ctx, r.in.ID, c.RemoteID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return r.itemError(ctx, syncrun.PhaseInbound, "", fmt.Errorf("lookup mapping: %w", err), details)
	}
	var mappingID string
	if existing != nil {
		mappingID = existing.ID
	}

	boardID, ok := r.in.Config.ResolveBoard(c.BoardCategoryID)
	if !ok {
		details["board_category_id"] = c.BoardCategoryID
		r.appendLog(ctx, &synclog.Entry{
			MappingID: mappingID,
			Direction: synclog.DirectionInbound,
			Status:    synclog.StatusSkipped,
			Message:   "no board mapped for remote category",
			Details:   synclog.Details(details),
		})
		return syncrun.Result{}
	}
	statusID := r.in.Config.ResolveStatus(c.StatusCategoryID)

	if existing != nil {
		return r.updateFromRemote(ctx, existing, &c, boardID, statusID)
	}
	return r.createFromRemote(ctx, &c, boardID, statusID)
}

func (r *syncRun) updateFromRemote(ctx context.Context, m *mapping.Mapping, c *remoteprovider.Change, boardID string, statusID *string) syncrun.Result {
	details := map[string]any{"remote_id": c.RemoteID, "local_id": m.LocalID}

	local, err := r.svc.store.GetPost(ctx, m.LocalID)
	if err != nil {
		return r.itemError(ctx, syncrun.PhaseInbound, m.ID, fmt.Errorf("load local post: %w", err), details)
	}

	if r.in.SyncDirection == integration.DirectionBidirectional && mapping.ConflictDetected(local.UpdatedAt, m) {
		reason := mapping.ConflictReason(local.UpdatedAt, m)
		r.setMappingStatus(ctx, m, mapping.EventConflict, reason)
		r.appendLog(ctx, &synclog.Entry{
			MappingID: m.ID,
			Direction: synclog.DirectionInbound,
			Status:    synclog.StatusConflict,
			Message:   reason,
			Details:   synclog.Details(details),
		})
		return syncrun.Result{Conflicts: 1}
	}

	// One instant for both writes, so the next conflict check compares
	// the post against exactly the time it was written.
	syncedAt := r.svc.now()
	upd := &post.InboundUpdate{
		BoardID:     boardID,
		Title:       c.Title,
		Description: description(c),
		StatusID:    statusID,
		Tags:        c.Tags,
		SourceLabel: r.sourceLabel(),
		CreatedAt:   c.Date,
		UpdatedAt:   syncedAt,
	}
	if err := r.svc.store.ApplyInboundUpdate(ctx, local.ID, upd); err != nil {
		return r.itemError(ctx, syncrun.PhaseInbound, m.ID, fmt.Errorf("update local post: %w", err), details)
	}

	updated, err := r.svc.store.UpsertMapping(ctx, &mapping.UpsertRequest{
		IntegrationID: r.in.ID,
		LocalType:     mapping.LocalTypePost,
		LocalID:       local.ID,
		RemoteID:      c.RemoteID,
		RemoteURL:     c.RemoteURL,
		SyncedAt:      syncedAt,
	})
	if err != nil {
		return r.itemError(ctx, syncrun.PhaseInbound, m.ID, fmt.Errorf("upsert mapping: %w", err), details)
	}

	r.appendLog(ctx, &synclog.Entry{
		MappingID: updated.ID,
		Direction: synclog.DirectionInbound,
		Status:    synclog.StatusSuccess,
		Details:   synclog.Details(details),
	})
	return syncrun.Result{Synced: 1}
}

func (r *syncRun) createFromRemote(ctx context.Context, c *remoteprovider.Change, boardID string, statusID *string) syncrun.Result {
	details := map[string]any{"remote_id": c.RemoteID}

	syncedAt := r.svc.now()
	created, m, err := r.svc.store.ImportPost(ctx, &post.CreateRequest{
		TenantID:    r.in.TenantID,
		BoardID:     boardID,
		Title:       c.Title,
		Description: description(c),
		StatusID:    statusID,
		Tags:        c.Tags,
		SourceLabel: r.sourceLabel(),
		Approved:    true,
		CreatedAt:   c.Date,
		UpdatedAt:   syncedAt,
	}, &mapping.UpsertRequest{
		IntegrationID: r.in.ID,
		LocalType:     mapping.LocalTypePost,
		RemoteID:      c.RemoteID,
		RemoteURL:     c.RemoteURL,
		SyncedAt:      syncedAt,
		Metadata:      mapping.OriginMetadata(mapping.OriginInbound),
	})
	if err != nil {
		return r.itemError(ctx, syncrun.PhaseInbound, "", fmt.Errorf("import local post: %w", err), details)
	}
	details["local_id"] = created.ID

	r.appendLog(ctx, &synclog.Entry{
		MappingID: m.ID,
		Direction: synclog.DirectionInbound,
		Status:    synclog.StatusSuccess,
		Details:   synclog.Details(details),
	})
	return syncrun.Result{Synced: 1}
}

// sourceLabel is the provenance written on posts touched by inbound sync.
func (r *syncRun) sourceLabel() string {
	return r.in.Type
}

func description(c *remoteprovider.Change) string {
	if c.Description == nil {
		return ""
	}
	return *c.Description
}
