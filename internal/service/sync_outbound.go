package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cfotel "github.com/Strob0t/feedbacksync/internal/adapter/otel"
	"github.com/Strob0t/feedbacksync/internal/batch"
	"github.com/Strob0t/feedbacksync/internal/domain"
	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/post"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
	"github.com/Strob0t/feedbacksync/internal/port/cache"
	"github.com/Strob0t/feedbacksync/internal/port/remoteprovider"
)

// outbound pushes every post under the mapped boards to the remote side.
func (r *syncRun) outbound(ctx context.Context) (syncrun.Result, error) {
	ctx, span := cfotel.StartSyncPhaseSpan(ctx, string(syncrun.PhaseOutbound))
	defer span.End()

	r.report(syncrun.Progress{Phase: syncrun.PhaseOutbound})

	boardIDs := r.in.Config.BoardIDs()
	if len(boardIDs) == 0 {
		zero := 0
		r.report(syncrun.Progress{Phase: syncrun.PhaseOutbound, Total: &zero})
		return syncrun.Result{}, nil
	}

	slugs := r.boardSlugs(ctx, boardIDs)

	posts, err := r.svc.store.ListPostsByBoards(ctx, r.in.TenantID, boardIDs)
	if err != nil {
		return syncrun.Result{}, fmt.Errorf("list posts: %w", err)
	}
	total := len(posts)
	r.report(syncrun.Progress{Phase: syncrun.PhaseOutbound, Total: &total})

	return batch.Run(ctx, batch.Slice(posts), batch.Options[post.Post]{
		Concurrency: r.svc.cfg.OutboundConcurrency,
		Phase:       syncrun.PhaseOutbound,
		Total:       &total,
		OnProgress:  r.report,
	}, func(ctx context.Context, p post.Post) syncrun.Result {
		return r.pushPost(ctx, &p, slugs[p.BoardID])
	})
}

// pushPost syncs one post. Failures are recorded and counted, never returned.
func (r *syncRun) pushPost(ctx context.Context, p *post.Post, boardSlug string) syncrun.Result {
	details := map[string]any{"local_id": p.ID}

	existing, err := r.svc.store.GetMappingByLocal(ctx, r.in.ID, mapping.LocalTypePost, p.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return r.itemError(ctx, syncrun.PhaseOutbound, "", fmt.Errorf("lookup mapping: %w", err), details)
	}
	postPath := post.Path(boardSlug, p.Slug)

	// Posts pulled in from the remote side are not pushed back.
	if existing != nil && existing.InboundOrigin() {
		r.refreshMetadata(ctx, existing.RemoteID, p, postPath)
		return syncrun.Result{}
	}

	var existingRemoteID, mappingID string
	if existing != nil {
		existingRemoteID = existing.RemoteID
		mappingID = existing.ID
		details["remote_id"] = existing.RemoteID
	}

	res, err := r.provider.PushPost(ctx, r.postSyncData(p), existingRemoteID)
	if err != nil {
		if existing != nil {
			r.setMappingStatus(ctx, existing, mapping.EventFailed, err.Error())
		}
		return r.itemError(ctx, syncrun.PhaseOutbound, mappingID, fmt.Errorf("push post: %w", err), details)
	}

	m, err := r.svc.store.UpsertMapping(ctx, &mapping.UpsertRequest{
		IntegrationID: r.in.ID,
		LocalType:     mapping.LocalTypePost,
		LocalID:       p.ID,
		RemoteID:      res.RemoteID,
		RemoteURL:     res.RemoteURL,
		SyncedAt:      r.svc.now(),
		Metadata:      mapping.OriginMetadata(mapping.OriginOutbound),
	})
	if err != nil {
		details["remote_id"] = res.RemoteID
		return r.itemError(ctx, syncrun.PhaseOutbound, mappingID, fmt.Errorf("upsert mapping: %w", err), details)
	}

	r.refreshMetadata(ctx, m.RemoteID, p, postPath)

	r.appendLog(ctx, &synclog.Entry{
		MappingID: m.ID,
		Direction: synclog.DirectionOutbound,
		Status:    synclog.StatusSuccess,
		Details:   synclog.Details(map[string]any{"local_id": p.ID, "remote_id": m.RemoteID}),
	})
	return syncrun.Result{Synced: 1}
}

func (r *syncRun) postSyncData(p *post.Post) *remoteprovider.PostSyncData {
	data := &remoteprovider.PostSyncData{
		PostID:       p.ID,
		Title:        p.Title,
		Description:  p.Description,
		BoardID:      p.BoardID,
		CategoryID:   r.in.Config.RemoteCategoryFor(p.BoardID),
		Tags:         p.Tags,
		Slug:         p.Slug,
		CreatedAt:    p.CreatedAt,
		CommentCount: p.CommentCount,
		LikeCount:    p.LikeCount,
		TenantURL:    r.in.TenantURL,
	}
	if p.StatusID != nil {
		data.StatusID = *p.StatusID
		data.RemoteStatus = r.in.Config.RemoteStatusFor(*p.StatusID)
	}
	return data
}

// refreshMetadata pushes the comment and like counters. It is a side
// effect of a sync, so failures are only logged.
func (r *syncRun) refreshMetadata(ctx context.Context, remoteID string, p *post.Post, postPath string) {
	if err := r.provider.UpdateCommentsField(ctx, remoteID, p.CommentCount, r.in.TenantURL, postPath); err != nil {
		slog.WarnContext(ctx, "refresh remote comments field failed", "integration_id", r.in.ID, "remote_id", remoteID, "error", err)
	}
	if err := r.provider.UpdateLikesField(ctx, remoteID, p.LikeCount); err != nil {
		slog.WarnContext(ctx, "refresh remote likes field failed", "integration_id", r.in.ID, "remote_id", remoteID, "error", err)
	}
}

// setMappingStatus moves m through the state machine and persists the
// result. A failed write is logged; the item outcome is already decided.
func (r *syncRun) setMappingStatus(ctx context.Context, m *mapping.Mapping, e mapping.Event, reason string) {
	if err := m.Apply(e, r.svc.now(), reason); err != nil {
		slog.WarnContext(ctx, "mapping transition rejected", "mapping_id", m.ID, "event", e, "error", err)
		return
	}
	if err := r.svc.store.SetMappingStatus(ctx, m.ID, m.SyncStatus, m.LastError); err != nil {
		slog.WarnContext(ctx, "persist mapping status failed", "mapping_id", m.ID, "status", m.SyncStatus, "error", err)
	}
}

// boardSlugs resolves every board's slug once per run, reading through the
// shared cache when one is configured. An unresolvable board falls back to
// its id, which only degrades the deep link.
func (r *syncRun) boardSlugs(ctx context.Context, boardIDs []string) map[string]string {
	slugs := make(map[string]string, len(boardIDs))
	for _, id := range boardIDs {
		slug, err := r.svc.boardSlug(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "resolve board slug failed", "board_id", id, "error", err)
			slug = id
		}
		slugs[id] = slug
	}
	return slugs
}

func (s *SyncService) boardSlug(ctx context.Context, boardID string) (string, error) {
	key := cache.BoardSlugKey(boardID)
	if s.slugs != nil {
		if data, ok, err := s.slugs.Get(ctx, key); err == nil && ok {
			return string(data), nil
		}
	}

	slug, err := s.store.GetBoardSlug(ctx, boardID)
	if err != nil {
		return "", err
	}

	if s.slugs != nil {
		if err := s.slugs.Set(ctx, key, []byte(slug), 0); err != nil {
			slog.DebugContext(ctx, "cache board slug failed", "board_id", boardID, "error", err)
		}
	}
	return slug, nil
}
