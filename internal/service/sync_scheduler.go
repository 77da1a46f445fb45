package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/port/database"
	"github.com/Strob0t/feedbacksync/internal/port/messagequeue"
	"github.com/Strob0t/feedbacksync/internal/port/synclock"
)

// Sync request triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// SyncScheduler periodically requests a sync of every enabled integration.
// Requests go through the queue so that any instance may pick them up.
type SyncScheduler struct {
	cron  *cron.Cron
	store database.IntegrationStore
	queue messagequeue.Queue
	now   func() time.Time
}

// NewSyncScheduler validates spec (standard cron syntax or a descriptor
// such as "@every 15m") and registers the tick.
func NewSyncScheduler(store database.IntegrationStore, queue messagequeue.Queue, spec string) (*SyncScheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("sync schedule %q: %w", spec, err)
	}
	s := &SyncScheduler{
		cron:  cron.New(),
		store: store,
		queue: queue,
		now:   time.Now,
	}
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.Tick(context.Background()); err != nil {
			slog.Error("scheduled sync tick failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("register sync schedule: %w", err)
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *SyncScheduler) Start() {
	s.cron.Start()
	slog.Info("sync scheduler started", "entries", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for a running tick to finish.
func (s *SyncScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Tick publishes one sync request per enabled integration. A failed
// publish is logged and the remaining integrations are still requested.
func (s *SyncScheduler) Tick(ctx context.Context) error {
	ins, err := s.store.ListEnabledIntegrations(ctx)
	if err != nil {
		return fmt.Errorf("list enabled integrations: %w", err)
	}

	var failed int
	for i := range ins {
		if err := RequestSync(ctx, s.queue, &ins[i], TriggerSchedule, s.now()); err != nil {
			failed++
			slog.Warn("request scheduled sync failed", "integration_id", ins[i].ID, "error", err)
		}
	}
	slog.Info("scheduled syncs requested", "integrations", len(ins), "failed", failed)
	return nil
}

// RequestSync publishes a sync.requested message for in.
func RequestSync(ctx context.Context, q messagequeue.Queue, in *integration.Integration, trigger string, at time.Time) error {
	data, err := json.Marshal(messagequeue.SyncRequestedPayload{
		IntegrationID: in.ID,
		TenantID:      in.TenantID,
		Trigger:       trigger,
		RequestedAt:   at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal sync request: %w", err)
	}
	return q.Publish(ctx, messagequeue.SubjectSyncRequested, data)
}

// SyncWorker executes queued sync requests through the gate.
type SyncWorker struct {
	gate  *SyncGate
	queue messagequeue.Queue
}

// NewSyncWorker creates a SyncWorker.
func NewSyncWorker(gate *SyncGate, queue messagequeue.Queue) *SyncWorker {
	return &SyncWorker{gate: gate, queue: queue}
}

// Start subscribes to sync requests. The returned function unsubscribes.
func (w *SyncWorker) Start(ctx context.Context) (func(), error) {
	return w.queue.Subscribe(ctx, messagequeue.SubjectSyncRequested, w.Handle)
}

// Handle runs one sync request. Requests that can never succeed (unknown,
// foreign or disabled integration) and requests for an integration that is
// already syncing are acknowledged without a run; other pre-flight errors
// are returned so the queue redelivers.
func (w *SyncWorker) Handle(ctx context.Context, _ string, data []byte) error {
	var req messagequeue.SyncRequestedPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode sync request: %w", err)
	}

	sum, err := w.gate.Run(ctx, req.IntegrationID, req.TenantID, nil)
	switch {
	case errors.Is(err, synclock.ErrHeld):
		slog.InfoContext(ctx, "sync already running, request dropped", "integration_id", req.IntegrationID, "trigger", req.Trigger)
		return nil
	case errors.Is(err, integration.ErrNotFound), errors.Is(err, integration.ErrDisabled):
		slog.WarnContext(ctx, "sync request rejected", "integration_id", req.IntegrationID, "error", err)
		return nil
	case err != nil:
		return err
	}

	slog.InfoContext(ctx, "queued sync finished", "integration_id", req.IntegrationID, "trigger", req.Trigger,
		"run_id", sum.RunID, "synced", sum.Synced, "errors", sum.Errors, "conflicts", sum.Conflicts)
	return nil
}
