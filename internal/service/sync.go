package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/feedbacksync/internal/adapter/otel"
	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain"
	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
	"github.com/Strob0t/feedbacksync/internal/logger"
	"github.com/Strob0t/feedbacksync/internal/port/broadcast"
	"github.com/Strob0t/feedbacksync/internal/port/cache"
	"github.com/Strob0t/feedbacksync/internal/port/database"
	"github.com/Strob0t/feedbacksync/internal/port/messagequeue"
	"github.com/Strob0t/feedbacksync/internal/port/remoteprovider"
	"github.com/Strob0t/feedbacksync/internal/resilience"
)

// CredentialDecrypter opens the sealed credentials stored on an integration.
type CredentialDecrypter interface {
	Decrypt(sealed string) (map[string]string, error)
}

// SyncService runs the sync between a tenant's posts and one external
// integration. It holds no per-integration lock: callers must keep runs of
// the same integration single-flight.
type SyncService struct {
	store      database.Store
	creds      CredentialDecrypter
	cfg        config.Sync
	breakerCfg config.Breaker

	slugs   cache.Cache
	hub     broadcast.Broadcaster
	queue   messagequeue.Queue
	metrics *cfotel.Metrics

	breakers sync.Map       // integration id -> *resilience.Breaker
	relays   sync.WaitGroup // hub relays still delivering events

	now      func() time.Time
	newRunID func() string
}

// NewSyncService creates a SyncService.
func NewSyncService(store database.Store, creds CredentialDecrypter, cfg config.Sync, breakerCfg config.Breaker) *SyncService {
	return &SyncService{
		store:      store,
		creds:      creds,
		cfg:        cfg,
		breakerCfg: breakerCfg,
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
}

// SetSlugCache sets the cache used to resolve board slugs across runs.
func (s *SyncService) SetSlugCache(c cache.Cache) { s.slugs = c }

// SetBroadcaster sets the hub receiving progress and completion events.
func (s *SyncService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// SetQueue sets the queue receiving sync.completed messages.
func (s *SyncService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetMetrics sets the OTEL metric instruments.
func (s *SyncService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Run executes one sync of an integration and returns its summary.
//
// Only pre-flight failures are returned as errors, see Prepare. Everything
// after that is recorded in the sync log and counted in the summary.
func (s *SyncService) Run(ctx context.Context, integrationID, tenantID string, onProgress syncrun.ProgressFunc) (*syncrun.Summary, error) {
	p, err := s.Prepare(ctx, integrationID, tenantID)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, onProgress), nil
}

// PreparedRun is an integration that passed the pre-flight checks and has a
// bound provider, ready to be executed once.
type PreparedRun struct {
	svc      *SyncService
	in       *integration.Integration
	provider *remoteprovider.Bound
}

// Prepare runs the pre-flight checks: an unknown integration or one owned by
// another tenant (integration.ErrNotFound), a disabled one
// (integration.ErrDisabled), and credential or provider construction
// failures. No sync log entry is written for any of them.
func (s *SyncService) Prepare(ctx context.Context, integrationID, tenantID string) (*PreparedRun, error) {
	in, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", integrationID, integration.ErrNotFound)
		}
		return nil, fmt.Errorf("load integration %s: %w", integrationID, err)
	}
	if in.TenantID != tenantID {
		return nil, fmt.Errorf("%s: %w", integrationID, integration.ErrNotFound)
	}
	if !in.Enabled {
		return nil, fmt.Errorf("%s: %w", integrationID, integration.ErrDisabled)
	}

	provider, err := s.bindProvider(in)
	if err != nil {
		return nil, err
	}
	return &PreparedRun{svc: s, in: in, provider: provider}, nil
}

// Integration returns the integration being synced.
func (p *PreparedRun) Integration() *integration.Integration { return p.in }

// Execute runs the sync. It always returns a summary.
func (p *PreparedRun) Execute(ctx context.Context, onProgress syncrun.ProgressFunc) *syncrun.Summary {
	s, in := p.svc, p.in
	run := &syncRun{
		svc:        s,
		in:         in,
		provider:   p.provider,
		id:         s.newRunID(),
		onProgress: onProgress,
	}
	ctx = logger.WithRunID(ctx, run.id)
	ctx, span := cfotel.StartSyncRunSpan(ctx, run.id, in.ID, in.Type)
	defer span.End()

	start := s.now()
	s.metrics.RecordStart(ctx, in.Type)
	slog.InfoContext(ctx, "sync run started", "integration_id", in.ID, "type", in.Type, "direction", in.SyncDirection)

	summary := &syncrun.Summary{RunID: run.id}
	run.startRelay(ctx)
	run.writePhaseMarkers(ctx)

	if phase, err := run.execute(ctx, summary); err != nil {
		run.logBatchError(ctx, phase, err)
		summary.Errors++
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.Int("sync.synced", summary.Synced),
		attribute.Int("sync.errors", summary.Errors),
		attribute.Int("sync.conflicts", summary.Conflicts),
	)
	s.metrics.RecordRun(ctx, in.Type, summary.Synced, summary.Errors, summary.Conflicts, s.now().Sub(start).Seconds())
	slog.InfoContext(ctx, "sync run finished", "integration_id", in.ID,
		"synced", summary.Synced, "errors", summary.Errors, "conflicts", summary.Conflicts)

	run.closeRelay(summary)
	s.publishCompleted(ctx, in, summary)
	return summary
}

// bindProvider decrypts the credentials and builds the remote provider.
func (s *SyncService) bindProvider(in *integration.Integration) (*remoteprovider.Bound, error) {
	creds, err := s.creds.Decrypt(in.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("integration %s credentials: %w", in.ID, err)
	}
	p, err := remoteprovider.New(in.Type, creds)
	if err != nil {
		return nil, fmt.Errorf("integration %s provider: %w", in.ID, err)
	}
	return remoteprovider.Bind(p, s.breaker(in.ID)), nil
}

// breaker returns the breaker of an integration. Breakers outlive runs so
// that a failing remote stays short-circuited across scheduled runs.
func (s *SyncService) breaker(integrationID string) *resilience.Breaker {
	if b, ok := s.breakers.Load(integrationID); ok {
		return b.(*resilience.Breaker)
	}
	b, _ := s.breakers.LoadOrStore(integrationID,
		resilience.NewBreaker("integration."+integrationID, s.breakerCfg.MaxFailures, s.breakerCfg.Timeout))
	return b.(*resilience.Breaker)
}

// publishCompleted publishes sync.completed. It is best-effort.
func (s *SyncService) publishCompleted(ctx context.Context, in *integration.Integration, sum *syncrun.Summary) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.SyncCompletedPayload{
		IntegrationID: in.ID,
		TenantID:      in.TenantID,
		RunID:         sum.RunID,
		Synced:        sum.Synced,
		Errors:        sum.Errors,
		Conflicts:     sum.Conflicts,
	})
	if err != nil {
		slog.WarnContext(ctx, "marshal sync.completed", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectSyncCompleted, data); err != nil {
		slog.WarnContext(ctx, "publish sync.completed failed", "integration_id", in.ID, "error", err)
	}
}

// syncRun is the state of one invocation, shared by both phases.
type syncRun struct {
	svc        *SyncService
	in         *integration.Integration
	provider   *remoteprovider.Bound
	id         string
	onProgress syncrun.ProgressFunc

	// relay carries hub deliveries to a goroutine of their own; nil without a hub.
	relay chan func(context.Context)
}

// relayBuffer bounds the hub events queued per run. Progress beyond it is
// dropped; the completion event is always queued.
const relayBuffer = 64

// execute runs the active phases and advances the cursor. On error it
// reports the phase that was running.
func (r *syncRun) execute(ctx context.Context, sum *syncrun.Summary) (syncrun.Phase, error) {
	dir := r.in.SyncDirection
	phase := syncrun.PhaseOutbound
	if !dir.IncludesOutbound() {
		phase = syncrun.PhaseInbound
	}

	if dir.IncludesOutbound() {
		res, err := r.outbound(ctx)
		sum.Add(res)
		if err != nil {
			return syncrun.PhaseOutbound, err
		}
	}

	if dir.IncludesInbound() {
		phase = syncrun.PhaseInbound
		res, err := r.inbound(ctx)
		sum.Add(res)
		if err != nil {
			return syncrun.PhaseInbound, err
		}
	}

	syncedAt := r.svc.now()
	cursor := syncedAt.Add(-r.svc.cfg.CursorSkew).UTC().Format(time.RFC3339)
	if err := r.svc.store.UpdateSyncCursor(ctx, r.in.ID, cursor, syncedAt); err != nil {
		return phase, fmt.Errorf("update sync cursor: %w", err)
	}
	return phase, nil
}

// writePhaseMarkers records the directions of this run before any item is
// processed, so they are known even when a phase logs nothing else.
func (r *syncRun) writePhaseMarkers(ctx context.Context) {
	if r.in.SyncDirection.IncludesOutbound() {
		r.appendLog(ctx, &synclog.Entry{
			Direction: synclog.DirectionOutbound,
			Status:    synclog.StatusSkipped,
			Message:   synclog.MessagePhaseMarker,
		})
	}
	if r.in.SyncDirection.IncludesInbound() {
		r.appendLog(ctx, &synclog.Entry{
			Direction: synclog.DirectionInbound,
			Status:    synclog.StatusSkipped,
			Message:   synclog.MessagePhaseMarker,
		})
	}
}

func (r *syncRun) logBatchError(ctx context.Context, phase syncrun.Phase, err error) {
	slog.ErrorContext(ctx, "sync batch failed", "integration_id", r.in.ID, "phase", phase, "error", err)
	r.appendLog(ctx, &synclog.Entry{
		Direction: phase.LogDirection(),
		Status:    synclog.StatusError,
		Message:   err.Error(),
		Details:   synclog.Details(map[string]any{"phase": string(phase), "batch_level": true}),
	})
}

// itemError records a per-item failure and counts it.
func (r *syncRun) itemError(ctx context.Context, phase syncrun.Phase, mappingID string, err error, details map[string]any) syncrun.Result {
	slog.WarnContext(ctx, "sync item failed", "integration_id", r.in.ID, "phase", phase, "details", details, "error", err)
	r.appendLog(ctx, &synclog.Entry{
		MappingID: mappingID,
		Direction: phase.LogDirection(),
		Status:    synclog.StatusError,
		Message:   err.Error(),
		Details:   synclog.Details(details),
	})
	return syncrun.Result{Errors: 1}
}

// appendLog stamps run identity onto e and appends it. The audit trail is
// written best-effort: a failed append is logged, not counted.
func (r *syncRun) appendLog(ctx context.Context, e *synclog.Entry) {
	e.IntegrationID = r.in.ID
	e.SyncRunID = r.id
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.svc.now()
	}
	if err := r.svc.store.AppendSyncLog(ctx, e); err != nil {
		slog.WarnContext(ctx, "append sync log failed", "integration_id", r.in.ID, "status", e.Status, "error", err)
	}
}

// report delivers a progress event to the caller and queues it for the
// tenant's clients. Neither delivery can affect or stall the run.
func (r *syncRun) report(p syncrun.Progress) {
	syncrun.Notify(r.onProgress, p)
	if r.relay == nil {
		return
	}
	ev := broadcast.SyncProgressEvent{
		IntegrationID: r.in.ID,
		RunID:         r.id,
		Phase:         string(p.Phase),
		Current:       p.Current,
		Total:         p.Total,
	}
	select {
	case r.relay <- func(ctx context.Context) { r.broadcast(ctx, broadcast.EventSyncProgress, ev) }:
	default:
		slog.Debug("hub progress dropped", "integration_id", r.in.ID, "run_id", r.id)
	}
}

// startRelay starts the goroutine that delivers hub events in order, so a
// slow client never holds up a batch.
func (r *syncRun) startRelay(ctx context.Context) {
	if r.svc.hub == nil {
		return
	}
	r.relay = make(chan func(context.Context), relayBuffer)
	ctx = context.WithoutCancel(ctx)
	r.svc.relays.Add(1)
	go func() {
		defer r.svc.relays.Done()
		for deliver := range r.relay {
			deliver(ctx)
		}
	}()
}

// closeRelay queues the completion event behind any pending progress and
// stops the relay once it is delivered. It does not wait for delivery.
func (r *syncRun) closeRelay(sum *syncrun.Summary) {
	if r.relay == nil {
		return
	}
	ev := broadcast.SyncCompletedEvent{
		IntegrationID: r.in.ID,
		RunID:         sum.RunID,
		Synced:        sum.Synced,
		Errors:        sum.Errors,
		Conflicts:     sum.Conflicts,
	}
	r.relay <- func(ctx context.Context) { r.broadcast(ctx, broadcast.EventSyncCompleted, ev) }
	close(r.relay)
}

func (r *syncRun) broadcast(ctx context.Context, eventType string, payload any) {
	defer func() {
		if v := recover(); v != nil {
			slog.WarnContext(ctx, "hub broadcast panicked", "event", eventType, "panic", v)
		}
	}()
	r.svc.hub.BroadcastEvent(ctx, r.in.TenantID, eventType, payload)
}
