package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
	"github.com/Strob0t/feedbacksync/internal/middleware"
	"github.com/Strob0t/feedbacksync/internal/service"
)

// SyncRun is a started run that holds its integration's lock.
type SyncRun interface {
	Execute(ctx context.Context, onProgress syncrun.ProgressFunc) *syncrun.Summary
	Release(ctx context.Context)
}

// SyncStarter runs the pre-flight checks of a sync and takes the lock.
type SyncStarter func(ctx context.Context, integrationID, tenantID string) (SyncRun, error)

// GateStarter adapts a SyncGate to a SyncStarter.
func GateStarter(g *service.SyncGate) SyncStarter {
	return func(ctx context.Context, integrationID, tenantID string) (SyncRun, error) {
		lr, err := g.Start(ctx, integrationID, tenantID)
		if err != nil {
			return nil, err
		}
		return lr, nil
	}
}

// SyncQueries serves the read side of the sync.
type SyncQueries interface {
	SyncLogs(ctx context.Context, integrationID, tenantID, runID string, limit int) ([]synclog.Entry, error)
	Mappings(ctx context.Context, integrationID, tenantID string, status mapping.Status) ([]mapping.Mapping, error)
}

// HealthCheck checks one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	StartSync      SyncStarter
	Queries        SyncQueries
	Checks         []HealthCheck
	FeatureEnabled func() bool
	WS             http.HandlerFunc
	Version        string
}

// progressBuffer bounds the progress events queued for a slow client.
const progressBuffer = 256

// TriggerSync handles POST /api/v1/integrations/{id}/sync.
//
// Pre-flight failures are reported as plain JSON errors. Once the lock is
// held the response switches to an event stream: "progress" events while
// the run advances, then exactly one "complete" (with the summary) or
// "error" event. The run is detached from the request and finishes even
// if the client goes away.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	tenantID := middleware.TenantIDFromRequest(r)

	run, err := h.StartSync(r.Context(), id, tenantID)
	if err != nil {
		writeDomainError(w, r, err, "integration not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		run.Release(r.Context())
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan syncrun.Progress, progressBuffer)
	done := make(chan runOutcome, 1)
	runCtx := context.WithoutCancel(r.Context())

	go func() {
		done <- executeRun(runCtx, run, func(p syncrun.Progress) {
			select {
			case events <- p:
			default:
				slog.DebugContext(runCtx, "progress event dropped", "integration_id", id, "phase", p.Phase, "current", p.Current)
			}
		})
	}()

	sse := &sseWriter{w: w, f: flusher}
	for {
		select {
		case p := <-events:
			sse.send("progress", p)
		case out := <-done:
			for drained := false; !drained; {
				select {
				case p := <-events:
					sse.send("progress", p)
				default:
					drained = true
				}
			}
			if out.err != nil {
				sse.send("error", errorResponse{Error: "sync failed"})
				return
			}
			sse.send("complete", out.summary)
			return
		case <-r.Context().Done():
			slog.InfoContext(runCtx, "sync client disconnected, run continues", "integration_id", id)
			return
		}
	}
}

type runOutcome struct {
	summary *syncrun.Summary
	err     error
}

// executeRun turns a panic escaping the run into an error outcome. The run
// itself already releases its lock on the way out.
func executeRun(ctx context.Context, run SyncRun, onProgress syncrun.ProgressFunc) (out runOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "sync run panicked", "panic", rec)
			out = runOutcome{err: fmt.Errorf("sync run panicked: %v", rec)}
		}
	}()
	return runOutcome{summary: run.Execute(ctx, onProgress)}
}

// sseWriter writes server-sent events. After the first failed write it
// stops writing.
type sseWriter struct {
	w      http.ResponseWriter
	f      http.Flusher
	broken bool
}

func (s *sseWriter) send(event string, data any) {
	if s.broken {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("encode sse event", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.broken = true
		return
	}
	s.f.Flush()
}

// ListSyncLogs handles GET /api/v1/integrations/{id}/sync-logs.
func (h *Handlers) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	entries, err := h.Queries.SyncLogs(r.Context(), urlParam(r, "id"), middleware.TenantIDFromRequest(r), r.URL.Query().Get("run_id"), limit)
	if err != nil {
		writeDomainError(w, r, err, "integration not found")
		return
	}
	if entries == nil {
		entries = []synclog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListMappings handles GET /api/v1/integrations/{id}/mappings.
func (h *Handlers) ListMappings(w http.ResponseWriter, r *http.Request) {
	status := mapping.Status(r.URL.Query().Get("status"))
	ms, err := h.Queries.Mappings(r.Context(), urlParam(r, "id"), middleware.TenantIDFromRequest(r), status)
	if err != nil {
		writeDomainError(w, r, err, "integration not found")
		return
	}
	if ms == nil {
		ms = []mapping.Mapping{}
	}
	writeJSON(w, http.StatusOK, ms)
}

// healthTimeout bounds each dependency check.
const healthTimeout = 2 * time.Second

// Health reports the status of every dependency. Any failing check turns
// the response into a 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type healthStatus struct {
		Status   string            `json:"status"`
		Version  string            `json:"version,omitempty"`
		Services map[string]string `json:"services"`
	}

	status := healthStatus{Status: "ok", Version: h.Version, Services: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for _, c := range h.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			slog.WarnContext(r.Context(), "health check failed", "service", c.Name, "error", err)
			status.Services[c.Name] = "down"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Services[c.Name] = "up"
	}
	writeJSON(w, code, status)
}
