package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/post"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
	"github.com/Strob0t/feedbacksync/internal/port/messagequeue"
	"github.com/Strob0t/feedbacksync/internal/port/remoteprovider"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type harness struct {
	store *memStore
	prov  *fakeProvider
	svc   *SyncService
	in    *integration.Integration
}

func newHarness(t *testing.T, dir integration.SyncDirection) *harness {
	t.Helper()
	store := newMemStore()
	prov := newFakeProvider()

	in := &integration.Integration{
		ID:            "int-1",
		TenantID:      "tenant-1",
		Type:          registerFake(prov),
		Enabled:       true,
		SyncDirection: dir,
		TenantURL:     "https://acme.feedback.example",
		Config: integration.Config{
			BoardMappings:  []integration.BoardMapping{{RemoteCategoryID: "cat-bugs", BoardID: "board-bugs"}},
			StatusMappings: []integration.StatusMapping{{RemoteStatusID: "r-open", StatusID: "s-open"}},
		},
	}
	store.integrations[in.ID] = in
	store.boardSlugs["board-bugs"] = "bugs"

	svc := NewSyncService(store, plainCreds{}, config.Sync{
		OutboundConcurrency: 10,
		InboundConcurrency:  20,
		CursorSkew:          2 * time.Minute,
	}, config.Breaker{MaxFailures: 1000, Timeout: time.Minute})
	svc.now = func() time.Time { return t0 }
	var runSeq int
	var mu sync.Mutex
	svc.newRunID = func() string {
		mu.Lock()
		defer mu.Unlock()
		runSeq++
		return fmt.Sprintf("run-%d", runSeq)
	}

	return &harness{store: store, prov: prov, svc: svc, in: in}
}

func (h *harness) addPost(id string, updatedAt time.Time) *post.Post {
	p := &post.Post{
		ID:           id,
		TenantID:     h.in.TenantID,
		BoardID:      "board-bugs",
		Title:        "Title " + id,
		Description:  "Description " + id,
		Slug:         "slug-" + id,
		CommentCount: 2,
		LikeCount:    5,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
	h.store.posts[id] = p
	return p
}

func (h *harness) run(t *testing.T, onProgress syncrun.ProgressFunc) *syncrun.Summary {
	t.Helper()
	sum, err := h.svc.Run(context.Background(), h.in.ID, h.in.TenantID, onProgress)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sum
}

func strPtr(s string) *string { return &s }

func assertSummary(t *testing.T, got *syncrun.Summary, synced, errs, conflicts int) {
	t.Helper()
	if got.Synced != synced || got.Errors != errs || got.Conflicts != conflicts {
		t.Fatalf("summary = {synced:%d errors:%d conflicts:%d}, want {synced:%d errors:%d conflicts:%d}",
			got.Synced, got.Errors, got.Conflicts, synced, errs, conflicts)
	}
}

func TestSync_OutboundScenario(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	for _, id := range []string{"p1", "p2", "p3"} {
		h.addPost(id, t0.Add(-time.Hour))
	}

	sum := h.run(t, nil)
	assertSummary(t, sum, 3, 0, 0)

	if len(h.store.mappings) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(h.store.mappings))
	}
	for _, m := range h.store.mappings {
		if m.SyncStatus != mapping.StatusSynced {
			t.Errorf("mapping %s status %s", m.LocalID, m.SyncStatus)
		}
		if m.Origin() != mapping.OriginOutbound {
			t.Errorf("mapping %s origin %s", m.LocalID, m.Origin())
		}
	}

	markers := h.store.phaseMarkers()
	if len(markers) != 1 || markers[0].Direction != synclog.DirectionOutbound {
		t.Fatalf("expected 1 outbound phase marker, got %+v", markers)
	}
	if got := len(h.store.logsWith(synclog.StatusSuccess)); got != 3 {
		t.Fatalf("expected 3 SUCCESS entries, got %d", got)
	}
	if len(h.store.logs) != 4 {
		t.Fatalf("expected 4 log entries in total, got %d", len(h.store.logs))
	}
	for _, e := range h.store.logs {
		if e.SyncRunID != sum.RunID {
			t.Fatalf("entry %s has run id %q, want %q", e.ID, e.SyncRunID, sum.RunID)
		}
	}
}

func TestSync_OutboundPayload(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	p := h.addPost("p1", t0)
	p.StatusID = strPtr("s-open")
	p.Tags = []string{"ux"}

	h.run(t, nil)

	push := h.prov.pushes[0]
	d := push.Data
	if d.Title != p.Title || d.BoardID != "board-bugs" || d.CategoryID != "cat-bugs" {
		t.Errorf("unexpected payload %+v", d)
	}
	if d.StatusID != "s-open" || d.RemoteStatus != "r-open" {
		t.Errorf("status not mapped: %+v", d)
	}
	if d.TenantURL != h.in.TenantURL || d.CommentCount != 2 || d.LikeCount != 5 {
		t.Errorf("unexpected payload %+v", d)
	}
	if push.ExistingRemoteID != "" {
		t.Errorf("first push must create, got existing %q", push.ExistingRemoteID)
	}
	if h.prov.comments["remote-1"] != 2 || h.prov.likes["remote-1"] != 5 {
		t.Errorf("metadata not refreshed after push: %v %v", h.prov.comments, h.prov.likes)
	}
}

func TestSync_OutboundIdempotent(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	h.addPost("p1", t0.Add(-time.Hour))

	h.run(t, nil)
	h.run(t, nil)

	if len(h.store.mappings) != 1 {
		t.Fatalf("expected one mapping after two runs, got %d", len(h.store.mappings))
	}
	if got := h.prov.pushes[1].ExistingRemoteID; got != "remote-1" {
		t.Fatalf("second push must update remote-1, got %q", got)
	}
}

func TestSync_OutboundSkipsInboundOrigin(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	h.addPost("p1", t0)
	h.store.mappings = append(h.store.mappings, &mapping.Mapping{
		ID: "m-in", IntegrationID: h.in.ID, LocalType: mapping.LocalTypePost, LocalID: "p1",
		RemoteID: "remote-in", SyncStatus: mapping.StatusSynced,
		Metadata: mapping.OriginMetadata(mapping.OriginInbound),
	})

	sum := h.run(t, nil)
	assertSummary(t, sum, 0, 0, 0)

	if h.prov.pushCount() != 0 {
		t.Fatalf("inbound-origin post must not be pushed, got %d pushes", h.prov.pushCount())
	}
	if h.prov.comments["remote-in"] != 2 || h.prov.likes["remote-in"] != 5 {
		t.Fatalf("expected metadata refresh only, got %v %v", h.prov.comments, h.prov.likes)
	}
}

func TestSync_OutboundPushFailureMarksMappingError(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	h.addPost("p1", t0)
	h.addPost("p2", t0)
	h.run(t, nil)

	h.prov.pushErr["p1"] = errors.New("remote rejected payload")
	sum := h.run(t, nil)
	assertSummary(t, sum, 1, 1, 0)

	m, _ := h.store.GetMappingByLocal(context.Background(), h.in.ID, mapping.LocalTypePost, "p1")
	if m.SyncStatus != mapping.StatusError || m.LastError != "remote rejected payload" {
		t.Fatalf("expected ERROR mapping with provider error, got %s %q", m.SyncStatus, m.LastError)
	}
	errs := h.store.logsWith(synclog.StatusError)
	if len(errs) != 1 || errs[0].MappingID != m.ID {
		t.Fatalf("expected one ERROR entry for the mapping, got %+v", errs)
	}
	var details map[string]string
	if err := json.Unmarshal(errs[0].Details, &details); err != nil || details["local_id"] != "p1" {
		t.Fatalf("expected local_id in details, got %s", errs[0].Details)
	}
}

func TestSync_OutboundFailureWithoutMapping(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	h.addPost("p1", t0)
	h.prov.pushErr["p1"] = errors.New("boom")

	sum := h.run(t, nil)
	assertSummary(t, sum, 0, 1, 0)
	if len(h.store.mappings) != 0 {
		t.Fatalf("failed first push must not create a mapping")
	}
}

func TestSync_MetadataRefreshFailureIgnored(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	h.addPost("p1", t0)
	h.prov.likesErr = errors.New("likes field missing")

	sum := h.run(t, nil)
	assertSummary(t, sum, 1, 0, 0)
	if len(h.store.logsWith(synclog.StatusError)) != 0 {
		t.Fatal("metadata refresh failures must not be logged as errors")
	}
}

func TestSync_BoardSlugResolvedOncePerRun(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	for i := range 5 {
		h.addPost(fmt.Sprintf("p%d", i), t0)
	}
	slugs := &memCache{}
	h.svc.SetSlugCache(slugs)

	h.run(t, nil)
	if h.store.slugLookups != 1 {
		t.Fatalf("expected one slug lookup, got %d", h.store.slugLookups)
	}
	h.run(t, nil)
	if h.store.slugLookups != 1 {
		t.Fatalf("expected cached slug on second run, got %d lookups", h.store.slugLookups)
	}
}

func TestSync_InboundScenario(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	h.prov.changes = []remoteprovider.Change{
		{RemoteID: "r1", RemoteURL: "https://remote.example/r1", Title: "Crash on save",
			Description: strPtr("steps"), BoardCategoryID: "cat-bugs", StatusCategoryID: "r-open", Tags: []string{"bug"}},
		{RemoteID: "r2", Title: "Unmapped", Description: strPtr(""), BoardCategoryID: "cat-unknown"},
	}

	sum := h.run(t, nil)
	assertSummary(t, sum, 1, 0, 0)

	if got := len(h.store.logsWith(synclog.StatusSkipped)); got != 1 {
		t.Fatalf("expected one SKIPPED entry, got %d", got)
	}
	if len(h.store.posts) != 1 || len(h.store.mappings) != 1 {
		t.Fatalf("expected 1 post and 1 mapping, got %d and %d", len(h.store.posts), len(h.store.mappings))
	}
	m := h.store.mappings[0]
	if m.SyncStatus != mapping.StatusSynced || !m.InboundOrigin() || m.RemoteID != "r1" {
		t.Fatalf("unexpected mapping %+v", m)
	}
	p := h.store.posts[m.LocalID]
	if p.Title != "Crash on save" || !p.Approved || p.BoardID != "board-bugs" {
		t.Fatalf("unexpected post %+v", p)
	}
	if p.StatusID == nil || *p.StatusID != "s-open" {
		t.Fatalf("status not resolved: %v", p.StatusID)
	}
	if p.SourceLabel != h.in.Type {
		t.Fatalf("expected provenance %q, got %q", h.in.Type, p.SourceLabel)
	}
	markers := h.store.phaseMarkers()
	if len(markers) != 1 || markers[0].Direction != synclog.DirectionInbound {
		t.Fatalf("expected inbound phase marker, got %+v", markers)
	}
}

func TestSync_InboundIdempotent(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	h.prov.changes = []remoteprovider.Change{{RemoteID: "r1", Title: "Same", Description: strPtr("x"), BoardCategoryID: "cat-bugs"}}

	h.run(t, nil)
	sum := h.run(t, nil)
	assertSummary(t, sum, 1, 0, 0)

	if len(h.store.posts) != 1 || len(h.store.mappings) != 1 {
		t.Fatalf("second run must update, not duplicate: %d posts, %d mappings", len(h.store.posts), len(h.store.mappings))
	}
}

func TestSync_InboundMappingFailureLeavesNoOrphan(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	h.prov.changes = []remoteprovider.Change{{RemoteID: "r1", Title: "New", Description: strPtr("x"), BoardCategoryID: "cat-bugs"}}

	h.store.importErr = errors.New("connection reset")
	sum := h.run(t, nil)
	assertSummary(t, sum, 0, 1, 0)
	if len(h.store.posts) != 0 || len(h.store.mappings) != 0 {
		t.Fatalf("failed import left %d posts and %d mappings", len(h.store.posts), len(h.store.mappings))
	}

	h.store.importErr = nil
	sum = h.run(t, nil)
	assertSummary(t, sum, 1, 0, 0)
	if len(h.store.posts) != 1 || len(h.store.mappings) != 1 {
		t.Fatalf("retry must import exactly once: %d posts, %d mappings", len(h.store.posts), len(h.store.mappings))
	}
}

func TestSync_ConflictScenario(t *testing.T) {
	h := newHarness(t, integration.DirectionBidirectional)
	lastSync := t0.Add(-time.Hour)
	local := h.addPost("p1", t0.Add(-30*time.Minute))
	// Inbound-origin, so the outbound phase does not push it first.
	h.store.mappings = append(h.store.mappings, &mapping.Mapping{
		ID: "m-1", IntegrationID: h.in.ID, LocalType: mapping.LocalTypePost, LocalID: "p1",
		RemoteID: "r1", SyncStatus: mapping.StatusSynced, LastSyncAt: &lastSync,
		Metadata: mapping.OriginMetadata(mapping.OriginInbound),
	})
	h.prov.changes = []remoteprovider.Change{{RemoteID: "r1", Title: "Remote edit", Description: strPtr("remote"), BoardCategoryID: "cat-bugs"}}

	sum := h.run(t, nil)
	assertSummary(t, sum, 0, 0, 1)

	m := h.store.mappings[0]
	if m.SyncStatus != mapping.StatusConflict || m.LastError == "" {
		t.Fatalf("expected CONFLICT mapping with reason, got %s %q", m.SyncStatus, m.LastError)
	}
	if !m.LastSyncAt.Equal(lastSync) {
		t.Fatalf("conflict must not move last sync, got %v", m.LastSyncAt)
	}
	p := h.store.posts["p1"]
	if p.Title != local.Title || p.Description != local.Description || !p.UpdatedAt.Equal(local.UpdatedAt) {
		t.Fatalf("local post changed under conflict: %+v", p)
	}
	conflicts := h.store.logsWith(synclog.StatusConflict)
	if len(conflicts) != 1 || conflicts[0].MappingID != "m-1" {
		t.Fatalf("expected one CONFLICT entry, got %+v", conflicts)
	}
	if got := len(h.store.phaseMarkers()); got != 2 {
		t.Fatalf("expected 2 phase markers, got %d", got)
	}
}

func TestSync_InboundOnlyOverwritesWithoutConflictCheck(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	lastSync := t0.Add(-time.Hour)
	h.addPost("p1", t0.Add(-30*time.Minute))
	h.store.mappings = append(h.store.mappings, &mapping.Mapping{
		ID: "m-1", IntegrationID: h.in.ID, LocalType: mapping.LocalTypePost, LocalID: "p1",
		RemoteID: "r1", SyncStatus: mapping.StatusSynced, LastSyncAt: &lastSync,
	})
	h.prov.changes = []remoteprovider.Change{{RemoteID: "r1", Title: "Remote edit", Description: strPtr("remote"), BoardCategoryID: "cat-bugs"}}

	sum := h.run(t, nil)
	assertSummary(t, sum, 1, 0, 0)
	if h.store.posts["p1"].Title != "Remote edit" {
		t.Fatal("inbound-only integration must write through")
	}
}

func TestSync_InboundUsesOneInstantForBothWrites(t *testing.T) {
	h := newHarness(t, integration.DirectionBidirectional)
	lastSync := t0.Add(-time.Hour)
	h.addPost("p1", t0.Add(-2*time.Hour))
	h.store.mappings = append(h.store.mappings, &mapping.Mapping{
		ID: "m-1", IntegrationID: h.in.ID, LocalType: mapping.LocalTypePost, LocalID: "p1",
		RemoteID: "r1", SyncStatus: mapping.StatusSynced, LastSyncAt: &lastSync,
		Metadata: mapping.OriginMetadata(mapping.OriginInbound),
	})
	h.prov.changes = []remoteprovider.Change{{RemoteID: "r1", Title: "v2", Description: strPtr("d"), BoardCategoryID: "cat-bugs"}}

	var tick time.Duration
	var mu sync.Mutex
	h.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick += time.Millisecond
		return t0.Add(tick)
	}

	assertSummary(t, h.run(t, nil), 1, 0, 0)
	p, m := h.store.posts["p1"], h.store.mappings[0]
	if !p.UpdatedAt.Equal(*m.LastSyncAt) {
		t.Fatalf("post updated at %v, mapping synced at %v", p.UpdatedAt, m.LastSyncAt)
	}

	h.prov.changes[0].Title = "v3"
	assertSummary(t, h.run(t, nil), 1, 0, 0)
	if h.store.posts["p1"].Title != "v3" {
		t.Fatal("second bidirectional pass must not report a spurious conflict")
	}
}

func TestSync_InboundLazyContentAndTotal(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	h.prov.caps = remoteprovider.Capabilities{Streaming: true, Countable: true, LazyContent: true}
	h.prov.content["r1"] = "hydrated body"
	h.prov.changes = []remoteprovider.Change{
		{RemoteID: "r1", Title: "lazy", BoardCategoryID: "cat-bugs"},
		{RemoteID: "r2", Title: "inline", Description: strPtr("inline body"), BoardCategoryID: "cat-bugs"},
		{RemoteID: "r3", Title: "gone", BoardCategoryID: "cat-bugs"},
	}

	var events []syncrun.Progress
	sum := h.run(t, func(p syncrun.Progress) { events = append(events, p) })
	assertSummary(t, sum, 3, 0, 0)

	byRemote := map[string]string{}
	for _, m := range h.store.mappings {
		byRemote[m.RemoteID] = h.store.posts[m.LocalID].Description
	}
	if byRemote["r1"] != "hydrated body" || byRemote["r2"] != "inline body" || byRemote["r3"] != "" {
		t.Fatalf("unexpected descriptions %v", byRemote)
	}

	if events[0].Current != 0 || events[0].Total != nil {
		t.Fatalf("first event must signal phase start, got %+v", events[0])
	}
	if events[1].Current != 0 || events[1].Total == nil || *events[1].Total != 3 {
		t.Fatalf("second event must carry the count, got %+v", events[1])
	}
	last := events[len(events)-1]
	if last.Current != 3 || *last.Total != 3 {
		t.Fatalf("unexpected final event %+v", last)
	}
}

func TestSync_ProgressMonotonic(t *testing.T) {
	h := newHarness(t, integration.DirectionBidirectional)
	for i := range 23 {
		h.addPost(fmt.Sprintf("p%02d", i), t0)
	}
	for i := range 7 {
		h.prov.changes = append(h.prov.changes, remoteprovider.Change{
			RemoteID: fmt.Sprintf("new-%d", i), Title: "t", Description: strPtr(""), BoardCategoryID: "cat-bugs",
		})
	}

	var mu sync.Mutex
	events := map[syncrun.Phase][]syncrun.Progress{}
	h.run(t, func(p syncrun.Progress) {
		mu.Lock()
		events[p.Phase] = append(events[p.Phase], p)
		mu.Unlock()
	})

	for phase, want := range map[syncrun.Phase]int{syncrun.PhaseOutbound: 23, syncrun.PhaseInbound: 7} {
		evs := events[phase]
		for i := 1; i < len(evs); i++ {
			if evs[i].Current < evs[i-1].Current {
				t.Fatalf("%s progress went backwards at %d: %+v", phase, i, evs)
			}
		}
		if last := evs[len(evs)-1]; last.Current != want {
			t.Fatalf("%s final current %d, want %d", phase, last.Current, want)
		}
	}
	if events[syncrun.PhaseInbound][0].Total != nil {
		t.Fatal("uncountable provider must report an unknown total")
	}
}

func TestSync_ProgressReporterPanics(t *testing.T) {
	run := func(reporter syncrun.ProgressFunc) *syncrun.Summary {
		h := newHarness(t, integration.DirectionBidirectional)
		for i := range 4 {
			h.addPost(fmt.Sprintf("p%d", i), t0)
		}
		h.prov.pushErr["p2"] = errors.New("nope")
		h.prov.changes = []remoteprovider.Change{{RemoteID: "x", Title: "t", Description: strPtr(""), BoardCategoryID: "cat-bugs"}}
		return h.run(t, reporter)
	}

	quiet := run(func(syncrun.Progress) {})
	loud := run(func(syncrun.Progress) { panic("client disconnected") })
	if quiet.Synced != loud.Synced || quiet.Errors != loud.Errors || quiet.Conflicts != loud.Conflicts {
		t.Fatalf("panicking reporter changed the outcome: %+v vs %+v", quiet, loud)
	}
}

func TestSync_ConcurrencyBound(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	h.prov.delay = 3 * time.Millisecond
	for i := range 35 {
		h.addPost(fmt.Sprintf("p%02d", i), t0)
	}
	assertSummary(t, h.run(t, nil), 35, 0, 0)
	if peak := h.prov.peak.Load(); peak > 10 {
		t.Fatalf("outbound peak in-flight %d exceeds 10", peak)
	}

	in := newHarness(t, integration.DirectionInbound)
	in.prov.caps = remoteprovider.Capabilities{LazyContent: true}
	in.prov.delay = 3 * time.Millisecond
	for i := range 45 {
		id := fmt.Sprintf("r%02d", i)
		in.prov.content[id] = "body"
		in.prov.changes = append(in.prov.changes, remoteprovider.Change{RemoteID: id, Title: "t", BoardCategoryID: "cat-bugs"})
	}
	assertSummary(t, in.run(t, nil), 45, 0, 0)
	if peak := in.prov.peak.Load(); peak > 20 {
		t.Fatalf("inbound peak in-flight %d exceeds 20", peak)
	}
}

func TestSync_CountsNeverExceedAttempts(t *testing.T) {
	h := newHarness(t, integration.DirectionBidirectional)
	for i := range 6 {
		h.addPost(fmt.Sprintf("p%d", i), t0)
	}
	h.prov.pushErr["p1"] = errors.New("x")
	h.prov.changes = []remoteprovider.Change{
		{RemoteID: "a", Title: "a", Description: strPtr(""), BoardCategoryID: "cat-bugs"},
		{RemoteID: "b", Title: "b", Description: strPtr(""), BoardCategoryID: "nowhere"},
	}
	sum := h.run(t, nil)
	if sum.Synced+sum.Errors+sum.Conflicts > 8 {
		t.Fatalf("counts exceed attempted items: %+v", sum)
	}
	assertSummary(t, sum, 6, 1, 0)
}

func TestSync_CursorAdvancesWithSkew(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	h.run(t, nil)

	in := h.store.integrations[h.in.ID]
	if want := t0.Add(-2 * time.Minute).Format(time.RFC3339); in.LastSyncCursor != want {
		t.Fatalf("cursor = %q, want %q", in.LastSyncCursor, want)
	}
	if in.LastSyncAt == nil || !in.LastSyncAt.Equal(t0) {
		t.Fatalf("last sync at = %v, want %v", in.LastSyncAt, t0)
	}
}

func TestSync_BatchLevelErrorIsCounted(t *testing.T) {
	h := newHarness(t, integration.DirectionBidirectional)
	h.store.listErr = errors.New("db down")

	sum := h.run(t, nil)
	assertSummary(t, sum, 0, 1, 0)

	errs := h.store.logsWith(synclog.StatusError)
	if len(errs) != 1 || errs[0].Direction != synclog.DirectionOutbound {
		t.Fatalf("expected one outbound batch-level ERROR entry, got %+v", errs)
	}
	var details map[string]any
	if err := json.Unmarshal(errs[0].Details, &details); err != nil || details["batch_level"] != true || details["phase"] != "outbound" {
		t.Fatalf("unexpected details %s", errs[0].Details)
	}
	if h.store.integrations[h.in.ID].LastSyncCursor != "" {
		t.Fatal("cursor must not advance after a batch-level error")
	}
}

func TestSync_StreamErrorIsBatchLevel(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	h.prov.caps = remoteprovider.Capabilities{Streaming: true}
	h.prov.streamErr = errors.New("stream reset")
	h.prov.changes = []remoteprovider.Change{{RemoteID: "r1", Title: "t", Description: strPtr(""), BoardCategoryID: "cat-bugs"}}

	sum := h.run(t, nil)
	assertSummary(t, sum, 1, 1, 0)
	errs := h.store.logsWith(synclog.StatusError)
	if len(errs) != 1 || errs[0].Direction != synclog.DirectionInbound {
		t.Fatalf("expected inbound batch-level ERROR, got %+v", errs)
	}
}

func TestSync_CursorFailureIsBatchLevel(t *testing.T) {
	h := newHarness(t, integration.DirectionInbound)
	h.store.cursorErr = errors.New("write failed")
	sum := h.run(t, nil)
	assertSummary(t, sum, 0, 1, 0)
}

func TestSync_PreflightErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*harness) (id, tenant string)
		want   error
	}{
		{"unknown integration", func(h *harness) (string, string) { return "missing", h.in.TenantID }, integration.ErrNotFound},
		{"foreign tenant", func(h *harness) (string, string) { return h.in.ID, "tenant-2" }, integration.ErrNotFound},
		{"disabled", func(h *harness) (string, string) {
			h.store.integrations[h.in.ID].Enabled = false
			return h.in.ID, h.in.TenantID
		}, integration.ErrDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, integration.DirectionBidirectional)
			id, tenant := tt.modify(h)
			_, err := h.svc.Run(context.Background(), id, tenant, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(h.store.logs) != 0 {
				t.Fatalf("pre-flight failure must not write log entries, got %d", len(h.store.logs))
			}
		})
	}

	t.Run("credentials", func(t *testing.T) {
		h := newHarness(t, integration.DirectionOutbound)
		h.svc.creds = plainCreds{err: errors.New("bad key")}
		if _, err := h.svc.Run(context.Background(), h.in.ID, h.in.TenantID, nil); err == nil {
			t.Fatal("expected credential error")
		}
		if len(h.store.logs) != 0 {
			t.Fatal("pre-flight failure must not write log entries")
		}
	})
}

func TestSync_PublishesCompletion(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	h.addPost("p1", t0)
	q := &memQueue{}
	h.svc.SetQueue(q)
	hub := &recordingHub{}
	h.svc.SetBroadcaster(hub)

	sum := h.run(t, nil)

	msgs := q.published[messagequeue.SubjectSyncCompleted]
	if len(msgs) != 1 {
		t.Fatalf("expected one sync.completed message, got %d", len(msgs))
	}
	var payload messagequeue.SyncCompletedPayload
	if err := json.Unmarshal(msgs[0], &payload); err != nil {
		t.Fatal(err)
	}
	if payload.RunID != sum.RunID || payload.Synced != 1 || payload.TenantID != h.in.TenantID {
		t.Fatalf("unexpected payload %+v", payload)
	}
	h.svc.relays.Wait()
	if hub.count("sync.progress") == 0 || hub.count("sync.completed") != 1 {
		t.Fatalf("unexpected broadcasts %v", hub.types)
	}
	if hub.types[len(hub.types)-1] != "sync.completed" {
		t.Fatalf("completion must be delivered last, got %v", hub.types)
	}
	if hub.tenants["tenant-1"] == 0 || len(hub.tenants) != 1 {
		t.Fatalf("events must go to the integration's tenant only, got %v", hub.tenants)
	}
}

type recordingHub struct {
	mu      sync.Mutex
	types   []string
	tenants map[string]int
}

func (h *recordingHub) BroadcastEvent(_ context.Context, tenantID, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tenants == nil {
		h.tenants = map[string]int{}
	}
	h.tenants[tenantID]++
	h.types = append(h.types, eventType)
}

func (h *recordingHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.types {
		if t == eventType {
			n++
		}
	}
	return n
}

// stalledHub blocks every broadcast until released, like a connected client
// that stopped reading.
type stalledHub struct {
	recordingHub
	release chan struct{}
}

func (h *stalledHub) BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any) {
	<-h.release
	h.recordingHub.BroadcastEvent(ctx, tenantID, eventType, payload)
}

func TestSync_SlowHubDoesNotStallRun(t *testing.T) {
	h := newHarness(t, integration.DirectionOutbound)
	for i := range 25 {
		h.addPost(fmt.Sprintf("p%d", i), t0)
	}
	hub := &stalledHub{release: make(chan struct{})}
	h.svc.SetBroadcaster(hub)

	var progress int
	done := make(chan *syncrun.Summary, 1)
	go func() {
		sum, err := h.svc.Run(context.Background(), h.in.ID, h.in.TenantID, func(syncrun.Progress) { progress++ })
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- sum
	}()

	var sum *syncrun.Summary
	select {
	case sum = <-done:
	case <-time.After(5 * time.Second):
		close(hub.release)
		t.Fatal("run blocked on a stalled hub")
	}
	if sum == nil || sum.Synced != 25 || progress == 0 {
		t.Fatalf("summary %+v, %d progress callbacks", sum, progress)
	}

	close(hub.release)
	h.svc.relays.Wait()
	if hub.count("sync.completed") != 1 {
		t.Fatalf("completion not delivered once the hub recovered: %v", hub.types)
	}
	if last := hub.types[len(hub.types)-1]; last != "sync.completed" {
		t.Fatalf("completion must be delivered last, got %v", hub.types)
	}
}
