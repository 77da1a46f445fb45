package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/feedbacksync/internal/domain"
	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/post"
	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
	"github.com/Strob0t/feedbacksync/internal/port/database"
	"github.com/Strob0t/feedbacksync/internal/port/messagequeue"
	"github.com/Strob0t/feedbacksync/internal/port/remoteprovider"
	"github.com/Strob0t/feedbacksync/internal/port/synclock"
)

var _ database.Store = (*memStore)(nil)

// memStore is an in-memory database.Store with per-call atomicity.
type memStore struct {
	mu           sync.Mutex
	integrations map[string]*integration.Integration
	posts        map[string]*post.Post
	boardSlugs   map[string]string
	mappings     []*mapping.Mapping
	logs         []synclog.Entry
	seq          int

	slugLookups int
	listErr     error
	cursorErr   error
	importErr   error // fails the mapping half of ImportPost
}

func newMemStore() *memStore {
	return &memStore{
		integrations: map[string]*integration.Integration{},
		posts:        map[string]*post.Post{},
		boardSlugs:   map[string]string{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) GetIntegration(_ context.Context, id string) (*integration.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *memStore) ListEnabledIntegrations(context.Context) ([]integration.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []integration.Integration
	for _, in := range s.integrations {
		if in.Enabled {
			out = append(out, *in)
		}
	}
	slices.SortFunc(out, func(a, b integration.Integration) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *memStore) UpdateSyncCursor(_ context.Context, id, cursor string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursorErr != nil {
		return s.cursorErr
	}
	in, ok := s.integrations[id]
	if !ok {
		return domain.ErrNotFound
	}
	in.LastSyncCursor = cursor
	in.LastSyncAt = &syncedAt
	return nil
}

func (s *memStore) findMapping(match func(*mapping.Mapping) bool) *mapping.Mapping {
	for _, m := range s.mappings {
		if match(m) {
			return m
		}
	}
	return nil
}

func copyMapping(m *mapping.Mapping) *mapping.Mapping {
	cp := *m
	cp.Metadata = make(map[string]string, len(m.Metadata))
	for k, v := range m.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func (s *memStore) GetMappingByLocal(_ context.Context, integrationID, localType, localID string) (*mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMapping(func(m *mapping.Mapping) bool {
		return m.IntegrationID == integrationID && m.LocalType == localType && m.LocalID == localID
	})
	if m == nil {
		return nil, fmt.Errorf("mapping: %w", domain.ErrNotFound)
	}
	return copyMapping(m), nil
}

func (s *memStore) GetMappingByRemote(_ context.Context, integrationID, remoteID string) (*mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMapping(func(m *mapping.Mapping) bool {
		return m.IntegrationID == integrationID && m.RemoteID == remoteID
	})
	if m == nil {
		return nil, fmt.Errorf("mapping: %w", domain.ErrNotFound)
	}
	return copyMapping(m), nil
}

func (s *memStore) UpsertMapping(_ context.Context, req *mapping.UpsertRequest) (*mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertMapping(req)
}

func (s *memStore) upsertMapping(req *mapping.UpsertRequest) (*mapping.Mapping, error) {
	m := s.findMapping(func(m *mapping.Mapping) bool {
		return m.IntegrationID == req.IntegrationID && m.LocalType == req.LocalType && m.LocalID == req.LocalID
	})
	if clash := s.findMapping(func(o *mapping.Mapping) bool {
		return o.IntegrationID == req.IntegrationID && o.RemoteID == req.RemoteID && o != m
	}); clash != nil {
		return nil, fmt.Errorf("remote id %s: %w", req.RemoteID, domain.ErrConflict)
	}

	syncedAt := req.SyncedAt
	if m == nil {
		m = &mapping.Mapping{
			ID:            s.nextID("m"),
			IntegrationID: req.IntegrationID,
			LocalType:     req.LocalType,
			LocalID:       req.LocalID,
			Metadata:      req.Metadata,
			CreatedAt:     syncedAt,
		}
		s.mappings = append(s.mappings, m)
	}
	m.RemoteID = req.RemoteID
	m.RemoteURL = req.RemoteURL
	m.SyncStatus = mapping.StatusSynced
	m.LastSyncAt = &syncedAt
	m.LastError = ""
	m.UpdatedAt = syncedAt
	return copyMapping(m), nil
}

func (s *memStore) SetMappingStatus(_ context.Context, id string, status mapping.Status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMapping(func(m *mapping.Mapping) bool { return m.ID == id })
	if m == nil {
		return domain.ErrNotFound
	}
	m.SyncStatus = status
	m.LastError = lastError
	return nil
}

func (s *memStore) ListMappings(_ context.Context, integrationID string, status mapping.Status) ([]mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mapping.Mapping
	for _, m := range s.mappings {
		if m.IntegrationID == integrationID && (status == "" || m.SyncStatus == status) {
			out = append(out, *copyMapping(m))
		}
	}
	return out, nil
}

func (s *memStore) AppendSyncLog(_ context.Context, e *synclog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ID = s.nextID("log")
	s.logs = append(s.logs, cp)
	return nil
}

func (s *memStore) ListSyncLogs(_ context.Context, integrationID, runID string, limit int) ([]synclog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []synclog.Entry
	for _, e := range s.logs {
		if e.IntegrationID == integrationID && (runID == "" || e.SyncRunID == runID) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListPostsByBoards(_ context.Context, tenantID string, boardIDs []string) ([]post.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []post.Post
	for _, p := range s.posts {
		if p.TenantID == tenantID && slices.Contains(boardIDs, p.BoardID) {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b post.Post) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *memStore) GetPost(_ context.Context, id string) (*post.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post: %w", domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ImportPost inserts the post and its mapping under one lock and rolls the
// post back when the mapping fails.
func (s *memStore) ImportPost(_ context.Context, req *post.CreateRequest, link *mapping.UpsertRequest) (*post.Post, *mapping.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &post.Post{
		ID:          s.nextID("p"),
		TenantID:    req.TenantID,
		BoardID:     req.BoardID,
		Title:       req.Title,
		Description: req.Description,
		StatusID:    req.StatusID,
		Tags:        req.Tags,
		SourceLabel: req.SourceLabel,
		Approved:    req.Approved,
		CreatedAt:   req.UpdatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
	if req.CreatedAt != nil {
		p.CreatedAt = *req.CreatedAt
	}
	s.posts[p.ID] = p

	l := *link
	l.LocalID = p.ID
	m, err := s.upsertMapping(&l)
	if err == nil {
		err = s.importErr
	}
	if err != nil {
		delete(s.posts, p.ID)
		if m != nil {
			s.mappings = slices.DeleteFunc(s.mappings, func(o *mapping.Mapping) bool { return o.ID == m.ID })
		}
		return nil, nil, err
	}
	cp := *p
	return &cp, m, nil
}

func (s *memStore) ApplyInboundUpdate(_ context.Context, id string, upd *post.InboundUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.BoardID = upd.BoardID
	p.Title = upd.Title
	p.Description = upd.Description
	p.StatusID = upd.StatusID
	p.Tags = upd.Tags
	p.SourceLabel = upd.SourceLabel
	p.UpdatedAt = upd.UpdatedAt
	if upd.CreatedAt != nil {
		p.CreatedAt = *upd.CreatedAt
	}
	return nil
}

func (s *memStore) GetBoardSlug(_ context.Context, boardID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slugLookups++
	slug, ok := s.boardSlugs[boardID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return slug, nil
}

func (s *memStore) logsWith(status synclog.Status) []synclog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []synclog.Entry
	for _, e := range s.logs {
		if e.Status == status && !e.IsPhaseMarker() {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) phaseMarkers() []synclog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []synclog.Entry
	for _, e := range s.logs {
		if e.IsPhaseMarker() {
			out = append(out, e)
		}
	}
	return out
}

// fakeProvider is an instrumented remote provider. Optional capabilities
// are only used when declared in caps.
type fakeProvider struct {
	caps remoteprovider.Capabilities

	mu        sync.Mutex
	changes   []remoteprovider.Change
	content   map[string]string
	pushErr   map[string]error // by post id
	pushes    []fakePush
	comments  map[string]int
	likes     map[string]int
	likesErr  error
	pullErr   error
	streamErr error // yielded after all changes
	seq       int

	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

type fakePush struct {
	PostID           string
	ExistingRemoteID string
	Data             remoteprovider.PostSyncData
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		content:  map[string]string{},
		pushErr:  map[string]error{},
		comments: map[string]int{},
		likes:    map[string]int{},
	}
}

func (p *fakeProvider) enter() func() {
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return func() { p.inFlight.Add(-1) }
}

func (p *fakeProvider) Name() string                              { return "fake" }
func (p *fakeProvider) Capabilities() remoteprovider.Capabilities { return p.caps }

func (p *fakeProvider) PushPost(_ context.Context, data *remoteprovider.PostSyncData, existing string) (*remoteprovider.PushResult, error) {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, fakePush{PostID: data.PostID, ExistingRemoteID: existing, Data: *data})
	if err := p.pushErr[data.PostID]; err != nil {
		return nil, err
	}
	id := existing
	if id == "" {
		p.seq++
		id = fmt.Sprintf("remote-%d", p.seq)
	}
	return &remoteprovider.PushResult{RemoteID: id, RemoteURL: "https://remote.example/" + id}, nil
}

func (p *fakeProvider) PullChanges(context.Context, string) ([]remoteprovider.Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pullErr != nil {
		return nil, p.pullErr
	}
	return slices.Clone(p.changes), nil
}

func (p *fakeProvider) StreamChanges(_ context.Context, _ string) iter.Seq2[remoteprovider.Change, error] {
	return func(yield func(remoteprovider.Change, error) bool) {
		for _, c := range p.changes {
			if !yield(c, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield(remoteprovider.Change{}, p.streamErr)
		}
	}
}

func (p *fakeProvider) CountChanges(context.Context, string) (int, error) {
	return len(p.changes), nil
}

func (p *fakeProvider) FetchContent(_ context.Context, remoteID string) (string, error) {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.content[remoteID]
	if !ok {
		return "", errors.New("content gone")
	}
	return c, nil
}

func (p *fakeProvider) UpdateCommentsField(_ context.Context, remoteID string, count int, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.comments[remoteID] = count
	return nil
}

func (p *fakeProvider) UpdateLikesField(_ context.Context, remoteID string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.likesErr != nil {
		return p.likesErr
	}
	p.likes[remoteID] = count
	return nil
}

func (p *fakeProvider) pushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

var fakeTypeSeq atomic.Int64

// registerFake registers p under a fresh integration type.
func registerFake(p remoteprovider.Provider) string {
	name := fmt.Sprintf("fake-%d", fakeTypeSeq.Add(1))
	remoteprovider.Register(name, func(map[string]string) (remoteprovider.Provider, error) {
		return p, nil
	})
	return name
}

// plainCreds implements CredentialDecrypter without encryption.
type plainCreds struct{ err error }

func (c plainCreds) Decrypt(string) (map[string]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return map[string]string{}, nil
}

// memLocker is a process-local synclock.Locker.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) Acquire(_ context.Context, key string) (synclock.Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, synclock.ErrHeld
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

// memQueue records published messages.
type memQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
}

func (q *memQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.published == nil {
		q.published = map[string][][]byte{}
	}
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = map[string]messagequeue.Handler{}
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

// memCache is a map-backed cache.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
