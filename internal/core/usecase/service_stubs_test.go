package usecase

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

// In-memory doubles for the local-store and remote-client ports, shared by
// the service tests.

type conventionCacheStub struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.Convention
}

func (c *conventionCacheStub) Insert(_ context.Context, record domain.Convention) (domain.Convention, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	record.RowID = c.nextID
	c.rows = append(c.rows, record)
	return record, nil
}

func (c *conventionCacheStub) GetByLocalID(_ context.Context, localID string) (domain.Convention, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rows {
		if r.LocalID == localID {
			return r, nil
		}
	}
	return domain.Convention{}, domain.ErrNotFound
}

func (c *conventionCacheStub) GetByServerID(_ context.Context, serverID string) (domain.Convention, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rows {
		if r.ServerID == serverID {
			return r, nil
		}
	}
	return domain.Convention{}, domain.ErrNotFound
}

func (c *conventionCacheStub) UpdateByLocalID(_ context.Context, localID string, record domain.Convention) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].LocalID == localID {
			record.RowID = c.rows[i].RowID
			record.LocalID = localID
			c.rows[i] = record
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *conventionCacheStub) Promote(_ context.Context, localID, serverID, code string, syncedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].LocalID == localID {
			c.rows[i].ServerID = serverID
			c.rows[i].Code = code
			c.rows[i].SyncStatus = domain.SyncStatusSynced
			c.rows[i].SyncedAt = syncedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *conventionCacheStub) UpsertFromServer(_ context.Context, record domain.Convention) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].ServerID == record.ServerID {
			record.RowID = c.rows[i].RowID
			record.LocalID = c.rows[i].LocalID
			c.rows[i] = record
			return nil
		}
	}
	c.nextID++
	record.RowID = c.nextID
	c.rows = append(c.rows, record)
	return nil
}

func (c *conventionCacheStub) DeleteByServerID(_ context.Context, serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].ServerID == serverID {
			c.rows = append(c.rows[:i], c.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (c *conventionCacheStub) Count(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.rows)), nil
}

func (c *conventionCacheStub) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = nil
	return nil
}

type actorCacheStub struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.Actor
}

func (c *actorCacheStub) Insert(_ context.Context, record domain.Actor) (domain.Actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	record.RowID = c.nextID
	c.rows = append(c.rows, record)
	return record, nil
}

func (c *actorCacheStub) GetByLocalID(_ context.Context, localID string) (domain.Actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rows {
		if r.LocalID == localID {
			return r, nil
		}
	}
	return domain.Actor{}, domain.ErrNotFound
}

func (c *actorCacheStub) GetByServerID(_ context.Context, serverID string) (domain.Actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rows {
		if r.ServerID == serverID {
			return r, nil
		}
	}
	return domain.Actor{}, domain.ErrNotFound
}

func (c *actorCacheStub) List(_ context.Context, _ domain.ActorFilter) ([]domain.Actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Actor(nil), c.rows...), nil
}

func (c *actorCacheStub) UpdateByLocalID(_ context.Context, localID string, record domain.Actor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].LocalID == localID {
			record.RowID = c.rows[i].RowID
			record.LocalID = localID
			c.rows[i] = record
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *actorCacheStub) Promote(_ context.Context, localID, serverID, code string, syncedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].LocalID == localID {
			c.rows[i].ServerID = serverID
			c.rows[i].Code = code
			c.rows[i].SyncStatus = domain.SyncStatusSynced
			c.rows[i].SyncedAt = syncedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *actorCacheStub) UpsertFromServer(_ context.Context, record domain.Actor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].ServerID == record.ServerID {
			record.RowID = c.rows[i].RowID
			record.LocalID = c.rows[i].LocalID
			c.rows[i] = record
			return nil
		}
	}
	c.nextID++
	record.RowID = c.nextID
	c.rows = append(c.rows, record)
	return nil
}

func (c *actorCacheStub) DeleteByServerID(_ context.Context, serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].ServerID == serverID {
			c.rows = append(c.rows[:i], c.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (c *actorCacheStub) Count(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.rows)), nil
}

func (c *actorCacheStub) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = nil
	return nil
}

type storeCacheStub struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.Store
}

func (c *storeCacheStub) Insert(_ context.Context, record domain.Store) (domain.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	record.RowID = c.nextID
	c.rows = append(c.rows, record)
	return record, nil
}

func (c *storeCacheStub) GetByLocalID(_ context.Context, localID string) (domain.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rows {
		if r.LocalID == localID {
			return r, nil
		}
	}
	return domain.Store{}, domain.ErrNotFound
}

func (c *storeCacheStub) GetByServerID(_ context.Context, serverID string) (domain.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rows {
		if r.ServerID == serverID {
			return r, nil
		}
	}
	return domain.Store{}, domain.ErrNotFound
}

func (c *storeCacheStub) List(_ context.Context, _ domain.StoreFilter) ([]domain.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Store(nil), c.rows...), nil
}

func (c *storeCacheStub) UpdateByLocalID(_ context.Context, localID string, record domain.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].LocalID == localID {
			record.RowID = c.rows[i].RowID
			record.LocalID = localID
			c.rows[i] = record
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *storeCacheStub) Promote(_ context.Context, localID, serverID, code string, syncedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].LocalID == localID {
			c.rows[i].ServerID = serverID
			c.rows[i].Code = code
			c.rows[i].SyncStatus = domain.SyncStatusSynced
			c.rows[i].SyncedAt = syncedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *storeCacheStub) UpsertFromServer(_ context.Context, record domain.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].ServerID == record.ServerID {
			record.RowID = c.rows[i].RowID
			record.LocalID = c.rows[i].LocalID
			c.rows[i] = record
			return nil
		}
	}
	c.nextID++
	record.RowID = c.nextID
	c.rows = append(c.rows, record)
	return nil
}

func (c *storeCacheStub) DeleteByServerID(_ context.Context, serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rows {
		if c.rows[i].ServerID == serverID {
			c.rows = append(c.rows[:i], c.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (c *storeCacheStub) Count(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.rows)), nil
}

func (c *storeCacheStub) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = nil
	return nil
}

type settingsStub struct {
	mu     sync.Mutex
	values map[string]string
	seqs   map[string]int64
}

func newSettingsStub() *settingsStub {
	return &settingsStub{values: map[string]string{}, seqs: map[string]int64{}}
}

func (s *settingsStub) NextSequence(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[key]++
	return s.seqs[key], nil
}

func (s *settingsStub) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (s *settingsStub) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

type watermarkStub struct {
	mu    sync.Mutex
	marks map[domain.EntityKind]time.Time
}

func newWatermarkStub() *watermarkStub {
	return &watermarkStub{marks: map[domain.EntityKind]time.Time{}}
}

func (w *watermarkStub) Get(_ context.Context, kind domain.EntityKind) (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marks[kind], nil
}

func (w *watermarkStub) Advance(_ context.Context, kind domain.EntityKind, t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.marks[kind] = t
	return nil
}

func (w *watermarkStub) Clear(_ context.Context, kind domain.EntityKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.marks, kind)
	return nil
}

// remoteStub scripts the remote API. Each call records its inputs; canned
// responses are keyed by resource.
type remoteStub struct {
	mu sync.Mutex

	listResult  ports.ListResult
	listErr     error
	getRaw      json.RawMessage
	getErr      error
	createRaw   json.RawMessage
	createErr   error
	updateRaw   json.RawMessage
	updateErr   error
	activeRaw   json.RawMessage
	activeErr   error
	syncAll     ports.SyncBatch
	syncAllErr  error
	syncUpd     ports.SyncBatch
	syncUpdErr  error
	uploadErr   error
	assocErr    error
	dissocErr   error

	createBodies []any
	updateIDs    []string
	updateBodies []any
	uploads      []domain.Document
	uploadIDs    []string
	assocCalls   []string
	syncSince    []time.Time
}

func (r *remoteStub) List(_ context.Context, _ string, _ url.Values) (ports.ListResult, error) {
	return r.listResult, r.listErr
}

func (r *remoteStub) Get(_ context.Context, _ string, _ string) (json.RawMessage, error) {
	return r.getRaw, r.getErr
}

func (r *remoteStub) Create(_ context.Context, _ string, body any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.createBodies = append(r.createBodies, body)
	return r.createRaw, nil
}

func (r *remoteStub) Update(_ context.Context, _ string, id string, body any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	r.updateIDs = append(r.updateIDs, id)
	r.updateBodies = append(r.updateBodies, body)
	return r.updateRaw, nil
}

func (r *remoteStub) SetActive(_ context.Context, _ string, _ string, _ bool) (json.RawMessage, error) {
	return r.activeRaw, r.activeErr
}

func (r *remoteStub) Associate(_ context.Context, resource, id, subresource, subID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assocCalls = append(r.assocCalls, resource+"/"+id+"/"+subresource+"/"+subID)
	return r.assocErr
}

func (r *remoteStub) Dissociate(_ context.Context, _, _, _, _ string) error {
	return r.dissocErr
}

func (r *remoteStub) SyncAll(_ context.Context, _ string) (ports.SyncBatch, error) {
	return r.syncAll, r.syncAllErr
}

func (r *remoteStub) SyncUpdates(_ context.Context, _ string, since time.Time) (ports.SyncBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncSince = append(r.syncSince, since)
	return r.syncUpd, r.syncUpdErr
}

func (r *remoteStub) UploadDocument(_ context.Context, _ string, id string, doc domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uploadErr != nil {
		return r.uploadErr
	}
	r.uploadIDs = append(r.uploadIDs, id)
	r.uploads = append(r.uploads, doc)
	return nil
}

// fixture wires a full service graph over the stubs, mirroring how the app
// package assembles the real thing.
type fixture struct {
	queue       *queueStub
	actors      *actorCacheStub
	conventions *conventionCacheStub
	stores      *storeCacheStub
	settings    *settingsStub
	watermarks  *watermarkStub
	remote      *remoteStub
	sink        *sinkStub
	syncCtx     *SyncContext
	dispatcher  *SyncDispatcher
	poller      *DeltaPoller

	Conventions *ConventionService
	Actors      *ActorService
	Stores      *StoreService
	Documents   *DocumentService
}

func newFixture(t testingT) *fixture {
	f := &fixture{
		queue:       &queueStub{},
		actors:      &actorCacheStub{},
		conventions: &conventionCacheStub{},
		stores:      &storeCacheStub{},
		settings:    newSettingsStub(),
		watermarks:  newWatermarkStub(),
		remote:      &remoteStub{},
		sink:        &sinkStub{},
		syncCtx:     NewSyncContext(),
	}

	schemas, err := NewPayloadSchemas()
	if err != nil {
		t.Fatalf("compile schemas: %v", err)
	}

	registry := NewHandlerRegistry()
	audit := &auditStub{}
	f.dispatcher = NewSyncDispatcher(f.queue, registry, f.sink, audit, zap.NewNop(), time.Hour)
	resolver := NewIdentityResolver(f.actors, f.conventions, f.stores)
	codes := NewCodeGenerator(f.settings)
	f.poller = NewDeltaPoller(f.remote, f.watermarks, f.syncCtx, zap.NewNop(), "@every 1h")

	deps := ServiceDeps{
		API:        f.remote,
		Queue:      f.queue,
		Dispatcher: f.dispatcher,
		Resolver:   resolver,
		Codes:      codes,
		Schemas:    schemas,
		Watermarks: f.watermarks,
		Poller:     f.poller,
		Sink:       f.sink,
		Ctx:        f.syncCtx,
		Logger:     zap.NewNop(),
	}

	f.Conventions = NewConventionService(deps, f.conventions)
	f.Actors = NewActorService(deps, f.actors)
	f.Stores = NewStoreService(deps, f.stores)
	f.Documents = NewDocumentService(deps)

	registry.Register(f.Conventions)
	registry.Register(f.Actors)
	registry.Register(f.Stores)

	f.syncCtx.SetUser("user-1", domain.RoleFieldAgent)
	return f
}

// flush runs one synchronous dispatcher pass.
func (f *fixture) flush(t testingT) {
	if err := f.dispatcher.flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

type testingT interface {
	Fatalf(format string, args ...any)
	Helper()
}
