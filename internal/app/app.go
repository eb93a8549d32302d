package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/adapters/events"
	"github.com/agritrace/fieldsync/internal/adapters/httpapi"
	"github.com/agritrace/fieldsync/internal/adapters/remoteapi"
	sqliteadapter "github.com/agritrace/fieldsync/internal/adapters/sqlite"
	"github.com/agritrace/fieldsync/internal/adapters/sqlite/localdb"
	"github.com/agritrace/fieldsync/internal/core/ports"
	"github.com/agritrace/fieldsync/internal/core/usecase"
	"github.com/agritrace/fieldsync/migrations"
)

type Config struct {
	Addr          string
	DBPath        string
	APIBaseURL    string
	APIToken      string
	FlushInterval time.Duration
	PollSchedule  string
	WebhookURL    string
	WebhookSecret string
}

// App bundles the wired sync subsystem: the entity services the host
// application calls, the background dispatcher and poller, and the local
// control server.
type App struct {
	Server      *http.Server
	SyncContext *usecase.SyncContext
	Dispatcher  *usecase.SyncDispatcher
	Poller      *usecase.DeltaPoller
	Conventions *usecase.ConventionService
	Actors      *usecase.ActorService
	Stores      *usecase.StoreService
	Documents   *usecase.DocumentService
	Audit       *usecase.AuditLogService

	closer io.Closer
}

func (a *App) Close() error {
	return a.closer.Close()
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type pollerCloser struct {
	poller *usecase.DeltaPoller
}

func (p pollerCloser) Close() error {
	p.poller.Stop()
	return nil
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	db, err := localdb.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open local sqlite: %w", err)
	}

	sqlDB, err := db.SQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migCtx, sqlDB); err != nil {
		_ = db.Close()
		return nil, err
	}

	queue := sqliteadapter.NewPendingRepository(db)
	actorCache := sqliteadapter.NewActorCacheRepository(db)
	conventionCache := sqliteadapter.NewConventionCacheRepository(db)
	storeCache := sqliteadapter.NewStoreCacheRepository(db)
	settings := sqliteadapter.NewSettingsRepository(db)
	watermarks := sqliteadapter.NewWatermarkRepository(db)
	auditTrail := sqliteadapter.NewAuditRepository(db)

	token := cfg.APIToken
	api := remoteapi.NewClient(cfg.APIBaseURL, func(context.Context) (string, error) {
		return token, nil
	}, logger)

	schemas, err := usecase.NewPayloadSchemas()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("compile payload schemas: %w", err)
	}

	var sink ports.SyncEventSink = events.NewLogSink(logger)
	if cfg.WebhookURL != "" {
		sink = events.NewMultiSink(sink, events.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret, 0, logger))
	}

	syncCtx := usecase.NewSyncContext()
	registry := usecase.NewHandlerRegistry()
	dispatcher := usecase.NewSyncDispatcher(queue, registry, sink, auditTrail, logger, cfg.FlushInterval)
	resolver := usecase.NewIdentityResolver(actorCache, conventionCache, storeCache)
	codes := usecase.NewCodeGenerator(settings)
	poller := usecase.NewDeltaPoller(api, watermarks, syncCtx, logger, cfg.PollSchedule)

	deps := usecase.ServiceDeps{
		API:        api,
		Queue:      queue,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Codes:      codes,
		Schemas:    schemas,
		Watermarks: watermarks,
		Poller:     poller,
		Sink:       sink,
		Ctx:        syncCtx,
		Logger:     logger,
	}

	conventions := usecase.NewConventionService(deps, conventionCache)
	actors := usecase.NewActorService(deps, actorCache)
	stores := usecase.NewStoreService(deps, storeCache)
	documents := usecase.NewDocumentService(deps)
	audit := usecase.NewAuditLogService(auditTrail)

	registry.Register(conventions)
	registry.Register(actors)
	registry.Register(stores)

	// Switching users invalidates everything cached for the previous one.
	syncCtx.OnUserChange(func(oldUserID, _ string) {
		if oldUserID == "" {
			return
		}
		wipeCtx, wipeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer wipeCancel()
		for _, fn := range []func(context.Context) error{
			conventions.ClearLocalData,
			actors.ClearLocalData,
			stores.ClearLocalData,
		} {
			if err := fn(wipeCtx); err != nil {
				logger.Warn("clear local data on user change", zap.Error(err))
			}
		}
		if err := queue.Clear(wipeCtx, oldUserID); err != nil {
			logger.Warn("clear pending queue on user change", zap.Error(err))
		}
	})

	dispatcher.Start(context.Background())
	if err := poller.Start(); err != nil {
		_ = dispatcher.Close()
		_ = db.Close()
		return nil, fmt.Errorf("start delta poller: %w", err)
	}

	handler := httpapi.NewHandler(dispatcher, queue, audit)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		Server:      server,
		SyncContext: syncCtx,
		Dispatcher:  dispatcher,
		Poller:      poller,
		Conventions: conventions,
		Actors:      actors,
		Stores:      stores,
		Documents:   documents,
		Audit:       audit,
		closer:      resourceCloser{closers: []io.Closer{pollerCloser{poller}, dispatcher, db}},
	}, nil
}
