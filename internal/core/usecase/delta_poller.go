package usecase

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

// resourceNames maps syncable kinds to their collection path segments.
var resourceNames = map[domain.EntityKind]string{
	domain.KindActor:      "actors",
	domain.KindConvention: "conventions",
	domain.KindStore:      "stores",
}

// DeltaPoller tracks, per entity kind, how many server-side records changed
// since the last successful sync. It only counts: applying changes to the
// cache stays with each entity service. The poll runs on a cron schedule and
// on demand (reconnect, login).
type DeltaPoller struct {
	api        ports.RemoteClient
	watermarks ports.WatermarkStore
	syncCtx    *SyncContext
	logger     *zap.Logger
	schedule   string
	cron       *cron.Cron

	mu     sync.Mutex
	counts map[domain.EntityKind]int
}

func NewDeltaPoller(api ports.RemoteClient, watermarks ports.WatermarkStore, syncCtx *SyncContext, logger *zap.Logger, schedule string) *DeltaPoller {
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &DeltaPoller{
		api:        api,
		watermarks: watermarks,
		syncCtx:    syncCtx,
		logger:     logger,
		schedule:   schedule,
		cron:       cron.New(),
		counts:     make(map[domain.EntityKind]int),
	}
}

func (p *DeltaPoller) Start() error {
	_, err := p.cron.AddFunc(p.schedule, func() {
		if err := p.Poll(context.Background()); err != nil {
			p.logger.Warn("delta poll failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *DeltaPoller) Stop() {
	p.cron.Stop()
}

// Poll refreshes the per-kind change counters from the server. Kinds with no
// watermark yet are skipped: their next sync is a full one regardless.
func (p *DeltaPoller) Poll(ctx context.Context) error {
	if p.syncCtx.UserID() == "" {
		return nil
	}
	var firstErr error
	for kind, resource := range resourceNames {
		since, err := p.watermarks.Get(ctx, kind)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if since.IsZero() {
			continue
		}
		batch, err := p.api.SyncUpdates(ctx, resource, since)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.SetEntityCount(kind, batch.Total)
		if batch.Total > 0 {
			p.logger.Debug("server changes detected",
				zap.String("kind", string(kind)), zap.Int("count", batch.Total))
		}
	}
	return firstErr
}

func (p *DeltaPoller) EntityCount(kind domain.EntityKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[kind]
}

func (p *DeltaPoller) SetEntityCount(kind domain.EntityKind, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[kind] = n
}

// OnUserChange registers a callback for authenticated-identity changes, so
// services can clear their caches before another user's session begins.
func (p *DeltaPoller) OnUserChange(fn func(oldUserID, newUserID string)) {
	p.syncCtx.OnUserChange(fn)
}
