package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

const (
	defaultFlushInterval = 30 * time.Second
	defaultBatchSize     = 50
	defaultMaxRetry      = 5
)

// SyncDispatcher drains the pending-operation queue against the remote API.
// A single background goroutine performs every flush pass, so concurrent
// TriggerSync calls can never overlap two drains of the same queue.
type SyncDispatcher struct {
	queue    ports.PendingQueue
	registry *HandlerRegistry
	sink     ports.SyncEventSink
	audit    ports.AuditTrail
	logger   *zap.Logger

	interval  time.Duration
	batchSize int
	maxRetry  int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}

	appliedTotal   atomic.Int64
	retriedTotal   atomic.Int64
	exhaustedTotal atomic.Int64
	blockedTotal   atomic.Int64
}

// DispatcherMetrics is a snapshot of flush outcomes since startup.
type DispatcherMetrics struct {
	AppliedTotal   int64
	RetriedTotal   int64
	ExhaustedTotal int64
	BlockedTotal   int64
}

func NewSyncDispatcher(queue ports.PendingQueue, registry *HandlerRegistry, sink ports.SyncEventSink, audit ports.AuditTrail, logger *zap.Logger, interval time.Duration) *SyncDispatcher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &SyncDispatcher{
		queue:     queue,
		registry:  registry,
		sink:      sink,
		audit:     audit,
		logger:    logger,
		interval:  interval,
		batchSize: defaultBatchSize,
		maxRetry:  defaultMaxRetry,
		trigger:   make(chan struct{}, 1),
	}
}

// QueueOperation records a mutation for later application and nudges the
// flush loop. Never touches the network.
func (d *SyncDispatcher) QueueOperation(ctx context.Context, op domain.PendingOperation, userID string) (domain.PendingOperation, error) {
	now := time.Now().UTC()
	op.UserID = userID
	op.Timestamp = now
	op.Retries = 0
	op.Status = domain.StatusPending
	op.NextAttemptAt = now

	stored, err := d.queue.Enqueue(ctx, op)
	if err != nil {
		return domain.PendingOperation{}, err
	}
	d.TriggerSync()
	return stored, nil
}

// TriggerSync requests an asynchronous flush pass. Redundant calls collapse
// into the already-buffered signal.
func (d *SyncDispatcher) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// RetryOperation returns a failed or blocked operation to the queue and
// triggers an immediate pass.
func (d *SyncDispatcher) RetryOperation(ctx context.Context, id int64) error {
	if err := d.queue.Reactivate(ctx, id); err != nil {
		return err
	}
	d.TriggerSync()
	return nil
}

func (d *SyncDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *SyncDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *SyncDispatcher) Metrics() DispatcherMetrics {
	return DispatcherMetrics{
		AppliedTotal:   d.appliedTotal.Load(),
		RetriedTotal:   d.retriedTotal.Load(),
		ExhaustedTotal: d.exhaustedTotal.Load(),
		BlockedTotal:   d.blockedTotal.Load(),
	}
}

func (d *SyncDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.trigger:
		}
		if err := d.flush(ctx); err != nil {
			d.logger.Error("flush pass failed", zap.Error(err))
		}
	}
}

// flush drains one batch, oldest first. When an operation fails or is still
// waiting out its backoff, later operations for the same entity are held back
// so a create is always applied before its dependent updates.
func (d *SyncDispatcher) flush(ctx context.Context) error {
	ops, err := d.queue.NextBatch(ctx, d.batchSize)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	blocked := make(map[string]struct{})
	for _, op := range ops {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := string(op.EntityKind) + "/" + op.EntityID
		if _, held := blocked[key]; held {
			continue
		}
		if op.NextAttemptAt.After(now) {
			blocked[key] = struct{}{}
			continue
		}

		handler, err := d.registry.Resolve(op.EntityKind)
		if err != nil {
			// A kind nothing handles cannot make progress; surface it.
			d.markExhausted(ctx, op, err)
			continue
		}

		if err := handler.Handle(ctx, op); err != nil {
			blocked[key] = struct{}{}
			d.handleFailure(ctx, op, err)
			continue
		}

		if err := d.queue.Remove(ctx, op.ID); err != nil {
			return err
		}
		d.appliedTotal.Add(1)
		d.emit(ctx, domain.EventOperationApplied, op, nil)
		d.recordAudit(ctx, op, "applied", "")
	}
	return nil
}

func (d *SyncDispatcher) handleFailure(ctx context.Context, op domain.PendingOperation, cause error) {
	if errors.Is(cause, domain.ErrUnauthorized) {
		d.blockedTotal.Add(1)
		if err := d.queue.MarkBlocked(ctx, op.ID, cause.Error()); err != nil {
			d.logger.Error("mark blocked failed", zap.Int64("op", op.ID), zap.Error(err))
		}
		d.emit(ctx, domain.EventAuthRequired, op, cause)
		d.recordAudit(ctx, op, "blocked", cause.Error())
		return
	}

	retries := op.Retries + 1
	if retries >= d.maxRetry {
		d.markExhausted(ctx, op, cause)
		return
	}

	d.retriedTotal.Add(1)
	next := time.Now().UTC().Add(backoffDuration(retries))
	if err := d.queue.MarkAttemptFailed(ctx, op.ID, retries, next, cause.Error()); err != nil {
		d.logger.Error("mark attempt failed", zap.Int64("op", op.ID), zap.Error(err))
	}
	d.logger.Warn("operation retry scheduled",
		zap.Int64("op", op.ID),
		zap.String("kind", string(op.EntityKind)),
		zap.String("entity", op.EntityID),
		zap.Int("retries", retries),
		zap.Error(cause))
	d.emit(ctx, domain.EventRetryScheduled, op, cause)
}

func (d *SyncDispatcher) markExhausted(ctx context.Context, op domain.PendingOperation, cause error) {
	d.exhaustedTotal.Add(1)
	if err := d.queue.MarkExhausted(ctx, op.ID, op.Retries+1, cause.Error()); err != nil {
		d.logger.Error("mark exhausted failed", zap.Int64("op", op.ID), zap.Error(err))
	}
	d.emit(ctx, domain.EventRetriesExhausted, op, cause)
	d.recordAudit(ctx, op, "failed", cause.Error())
}

func (d *SyncDispatcher) emit(ctx context.Context, typ domain.SyncEventType, op domain.PendingOperation, cause error) {
	if d.sink == nil {
		return
	}
	event := domain.SyncEvent{
		Type:        typ,
		OperationID: op.ID,
		EntityKind:  op.EntityKind,
		EntityID:    op.EntityID,
		UserID:      op.UserID,
		OccurredAt:  time.Now().UTC(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	d.sink.Emit(ctx, event)
}

func (d *SyncDispatcher) recordAudit(ctx context.Context, op domain.PendingOperation, outcome, detail string) {
	if d.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		UserID:     op.UserID,
		EntityKind: op.EntityKind,
		EntityID:   op.EntityID,
		Operation:  op.Operation,
		Outcome:    outcome,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	if err := d.audit.Append(ctx, entry); err != nil {
		d.logger.Error("append audit entry failed", zap.Int64("op", op.ID), zap.Error(err))
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
