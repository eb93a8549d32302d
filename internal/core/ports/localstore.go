package ports

import (
	"context"
	"time"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

// PendingQueue is the durable queue of not-yet-applied mutations. Rows are
// drained in id order, which matches enqueue order.
type PendingQueue interface {
	// Enqueue persists op (id auto-assigned) and returns the stored row.
	Enqueue(ctx context.Context, op domain.PendingOperation) (domain.PendingOperation, error)

	// NextBatch returns up to limit pending operations, oldest first. Backoff
	// rows are included: the dispatcher decides whether a not-yet-due head
	// holds back later operations for the same entity.
	NextBatch(ctx context.Context, limit int) ([]domain.PendingOperation, error)

	// FindUnsynced returns the queued (pending or failed) operation for an
	// entity and user, or domain.ErrNoPendingOperation.
	FindUnsynced(ctx context.Context, kind domain.EntityKind, entityID, userID string) (domain.PendingOperation, error)

	// AmendPayload rewrites a queued operation's payload in place, keeping
	// its queue slot, and refreshes its timestamp.
	AmendPayload(ctx context.Context, id int64, payload domain.Payload, ts time.Time) error

	Remove(ctx context.Context, id int64) error

	// MarkAttemptFailed bumps the retry counter and schedules the next
	// attempt; the operation stays pending.
	MarkAttemptFailed(ctx context.Context, id int64, retries int, nextAttemptAt time.Time, errMsg string) error

	// MarkExhausted flips an operation to failed after the retry cap.
	MarkExhausted(ctx context.Context, id int64, retries int, errMsg string) error

	// MarkBlocked flips an operation to blocked on authorization failure.
	MarkBlocked(ctx context.Context, id int64, errMsg string) error

	// Reactivate returns a failed or blocked operation to pending for an
	// immediate manual retry.
	Reactivate(ctx context.Context, id int64) error

	ListByUser(ctx context.Context, userID string) ([]domain.PendingOperation, error)
	CountPending(ctx context.Context) (int64, error)
	Clear(ctx context.Context, userID string) error
}

// ActorCache is the local projection table for actors.
type ActorCache interface {
	Insert(ctx context.Context, a domain.Actor) (domain.Actor, error)
	GetByLocalID(ctx context.Context, localID string) (domain.Actor, error)
	GetByServerID(ctx context.Context, serverID string) (domain.Actor, error)
	List(ctx context.Context, filter domain.ActorFilter) ([]domain.Actor, error)
	UpdateByLocalID(ctx context.Context, localID string, a domain.Actor) error
	Promote(ctx context.Context, localID, serverID, code string, syncedAt time.Time) error
	UpsertFromServer(ctx context.Context, a domain.Actor) error
	DeleteByServerID(ctx context.Context, serverID string) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// ConventionCache is the local projection table for conventions.
type ConventionCache interface {
	Insert(ctx context.Context, c domain.Convention) (domain.Convention, error)
	GetByLocalID(ctx context.Context, localID string) (domain.Convention, error)
	GetByServerID(ctx context.Context, serverID string) (domain.Convention, error)
	UpdateByLocalID(ctx context.Context, localID string, c domain.Convention) error
	Promote(ctx context.Context, localID, serverID, code string, syncedAt time.Time) error
	UpsertFromServer(ctx context.Context, c domain.Convention) error
	DeleteByServerID(ctx context.Context, serverID string) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// StoreCache is the local projection table for storage facilities.
type StoreCache interface {
	Insert(ctx context.Context, s domain.Store) (domain.Store, error)
	GetByLocalID(ctx context.Context, localID string) (domain.Store, error)
	GetByServerID(ctx context.Context, serverID string) (domain.Store, error)
	List(ctx context.Context, filter domain.StoreFilter) ([]domain.Store, error)
	UpdateByLocalID(ctx context.Context, localID string, s domain.Store) error
	Promote(ctx context.Context, localID, serverID, code string, syncedAt time.Time) error
	UpsertFromServer(ctx context.Context, s domain.Store) error
	DeleteByServerID(ctx context.Context, serverID string) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// SettingsStore is the durable key-value table backing monotonic counters.
// NextSequence must be an atomic read-modify-write per key.
type SettingsStore interface {
	NextSequence(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// WatermarkStore persists the per-kind last successful sync instant. The
// watermark only advances after a whole incremental batch applies cleanly.
type WatermarkStore interface {
	Get(ctx context.Context, kind domain.EntityKind) (time.Time, error)
	Advance(ctx context.Context, kind domain.EntityKind, t time.Time) error
	Clear(ctx context.Context, kind domain.EntityKind) error
}

// AuditTrail records queued-operation outcomes locally.
type AuditTrail interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}
