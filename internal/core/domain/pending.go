package domain

import "time"

// Operation is the mutation type carried by a queued operation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// OperationStatus tracks a queued operation through the flush loop. Pending
// operations wait for the next flush pass, possibly after backoff. Failed
// means the retry cap is exhausted and an explicit retry or amendment is
// needed. Blocked marks an authorization failure; retrying is pointless
// until the user re-authenticates.
type OperationStatus string

const (
	StatusPending OperationStatus = "pending"
	StatusFailed  OperationStatus = "failed"
	StatusBlocked OperationStatus = "blocked"
)

// Payload is the opaque field set of a queued mutation. Keys are the remote
// API's field names; values may include nested document attachments.
type Payload map[string]any

// Merge overlays other onto p, returning the result. p is not modified.
func (p Payload) Merge(other Payload) Payload {
	merged := make(Payload, len(p)+len(other))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	c := make(Payload, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// PendingOperation is a queued mutation awaiting network application.
// Exactly one unsynced operation per (entityID, userID) is the steady state:
// services look up the existing row before deciding between in-place
// amendment and a new enqueue.
type PendingOperation struct {
	ID            int64
	EntityID      string
	EntityKind    EntityKind
	Operation     Operation
	Payload       Payload
	Timestamp     time.Time
	Retries       int
	UserID        string
	Status        OperationStatus
	LastError     string
	NextAttemptAt time.Time
}

// SyncEventType classifies dispatcher lifecycle events emitted on the side
// channel. The original enqueue call has long since returned, so outcomes
// travel through sinks instead of return values.
type SyncEventType string

const (
	EventOperationApplied  SyncEventType = "operation.applied"
	EventRetryScheduled    SyncEventType = "operation.retry_scheduled"
	EventRetriesExhausted  SyncEventType = "operation.retries_exhausted"
	EventAuthRequired      SyncEventType = "operation.auth_required"
	EventAttachmentFailed  SyncEventType = "operation.attachment_failed"
)

// SyncEvent is the sink-facing record of a dispatcher outcome.
type SyncEvent struct {
	Type        SyncEventType
	OperationID int64
	EntityKind  EntityKind
	EntityID    string
	UserID      string
	Error       string
	OccurredAt  time.Time
}

// AuditEntry is the locally persisted trace of an applied or failed queued
// operation.
type AuditEntry struct {
	ID         int64
	UserID     string
	EntityKind EntityKind
	EntityID   string
	Operation  Operation
	Outcome    string
	Detail     string
	OccurredAt time.Time
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	UserID     string
	EntityKind EntityKind
	EntityID   string
	Outcome    string
	AfterID    int64
	Limit      int
}
