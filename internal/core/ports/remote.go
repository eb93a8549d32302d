package ports

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

// ListResult is one page of a collection listing.
type ListResult struct {
	Items []json.RawMessage
	Meta  domain.PageMeta
}

// SyncBatch is the response of the sync/all and sync/updates endpoints.
type SyncBatch struct {
	Items    []json.RawMessage
	Total    int
	Since    time.Time
	SyncedAt time.Time
}

// RemoteClient is the fixed REST contract of the remote API. Resource names
// are the collection path segments ("actors", "conventions", "stores").
type RemoteClient interface {
	List(ctx context.Context, resource string, query url.Values) (ListResult, error)
	Get(ctx context.Context, resource, id string) (json.RawMessage, error)
	Create(ctx context.Context, resource string, body any) (json.RawMessage, error)
	Update(ctx context.Context, resource, id string, body any) (json.RawMessage, error)
	SetActive(ctx context.Context, resource, id string, active bool) (json.RawMessage, error)
	Associate(ctx context.Context, resource, id, subresource, subID string) error
	Dissociate(ctx context.Context, resource, id, subresource, subID string) error
	SyncAll(ctx context.Context, resource string) (SyncBatch, error)
	SyncUpdates(ctx context.Context, resource string, since time.Time) (SyncBatch, error)
	UploadDocument(ctx context.Context, resource, id string, doc domain.Document) error
}

// SyncEventSink receives dispatcher lifecycle events. Sinks must not block
// the flush loop; slow delivery is the sink's problem.
type SyncEventSink interface {
	Emit(ctx context.Context, event domain.SyncEvent)
}

// OperationHandler applies one queued operation against the remote API.
// Implemented by each entity service and resolved through the registry.
type OperationHandler interface {
	Kind() domain.EntityKind
	Handle(ctx context.Context, op domain.PendingOperation) error
}
