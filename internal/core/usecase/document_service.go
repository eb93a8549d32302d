package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

// DocumentService attaches files to other entities. Online, the upload goes
// straight to the owner's sub-resource endpoint. Offline, the document is
// folded into the owner's queued operation so it rides along when the
// primary record syncs; without a queued operation there is nothing to ride.
type DocumentService struct {
	deps ServiceDeps
}

func NewDocumentService(deps ServiceDeps) *DocumentService {
	return &DocumentService{deps: deps}
}

func (s *DocumentService) Upload(ctx context.Context, ownerKind domain.EntityKind, ownerID string, doc domain.Document, isOnline bool) error {
	userID := s.deps.Ctx.UserID()
	if userID == "" {
		return domain.ErrUnauthorized
	}
	resource, ok := resourceNames[ownerKind]
	if !ok {
		return fmt.Errorf("documents cannot be attached to %q", ownerKind)
	}

	if isOnline {
		serverID, err := s.deps.Resolver.Resolve(ctx, ownerKind, ownerID)
		if err != nil {
			return err
		}
		return s.deps.API.UploadDocument(ctx, resource, serverID, doc)
	}

	op, err := s.deps.Queue.FindUnsynced(ctx, ownerKind, ownerID, userID)
	if err != nil {
		return fmt.Errorf("%w: document upload without a queued owner", domain.ErrOfflineUnsupported)
	}
	payload := op.Payload.Clone()
	existing := documentsFromPayload(payload["documents"])
	existing = append(existing, doc)
	payload["documents"] = documentsToPayload(existing)
	return s.deps.Queue.AmendPayload(ctx, op.ID, payload, time.Now().UTC())
}

// ListByOwner fetches the owner's attachments. Online only: document bytes
// are never cached locally.
func (s *DocumentService) ListByOwner(ctx context.Context, ownerKind domain.EntityKind, ownerID string, isOnline bool) ([]domain.Document, error) {
	if !isOnline {
		return nil, fmt.Errorf("%w: document listing", domain.ErrOfflineUnsupported)
	}
	resource, ok := resourceNames[ownerKind]
	if !ok {
		return nil, fmt.Errorf("documents cannot be attached to %q", ownerKind)
	}
	serverID, err := s.deps.Resolver.Resolve(ctx, ownerKind, ownerID)
	if err != nil {
		return nil, err
	}

	result, err := s.deps.API.List(ctx, resource+"/"+serverID+"/documents", nil)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(result.Items))
	for _, raw := range result.Items {
		var entry struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			MimeType string `json:"mimeType"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, domain.Document{
			ServerID:   entry.ID,
			Name:       entry.Name,
			MimeType:   entry.MimeType,
			OwnerKind:  ownerKind,
			OwnerID:    serverID,
			SyncStatus: domain.SyncStatusSynced,
		})
	}
	return docs, nil
}
