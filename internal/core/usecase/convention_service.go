package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

const conventionResource = "conventions"

// Roles allowed to pull conventions into the local cache on login.
var conventionSyncRoles = map[domain.Role]bool{
	domain.RoleAdmin:       true,
	domain.RoleFieldAgent:  true,
	domain.RoleCoopManager: true,
}

// ConventionInput is the caller-facing create/update shape.
type ConventionInput struct {
	ProducersID     string
	BuyerExporterID string
	SignatureDate   string
	Status          string
	Products        []domain.Product
	Documents       []domain.Document
}

// ConventionService owns the convention cache and the network application of
// queued convention mutations. Mutations always go through the queue, even
// when online, so there is a single code path and per-entity ordering holds.
type ConventionService struct {
	deps  ServiceDeps
	cache ports.ConventionCache
}

var _ ports.OperationHandler = (*ConventionService)(nil)

func NewConventionService(deps ServiceDeps, cache ports.ConventionCache) *ConventionService {
	return &ConventionService{deps: deps, cache: cache}
}

func (s *ConventionService) Kind() domain.EntityKind {
	return domain.KindConvention
}

// GetAll lists conventions from the server. There is no offline fallback for
// convention listings: server-origin pages cannot be reconstructed from the
// cache without lying about completeness.
func (s *ConventionService) GetAll(ctx context.Context, filter domain.ConventionFilter, isOnline bool) ([]domain.Convention, domain.PageMeta, error) {
	if !isOnline {
		return nil, domain.PageMeta{}, fmt.Errorf("%w: convention listing", domain.ErrOfflineUnsupported)
	}

	query := url.Values{}
	if filter.Page > 0 {
		query.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.ProducerID != "" {
		query.Set("producersId", filter.ProducerID)
	}
	if filter.BuyerID != "" {
		query.Set("buyerExporterId", filter.BuyerID)
	}
	if filter.CampaignID != "" {
		query.Set("campaignId", filter.CampaignID)
	}

	result, err := s.deps.API.List(ctx, conventionResource, query)
	if err != nil {
		return nil, domain.PageMeta{}, err
	}

	now := time.Now().UTC()
	items := make([]domain.Convention, 0, len(result.Items))
	for _, raw := range result.Items {
		var resource domain.ConventionResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return nil, domain.PageMeta{}, fmt.Errorf("decode convention: %w", err)
		}
		items = append(items, resource.ToConvention(now))
	}
	return items, result.Meta, nil
}

// GetByID fetches one convention. Offline, the best-effort view is rebuilt
// from the queued operation's payload and tagged with its pending status;
// only fields present in the payload are populated.
func (s *ConventionService) GetByID(ctx context.Context, id string, isOnline bool) (domain.Convention, error) {
	if isOnline {
		raw, err := s.deps.API.Get(ctx, conventionResource, id)
		if err != nil {
			return domain.Convention{}, err
		}
		var resource domain.ConventionResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return domain.Convention{}, fmt.Errorf("decode convention: %w", err)
		}
		return resource.ToConvention(time.Now().UTC()), nil
	}

	op, err := s.deps.Queue.FindUnsynced(ctx, domain.KindConvention, id, s.deps.Ctx.UserID())
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingOperation) {
			return domain.Convention{}, domain.ErrNotFound
		}
		return domain.Convention{}, err
	}
	return conventionFromOperation(op), nil
}

// Add creates a convention optimistically: a cache row keyed by a fresh
// local id and a queued create operation. The network is never called here.
func (s *ConventionService) Add(ctx context.Context, input ConventionInput) (domain.Convention, error) {
	userID := s.deps.Ctx.UserID()
	if userID == "" {
		return domain.Convention{}, domain.ErrUnauthorized
	}

	payload := domain.Payload{
		"producersId":     input.ProducersID,
		"buyerExporterId": input.BuyerExporterID,
		"signatureDate":   input.SignatureDate,
		"status":          input.Status,
		"products":        productsToPayload(input.Products),
	}
	if err := s.deps.Schemas.Validate(domain.KindConvention, payload); err != nil {
		return domain.Convention{}, err
	}

	localID := domain.LocalIDPrefix + uuid.NewString()
	code, err := s.deps.Codes.NextLocalCode(ctx, domain.KindConvention)
	if err != nil {
		return domain.Convention{}, err
	}
	payload["localId"] = localID
	payload["code"] = code
	if len(input.Documents) > 0 {
		payload["documents"] = documentsToPayload(input.Documents)
	}

	record := domain.Convention{
		LocalID:       localID,
		Code:          code,
		SignatureDate: input.SignatureDate,
		Status:        input.Status,
		Products:      input.Products,
		SyncStatus:    domain.SyncStatusPendingCreation,
	}
	if domain.IsLocalID(input.ProducersID) {
		record.ProducerLocalID = input.ProducersID
	} else {
		record.ProducerServerID = input.ProducersID
	}
	if domain.IsLocalID(input.BuyerExporterID) {
		record.BuyerExporterLocalID = input.BuyerExporterID
	} else {
		record.BuyerExporterServerID = input.BuyerExporterID
	}

	record, err = s.cache.Insert(ctx, record)
	if err != nil {
		return domain.Convention{}, err
	}

	_, err = s.deps.Dispatcher.QueueOperation(ctx, domain.PendingOperation{
		EntityID:   localID,
		EntityKind: domain.KindConvention,
		Operation:  domain.OpCreate,
		Payload:    payload,
	}, userID)
	if err != nil {
		return domain.Convention{}, err
	}
	return record, nil
}

// Update queues a partial update. With editOffline set, the already-queued
// operation for this entity is amended in place (same queue slot) instead of
// enqueueing a second one; it is an error if nothing is queued.
func (s *ConventionService) Update(ctx context.Context, id string, partial domain.Payload, editOffline bool) error {
	userID := s.deps.Ctx.UserID()
	if userID == "" {
		return domain.ErrUnauthorized
	}

	if editOffline {
		op, err := s.deps.Queue.FindUnsynced(ctx, domain.KindConvention, id, userID)
		if err != nil {
			return err
		}
		merged := op.Payload.Merge(partial)
		if err := s.deps.Queue.AmendPayload(ctx, op.ID, merged, time.Now().UTC()); err != nil {
			return err
		}
		// Amending a failed or blocked operation is the resubmit path: the
		// corrected payload goes back into rotation.
		if op.Status == domain.StatusFailed || op.Status == domain.StatusBlocked {
			if err := s.deps.Dispatcher.RetryOperation(ctx, op.ID); err != nil {
				return err
			}
		}
		s.refreshCachedLocal(ctx, id, partial, op.Operation)
		return nil
	}

	_, err := s.deps.Dispatcher.QueueOperation(ctx, domain.PendingOperation{
		EntityID:   id,
		EntityKind: domain.KindConvention,
		Operation:  domain.OpUpdate,
		Payload:    partial,
	}, userID)
	if err != nil {
		return err
	}
	s.refreshCachedLocal(ctx, id, partial, domain.OpUpdate)
	return nil
}

// refreshCachedLocal keeps list/detail views consistent ahead of the network
// round-trip. Only records we created locally (matched by localId) are
// rewritten.
func (s *ConventionService) refreshCachedLocal(ctx context.Context, id string, partial domain.Payload, origin domain.Operation) {
	if !domain.IsLocalID(id) {
		return
	}
	record, err := s.cache.GetByLocalID(ctx, id)
	if err != nil {
		return
	}
	applyConventionPayload(&record, partial)
	if origin == domain.OpCreate {
		record.SyncStatus = domain.SyncStatusPendingCreation
	} else {
		record.SyncStatus = domain.SyncStatusPendingUpdate
	}
	if err := s.cache.UpdateByLocalID(ctx, id, record); err != nil {
		s.deps.Logger.Warn("refresh cached convention failed",
			zap.String("localId", id), zap.Error(err))
	}
}

// AssociateToCampaign links a convention to a campaign. Online only: the
// sub-resource call has no queued form.
func (s *ConventionService) AssociateToCampaign(ctx context.Context, id, campaignID string, isOnline bool) error {
	if !isOnline {
		return fmt.Errorf("%w: campaign association", domain.ErrOfflineUnsupported)
	}
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindConvention, id)
	if err != nil {
		return err
	}
	return s.deps.API.Associate(ctx, conventionResource, serverID, "campaigns", campaignID)
}

func (s *ConventionService) DissociateFromCampaign(ctx context.Context, id, campaignID string, isOnline bool) error {
	if !isOnline {
		return fmt.Errorf("%w: campaign dissociation", domain.ErrOfflineUnsupported)
	}
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindConvention, id)
	if err != nil {
		return err
	}
	return s.deps.API.Dissociate(ctx, conventionResource, serverID, "campaigns", campaignID)
}

// Handle applies one queued convention operation against the remote API.
// Called by the dispatcher only.
func (s *ConventionService) Handle(ctx context.Context, op domain.PendingOperation) error {
	switch op.Operation {
	case domain.OpCreate:
		return s.handleCreate(ctx, op)
	case domain.OpUpdate:
		return s.handleUpdate(ctx, op)
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
}

func (s *ConventionService) handleCreate(ctx context.Context, op domain.PendingOperation) error {
	payload, docs, err := s.outgoingPayload(ctx, op.Payload)
	if err != nil {
		return err
	}

	raw, err := s.deps.API.Create(ctx, conventionResource, payload)
	if err != nil {
		return err
	}
	var resource domain.ConventionResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return fmt.Errorf("decode created convention: %w", err)
	}

	now := time.Now().UTC()
	if err := s.cache.Promote(ctx, op.EntityID, resource.ID, resource.Code, now); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s.deps.Logger.Warn("created convention has no cached row to promote",
			zap.String("localId", op.EntityID))
	}

	s.uploadAttachments(ctx, op, resource.ID, docs)
	return nil
}

func (s *ConventionService) handleUpdate(ctx context.Context, op domain.PendingOperation) error {
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindConvention, op.EntityID)
	if err != nil {
		return err
	}
	payload, docs, err := s.outgoingPayload(ctx, op.Payload)
	if err != nil {
		return err
	}

	raw, err := s.deps.API.Update(ctx, conventionResource, serverID, payload)
	if err != nil {
		return err
	}
	var resource domain.ConventionResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return fmt.Errorf("decode updated convention: %w", err)
	}
	if err := s.cache.UpsertFromServer(ctx, resource.ToConvention(time.Now().UTC())); err != nil {
		return err
	}

	s.uploadAttachments(ctx, op, serverID, docs)
	return nil
}

// outgoingPayload resolves embedded actor references, splits off attachments
// and strips client-only fields. The server assigns its own code.
func (s *ConventionService) outgoingPayload(ctx context.Context, p domain.Payload) (domain.Payload, []domain.Document, error) {
	payload := p.Clone()
	docs := documentsFromPayload(payload["documents"])
	delete(payload, "documents")
	delete(payload, "localId")
	delete(payload, "code")

	if producer := payloadString(payload, "producersId"); producer != "" {
		resolved, err := s.deps.Resolver.ResolveActorID(ctx, producer)
		if err != nil {
			return nil, nil, err
		}
		payload["producersId"] = resolved
	}
	if buyer := payloadString(payload, "buyerExporterId"); buyer != "" {
		resolved, err := s.deps.Resolver.ResolveActorID(ctx, buyer)
		if err != nil {
			return nil, nil, err
		}
		payload["buyerExporterId"] = resolved
	}
	return payload, docs, nil
}

// uploadAttachments is best-effort relative to the primary record: a failed
// upload is reported through the sink but never rolls back the convention.
func (s *ConventionService) uploadAttachments(ctx context.Context, op domain.PendingOperation, serverID string, docs []domain.Document) {
	for _, doc := range docs {
		if err := s.deps.API.UploadDocument(ctx, conventionResource, serverID, doc); err != nil {
			s.deps.Logger.Warn("attachment upload failed",
				zap.String("convention", serverID),
				zap.String("document", doc.Name),
				zap.Error(err))
			if s.deps.Sink != nil {
				s.deps.Sink.Emit(ctx, domain.SyncEvent{
					Type:        domain.EventAttachmentFailed,
					OperationID: op.ID,
					EntityKind:  domain.KindConvention,
					EntityID:    serverID,
					UserID:      op.UserID,
					Error:       err.Error(),
					OccurredAt:  time.Now().UTC(),
				})
			}
		}
	}
}

// SyncOnLogin reconciles the local cache with the server. An empty cache
// triggers a full fetch (active records only); otherwise the delta counter
// decides whether an incremental window is pulled. The watermark advances
// only after the whole batch applied cleanly.
func (s *ConventionService) SyncOnLogin(ctx context.Context) error {
	if !conventionSyncRoles[s.deps.Ctx.Role()] {
		s.deps.Logger.Debug("convention sync skipped for role",
			zap.String("role", string(s.deps.Ctx.Role())))
		return nil
	}

	count, err := s.cache.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return s.fullSync(ctx)
	}

	if s.deps.Poller.EntityCount(domain.KindConvention) == 0 {
		return nil
	}
	return s.incrementalSync(ctx)
}

func (s *ConventionService) fullSync(ctx context.Context) error {
	batch, err := s.deps.API.SyncAll(ctx, conventionResource)
	if err != nil {
		return err
	}
	stored := 0
	for _, raw := range batch.Items {
		var resource domain.ConventionResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return fmt.Errorf("decode convention: %w", err)
		}
		if !resource.Active {
			continue
		}
		if err := s.cache.UpsertFromServer(ctx, resource.ToConvention(batch.SyncedAt)); err != nil {
			return err
		}
		stored++
	}
	if err := s.deps.Watermarks.Advance(ctx, domain.KindConvention, batch.SyncedAt); err != nil {
		return err
	}
	s.deps.Poller.SetEntityCount(domain.KindConvention, 0)
	s.deps.Logger.Info("convention full sync done",
		zap.Int("received", len(batch.Items)), zap.Int("stored", stored))
	return nil
}

func (s *ConventionService) incrementalSync(ctx context.Context) error {
	since, err := s.deps.Watermarks.Get(ctx, domain.KindConvention)
	if err != nil {
		return err
	}
	batch, err := s.deps.API.SyncUpdates(ctx, conventionResource, since)
	if err != nil {
		return err
	}
	for _, raw := range batch.Items {
		var resource domain.ConventionResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return fmt.Errorf("decode convention: %w", err)
		}
		if resource.Active {
			if err := s.cache.UpsertFromServer(ctx, resource.ToConvention(batch.SyncedAt)); err != nil {
				return err
			}
		} else {
			if err := s.cache.DeleteByServerID(ctx, resource.ID); err != nil {
				return err
			}
		}
	}
	if err := s.deps.Watermarks.Advance(ctx, domain.KindConvention, batch.SyncedAt); err != nil {
		return err
	}
	s.deps.Poller.SetEntityCount(domain.KindConvention, 0)
	s.deps.Logger.Info("convention incremental sync done",
		zap.Time("since", since), zap.Int("changed", len(batch.Items)))
	return nil
}

// ClearLocalData wipes the convention cache and its watermark. Invoked when
// the authenticated user changes so one user's data never leaks to the next.
func (s *ConventionService) ClearLocalData(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	return s.deps.Watermarks.Clear(ctx, domain.KindConvention)
}

func conventionFromOperation(op domain.PendingOperation) domain.Convention {
	record := domain.Convention{
		LocalID:    payloadString(op.Payload, "localId"),
		Code:       payloadString(op.Payload, "code"),
		SyncStatus: domain.SyncStatusPendingUpdate,
	}
	if op.Operation == domain.OpCreate {
		record.SyncStatus = domain.SyncStatusPendingCreation
	}
	if !domain.IsLocalID(op.EntityID) {
		record.ServerID = op.EntityID
	}
	applyConventionPayload(&record, op.Payload)
	return record
}

func applyConventionPayload(record *domain.Convention, p domain.Payload) {
	if v := payloadString(p, "producersId"); v != "" {
		if domain.IsLocalID(v) {
			record.ProducerLocalID = v
		} else {
			record.ProducerServerID = v
		}
	}
	if v := payloadString(p, "buyerExporterId"); v != "" {
		if domain.IsLocalID(v) {
			record.BuyerExporterLocalID = v
		} else {
			record.BuyerExporterServerID = v
		}
	}
	if v := payloadString(p, "signatureDate"); v != "" {
		record.SignatureDate = v
	}
	if v := payloadString(p, "status"); v != "" {
		record.Status = v
	}
	if v, ok := p["products"]; ok {
		record.Products = productsFromPayload(v)
	}
}
