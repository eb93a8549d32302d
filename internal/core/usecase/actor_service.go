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

const actorResource = "actors"

var actorSyncRoles = map[domain.Role]bool{
	domain.RoleAdmin:       true,
	domain.RoleFieldAgent:  true,
	domain.RoleCoopManager: true,
	domain.RoleBuyer:       true,
}

// ActorInput is the caller-facing create/update shape.
type ActorInput struct {
	Name   string
	Type   domain.ActorType
	Phone  string
	Region string
}

// ActorService manages supply-chain actors. Unlike conventions, actor
// listings fall back to the local cache when offline: the cache is a full
// projection of the active actors the user is allowed to see.
type ActorService struct {
	deps  ServiceDeps
	cache ports.ActorCache
}

var _ ports.OperationHandler = (*ActorService)(nil)

func NewActorService(deps ServiceDeps, cache ports.ActorCache) *ActorService {
	return &ActorService{deps: deps, cache: cache}
}

func (s *ActorService) Kind() domain.EntityKind {
	return domain.KindActor
}

func (s *ActorService) GetAll(ctx context.Context, filter domain.ActorFilter, isOnline bool) ([]domain.Actor, domain.PageMeta, error) {
	if !isOnline {
		items, err := s.cache.List(ctx, filter)
		if err != nil {
			return nil, domain.PageMeta{}, err
		}
		meta := domain.PageMeta{CurrentPage: filter.Page, PerPage: filter.Limit, Total: len(items)}
		return items, meta, nil
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
	if filter.Type != "" {
		query.Set("type", string(filter.Type))
	}
	if filter.Region != "" {
		query.Set("region", filter.Region)
	}
	if filter.Active != nil {
		query.Set("active", strconv.FormatBool(*filter.Active))
	}

	result, err := s.deps.API.List(ctx, actorResource, query)
	if err != nil {
		return nil, domain.PageMeta{}, err
	}
	now := time.Now().UTC()
	items := make([]domain.Actor, 0, len(result.Items))
	for _, raw := range result.Items {
		var resource domain.ActorResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return nil, domain.PageMeta{}, fmt.Errorf("decode actor: %w", err)
		}
		items = append(items, resource.ToActor(now))
	}
	return items, result.Meta, nil
}

func (s *ActorService) GetByID(ctx context.Context, id string, isOnline bool) (domain.Actor, error) {
	if isOnline {
		raw, err := s.deps.API.Get(ctx, actorResource, id)
		if err != nil {
			return domain.Actor{}, err
		}
		var resource domain.ActorResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return domain.Actor{}, fmt.Errorf("decode actor: %w", err)
		}
		return resource.ToActor(time.Now().UTC()), nil
	}

	var record domain.Actor
	var err error
	if domain.IsLocalID(id) {
		record, err = s.cache.GetByLocalID(ctx, id)
	} else {
		record, err = s.cache.GetByServerID(ctx, id)
	}
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Actor{}, err
	}

	op, opErr := s.deps.Queue.FindUnsynced(ctx, domain.KindActor, id, s.deps.Ctx.UserID())
	if opErr != nil {
		return domain.Actor{}, domain.ErrNotFound
	}
	return actorFromOperation(op), nil
}

func (s *ActorService) Add(ctx context.Context, input ActorInput) (domain.Actor, error) {
	userID := s.deps.Ctx.UserID()
	if userID == "" {
		return domain.Actor{}, domain.ErrUnauthorized
	}

	payload := domain.Payload{
		"name":   input.Name,
		"type":   string(input.Type),
		"phone":  input.Phone,
		"region": input.Region,
	}
	if err := s.deps.Schemas.Validate(domain.KindActor, payload); err != nil {
		return domain.Actor{}, err
	}

	localID := domain.LocalIDPrefix + uuid.NewString()
	code, err := s.deps.Codes.NextLocalCode(ctx, domain.KindActor)
	if err != nil {
		return domain.Actor{}, err
	}
	payload["localId"] = localID
	payload["code"] = code

	record, err := s.cache.Insert(ctx, domain.Actor{
		LocalID:    localID,
		Code:       code,
		Name:       input.Name,
		Type:       input.Type,
		Phone:      input.Phone,
		Region:     input.Region,
		Active:     true,
		SyncStatus: domain.SyncStatusPendingCreation,
	})
	if err != nil {
		return domain.Actor{}, err
	}

	_, err = s.deps.Dispatcher.QueueOperation(ctx, domain.PendingOperation{
		EntityID:   localID,
		EntityKind: domain.KindActor,
		Operation:  domain.OpCreate,
		Payload:    payload,
	}, userID)
	if err != nil {
		return domain.Actor{}, err
	}
	return record, nil
}

func (s *ActorService) Update(ctx context.Context, id string, partial domain.Payload, editOffline bool) error {
	userID := s.deps.Ctx.UserID()
	if userID == "" {
		return domain.ErrUnauthorized
	}

	if editOffline {
		op, err := s.deps.Queue.FindUnsynced(ctx, domain.KindActor, id, userID)
		if err != nil {
			return err
		}
		merged := op.Payload.Merge(partial)
		if err := s.deps.Queue.AmendPayload(ctx, op.ID, merged, time.Now().UTC()); err != nil {
			return err
		}
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
		EntityKind: domain.KindActor,
		Operation:  domain.OpUpdate,
		Payload:    partial,
	}, userID)
	if err != nil {
		return err
	}
	s.refreshCachedLocal(ctx, id, partial, domain.OpUpdate)
	return nil
}

func (s *ActorService) refreshCachedLocal(ctx context.Context, id string, partial domain.Payload, origin domain.Operation) {
	if !domain.IsLocalID(id) {
		return
	}
	record, err := s.cache.GetByLocalID(ctx, id)
	if err != nil {
		return
	}
	applyActorPayload(&record, partial)
	if origin == domain.OpCreate {
		record.SyncStatus = domain.SyncStatusPendingCreation
	} else {
		record.SyncStatus = domain.SyncStatusPendingUpdate
	}
	if err := s.cache.UpdateByLocalID(ctx, id, record); err != nil {
		s.deps.Logger.Warn("refresh cached actor failed",
			zap.String("localId", id), zap.Error(err))
	}
}

// SetActive flips the actor's lifecycle state on the server. Online only.
func (s *ActorService) SetActive(ctx context.Context, id string, active, isOnline bool) error {
	if !isOnline {
		return fmt.Errorf("%w: actor activation", domain.ErrOfflineUnsupported)
	}
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindActor, id)
	if err != nil {
		return err
	}
	raw, err := s.deps.API.SetActive(ctx, actorResource, serverID, active)
	if err != nil {
		return err
	}
	var resource domain.ActorResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return fmt.Errorf("decode actor: %w", err)
	}
	return s.cache.UpsertFromServer(ctx, resource.ToActor(time.Now().UTC()))
}

func (s *ActorService) Handle(ctx context.Context, op domain.PendingOperation) error {
	switch op.Operation {
	case domain.OpCreate:
		return s.handleCreate(ctx, op)
	case domain.OpUpdate:
		return s.handleUpdate(ctx, op)
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
}

func (s *ActorService) handleCreate(ctx context.Context, op domain.PendingOperation) error {
	payload := op.Payload.Clone()
	delete(payload, "localId")
	delete(payload, "code")

	raw, err := s.deps.API.Create(ctx, actorResource, payload)
	if err != nil {
		return err
	}
	var resource domain.ActorResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return fmt.Errorf("decode created actor: %w", err)
	}

	if err := s.cache.Promote(ctx, op.EntityID, resource.ID, resource.Code, time.Now().UTC()); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s.deps.Logger.Warn("created actor has no cached row to promote",
			zap.String("localId", op.EntityID))
	}
	return nil
}

func (s *ActorService) handleUpdate(ctx context.Context, op domain.PendingOperation) error {
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindActor, op.EntityID)
	if err != nil {
		return err
	}
	payload := op.Payload.Clone()
	delete(payload, "localId")
	delete(payload, "code")

	raw, err := s.deps.API.Update(ctx, actorResource, serverID, payload)
	if err != nil {
		return err
	}
	var resource domain.ActorResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return fmt.Errorf("decode updated actor: %w", err)
	}
	return s.cache.UpsertFromServer(ctx, resource.ToActor(time.Now().UTC()))
}

func (s *ActorService) SyncOnLogin(ctx context.Context) error {
	if !actorSyncRoles[s.deps.Ctx.Role()] {
		s.deps.Logger.Debug("actor sync skipped for role",
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
	if s.deps.Poller.EntityCount(domain.KindActor) == 0 {
		return nil
	}
	return s.incrementalSync(ctx)
}

func (s *ActorService) fullSync(ctx context.Context) error {
	batch, err := s.deps.API.SyncAll(ctx, actorResource)
	if err != nil {
		return err
	}
	stored := 0
	for _, raw := range batch.Items {
		var resource domain.ActorResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return fmt.Errorf("decode actor: %w", err)
		}
		if !resource.Active {
			continue
		}
		if err := s.cache.UpsertFromServer(ctx, resource.ToActor(batch.SyncedAt)); err != nil {
			return err
		}
		stored++
	}
	if err := s.deps.Watermarks.Advance(ctx, domain.KindActor, batch.SyncedAt); err != nil {
		return err
	}
	s.deps.Poller.SetEntityCount(domain.KindActor, 0)
	s.deps.Logger.Info("actor full sync done",
		zap.Int("received", len(batch.Items)), zap.Int("stored", stored))
	return nil
}

func (s *ActorService) incrementalSync(ctx context.Context) error {
	since, err := s.deps.Watermarks.Get(ctx, domain.KindActor)
	if err != nil {
		return err
	}
	batch, err := s.deps.API.SyncUpdates(ctx, actorResource, since)
	if err != nil {
		return err
	}
	for _, raw := range batch.Items {
		var resource domain.ActorResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return fmt.Errorf("decode actor: %w", err)
		}
		if resource.Active {
			if err := s.cache.UpsertFromServer(ctx, resource.ToActor(batch.SyncedAt)); err != nil {
				return err
			}
		} else {
			if err := s.cache.DeleteByServerID(ctx, resource.ID); err != nil {
				return err
			}
		}
	}
	if err := s.deps.Watermarks.Advance(ctx, domain.KindActor, batch.SyncedAt); err != nil {
		return err
	}
	s.deps.Poller.SetEntityCount(domain.KindActor, 0)
	s.deps.Logger.Info("actor incremental sync done",
		zap.Time("since", since), zap.Int("changed", len(batch.Items)))
	return nil
}

func (s *ActorService) ClearLocalData(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	return s.deps.Watermarks.Clear(ctx, domain.KindActor)
}

func actorFromOperation(op domain.PendingOperation) domain.Actor {
	record := domain.Actor{
		LocalID:    payloadString(op.Payload, "localId"),
		Code:       payloadString(op.Payload, "code"),
		Active:     true,
		SyncStatus: domain.SyncStatusPendingUpdate,
	}
	if op.Operation == domain.OpCreate {
		record.SyncStatus = domain.SyncStatusPendingCreation
	}
	if !domain.IsLocalID(op.EntityID) {
		record.ServerID = op.EntityID
	}
	applyActorPayload(&record, op.Payload)
	return record
}

func applyActorPayload(record *domain.Actor, p domain.Payload) {
	if v := payloadString(p, "name"); v != "" {
		record.Name = v
	}
	if v := payloadString(p, "type"); v != "" {
		record.Type = domain.ActorType(v)
	}
	if v := payloadString(p, "phone"); v != "" {
		record.Phone = v
	}
	if v := payloadString(p, "region"); v != "" {
		record.Region = v
	}
}
