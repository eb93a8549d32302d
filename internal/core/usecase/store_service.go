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

const storeResource = "stores"

var storeSyncRoles = map[domain.Role]bool{
	domain.RoleAdmin:       true,
	domain.RoleFieldAgent:  true,
	domain.RoleCoopManager: true,
}

// StoreInput is the caller-facing create/update shape.
type StoreInput struct {
	Name         string
	Region       string
	CapacityTons float64
}

// StoreService manages storage facilities. Occupant assignment is a
// sub-resource call with no queued form.
type StoreService struct {
	deps  ServiceDeps
	cache ports.StoreCache
}

var _ ports.OperationHandler = (*StoreService)(nil)

func NewStoreService(deps ServiceDeps, cache ports.StoreCache) *StoreService {
	return &StoreService{deps: deps, cache: cache}
}

func (s *StoreService) Kind() domain.EntityKind {
	return domain.KindStore
}

func (s *StoreService) GetAll(ctx context.Context, filter domain.StoreFilter, isOnline bool) ([]domain.Store, domain.PageMeta, error) {
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
	if filter.Region != "" {
		query.Set("region", filter.Region)
	}
	if filter.Active != nil {
		query.Set("active", strconv.FormatBool(*filter.Active))
	}

	result, err := s.deps.API.List(ctx, storeResource, query)
	if err != nil {
		return nil, domain.PageMeta{}, err
	}
	now := time.Now().UTC()
	items := make([]domain.Store, 0, len(result.Items))
	for _, raw := range result.Items {
		var resource domain.StoreResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return nil, domain.PageMeta{}, fmt.Errorf("decode store: %w", err)
		}
		items = append(items, resource.ToStore(now))
	}
	return items, result.Meta, nil
}

func (s *StoreService) GetByID(ctx context.Context, id string, isOnline bool) (domain.Store, error) {
	if isOnline {
		raw, err := s.deps.API.Get(ctx, storeResource, id)
		if err != nil {
			return domain.Store{}, err
		}
		var resource domain.StoreResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return domain.Store{}, fmt.Errorf("decode store: %w", err)
		}
		return resource.ToStore(time.Now().UTC()), nil
	}

	var record domain.Store
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
		return domain.Store{}, err
	}

	op, opErr := s.deps.Queue.FindUnsynced(ctx, domain.KindStore, id, s.deps.Ctx.UserID())
	if opErr != nil {
		return domain.Store{}, domain.ErrNotFound
	}
	return storeFromOperation(op), nil
}

func (s *StoreService) Add(ctx context.Context, input StoreInput) (domain.Store, error) {
	userID := s.deps.Ctx.UserID()
	if userID == "" {
		return domain.Store{}, domain.ErrUnauthorized
	}

	payload := domain.Payload{
		"name":         input.Name,
		"region":       input.Region,
		"capacityTons": input.CapacityTons,
	}
	if err := s.deps.Schemas.Validate(domain.KindStore, payload); err != nil {
		return domain.Store{}, err
	}

	localID := domain.LocalIDPrefix + uuid.NewString()
	code, err := s.deps.Codes.NextLocalCode(ctx, domain.KindStore)
	if err != nil {
		return domain.Store{}, err
	}
	payload["localId"] = localID
	payload["code"] = code

	record, err := s.cache.Insert(ctx, domain.Store{
		LocalID:      localID,
		Code:         code,
		Name:         input.Name,
		Region:       input.Region,
		CapacityTons: input.CapacityTons,
		Active:       true,
		SyncStatus:   domain.SyncStatusPendingCreation,
	})
	if err != nil {
		return domain.Store{}, err
	}

	_, err = s.deps.Dispatcher.QueueOperation(ctx, domain.PendingOperation{
		EntityID:   localID,
		EntityKind: domain.KindStore,
		Operation:  domain.OpCreate,
		Payload:    payload,
	}, userID)
	if err != nil {
		return domain.Store{}, err
	}
	return record, nil
}

func (s *StoreService) Update(ctx context.Context, id string, partial domain.Payload, editOffline bool) error {
	userID := s.deps.Ctx.UserID()
	if userID == "" {
		return domain.ErrUnauthorized
	}

	if editOffline {
		op, err := s.deps.Queue.FindUnsynced(ctx, domain.KindStore, id, userID)
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
		EntityKind: domain.KindStore,
		Operation:  domain.OpUpdate,
		Payload:    partial,
	}, userID)
	if err != nil {
		return err
	}
	s.refreshCachedLocal(ctx, id, partial, domain.OpUpdate)
	return nil
}

func (s *StoreService) refreshCachedLocal(ctx context.Context, id string, partial domain.Payload, origin domain.Operation) {
	if !domain.IsLocalID(id) {
		return
	}
	record, err := s.cache.GetByLocalID(ctx, id)
	if err != nil {
		return
	}
	applyStorePayload(&record, partial)
	if origin == domain.OpCreate {
		record.SyncStatus = domain.SyncStatusPendingCreation
	} else {
		record.SyncStatus = domain.SyncStatusPendingUpdate
	}
	if err := s.cache.UpdateByLocalID(ctx, id, record); err != nil {
		s.deps.Logger.Warn("refresh cached store failed",
			zap.String("localId", id), zap.Error(err))
	}
}

// AssignOccupant links an actor to a storage facility. Online only.
func (s *StoreService) AssignOccupant(ctx context.Context, id, actorID string, isOnline bool) error {
	if !isOnline {
		return fmt.Errorf("%w: occupant assignment", domain.ErrOfflineUnsupported)
	}
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindStore, id)
	if err != nil {
		return err
	}
	actorServerID, err := s.deps.Resolver.ResolveActorID(ctx, actorID)
	if err != nil {
		return err
	}
	return s.deps.API.Associate(ctx, storeResource, serverID, "occupants", actorServerID)
}

func (s *StoreService) RemoveOccupant(ctx context.Context, id, actorID string, isOnline bool) error {
	if !isOnline {
		return fmt.Errorf("%w: occupant removal", domain.ErrOfflineUnsupported)
	}
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindStore, id)
	if err != nil {
		return err
	}
	actorServerID, err := s.deps.Resolver.ResolveActorID(ctx, actorID)
	if err != nil {
		return err
	}
	return s.deps.API.Dissociate(ctx, storeResource, serverID, "occupants", actorServerID)
}

func (s *StoreService) Handle(ctx context.Context, op domain.PendingOperation) error {
	switch op.Operation {
	case domain.OpCreate:
		return s.handleCreate(ctx, op)
	case domain.OpUpdate:
		return s.handleUpdate(ctx, op)
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
}

func (s *StoreService) handleCreate(ctx context.Context, op domain.PendingOperation) error {
	payload := op.Payload.Clone()
	delete(payload, "localId")
	delete(payload, "code")

	raw, err := s.deps.API.Create(ctx, storeResource, payload)
	if err != nil {
		return err
	}
	var resource domain.StoreResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return fmt.Errorf("decode created store: %w", err)
	}

	if err := s.cache.Promote(ctx, op.EntityID, resource.ID, resource.Code, time.Now().UTC()); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s.deps.Logger.Warn("created store has no cached row to promote",
			zap.String("localId", op.EntityID))
	}
	return nil
}

func (s *StoreService) handleUpdate(ctx context.Context, op domain.PendingOperation) error {
	serverID, err := s.deps.Resolver.Resolve(ctx, domain.KindStore, op.EntityID)
	if err != nil {
		return err
	}
	payload := op.Payload.Clone()
	delete(payload, "localId")
	delete(payload, "code")

	raw, err := s.deps.API.Update(ctx, storeResource, serverID, payload)
	if err != nil {
		return err
	}
	var resource domain.StoreResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return fmt.Errorf("decode updated store: %w", err)
	}
	return s.cache.UpsertFromServer(ctx, resource.ToStore(time.Now().UTC()))
}

func (s *StoreService) SyncOnLogin(ctx context.Context) error {
	if !storeSyncRoles[s.deps.Ctx.Role()] {
		s.deps.Logger.Debug("store sync skipped for role",
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
	if s.deps.Poller.EntityCount(domain.KindStore) == 0 {
		return nil
	}
	return s.incrementalSync(ctx)
}

func (s *StoreService) fullSync(ctx context.Context) error {
	batch, err := s.deps.API.SyncAll(ctx, storeResource)
	if err != nil {
		return err
	}
	stored := 0
	for _, raw := range batch.Items {
		var resource domain.StoreResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return fmt.Errorf("decode store: %w", err)
		}
		if !resource.Active {
			continue
		}
		if err := s.cache.UpsertFromServer(ctx, resource.ToStore(batch.SyncedAt)); err != nil {
			return err
		}
		stored++
	}
	if err := s.deps.Watermarks.Advance(ctx, domain.KindStore, batch.SyncedAt); err != nil {
		return err
	}
	s.deps.Poller.SetEntityCount(domain.KindStore, 0)
	s.deps.Logger.Info("store full sync done",
		zap.Int("received", len(batch.Items)), zap.Int("stored", stored))
	return nil
}

func (s *StoreService) incrementalSync(ctx context.Context) error {
	since, err := s.deps.Watermarks.Get(ctx, domain.KindStore)
	if err != nil {
		return err
	}
	batch, err := s.deps.API.SyncUpdates(ctx, storeResource, since)
	if err != nil {
		return err
	}
	for _, raw := range batch.Items {
		var resource domain.StoreResource
		if err := json.Unmarshal(raw, &resource); err != nil {
			return fmt.Errorf("decode store: %w", err)
		}
		if resource.Active {
			if err := s.cache.UpsertFromServer(ctx, resource.ToStore(batch.SyncedAt)); err != nil {
				return err
			}
		} else {
			if err := s.cache.DeleteByServerID(ctx, resource.ID); err != nil {
				return err
			}
		}
	}
	if err := s.deps.Watermarks.Advance(ctx, domain.KindStore, batch.SyncedAt); err != nil {
		return err
	}
	s.deps.Poller.SetEntityCount(domain.KindStore, 0)
	s.deps.Logger.Info("store incremental sync done",
		zap.Time("since", since), zap.Int("changed", len(batch.Items)))
	return nil
}

func (s *StoreService) ClearLocalData(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	return s.deps.Watermarks.Clear(ctx, domain.KindStore)
}

func storeFromOperation(op domain.PendingOperation) domain.Store {
	record := domain.Store{
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
	applyStorePayload(&record, op.Payload)
	return record
}

func applyStorePayload(record *domain.Store, p domain.Payload) {
	if v := payloadString(p, "name"); v != "" {
		record.Name = v
	}
	if v := payloadString(p, "region"); v != "" {
		record.Region = v
	}
	if v, ok := p["capacityTons"].(float64); ok {
		record.CapacityTons = v
	}
}
