package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

// IdentityResolver translates client-generated identifiers into the server's
// canonical ones. Queued payloads may reference entities that were themselves
// created offline; until those creates land, resolution fails retryably.
type IdentityResolver struct {
	actors      ports.ActorCache
	conventions ports.ConventionCache
	stores      ports.StoreCache
}

func NewIdentityResolver(actors ports.ActorCache, conventions ports.ConventionCache, stores ports.StoreCache) *IdentityResolver {
	return &IdentityResolver{actors: actors, conventions: conventions, stores: stores}
}

// Resolve returns the server identifier for id. Server identifiers pass
// through untouched; local identifiers are looked up by kind. A missing
// record or a record without a server id yields domain.ErrNotYetSynced.
func (r *IdentityResolver) Resolve(ctx context.Context, kind domain.EntityKind, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	if !domain.IsLocalID(id) {
		return id, nil
	}

	var serverID string
	var err error
	switch kind {
	case domain.KindActor:
		var a domain.Actor
		a, err = r.actors.GetByLocalID(ctx, id)
		serverID = a.ServerID
	case domain.KindConvention:
		var c domain.Convention
		c, err = r.conventions.GetByLocalID(ctx, id)
		serverID = c.ServerID
	case domain.KindStore:
		var s domain.Store
		s, err = r.stores.GetByLocalID(ctx, id)
		serverID = s.ServerID
	default:
		return "", fmt.Errorf("cannot resolve identifiers of kind %q", kind)
	}

	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: %s %s", domain.ErrNotYetSynced, kind, id)
		}
		return "", err
	}
	if serverID == "" {
		return "", fmt.Errorf("%w: %s %s", domain.ErrNotYetSynced, kind, id)
	}
	return serverID, nil
}

// ResolveActorID is the common case: payload fields referencing actors.
func (r *IdentityResolver) ResolveActorID(ctx context.Context, id string) (string, error) {
	return r.Resolve(ctx, domain.KindActor, id)
}
