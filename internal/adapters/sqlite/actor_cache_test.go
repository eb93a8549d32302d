package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

func TestActorCacheUpsertFromServer(t *testing.T) {
	repo := NewActorCacheRepository(newTestDB(t))
	ctx := context.Background()

	record := domain.Actor{
		ServerID: "srv-A1", Code: "ACT-2026-0001", Name: "Coop Kivu",
		Type: domain.ActorProducer, Region: "North Kivu", Active: true,
		SyncStatus: domain.SyncStatusSynced, SyncedAt: time.Now().UTC(),
	}
	if err := repo.UpsertFromServer(ctx, record); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	record.Active = false
	record.Region = "South Kivu"
	if err := repo.UpsertFromServer(ctx, record); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("count = %d, want a single row after re-upsert", n)
	}
	got, err := repo.GetByServerID(ctx, "srv-A1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active || got.Region != "South Kivu" {
		t.Fatalf("got %+v", got)
	}
}

func TestActorCacheUpsertLeavesLocalRowsAlone(t *testing.T) {
	repo := NewActorCacheRepository(newTestDB(t))
	ctx := context.Background()

	// A locally created row has no server id yet; server upserts for other
	// actors must not collide with it.
	if _, err := repo.Insert(ctx, domain.Actor{
		LocalID: "local-a1", Code: "ACT-LOCAL-0001", Name: "Jean",
		Type: domain.ActorProducer, SyncStatus: domain.SyncStatusPendingCreation,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repo.UpsertFromServer(ctx, domain.Actor{
		ServerID: "srv-A2", Name: "Marie", Type: domain.ActorBuyer,
		Active: true, SyncStatus: domain.SyncStatusSynced,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if n, _ := repo.Count(ctx); n != 2 {
		t.Fatalf("count = %d", n)
	}
	local, err := repo.GetByLocalID(ctx, "local-a1")
	if err != nil || local.Name != "Jean" {
		t.Fatalf("local row: %v %+v", err, local)
	}
}
