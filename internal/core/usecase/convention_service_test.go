package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

func TestAddConventionQueuesWithoutNetwork(t *testing.T) {
	f := newFixture(t)

	record, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID:     "srv-prod-1",
		BuyerExporterID: "srv-buyer-1",
		SignatureDate:   "2026-03-01",
		Status:          "draft",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !domain.IsLocalID(record.LocalID) {
		t.Fatalf("local id %q missing prefix", record.LocalID)
	}
	if record.Code != "CONV-LOCAL-0001" {
		t.Fatalf("code = %q, want CONV-LOCAL-0001", record.Code)
	}
	if record.SyncStatus != domain.SyncStatusPendingCreation {
		t.Fatalf("sync status = %q", record.SyncStatus)
	}

	if len(f.remote.createBodies) != 0 {
		t.Fatalf("Add must not call the network")
	}
	op, err := f.queue.FindUnsynced(context.Background(), domain.KindConvention, record.LocalID, "user-1")
	if err != nil {
		t.Fatalf("expected a queued create: %v", err)
	}
	if op.Operation != domain.OpCreate {
		t.Fatalf("operation = %q", op.Operation)
	}
}

func TestAddConventionValidatesPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.Conventions.Add(context.Background(), ConventionInput{
		BuyerExporterID: "srv-buyer-1",
		SignatureDate:   "2026-03-01",
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError for missing producer", err)
	}
	if n, _ := f.queue.CountPending(context.Background()); n != 0 {
		t.Fatalf("invalid input must not be queued")
	}
}

func TestLocalCodesSurviveRestart(t *testing.T) {
	f := newFixture(t)

	first, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID: "srv-p", BuyerExporterID: "srv-b", SignatureDate: "2026-01-01",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A new service graph over the same settings store stands in for a
	// process restart.
	codes := NewCodeGenerator(f.settings)
	second, err := codes.NextLocalCode(context.Background(), domain.KindConvention)
	if err != nil {
		t.Fatalf("NextLocalCode: %v", err)
	}

	if first.Code == second {
		t.Fatalf("code %q reissued after restart", second)
	}
	if first.Code != "CONV-LOCAL-0001" || second != "CONV-LOCAL-0002" {
		t.Fatalf("codes = %q, %q", first.Code, second)
	}
}

func TestOfflineEditResubmitsFailedOperation(t *testing.T) {
	f := newFixture(t)

	record, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID: "srv-p", BuyerExporterID: "srv-b", SignatureDate: "2026-01-01", Status: "draft",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	op, err := f.queue.FindUnsynced(context.Background(), domain.KindConvention, record.LocalID, "user-1")
	if err != nil {
		t.Fatalf("FindUnsynced: %v", err)
	}
	if err := f.queue.MarkExhausted(context.Background(), op.ID, 5, "producer is required"); err != nil {
		t.Fatalf("MarkExhausted: %v", err)
	}

	// Correcting the payload puts the operation back into rotation.
	err = f.Conventions.Update(context.Background(), record.LocalID,
		domain.Payload{"producersId": "srv-p2"}, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	fixed, err := f.queue.FindUnsynced(context.Background(), domain.KindConvention, record.LocalID, "user-1")
	if err != nil {
		t.Fatalf("FindUnsynced after edit: %v", err)
	}
	if fixed.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", fixed.Status)
	}
	if fixed.Retries != 0 || fixed.LastError != "" {
		t.Fatalf("resubmitted op = %+v, want retries and last error reset", fixed)
	}
	if got := payloadString(fixed.Payload, "producersId"); got != "srv-p2" {
		t.Fatalf("corrected producersId = %q", got)
	}

	f.remote.createRaw = json.RawMessage(`{"id": "srv-C9", "code": "CONV-2026-0009", "active": true}`)
	f.flush(t)
	if len(f.remote.createBodies) != 1 {
		t.Fatalf("resubmitted create was not sent")
	}
}

func TestOfflineEditAmendsQueuedOperation(t *testing.T) {
	f := newFixture(t)

	record, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID: "srv-p", BuyerExporterID: "srv-b", SignatureDate: "2026-01-01", Status: "draft",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	err = f.Conventions.Update(context.Background(), record.LocalID,
		domain.Payload{"status": "signed"}, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Still exactly one queued operation, with the merged payload.
	ops, _ := f.queue.ListByUser(context.Background(), "user-1")
	if len(ops) != 1 {
		t.Fatalf("queued operations = %d, want 1", len(ops))
	}
	if got := payloadString(ops[0].Payload, "status"); got != "signed" {
		t.Fatalf("merged status = %q", got)
	}
	if got := payloadString(ops[0].Payload, "signatureDate"); got != "2026-01-01" {
		t.Fatalf("merge dropped signatureDate, payload = %v", ops[0].Payload)
	}
	if ops[0].Operation != domain.OpCreate {
		t.Fatalf("amend must keep the original operation type, got %q", ops[0].Operation)
	}

	cached, err := f.conventions.GetByLocalID(context.Background(), record.LocalID)
	if err != nil {
		t.Fatalf("cached row: %v", err)
	}
	if cached.Status != "signed" {
		t.Fatalf("cache not refreshed, status = %q", cached.Status)
	}
	if cached.SyncStatus != domain.SyncStatusPendingCreation {
		t.Fatalf("editing a queued create must keep PENDING_CREATION, got %q", cached.SyncStatus)
	}
}

func TestOfflineEditWithoutQueuedOperation(t *testing.T) {
	f := newFixture(t)

	err := f.Conventions.Update(context.Background(), "local-ghost",
		domain.Payload{"status": "signed"}, true)
	if !errors.Is(err, domain.ErrNoPendingOperation) {
		t.Fatalf("err = %v, want ErrNoPendingOperation", err)
	}
}

func TestCreateFlowPromotesLocalRecord(t *testing.T) {
	f := newFixture(t)
	f.remote.createRaw = json.RawMessage(`{
		"id": "srv-C1", "code": "CONV-2026-0042",
		"producersId": "srv-p", "buyerExporterId": "srv-b",
		"signatureDate": "2026-01-01", "status": "draft", "active": true
	}`)

	record, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID: "srv-p", BuyerExporterID: "srv-b", SignatureDate: "2026-01-01", Status: "draft",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.flush(t)

	promoted, err := f.conventions.GetByLocalID(context.Background(), record.LocalID)
	if err != nil {
		t.Fatalf("promoted row: %v", err)
	}
	if promoted.ServerID != "srv-C1" {
		t.Fatalf("server id = %q", promoted.ServerID)
	}
	if promoted.Code != "CONV-2026-0042" {
		t.Fatalf("code = %q, want the server-assigned one", promoted.Code)
	}
	if promoted.SyncStatus != domain.SyncStatusSynced {
		t.Fatalf("sync status = %q", promoted.SyncStatus)
	}
	// The local id survives promotion so stale references keep resolving.
	if promoted.LocalID != record.LocalID {
		t.Fatalf("local id rewritten to %q", promoted.LocalID)
	}

	if n, _ := f.queue.CountPending(context.Background()); n != 0 {
		t.Fatalf("queue not drained")
	}
	// The wire payload never carries client-only fields.
	body, ok := f.remote.createBodies[0].(domain.Payload)
	if !ok {
		t.Fatalf("create body type %T", f.remote.createBodies[0])
	}
	if _, found := body["localId"]; found {
		t.Fatalf("localId leaked to the server")
	}
	if _, found := body["code"]; found {
		t.Fatalf("local code leaked to the server")
	}
}

func TestQueuedUpdateResolvesLocalReferences(t *testing.T) {
	f := newFixture(t)

	// An actor created offline, then a convention referencing it by local id.
	if _, err := f.actors.Insert(context.Background(), domain.Actor{
		LocalID: "local-prod", SyncStatus: domain.SyncStatusPendingCreation,
	}); err != nil {
		t.Fatalf("seed actor: %v", err)
	}

	f.remote.createRaw = json.RawMessage(`{"id": "srv-C1", "code": "CONV-2026-0001", "active": true}`)

	record, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID: "local-prod", BuyerExporterID: "srv-b", SignatureDate: "2026-01-01",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// First pass: the referenced actor is unsynced, the create must stay
	// queued and be retried later.
	f.flush(t)
	if len(f.remote.createBodies) != 0 {
		t.Fatalf("create sent before its actor reference resolved")
	}
	op, err := f.queue.FindUnsynced(context.Background(), domain.KindConvention, record.LocalID, "user-1")
	if err != nil {
		t.Fatalf("operation dropped: %v", err)
	}
	if op.Retries != 1 {
		t.Fatalf("retries = %d, want 1", op.Retries)
	}
	if !strings.Contains(op.LastError, "not yet synced") {
		t.Fatalf("last error = %q", op.LastError)
	}

	// The actor lands; the next due pass resolves and sends.
	if err := f.actors.Promote(context.Background(), "local-prod", "srv-prod-9", "ACT-1", time.Now().UTC()); err != nil {
		t.Fatalf("promote actor: %v", err)
	}
	f.queue.mu.Lock()
	for i := range f.queue.ops {
		f.queue.ops[i].NextAttemptAt = time.Now().UTC().Add(-time.Second)
	}
	f.queue.mu.Unlock()
	f.flush(t)

	if len(f.remote.createBodies) != 1 {
		t.Fatalf("create not sent after reference resolved")
	}
	body := f.remote.createBodies[0].(domain.Payload)
	if got := payloadString(body, "producersId"); got != "srv-prod-9" {
		t.Fatalf("producersId = %q, want resolved server id", got)
	}
}

func TestOfflineConventionListingUnsupported(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.Conventions.GetAll(context.Background(), domain.ConventionFilter{}, false)
	if !errors.Is(err, domain.ErrOfflineUnsupported) {
		t.Fatalf("err = %v, want ErrOfflineUnsupported", err)
	}
}

func TestOfflineGetByIDReconstructsFromQueue(t *testing.T) {
	f := newFixture(t)

	record, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID: "srv-p", BuyerExporterID: "srv-b", SignatureDate: "2026-01-01", Status: "draft",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := f.Conventions.GetByID(context.Background(), record.LocalID, false)
	if err != nil {
		t.Fatalf("GetByID offline: %v", err)
	}
	if got.SignatureDate != "2026-01-01" || got.Status != "draft" {
		t.Fatalf("reconstructed view = %+v", got)
	}
	if got.SyncStatus != domain.SyncStatusPendingCreation {
		t.Fatalf("sync status = %q", got.SyncStatus)
	}

	if _, err := f.Conventions.GetByID(context.Background(), "local-nope", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestSyncOnLoginFullFetchSkipsInactive(t *testing.T) {
	f := newFixture(t)
	syncedAt := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	f.remote.syncAll = ports.SyncBatch{
		Items: []json.RawMessage{
			json.RawMessage(`{"id": "srv-1", "code": "C-1", "active": true}`),
			json.RawMessage(`{"id": "srv-2", "code": "C-2", "active": false}`),
		},
		SyncedAt: syncedAt,
	}

	if err := f.Conventions.SyncOnLogin(context.Background()); err != nil {
		t.Fatalf("SyncOnLogin: %v", err)
	}

	if n, _ := f.conventions.Count(context.Background()); n != 1 {
		t.Fatalf("cached = %d, want only the active record", n)
	}
	mark, _ := f.watermarks.Get(context.Background(), domain.KindConvention)
	if !mark.Equal(syncedAt) {
		t.Fatalf("watermark = %v, want %v", mark, syncedAt)
	}
}

func TestSyncOnLoginIncrementalDeletesInactive(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	// Seed a non-empty cache and a pending delta count.
	seedCache(t, f, "srv-1", "srv-2")
	if err := f.watermarks.Advance(context.Background(), domain.KindConvention, start); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}
	f.poller.SetEntityCount(domain.KindConvention, 2)

	newMark := start.Add(time.Hour)
	f.remote.syncUpd = ports.SyncBatch{
		Items: []json.RawMessage{
			json.RawMessage(`{"id": "srv-1", "code": "C-1", "status": "signed", "active": true}`),
			json.RawMessage(`{"id": "srv-2", "code": "C-2", "active": false}`),
		},
		SyncedAt: newMark,
	}

	if err := f.Conventions.SyncOnLogin(context.Background()); err != nil {
		t.Fatalf("SyncOnLogin: %v", err)
	}

	if len(f.remote.syncSince) != 1 || !f.remote.syncSince[0].Equal(start) {
		t.Fatalf("since = %v, want [%v]", f.remote.syncSince, start)
	}
	if _, err := f.conventions.GetByServerID(context.Background(), "srv-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("inactive record kept in cache")
	}
	updated, err := f.conventions.GetByServerID(context.Background(), "srv-1")
	if err != nil {
		t.Fatalf("updated record: %v", err)
	}
	if updated.Status != "signed" {
		t.Fatalf("status = %q", updated.Status)
	}
	mark, _ := f.watermarks.Get(context.Background(), domain.KindConvention)
	if !mark.Equal(newMark) {
		t.Fatalf("watermark = %v, want %v", mark, newMark)
	}
	if f.poller.EntityCount(domain.KindConvention) != 0 {
		t.Fatalf("delta counter not reset")
	}
}

func TestWatermarkUnchangedWhenBatchFails(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	seedCache(t, f, "srv-1")
	if err := f.watermarks.Advance(context.Background(), domain.KindConvention, start); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}
	f.poller.SetEntityCount(domain.KindConvention, 1)

	f.remote.syncUpd = ports.SyncBatch{
		Items: []json.RawMessage{
			json.RawMessage(`{"id": "srv-1", "active": true}`),
			json.RawMessage(`not-json`),
		},
		SyncedAt: start.Add(time.Hour),
	}

	if err := f.Conventions.SyncOnLogin(context.Background()); err == nil {
		t.Fatalf("expected a decode failure")
	}

	mark, _ := f.watermarks.Get(context.Background(), domain.KindConvention)
	if !mark.Equal(start) {
		t.Fatalf("watermark advanced past a failed batch: %v", mark)
	}
}

func TestSyncOnLoginSkipsUnauthorizedRole(t *testing.T) {
	f := newFixture(t)
	f.syncCtx.SetUser("buyer-1", domain.RoleBuyer)
	f.remote.syncAllErr = errors.New("must not be called")

	if err := f.Conventions.SyncOnLogin(context.Background()); err != nil {
		t.Fatalf("SyncOnLogin for buyer: %v", err)
	}
	if n, _ := f.conventions.Count(context.Background()); n != 0 {
		t.Fatalf("buyer role must not populate the convention cache")
	}
}

func TestAttachmentFailureDoesNotRollBackCreate(t *testing.T) {
	f := newFixture(t)
	f.remote.createRaw = json.RawMessage(`{"id": "srv-C1", "code": "CONV-2026-0001", "active": true}`)
	f.remote.uploadErr = errors.New("payload too large")

	record, err := f.Conventions.Add(context.Background(), ConventionInput{
		ProducersID: "srv-p", BuyerExporterID: "srv-b", SignatureDate: "2026-01-01",
		Documents: []domain.Document{{Name: "contract.pdf", MimeType: "application/pdf", Content: []byte("pdf")}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.flush(t)

	promoted, err := f.conventions.GetByLocalID(context.Background(), record.LocalID)
	if err != nil || promoted.ServerID != "srv-C1" {
		t.Fatalf("create rolled back on attachment failure: %v %+v", err, promoted)
	}
	if n, _ := f.queue.CountPending(context.Background()); n != 0 {
		t.Fatalf("operation requeued on attachment failure")
	}

	found := false
	for _, e := range f.sink.typesSeen() {
		if e == domain.EventAttachmentFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("attachment failure not surfaced through the sink")
	}
}

func TestClearLocalDataDropsCacheAndWatermark(t *testing.T) {
	f := newFixture(t)
	seedCache(t, f, "srv-1")
	if err := f.watermarks.Advance(context.Background(), domain.KindConvention, time.Now().UTC()); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	if err := f.Conventions.ClearLocalData(context.Background()); err != nil {
		t.Fatalf("ClearLocalData: %v", err)
	}
	if n, _ := f.conventions.Count(context.Background()); n != 0 {
		t.Fatalf("cache not cleared")
	}
	mark, _ := f.watermarks.Get(context.Background(), domain.KindConvention)
	if !mark.IsZero() {
		t.Fatalf("watermark not cleared")
	}
}

func TestAssociateToCampaignOnlineOnly(t *testing.T) {
	f := newFixture(t)

	err := f.Conventions.AssociateToCampaign(context.Background(), "srv-C1", "camp-1", false)
	if !errors.Is(err, domain.ErrOfflineUnsupported) {
		t.Fatalf("offline err = %v", err)
	}

	if err := f.Conventions.AssociateToCampaign(context.Background(), "srv-C1", "camp-1", true); err != nil {
		t.Fatalf("online associate: %v", err)
	}
	if len(f.remote.assocCalls) != 1 || f.remote.assocCalls[0] != "conventions/srv-C1/campaigns/camp-1" {
		t.Fatalf("associate calls = %v", f.remote.assocCalls)
	}
}

func seedCache(t *testing.T, f *fixture, serverIDs ...string) {
	t.Helper()
	for _, id := range serverIDs {
		if err := f.conventions.UpsertFromServer(context.Background(), domain.Convention{
			ServerID: id, SyncStatus: domain.SyncStatusSynced,
		}); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}
}
