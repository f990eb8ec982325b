package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/fleethub/curator"
	"github.com/sairen/sairen-os/internal/fleethub/ingest"
	"github.com/sairen/sairen-os/internal/fleethub/librarysync"
	"github.com/sairen/sairen-os/internal/fleethub/registry"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/wire"
)

type testFixture struct {
	srv      *Server
	mux      *http.ServeMux
	st       store.Store
	reg      *registry.Registry
	rigToken string
	adminToken string
}

func newTestFixture(t *testing.T) testFixture {
	t.Helper()
	st := store.NewMemory()
	reg := registry.New(registry.NewMemoryStore())

	rigCred, rigSecret, err := reg.RegisterRig(context.Background(), "rig-42")
	if err != nil {
		t.Fatalf("registering rig credential: %v", err)
	}
	if err := st.UpsertRig(context.Background(), model.Rig{RigID: "rig-42", Status: model.RigActive}); err != nil {
		t.Fatalf("seeding rig record: %v", err)
	}
	adminCred, adminSecret, err := reg.RegisterAdmin(context.Background())
	if err != nil {
		t.Fatalf("registering admin credential: %v", err)
	}

	d := Deps{
		Store:       st,
		Registry:    reg,
		Ingester:    ingest.New(st, nil),
		LibrarySync: librarysync.New(st),
		Curator:     curator.New(st, nil),
	}
	srv := NewServer(d)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	return testFixture{
		srv: srv, mux: mux, st: st, reg: reg,
		rigToken:   rigCred + "." + rigSecret,
		adminToken: adminCred + "." + adminSecret,
	}
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer, into interface{}) {
	t.Helper()
	var env envelope
	env.Data = into
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
}

func TestHandleEventIngest_RejectsMissingBearerToken(t *testing.T) {
	f := newTestFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/fleet/events", bytes.NewReader([]byte("x")))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}
}

func TestHandleEventIngest_AcceptsValidCompressedEnvelope(t *testing.T) {
	f := newTestFixture(t)

	env := wire.EventEnvelope{
		EventID:       "evt-1",
		RigID:         "rig-42",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Advisory:      model.Advisory{ID: "adv-1", RiskLevel: model.RiskHigh, Category: model.CategoryMechanical},
		HistoryWindow: []model.HistoryEntry{{}},
	}
	compressed, err := wire.EncodeZstdJSON(env)
	if err != nil {
		t.Fatalf("compressing envelope: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/fleet/events", bytes.NewReader(compressed))
	req.Header.Set("Authorization", "Bearer "+f.rigToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	exists, err := f.st.EventExists(context.Background(), "evt-1")
	if err != nil || !exists {
		t.Fatalf("expected event to be stored, exists=%v err=%v", exists, err)
	}
}

func TestHandleEventIngest_RigIdentityScopedToOwnRigOnly(t *testing.T) {
	f := newTestFixture(t)

	env := wire.EventEnvelope{
		EventID:   "evt-2",
		RigID:     "some-other-rig",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Advisory:  model.Advisory{ID: "adv-2", RiskLevel: model.RiskHigh},
	}
	compressed, _ := wire.EncodeZstdJSON(env)

	req := httptest.NewRequest(http.MethodPost, "/fleet/events", bytes.NewReader(compressed))
	req.Header.Set("Authorization", "Bearer "+f.rigToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code == http.StatusAccepted {
		t.Fatalf("expected rejection when envelope rig id does not match authenticated rig, got 202")
	}
}

func TestHandleEventOutcome_RecordsOutcomeOnExistingEvent(t *testing.T) {
	f := newTestFixture(t)
	if err := f.st.InsertEvent(context.Background(), store.EventRecord{
		EventID: "evt-3", RigID: "rig-42", Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seeding event: %v", err)
	}

	body, _ := json.Marshal(outcomeUpdateRequest{
		EventID: "evt-3",
		Outcome: model.AcknowledgmentRecord{Actor: "operator-9", Outcome: "confirmed"},
	})
	req := httptest.NewRequest(http.MethodPost, "/fleet/events/outcome", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.rigToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	events, err := f.st.ListEvents(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	var found bool
	for _, e := range events {
		if e.EventID == "evt-3" {
			found = true
			if e.Outcome == nil || e.Outcome.Actor != "operator-9" {
				t.Fatalf("expected outcome to be recorded, got %+v", e.Outcome)
			}
		}
	}
	if !found {
		t.Fatalf("expected to find seeded event evt-3")
	}
}

func TestHandleLibraryPull_RejectsNonRigCredential(t *testing.T) {
	f := newTestFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/fleet/library", nil)
	req.Header.Set("Authorization", "Bearer "+f.adminToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin token on rig-scoped route, got %d", rec.Code)
	}
}

func TestHandleLibraryPull_NotModifiedWhenNothingChanged(t *testing.T) {
	f := newTestFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/fleet/library", nil)
	req.Header.Set("Authorization", "Bearer "+f.rigToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304 when nothing changed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRigs_RequiresAdminCredential(t *testing.T) {
	f := newTestFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/fleet/rigs", nil)
	req.Header.Set("Authorization", "Bearer "+f.rigToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for rig token on admin route, got %d", rec.Code)
	}
}

func TestHandleRigs_RegistersNewRigAndListsIt(t *testing.T) {
	f := newTestFixture(t)
	body, _ := json.Marshal(map[string]string{"rig_id": "rig-99", "well_id": "well-7", "field": "north"})
	req := httptest.NewRequest(http.MethodPost, "/fleet/rigs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.adminToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/fleet/rigs", nil)
	getReq.Header.Set("Authorization", "Bearer "+f.adminToken)
	getRec := httptest.NewRecorder()
	f.mux.ServeHTTP(getRec, getReq)

	var rigs []model.Rig
	decodeEnvelope(t, getRec.Body, &rigs)
	var found bool
	for _, r := range rigs {
		if r.RigID == "rig-99" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected rig-99 to be listed after registration, got %+v", rigs)
	}
}

func TestHandleDashboardSummary_CountsActiveRigsAndEpisodes(t *testing.T) {
	f := newTestFixture(t)
	if err := f.st.InsertEpisode(context.Background(), model.FleetEpisode{ID: "ep-1", Category: model.CategoryMechanical}); err != nil {
		t.Fatalf("seeding episode: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/fleet/dashboard/summary", nil)
	req.Header.Set("Authorization", "Bearer "+f.adminToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary dashboardSummary
	decodeEnvelope(t, rec.Body, &summary)
	if summary.ActiveRigs != 1 || summary.ActiveEpisodes != 1 {
		t.Fatalf("expected 1 rig and 1 episode, got %+v", summary)
	}
}

func TestHandleHealth_ReportsHealthyWithWorkingStore(t *testing.T) {
	f := newTestFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report map[string]bool
	decodeEnvelope(t, rec.Body, &report)
	if !report["healthy"] {
		t.Fatalf("expected healthy=true, got %+v", report)
	}
}
