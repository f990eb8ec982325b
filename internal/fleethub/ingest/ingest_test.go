package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/wire"
)

func sampleEnvelope(rigID string, risk model.RiskLevel, ts time.Time) wire.EventEnvelope {
	return wire.EventEnvelope{
		EventID:   "evt-1",
		RigID:     rigID,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Advisory:  model.Advisory{RiskLevel: risk, Category: model.CategoryMechanical},
		HistoryWindow: []model.HistoryEntry{
			{Packet: model.TelemetryPacket{}, Metrics: model.DrillingMetrics{}},
		},
	}
}

func compress(t *testing.T, env wire.EventEnvelope) []byte {
	t.Helper()
	raw, err := wire.EncodeZstdJSON(env)
	if err != nil {
		t.Fatalf("encoding envelope: %v", err)
	}
	return raw
}

func TestAccept_InsertsQualifyingEvent(t *testing.T) {
	st := store.NewMemory()
	ig := New(st, nil)
	env := sampleEnvelope("rig-1", model.RiskHigh, time.Now())

	if err := ig.Accept(context.Background(), "rig-1", compress(t, env)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exists, err := st.EventExists(context.Background(), "evt-1")
	if err != nil || !exists {
		t.Fatalf("expected event to be stored, exists=%v err=%v", exists, err)
	}
}

func TestAccept_RejectsMismatchedRigIdentity(t *testing.T) {
	st := store.NewMemory()
	ig := New(st, nil)
	env := sampleEnvelope("rig-1", model.RiskHigh, time.Now())

	err := ig.Accept(context.Background(), "rig-2", compress(t, env))
	var tagged *errs.Error
	if err == nil || !asErr(err, &tagged) || tagged.Kind != errs.KindUploadRejectAuth {
		t.Fatalf("expected KindUploadRejectAuth, got %v", err)
	}
}

func TestAccept_RejectsBelowElevatedRisk(t *testing.T) {
	st := store.NewMemory()
	ig := New(st, nil)
	env := sampleEnvelope("rig-1", model.RiskLow, time.Now())

	err := ig.Accept(context.Background(), "rig-1", compress(t, env))
	var tagged *errs.Error
	if err == nil || !asErr(err, &tagged) || tagged.Kind != errs.KindIngestionQualityReject {
		t.Fatalf("expected KindIngestionQualityReject, got %v", err)
	}
}

func TestAccept_RejectsDuplicateEventID(t *testing.T) {
	st := store.NewMemory()
	ig := New(st, nil)
	env := sampleEnvelope("rig-1", model.RiskHigh, time.Now())
	payload := compress(t, env)

	if err := ig.Accept(context.Background(), "rig-1", payload); err != nil {
		t.Fatalf("first accept: unexpected error: %v", err)
	}
	err := ig.Accept(context.Background(), "rig-1", payload)
	var tagged *errs.Error
	if err == nil || !asErr(err, &tagged) || tagged.Kind != errs.KindUploadRejectDuplicate {
		t.Fatalf("expected KindUploadRejectDuplicate, got %v", err)
	}
}

func TestAccept_RejectsStaleTimestamp(t *testing.T) {
	st := store.NewMemory()
	ig := New(st, nil)
	env := sampleEnvelope("rig-1", model.RiskHigh, time.Now().Add(-30*24*time.Hour))

	err := ig.Accept(context.Background(), "rig-1", compress(t, env))
	var tagged *errs.Error
	if err == nil || !asErr(err, &tagged) || tagged.Kind != errs.KindIngestionQualityReject {
		t.Fatalf("expected KindIngestionQualityReject for stale timestamp, got %v", err)
	}
}

func asErr(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
