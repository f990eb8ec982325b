package curator

import (
	"context"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/model"
)

func eventAt(id, rigID string, category model.Category, depth float64, age time.Duration, outcome model.EpisodeOutcome) store.EventRecord {
	ts := time.Now().UTC().Add(-age)
	var ack *model.AcknowledgmentRecord
	if outcome != "" {
		ack = &model.AcknowledgmentRecord{Outcome: string(outcome), Notes: "handled"}
	}
	return store.EventRecord{
		EventID:   id,
		RigID:     rigID,
		Timestamp: ts,
		Advisory: model.Advisory{
			Category:  category,
			RiskLevel: model.RiskHigh,
		},
		HistoryWindow: []model.HistoryEntry{
			{Packet: model.TelemetryPacket{Channels: model.Channels{Depth: depth}}},
		},
		Outcome:       ack,
		NeedsCuration: true,
	}
}

func TestCurateBatch_InsertsNewEpisodeAndMarksCurated(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	st.InsertEvent(ctx, eventAt("evt-1", "rig-1", model.CategoryMechanical, 1000, time.Hour, model.OutcomeResolved))

	c := New(st, nil)
	if err := c.Cycle(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, _ := st.ActiveEpisodes(ctx)
	if len(active) != 1 {
		t.Fatalf("expected one episode, got %d", len(active))
	}
	if active[0].Score <= 0 {
		t.Fatalf("expected positive score, got %v", active[0].Score)
	}

	pending, _ := st.EventsNeedingCuration(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected no events still needing curation, got %d", len(pending))
	}

	ver, _ := st.CurrentLibraryVersion(ctx)
	if ver != 1 {
		t.Fatalf("expected library version incremented to 1, got %d", ver)
	}
}

func TestCurateBatch_MergesOverlappingDuplicate(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	st.InsertEvent(ctx, eventAt("evt-1", "rig-1", model.CategoryMechanical, 1000, time.Hour, model.OutcomePending))

	c := New(st, nil)
	if err := c.Cycle(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st.InsertEvent(ctx, eventAt("evt-2", "rig-1", model.CategoryMechanical, 1001, 55*time.Minute, model.OutcomeResolved))
	if err := c.Cycle(ctx); err != nil {
		t.Fatalf("unexpected error on second cycle: %v", err)
	}

	active, _ := st.ActiveEpisodes(ctx)
	if len(active) != 1 {
		t.Fatalf("expected merge to keep a single episode, got %d", len(active))
	}
	if active[0].Outcome != model.OutcomeResolved {
		t.Fatalf("expected merged outcome to prefer Resolved, got %v", active[0].Outcome)
	}
}

func TestPrune_ArchivesOldEpisodes(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	st.InsertEpisode(ctx, model.FleetEpisode{
		ID:        "old-1",
		Category:  model.CategoryMechanical,
		Timestamp: time.Now().UTC().Add(-400 * 24 * time.Hour),
		UpdatedAt: time.Now().UTC(),
		Score:     0.5,
	})

	c := New(st, nil)
	if err := c.prune(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, _ := st.ActiveEpisodes(ctx)
	if len(active) != 0 {
		t.Fatalf("expected aged episode to be archived, got %d active", len(active))
	}
}

func TestPrune_ClampsStalePendingScore(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	st.InsertEpisode(ctx, model.FleetEpisode{
		ID:        "pending-1",
		Category:  model.CategoryMechanical,
		Outcome:   model.OutcomePending,
		Timestamp: time.Now().UTC().Add(-40 * 24 * time.Hour),
		UpdatedAt: time.Now().UTC(),
		Score:     0.9,
	})

	c := New(st, nil)
	if err := c.prune(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, found, _ := st.FindEpisode(ctx, "pending-1")
	if !found {
		t.Fatal("expected episode to remain active")
	}
	if e.Score != pendingClampScore {
		t.Fatalf("expected score clamped to %v, got %v", pendingClampScore, e.Score)
	}
}
