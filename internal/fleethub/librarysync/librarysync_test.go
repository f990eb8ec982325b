package librarysync

import (
	"context"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/model"
)

func TestPull_NotModifiedWhenNothingChanged(t *testing.T) {
	st := store.NewMemory()
	h := New(st)

	_, notModified, err := h.Pull(context.Background(), "rig-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !notModified {
		t.Fatal("expected NotModified with no episode activity")
	}
}

func TestPull_ReturnsActiveEpisodesExcludingRequestingRig(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Hour)

	st.InsertEpisode(ctx, model.FleetEpisode{ID: "e1", SourceRigID: "rig-2", Category: model.CategoryMechanical, UpdatedAt: time.Now().UTC(), Score: 0.8})
	st.InsertEpisode(ctx, model.FleetEpisode{ID: "e2", SourceRigID: "rig-1", Category: model.CategoryMechanical, UpdatedAt: time.Now().UTC(), Score: 0.9})
	st.IncrementLibraryVersion(ctx)

	h := New(st)
	resp, notModified, err := h.Pull(ctx, "rig-1", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notModified {
		t.Fatal("expected changes to be reported")
	}
	if len(resp.Episodes) != 1 || resp.Episodes[0].ID != "e1" {
		t.Fatalf("expected only rig-2's episode to be returned, got %v", resp.Episodes)
	}
	if resp.TotalActive != 2 {
		t.Fatalf("expected total active count of 2, got %d", resp.TotalActive)
	}
}

func TestPull_ReturnsPrunedIDs(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Hour)

	st.InsertEpisode(ctx, model.FleetEpisode{ID: "e1", SourceRigID: "rig-2", Category: model.CategoryMechanical, UpdatedAt: time.Now().UTC(), Archived: true})

	h := New(st)
	resp, notModified, err := h.Pull(ctx, "rig-1", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notModified {
		t.Fatal("expected archived episode to be reported as a prune")
	}
	if len(resp.PrunedIDs) != 1 || resp.PrunedIDs[0] != "e1" {
		t.Fatalf("expected e1 in pruned ids, got %v", resp.PrunedIDs)
	}
}

func TestPull_RecordsSyncLogAndTouchesRig(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	st.UpsertRig(ctx, model.Rig{RigID: "rig-1"})
	st.InsertEpisode(ctx, model.FleetEpisode{ID: "e1", SourceRigID: "rig-2", Category: model.CategoryMechanical, UpdatedAt: time.Now().UTC()})

	h := New(st)
	if _, _, err := h.Pull(ctx, "rig-1", time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rig, found, _ := st.GetRig(ctx, "rig-1")
	if !found || rig.LastSeen.IsZero() {
		t.Fatal("expected rig last-seen to be touched after sync")
	}
}
