package federation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/recurrent"
)

func mustMarshal(t *testing.T, cp recurrent.Checkpoint) []byte {
	t.Helper()
	raw, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("marshaling checkpoint: %v", err)
	}
	return raw
}

func sampleCheckpoint(seed string, rows, cols int, fill float64) recurrent.Checkpoint {
	mat := make([][]float64, rows)
	for i := range mat {
		mat[i] = make([]float64, cols)
		for j := range mat[i] {
			mat[i][j] = fill
		}
	}
	return recurrent.Checkpoint{
		Seed:            seed,
		SensoryInternal: mat,
		InternalCommand: mat,
		CommandMotor:    mat,
		NormMean:        []float64{0, 0},
		NormM2:          []float64{0, 0},
		Centroids:       [][]float64{{0, 0}},
	}
}

func TestAccept_FirstCheckpointBecomesAggregate(t *testing.T) {
	st := store.NewMemory()
	h := New(st, nil)
	cp := sampleCheckpoint("seed-a", 2, 2, 1.0)

	if err := h.Accept(context.Background(), "rig-1", mustMarshal(t, cp)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, _, found, err := h.Aggregate(context.Background())
	if err != nil || !found {
		t.Fatalf("expected an aggregate to exist, found=%v err=%v", found, err)
	}
	var got recurrent.Checkpoint
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshaling aggregate: %v", err)
	}
	if got.SensoryInternal[0][0] != 1.0 {
		t.Fatalf("expected aggregate to equal the single contributed checkpoint, got %v", got.SensoryInternal[0][0])
	}
}

func TestAccept_AveragesTwoRigs(t *testing.T) {
	st := store.NewMemory()
	h := New(st, nil)
	ctx := context.Background()

	if err := h.Accept(ctx, "rig-1", mustMarshal(t, sampleCheckpoint("seed-a", 1, 1, 0.0))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Accept(ctx, "rig-2", mustMarshal(t, sampleCheckpoint("seed-a", 1, 1, 2.0))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, _, found, err := h.Aggregate(ctx)
	if err != nil || !found {
		t.Fatalf("expected an aggregate, found=%v err=%v", found, err)
	}
	var got recurrent.Checkpoint
	json.Unmarshal(raw, &got)
	if got.SensoryInternal[0][0] != 1.0 {
		t.Fatalf("expected averaged weight of 1.0, got %v", got.SensoryInternal[0][0])
	}
}

func TestAccept_SkipsIncompatibleSeedWithoutAbortingRecompute(t *testing.T) {
	st := store.NewMemory()
	h := New(st, nil)
	ctx := context.Background()

	if err := h.Accept(ctx, "rig-1", mustMarshal(t, sampleCheckpoint("seed-a", 1, 1, 5.0))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Accept(ctx, "rig-2", mustMarshal(t, sampleCheckpoint("seed-b", 1, 1, 9.0))); err != nil {
		t.Fatalf("unexpected error from accepting mismatched-seed checkpoint: %v", err)
	}

	_, _, found, err := h.Aggregate(ctx)
	if err != nil || !found {
		t.Fatalf("expected aggregate to still exist despite one incompatible rig, found=%v err=%v", found, err)
	}
}
