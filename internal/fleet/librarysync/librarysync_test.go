package librarysync

import (
	"context"
	"testing"

	"github.com/sairen/sairen-os/internal/knowledge"
	"github.com/sairen/sairen-os/internal/model"
)

type stubClient struct {
	episodes     []model.FleetEpisode
	prunedIDs    []string
	version      int64
	notModified  bool
	err          error
}

func (s stubClient) FetchLibrary(context.Context, int64) ([]model.FleetEpisode, []string, int64, bool, error) {
	return s.episodes, s.prunedIDs, s.version, s.notModified, s.err
}

func TestPullOnce_AddsAndPrunes(t *testing.T) {
	store := knowledge.NewRecall(10, nil)
	ctx := context.Background()
	store.Add(ctx, model.FleetEpisode{ID: "stale"})

	client := stubClient{
		episodes:  []model.FleetEpisode{{ID: "fresh", Score: 0.5}},
		prunedIDs: []string{"stale"},
		version:   3,
	}
	s := New(client, store, "rig-1", nil)
	if err := s.pullOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := store.Search(ctx, knowledge.Query{}, 10)
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("expected only the fresh episode to remain, got %v", got)
	}
	if s.lastVersion != 3 {
		t.Fatalf("expected lastVersion updated to 3, got %d", s.lastVersion)
	}
}

func TestPullOnce_NotModifiedIsNoop(t *testing.T) {
	store := knowledge.NewRecall(10, nil)
	client := stubClient{notModified: true, version: 99}
	s := New(client, store, "rig-1", nil)

	if err := s.pullOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.lastVersion != 0 {
		t.Fatalf("expected lastVersion unchanged on not-modified response, got %d", s.lastVersion)
	}
}

func TestDeterministicJitter_StableForSameSeed(t *testing.T) {
	a := deterministicJitter("rig-a", defaultJitter)
	b := deterministicJitter("rig-a", defaultJitter)
	if a != b {
		t.Fatalf("expected identical jitter for identical seed, got %v vs %v", a, b)
	}
	if a < 0 || a > defaultJitter {
		t.Fatalf("expected jitter within [0,%v], got %v", defaultJitter, a)
	}
}
