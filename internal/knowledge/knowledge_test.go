package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/model"
)

func TestNoop_SearchAlwaysEmpty(t *testing.T) {
	s := NewNoop()
	got, err := s.Search(context.Background(), Query{}, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result from noop backend, got %v err %v", got, err)
	}
}

func TestRecall_AddDedupsByID(t *testing.T) {
	s := NewRecall(10, nil)
	ctx := context.Background()
	ep := model.FleetEpisode{ID: "e1", Score: 0.5, Timestamp: time.Now().UTC()}
	s.Add(ctx, ep)
	ep.Score = 0.9
	s.Add(ctx, ep)

	got, _ := s.Search(ctx, Query{}, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 deduped episode, got %d", len(got))
	}
	if got[0].Score != 0.9 {
		t.Fatalf("expected updated score 0.9, got %v", got[0].Score)
	}
}

func TestRecall_ExcludesFalsePositive(t *testing.T) {
	s := NewRecall(10, nil)
	ctx := context.Background()
	s.Add(ctx, model.FleetEpisode{ID: "fp", Outcome: model.OutcomeFalsePositive, Score: 1, Timestamp: time.Now()})
	s.Add(ctx, model.FleetEpisode{ID: "resolved", Outcome: model.OutcomeResolved, Score: 0.5, Timestamp: time.Now()})

	got, _ := s.Search(ctx, Query{}, 10)
	if len(got) != 1 || got[0].ID != "resolved" {
		t.Fatalf("expected only the resolved episode, got %v", got)
	}
}

func TestRecall_EvictsLowestScoredAtCapacity(t *testing.T) {
	s := NewRecall(2, nil)
	ctx := context.Background()
	s.Add(ctx, model.FleetEpisode{ID: "low", Score: 0.1, Timestamp: time.Now()})
	s.Add(ctx, model.FleetEpisode{ID: "mid", Score: 0.5, Timestamp: time.Now()})
	s.Add(ctx, model.FleetEpisode{ID: "high", Score: 0.9, Timestamp: time.Now()})

	got, _ := s.Search(ctx, Query{}, 10)
	if len(got) != 2 {
		t.Fatalf("expected capacity enforced at 2, got %d", len(got))
	}
	for _, e := range got {
		if e.ID == "low" {
			t.Fatal("expected lowest-scored episode to be evicted")
		}
	}
}

func TestStatic_FiltersByDepthRange(t *testing.T) {
	bundle := []model.FleetEpisode{
		{ID: "shallow", DepthMin: 0, DepthMax: 1000, Score: 0.8},
		{ID: "deep", DepthMin: 5000, DepthMax: 6000, Score: 0.9},
	}
	s := NewStatic(bundle)
	got, _ := s.Search(context.Background(), Query{DepthMin: 4500, DepthMax: 6500}, 5)
	if len(got) != 1 || got[0].ID != "deep" {
		t.Fatalf("expected only the deep episode, got %v", got)
	}
}

func TestStatic_RejectsAdd(t *testing.T) {
	s := NewStatic(nil)
	if err := s.Add(context.Background(), model.FleetEpisode{}); err == nil {
		t.Fatal("expected static backend to reject Add")
	}
}
