package knowledge

import (
	"context"
	"strings"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/model"
)

// staticStore is a read-only keyword/metadata index over a bundled
// library of episodes — the in-repo stand-in for the real knowledge-base
// file-tree, which is an external collaborator in production. Add and
// Remove are rejected: the bundled library only changes by redeploying a
// new bundle.
type staticStore struct {
	episodes []model.FleetEpisode
}

// NewStatic builds a static backend over a pre-loaded bundle (e.g.
// decoded from a shipped JSON file at startup).
func NewStatic(bundle []model.FleetEpisode) Store {
	return &staticStore{episodes: bundle}
}

func (s *staticStore) Add(context.Context, model.FleetEpisode) error {
	return errs.New(errs.KindPersistenceCorrupt, "static knowledge backend is read-only")
}

func (s *staticStore) Remove(context.Context, []string) error {
	return errs.New(errs.KindPersistenceCorrupt, "static knowledge backend is read-only")
}

func (s *staticStore) Search(_ context.Context, q Query, k int) ([]model.FleetEpisode, error) {
	var matches []model.FleetEpisode
	for _, e := range s.episodes {
		if !matchesQuery(e, q) {
			continue
		}
		matches = append(matches, e)
	}
	rankByScore(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func matchesQuery(e model.FleetEpisode, q Query) bool {
	if q.Campaign != "" && !strings.EqualFold(e.Campaign, q.Campaign) {
		return false
	}
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if q.ExcludeOutcome != "" && e.Outcome == q.ExcludeOutcome {
		return false
	}
	if q.DepthMax > 0 && (e.DepthMax < q.DepthMin || e.DepthMin > q.DepthMax) {
		return false
	}
	return true
}

func rankByScore(episodes []model.FleetEpisode) {
	for i := 1; i < len(episodes); i++ {
		for j := i; j > 0 && episodes[j].Score > episodes[j-1].Score; j-- {
			episodes[j], episodes[j-1] = episodes[j-1], episodes[j]
		}
	}
}
