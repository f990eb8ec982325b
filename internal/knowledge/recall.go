package knowledge

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sairen/sairen-os/internal/model"
)

const (
	defaultMaxEpisodes = 10000
	recencyHalfLife     = 14 * 24 * time.Hour // a 2-week-old episode's quality weight halves
)

// Persister is the narrow interface rigstore implements; kept local to
// avoid knowledge depending on the storage package's full surface.
type Persister interface {
	SaveEpisodes(episodes []model.FleetEpisode) error
	LoadEpisodes() ([]model.FleetEpisode, error)
}

// recallStore is the in-memory recall backend: up to maxEpisodes entries,
// filtered by campaign/category/depth/outcome and ranked by a
// recency-decayed outcome-quality score. Optionally mirrors its working
// set through a Persister so a restart doesn't cold-start precedent
// search.
type recallStore struct {
	mu          sync.RWMutex
	episodes    map[string]model.FleetEpisode
	maxEpisodes int
	persist     Persister
}

// NewRecall builds an in-memory recall backend, optionally restoring its
// working set from persist if non-nil.
func NewRecall(maxEpisodes int, persist Persister) Store {
	if maxEpisodes <= 0 {
		maxEpisodes = defaultMaxEpisodes
	}
	r := &recallStore{episodes: make(map[string]model.FleetEpisode), maxEpisodes: maxEpisodes, persist: persist}
	if persist != nil {
		if loaded, err := persist.LoadEpisodes(); err == nil {
			for _, e := range loaded {
				r.episodes[e.ID] = e
			}
		}
	}
	return r
}

func (r *recallStore) Add(_ context.Context, episode model.FleetEpisode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.episodes[episode.ID] = episode // dedup by id
	if len(r.episodes) > r.maxEpisodes {
		r.evictLowestScoredLocked()
	}
	return r.persistLocked()
}

func (r *recallStore) Remove(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.episodes, id)
	}
	return r.persistLocked()
}

func (r *recallStore) Search(_ context.Context, q Query, k int) ([]model.FleetEpisode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now().UTC()
	var matches []model.FleetEpisode
	for _, e := range r.episodes {
		if e.Outcome == model.OutcomeFalsePositive {
			continue
		}
		if !matchesQuery(e, q) {
			continue
		}
		matches = append(matches, e)
	}

	weights := make(map[string]float64, len(matches))
	for _, e := range matches {
		weights[e.ID] = decayedQuality(e, now)
	}
	sortByWeight(matches, weights)

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func decayedQuality(e model.FleetEpisode, now time.Time) float64 {
	age := now.Sub(e.Timestamp)
	if age < 0 {
		age = 0
	}
	decay := math.Exp(-float64(age) / float64(recencyHalfLife) * math.Ln2)
	return e.Score * decay
}

func sortByWeight(episodes []model.FleetEpisode, weight map[string]float64) {
	for i := 1; i < len(episodes); i++ {
		for j := i; j > 0 && weight[episodes[j].ID] > weight[episodes[j-1].ID]; j-- {
			episodes[j], episodes[j-1] = episodes[j-1], episodes[j]
		}
	}
}

// evictLowestScoredLocked drops the single lowest-scored episode. Called
// under r.mu already held.
func (r *recallStore) evictLowestScoredLocked() {
	var worstID string
	worstScore := math.Inf(1)
	for id, e := range r.episodes {
		if e.Score < worstScore {
			worstScore = e.Score
			worstID = id
		}
	}
	if worstID != "" {
		delete(r.episodes, worstID)
	}
}

func (r *recallStore) persistLocked() error {
	if r.persist == nil {
		return nil
	}
	all := make([]model.FleetEpisode, 0, len(r.episodes))
	for _, e := range r.episodes {
		all = append(all, e)
	}
	return r.persist.SaveEpisodes(all)
}
