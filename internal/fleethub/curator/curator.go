// Package curator turns raw ingested events into scored, deduplicated
// fleet episodes. It runs on a fixed schedule (Run); writes do not
// trigger a cycle. Callers are responsible for ensuring only one
// instance runs at a time (an advisory lock in front of Run in a real
// multi-replica deployment — this build assumes a single hub process).
package curator

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/model"
)

const (
	defaultInterval = time.Hour

	recencyHalfLifeDays = 180
	maxActiveEpisodes   = 50000

	archiveAge            = 365 * 24 * time.Hour
	falsePositiveArchiveAge = 90 * 24 * time.Hour
	pendingClampAge        = 30 * 24 * time.Hour
	pendingClampScore      = 0.05

	depthToleranceMeters = 5.0
	dedupTimeTolerance   = 30 * time.Minute
)

var outcomeWeight = map[model.EpisodeOutcome]float64{
	model.OutcomeResolved:      1.0,
	model.OutcomeEscalated:     0.7,
	model.OutcomePending:       0.2,
	model.OutcomeFalsePositive: 0.1,
}

// Curator is the hub's scoring/dedup/pruning worker.
type Curator struct {
	store    store.Store
	interval time.Duration
	log      *zap.Logger
}

func New(st store.Store, log *zap.Logger) *Curator {
	return &Curator{store: st, interval: defaultInterval, log: log}
}

func (c *Curator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Cycle(ctx); err != nil && c.log != nil {
				c.log.Warn("curator cycle failed", zap.Error(err))
			}
		}
	}
}

// Cycle runs one full pass: score/dedup pending events, then prune.
func (c *Curator) Cycle(ctx context.Context) error {
	processed, err := c.curateBatch(ctx)
	if err != nil {
		return err
	}
	if processed > 0 {
		if _, err := c.store.IncrementLibraryVersion(ctx); err != nil {
			return errs.Wrap(errs.KindPersistenceTransient, "incrementing library version", err)
		}
	}
	return c.prune(ctx)
}

func (c *Curator) curateBatch(ctx context.Context) (int, error) {
	pending, err := c.store.EventsNeedingCuration(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistenceTransient, "listing events needing curation", err)
	}

	active, err := c.store.ActiveEpisodes(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistenceTransient, "listing active episodes", err)
	}
	categoryCounts := make(map[model.Category]int)
	for _, e := range active {
		categoryCounts[e.Category]++
	}
	totalActive := len(active)

	now := time.Now().UTC()
	for _, evt := range pending {
		candidate := episodeFromEvent(evt)
		candidate.Score = score(candidate, categoryCounts, totalActive, now)

		existing, found, err := c.store.FindCandidateDuplicate(ctx, candidate.SourceRigID, candidate.Category, candidate.DepthMin, candidate.DepthMax, candidate.Timestamp, depthToleranceMeters, dedupTimeTolerance)
		if err != nil {
			return 0, errs.Wrap(errs.KindPersistenceTransient, "finding duplicate episode", err)
		}
		if found {
			merged := mergeEpisodes(existing, candidate)
			if err := c.store.UpdateEpisode(ctx, merged); err != nil {
				return 0, errs.Wrap(errs.KindPersistenceTransient, "updating merged episode", err)
			}
		} else {
			if err := c.store.InsertEpisode(ctx, candidate); err != nil {
				return 0, errs.Wrap(errs.KindPersistenceTransient, "inserting episode", err)
			}
			categoryCounts[candidate.Category]++
			totalActive++
		}

		if err := c.store.MarkEventCurated(ctx, evt.EventID, now); err != nil {
			return 0, errs.Wrap(errs.KindPersistenceTransient, "marking event curated", err)
		}
	}
	return len(pending), nil
}

func (c *Curator) prune(ctx context.Context) error {
	active, err := c.store.ActiveEpisodes(ctx)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "listing active episodes for pruning", err)
	}

	now := time.Now().UTC()
	var survivors []model.FleetEpisode
	for _, e := range active {
		age := now.Sub(e.Timestamp)
		switch {
		case age > archiveAge:
			if err := c.store.ArchiveEpisode(ctx, e.ID); err != nil {
				return errs.Wrap(errs.KindPersistenceTransient, "archiving aged episode", err)
			}
			continue
		case e.Outcome == model.OutcomeFalsePositive && age > falsePositiveArchiveAge:
			if err := c.store.ArchiveEpisode(ctx, e.ID); err != nil {
				return errs.Wrap(errs.KindPersistenceTransient, "archiving stale false positive", err)
			}
			continue
		case e.Outcome == model.OutcomePending && age > pendingClampAge && e.Score > pendingClampScore:
			if err := c.store.SetEpisodeScore(ctx, e.ID, pendingClampScore); err != nil {
				return errs.Wrap(errs.KindPersistenceTransient, "clamping stale pending episode score", err)
			}
			e.Score = pendingClampScore
		}
		survivors = append(survivors, e)
	}

	if len(survivors) <= maxActiveEpisodes {
		return nil
	}
	sortByScoreAscending(survivors)
	overflow := len(survivors) - maxActiveEpisodes
	for i := 0; i < overflow; i++ {
		if err := c.store.ArchiveEpisode(ctx, survivors[i].ID); err != nil {
			return errs.Wrap(errs.KindPersistenceTransient, "archiving over-capacity episode", err)
		}
	}
	return nil
}

func episodeFromEvent(evt store.EventRecord) model.FleetEpisode {
	adv := evt.Advisory
	depthMin, depthMax := depthRangeFromHistory(evt.HistoryWindow)

	var notes, action string
	var outcome model.EpisodeOutcome = model.OutcomePending
	if evt.Outcome != nil {
		notes = evt.Outcome.Notes
		action = evt.Outcome.ActionTaken
		outcome = model.EpisodeOutcome(evt.Outcome.Outcome)
	}

	return model.FleetEpisode{
		ID:              evt.EventID,
		SourceRigID:     evt.RigID,
		Category:        adv.Category,
		DepthMin:        depthMin,
		DepthMax:        depthMax,
		RiskLevel:       adv.RiskLevel,
		Outcome:         outcome,
		ResolutionNotes: notes,
		ActionTaken:     action,
		KeyMetrics:      keyMetricsFromAdvisory(adv),
		Timestamp:       evt.Timestamp,
		UpdatedAt:       evt.Timestamp,
	}
}

func depthRangeFromHistory(window []model.HistoryEntry) (float64, float64) {
	if len(window) == 0 {
		return 0, 0
	}
	min := window[0].Packet.Channels.Depth
	max := min
	for _, h := range window {
		d := h.Packet.Channels.Depth
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

func keyMetricsFromAdvisory(adv model.Advisory) map[string]float64 {
	return map[string]float64{
		"mse":             adv.PhysicsVerdict.MechanicalSpecificEnergy,
		"efficiency_ratio": adv.PhysicsVerdict.EfficiencyRatio,
		"fracture_margin": adv.PhysicsVerdict.FractureMargin,
	}
}

func score(e model.FleetEpisode, categoryCounts map[model.Category]int, totalActive int, now time.Time) float64 {
	outcomeScore := outcomeWeight[e.Outcome]

	ageDays := now.Sub(e.Timestamp).Hours() / 24
	recencyScore := expDecay(ageDays, recencyHalfLifeDays)

	detailScore := 0.3 // metrics always present
	if e.ResolutionNotes != "" {
		detailScore += 0.3
	}
	if e.ActionTaken != "" {
		detailScore += 0.4
	}

	diversityScore := 1.0
	if totalActive > 0 {
		diversityScore = 1.0 - float64(categoryCounts[e.Category])/float64(totalActive)
	}

	return 0.50*outcomeScore + 0.25*recencyScore + 0.15*detailScore + 0.10*diversityScore
}

func expDecay(ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 0
	}
	lambda := math.Ln2 / halfLifeDays
	return math.Exp(-lambda * ageDays)
}

// mergeEpisodes combines a new observation into an existing episode:
// notes are concatenated, the better outcome wins, and the score is
// recomputed by the caller's candidate score (already the freshest).
func mergeEpisodes(existing, incoming model.FleetEpisode) model.FleetEpisode {
	merged := existing
	if incoming.ResolutionNotes != "" && incoming.ResolutionNotes != existing.ResolutionNotes {
		if merged.ResolutionNotes == "" {
			merged.ResolutionNotes = incoming.ResolutionNotes
		} else {
			merged.ResolutionNotes = merged.ResolutionNotes + "; " + incoming.ResolutionNotes
		}
	}
	if incoming.ActionTaken != "" {
		merged.ActionTaken = incoming.ActionTaken
	}
	if outcomeRank(incoming.Outcome) > outcomeRank(merged.Outcome) {
		merged.Outcome = incoming.Outcome
	}
	merged.Score = incoming.Score
	merged.UpdatedAt = incoming.Timestamp
	if incoming.Timestamp.After(merged.Timestamp) {
		merged.Timestamp = incoming.Timestamp
	}
	return merged
}

func outcomeRank(o model.EpisodeOutcome) int {
	switch o {
	case model.OutcomeResolved:
		return 3
	case model.OutcomeEscalated:
		return 2
	case model.OutcomePending:
		return 1
	default:
		return 0
	}
}

func sortByScoreAscending(episodes []model.FleetEpisode) {
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Score < episodes[j].Score })
}
