// Package store defines the hub's persistence interface — rigs, events,
// episodes, sync_log and the library version, plus federation
// checkpoints and the aggregate — and an in-memory implementation. There
// is no fleet_performance table. A
// real deployment would back this with a relational database; no
// example repo in this retrieval pack imports a SQL driver, so the
// in-memory adapter here is the hub's store of record for this build,
// behind the same Store interface a future SQL-backed implementation
// would satisfy.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sairen/sairen-os/internal/model"
)

// EventRecord is the hub's durable row for one uploaded event.
type EventRecord struct {
	EventID        string
	RigID          string
	Timestamp      time.Time
	Advisory       model.Advisory
	HistoryWindow  []model.HistoryEntry
	Outcome        *model.AcknowledgmentRecord
	NeedsCuration  bool
	CuratedAt      *time.Time
}

// SyncLogRecord records one library-sync exchange for audit.
type SyncLogRecord struct {
	RigID     string
	At        time.Time
	SinceVer  int64
	ServedVer int64
}

// Store is the hub's full persistence surface.
type Store interface {
	// Rigs
	UpsertRig(ctx context.Context, rig model.Rig) error
	GetRig(ctx context.Context, rigID string) (model.Rig, bool, error)
	TouchRigLastSeen(ctx context.Context, rigID string, at time.Time) error
	ListRigs(ctx context.Context) ([]model.Rig, error)

	// Events
	InsertEvent(ctx context.Context, e EventRecord) error
	EventExists(ctx context.Context, eventID string) (bool, error)
	EventsNeedingCuration(ctx context.Context) ([]EventRecord, error)
	MarkEventCurated(ctx context.Context, eventID string, at time.Time) error
	ListEvents(ctx context.Context, since time.Time) ([]EventRecord, error)
	SetEventOutcome(ctx context.Context, eventID string, outcome model.AcknowledgmentRecord) error

	// Episodes
	InsertEpisode(ctx context.Context, e model.FleetEpisode) error
	UpdateEpisode(ctx context.Context, e model.FleetEpisode) error
	FindEpisode(ctx context.Context, id string) (model.FleetEpisode, bool, error)
	FindCandidateDuplicate(ctx context.Context, rigID string, category model.Category, depthMin, depthMax float64, at time.Time, depthToleranceM float64, timeTolerance time.Duration) (model.FleetEpisode, bool, error)
	ActiveEpisodes(ctx context.Context) ([]model.FleetEpisode, error)
	EpisodesUpdatedSince(ctx context.Context, since time.Time, excludeRigID string) (active []model.FleetEpisode, archivedIDs []string, err error)
	ArchiveEpisode(ctx context.Context, id string) error
	SetEpisodeScore(ctx context.Context, id string, score float64) error

	// Library version + sync log
	CurrentLibraryVersion(ctx context.Context) (int64, error)
	IncrementLibraryVersion(ctx context.Context) (int64, error)
	RecordSync(ctx context.Context, rec SyncLogRecord) error

	// Federation checkpoints
	UpsertCheckpoint(ctx context.Context, rigID string, checkpoint []byte) error
	ListCheckpoints(ctx context.Context) (map[string][]byte, error)
	SaveAggregate(ctx context.Context, checkpoint []byte) error
	LoadAggregate(ctx context.Context) ([]byte, bool, error)
}

// memStore is the in-memory Store implementation.
type memStore struct {
	mu sync.Mutex

	rigs        map[string]model.Rig
	events      map[string]EventRecord
	episodes    map[string]model.FleetEpisode
	syncLog     []SyncLogRecord
	libraryVer  int64
	checkpoints map[string][]byte
	aggregate   []byte
}

func NewMemory() Store {
	return &memStore{
		rigs:        make(map[string]model.Rig),
		events:      make(map[string]EventRecord),
		episodes:    make(map[string]model.FleetEpisode),
		checkpoints: make(map[string][]byte),
	}
}

func (s *memStore) UpsertRig(_ context.Context, rig model.Rig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rigs[rig.RigID] = rig
	return nil
}

func (s *memStore) GetRig(_ context.Context, rigID string) (model.Rig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rigs[rigID]
	return r, ok, nil
}

func (s *memStore) TouchRigLastSeen(_ context.Context, rigID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rigs[rigID]; ok {
		r.LastSeen = at
		s.rigs[rigID] = r
	}
	return nil
}

func (s *memStore) ListRigs(_ context.Context) ([]model.Rig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Rig, 0, len(s.rigs))
	for _, r := range s.rigs {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) InsertEvent(_ context.Context, e EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.EventID] = e
	return nil
}

func (s *memStore) EventExists(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *memStore) EventsNeedingCuration(_ context.Context) ([]EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventRecord
	for _, e := range s.events {
		if e.NeedsCuration {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memStore) MarkEventCurated(_ context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[eventID]; ok {
		e.NeedsCuration = false
		e.CuratedAt = &at
		s.events[eventID] = e
	}
	return nil
}

func (s *memStore) ListEvents(_ context.Context, since time.Time) ([]EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventRecord
	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memStore) SetEventOutcome(_ context.Context, eventID string, outcome model.AcknowledgmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil
	}
	e.Outcome = &outcome
	s.events[e.EventID] = e
	return nil
}

func (s *memStore) InsertEpisode(_ context.Context, e model.FleetEpisode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[e.ID] = e
	return nil
}

func (s *memStore) UpdateEpisode(_ context.Context, e model.FleetEpisode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[e.ID] = e
	return nil
}

func (s *memStore) FindEpisode(_ context.Context, id string) (model.FleetEpisode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.episodes[id]
	return e, ok, nil
}

func (s *memStore) FindCandidateDuplicate(_ context.Context, rigID string, category model.Category, depthMin, depthMax float64, at time.Time, depthToleranceM float64, timeTolerance time.Duration) (model.FleetEpisode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.episodes {
		if e.Archived || e.SourceRigID != rigID || e.Category != category {
			continue
		}
		if !depthRangesOverlapWithin(e.DepthMin, e.DepthMax, depthMin, depthMax, depthToleranceM) {
			continue
		}
		if absDuration(e.Timestamp.Sub(at)) > timeTolerance {
			continue
		}
		return e, true, nil
	}
	return model.FleetEpisode{}, false, nil
}

func (s *memStore) ActiveEpisodes(_ context.Context) ([]model.FleetEpisode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FleetEpisode
	for _, e := range s.episodes {
		if !e.Archived {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) EpisodesUpdatedSince(_ context.Context, since time.Time, excludeRigID string) ([]model.FleetEpisode, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []model.FleetEpisode
	var archivedIDs []string
	for _, e := range s.episodes {
		if !e.UpdatedAt.After(since) {
			continue
		}
		if e.Archived {
			archivedIDs = append(archivedIDs, e.ID)
			continue
		}
		if e.SourceRigID == excludeRigID {
			continue
		}
		active = append(active, e)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Score > active[j].Score })
	return active, archivedIDs, nil
}

func (s *memStore) ArchiveEpisode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.episodes[id]; ok {
		e.Archived = true
		e.UpdatedAt = time.Now().UTC()
		s.episodes[id] = e
	}
	return nil
}

func (s *memStore) SetEpisodeScore(_ context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.episodes[id]; ok {
		e.Score = score
		e.UpdatedAt = time.Now().UTC()
		s.episodes[id] = e
	}
	return nil
}

func (s *memStore) CurrentLibraryVersion(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.libraryVer, nil
}

func (s *memStore) IncrementLibraryVersion(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libraryVer++
	return s.libraryVer, nil
}

func (s *memStore) RecordSync(_ context.Context, rec SyncLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLog = append(s.syncLog, rec)
	return nil
}

func (s *memStore) UpsertCheckpoint(_ context.Context, rigID string, checkpoint []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[rigID] = checkpoint
	return nil
}

func (s *memStore) ListCheckpoints(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.checkpoints))
	for k, v := range s.checkpoints {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SaveAggregate(_ context.Context, checkpoint []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregate = checkpoint
	return nil
}

func (s *memStore) LoadAggregate(_ context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregate, s.aggregate != nil, nil
}

func depthRangesOverlapWithin(aMin, aMax, bMin, bMax, tolerance float64) bool {
	return aMin-tolerance <= bMax && bMin-tolerance <= aMax
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
