// Package rigstore is the rig node's durable local store: baseline
// accumulator state, the knowledge recall backend's working set, the
// recurrent-network checkpoint, and published advisories, all persisted
// in a single bbolt file so a
// restart doesn't cold-start any of them. Grounded directly on the
// teacher's BoltDB storage layer — JSON records, one bucket per record
// kind, and a schema-version check on open.
package rigstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/model"
)

const schemaVersion = 1

var (
	bucketMeta      = []byte("meta")
	bucketBaseline  = []byte("baseline_state")
	bucketEpisodes  = []byte("knowledge_episodes")
	bucketCheckpoint = []byte("recurrent_checkpoint")
	bucketAdvisories = []byte("advisories")
	keySchemaVersion = []byte("schema_version")
	keyBaselineState = []byte("current")
	keyEpisodes      = []byte("current")
	keyCheckpoint    = []byte("current")
)

// Store wraps a bbolt database file with the record kinds rigstore owns.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and verifies
// the schema version matches, writing it on first open.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceTransient, "opening rig store", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketBaseline, bucketEpisodes, bucketCheckpoint, bucketAdvisories} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errs.Wrap(errs.KindPersistenceCorrupt, "creating bucket "+string(name), err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		existing := meta.Get(keySchemaVersion)
		if existing == nil {
			return meta.Put(keySchemaVersion, []byte(fmt.Sprintf("%d", schemaVersion)))
		}
		var got int
		fmt.Sscanf(string(existing), "%d", &got)
		if got != schemaVersion {
			return errs.New(errs.KindPersistenceCorrupt, fmt.Sprintf("rig store schema version %d does not match expected %d", got, schemaVersion))
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBaselineStates persists the full set of tracked baseline
// accumulator states.
func (s *Store) SaveBaselineStates(states []model.BaselineState) error {
	return s.putJSON(bucketBaseline, keyBaselineState, states)
}

// LoadBaselineStates restores the baseline accumulator states, or
// returns an empty slice if none have been persisted yet.
func (s *Store) LoadBaselineStates() ([]model.BaselineState, error) {
	var states []model.BaselineState
	if err := s.getJSON(bucketBaseline, keyBaselineState, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// SaveEpisodes implements knowledge.Persister, mirroring the recall
// backend's working set to disk.
func (s *Store) SaveEpisodes(episodes []model.FleetEpisode) error {
	return s.putJSON(bucketEpisodes, keyEpisodes, episodes)
}

// LoadEpisodes implements knowledge.Persister.
func (s *Store) LoadEpisodes() ([]model.FleetEpisode, error) {
	var episodes []model.FleetEpisode
	if err := s.getJSON(bucketEpisodes, keyEpisodes, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// SaveCheckpointBytes persists an already-serialized recurrent-network
// checkpoint (the caller, internal/recurrent, owns the exact shape).
func (s *Store) SaveCheckpointBytes(raw []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketCheckpoint).Put(keyCheckpoint, raw); err != nil {
			return errs.Wrap(errs.KindPersistenceTransient, "saving recurrent checkpoint", err)
		}
		return nil
	})
}

// LoadCheckpointBytes returns the persisted checkpoint bytes, or nil if
// none have been saved yet.
func (s *Store) LoadCheckpointBytes() ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketCheckpoint).Get(keyCheckpoint)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceTransient, "loading recurrent checkpoint", err)
	}
	return raw, nil
}

// advisoryKey produces a lexically sortable key: zero-padded UnixNano
// timestamp so Cursor iteration yields chronological order, suffixed
// with the advisory ID to keep same-instant records distinct.
func advisoryKey(a model.Advisory) []byte {
	return []byte(fmt.Sprintf("%020d_%s", a.Timestamp.UTC().UnixNano(), a.ID))
}

// SaveAdvisory persists (or overwrites, on re-save after acknowledgment
// or feedback) one advisory record.
func (s *Store) SaveAdvisory(a model.Advisory) error {
	return s.putJSON(bucketAdvisories, advisoryKey(a), a)
}

// RecentAdvisories returns up to limit advisories, most recent first.
func (s *Store) RecentAdvisories(limit int) ([]model.Advisory, error) {
	var out []model.Advisory
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAdvisories).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var a model.Advisory
			if err := json.Unmarshal(v, &a); err != nil {
				return errs.Wrap(errs.KindPersistenceCorrupt, "unmarshaling advisory record", err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceTransient, "scanning advisory records", err)
	}
	return out, nil
}

// FindAdvisoryByID scans for the advisory with the given ID. The
// bucket is keyed by timestamp, not ID, so this is a linear scan —
// acceptable at the retention scale (days) a single rig accumulates.
func (s *Store) FindAdvisoryByID(id string) (model.Advisory, bool, error) {
	var found model.Advisory
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAdvisories).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var a model.Advisory
			if err := json.Unmarshal(v, &a); err != nil {
				return errs.Wrap(errs.KindPersistenceCorrupt, "unmarshaling advisory record", err)
			}
			if a.ID == id {
				found, ok = a, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return model.Advisory{}, false, errs.Wrap(errs.KindPersistenceTransient, "scanning advisory records", err)
	}
	return found, ok, nil
}

// FindAdvisoryByTimestamp returns the advisory published at exactly ts,
// using the sortable key prefix to avoid a full bucket scan.
func (s *Store) FindAdvisoryByTimestamp(ts time.Time) (model.Advisory, bool, error) {
	prefix := []byte(fmt.Sprintf("%020d_", ts.UTC().UnixNano()))
	var found model.Advisory
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAdvisories).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := json.Unmarshal(v, &found); err != nil {
				return errs.Wrap(errs.KindPersistenceCorrupt, "unmarshaling advisory record", err)
			}
			ok = true
			return nil
		}
		return nil
	})
	if err != nil {
		return model.Advisory{}, false, errs.Wrap(errs.KindPersistenceTransient, "seeking advisory record", err)
	}
	return found, ok, nil
}

func (s *Store) putJSON(bucket, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceCorrupt, "marshaling record", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucket).Put(key, raw); err != nil {
			return errs.Wrap(errs.KindPersistenceTransient, "writing record", err)
		}
		return nil
	})
}

func (s *Store) getJSON(bucket, key []byte, out interface{}) error {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "reading record", err)
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.KindPersistenceCorrupt, "unmarshaling record", err)
	}
	return nil
}
