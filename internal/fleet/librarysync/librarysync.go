// Package librarysync runs the spoke-side periodic library pull: every
// interval (jittered to avoid synchronized hub load across a fleet),
// fetch episodes newer than the last sync, add them to the local
// knowledge recall backend, and remove pruned ids.
package librarysync

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/knowledge"
	"github.com/sairen/sairen-os/internal/model"
)

const (
	defaultInterval = 6 * time.Hour
	defaultJitter   = 30 * time.Minute
	maxBackoff      = 5 * time.Minute
)

// Client fetches a library delta from the hub. Returns notModified=true
// when the hub reports no changes since sinceVersion.
type Client interface {
	FetchLibrary(ctx context.Context, sinceVersion int64) (episodes []model.FleetEpisode, prunedIDs []string, version int64, notModified bool, err error)
}

// Syncer owns the recall store it populates and the last-synced version.
type Syncer struct {
	client       Client
	store        knowledge.Store
	interval     time.Duration
	jitter       time.Duration
	log          *zap.Logger
	lastVersion  int64
	rigSeed      string
}

func New(client Client, store knowledge.Store, rigSeed string, log *zap.Logger) *Syncer {
	return &Syncer{client: client, store: store, interval: defaultInterval, jitter: defaultJitter, log: log, rigSeed: rigSeed}
}

// Run blocks, pulling on a jittered schedule until ctx is cancelled. On
// error, retries with exponential backoff capped at maxBackoff rather
// than waiting for the next full interval.
func (s *Syncer) Run(ctx context.Context) {
	backoff := time.Second
	retrying := false
	for {
		if !retrying {
			wait := s.interval + deterministicJitter(s.rigSeed, s.jitter)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		if err := s.pullOnce(ctx); err != nil {
			if s.log != nil {
				s.log.Warn("library sync failed, retrying with backoff", zap.Error(err), zap.Duration("backoff", backoff))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			retrying = true
			continue
		}
		retrying = false
		backoff = time.Second
	}
}

func (s *Syncer) pullOnce(ctx context.Context) error {
	episodes, prunedIDs, version, notModified, err := s.client.FetchLibrary(ctx, s.lastVersion)
	if err != nil {
		return err
	}
	if notModified {
		return nil
	}

	for _, e := range episodes {
		if err := s.store.Add(ctx, e); err != nil {
			return err
		}
	}
	if len(prunedIDs) > 0 {
		if err := s.store.Remove(ctx, prunedIDs); err != nil {
			return err
		}
	}
	s.lastVersion = version
	return nil
}

// deterministicJitter derives a stable per-rig jitter offset from seed
// rather than a process-random one, so a given rig's sync schedule is
// reproducible across restarts (avoids a thundering herd re-forming
// every time a fleet happens to restart together).
func deterministicJitter(seed string, maxJitter time.Duration) time.Duration {
	if seed == "" || maxJitter <= 0 {
		return time.Duration(rand.Int63n(int64(maxJitter) + 1))
	}
	h := sha256.Sum256([]byte(seed + "/library-sync-jitter"))
	v := binary.LittleEndian.Uint64(h[:8])
	return time.Duration(v % uint64(maxJitter))
}
