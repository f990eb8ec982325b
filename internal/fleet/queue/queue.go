// Package queue implements the spoke-side durable FIFO upload queue:
// one file per pending event, keyed by event id, so a crash never loses
// an enqueued-but-not-yet-uploaded event.
package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/wire"
)

const defaultCapacity = 1000

// Queue is a disk-backed durable FIFO. Enqueue is idempotent: a file
// already present for an event id is left untouched.
type Queue struct {
	mu       sync.Mutex
	dir      string
	capacity int
	log      *zap.Logger
	order    []entry // oldest first, rebuilt from disk on Open
}

type entry struct {
	id      string
	modTime time.Time
}

// Open scans dir to rebuild the in-memory FIFO index from whatever
// pending event files already exist (e.g. left over from a crash).
func Open(dir string, capacity int, log *zap.Logger) (*Queue, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindPersistenceTransient, "creating upload queue directory", err)
	}

	q := &Queue{dir: dir, capacity: capacity, log: log}
	if err := q.rescan(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) rescan() error {
	files, err := os.ReadDir(q.dir)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "scanning upload queue directory", err)
	}

	var order []entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		id := f.Name()[:len(f.Name())-len(".json")]
		order = append(order, entry{id: id, modTime: info.ModTime()})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].modTime.Before(order[j].modTime) })

	q.mu.Lock()
	q.order = order
	q.mu.Unlock()
	return nil
}

// Enqueue writes event keyed by event.EventID. A pre-existing file for
// the same id is a no-op (the composer may retry the same event id on a
// prior failure).
func (q *Queue) Enqueue(event wire.EventEnvelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	path := q.path(event.EventID)
	if _, err := os.Stat(path); err == nil {
		return nil // idempotent: already pending
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceCorrupt, "marshaling upload event", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "writing upload event", err)
	}

	q.order = append(q.order, entry{id: event.EventID, modTime: time.Now().UTC()})
	if len(q.order) > q.capacity {
		q.evictOldestLocked()
	}
	return nil
}

// evictOldestLocked drops the oldest pending event past capacity,
// logging a warning — called under q.mu already held.
func (q *Queue) evictOldestLocked() {
	oldest := q.order[0]
	q.order = q.order[1:]
	if err := os.Remove(q.path(oldest.id)); err != nil && q.log != nil {
		q.log.Warn("failed removing evicted upload queue entry", zap.String("event_id", oldest.id), zap.Error(err))
	}
	if q.log != nil {
		q.log.Warn("upload queue over capacity, evicted oldest pending event",
			zap.String("event_id", oldest.id), zap.Int("capacity", q.capacity))
	}
}

// Drain returns a snapshot of pending events in FIFO order, without
// removing them.
func (q *Queue) Drain() ([]wire.EventEnvelope, error) {
	q.mu.Lock()
	ids := append([]entry(nil), q.order...)
	q.mu.Unlock()

	events := make([]wire.EventEnvelope, 0, len(ids))
	for _, e := range ids {
		raw, err := os.ReadFile(q.path(e.id))
		if err != nil {
			if os.IsNotExist(err) {
				continue // concurrently marked uploaded
			}
			return nil, errs.Wrap(errs.KindPersistenceTransient, "reading queued upload event", err)
		}
		var event wire.EventEnvelope
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, errs.Wrap(errs.KindPersistenceCorrupt, "unmarshaling queued upload event", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// MarkUploaded deletes the file for id, removing it from the queue.
func (q *Queue) MarkUploaded(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.order {
		if e.id == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if err := os.Remove(q.path(id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindPersistenceTransient, "removing uploaded event", err)
	}
	return nil
}

// Depth returns the current pending count.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Capacity returns the configured maximum pending count.
func (q *Queue) Capacity() int {
	return q.capacity
}

func (q *Queue) path(eventID string) string {
	return filepath.Join(q.dir, eventID+".json")
}
