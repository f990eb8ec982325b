package queue

import (
	"testing"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/wire"
)

func TestEnqueue_IsIdempotent(t *testing.T) {
	q, err := Open(t.TempDir(), 10, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error opening queue: %v", err)
	}

	event := wire.EventEnvelope{EventID: "evt-1", RigID: "rig-1"}
	if err := q.Enqueue(event); err != nil {
		t.Fatalf("unexpected error on first enqueue: %v", err)
	}
	if err := q.Enqueue(event); err != nil {
		t.Fatalf("unexpected error on duplicate enqueue: %v", err)
	}
	if q.Depth() != 1 {
		t.Fatalf("expected depth 1 after duplicate enqueue, got %d", q.Depth())
	}
}

func TestDrainAndMarkUploaded_PreservesFIFOOrder(t *testing.T) {
	q, _ := Open(t.TempDir(), 10, zap.NewNop())
	q.Enqueue(wire.EventEnvelope{EventID: "a"})
	q.Enqueue(wire.EventEnvelope{EventID: "b"})
	q.Enqueue(wire.EventEnvelope{EventID: "c"})

	drained, err := q.Drain()
	if err != nil {
		t.Fatalf("unexpected error draining: %v", err)
	}
	if len(drained) != 3 || drained[0].EventID != "a" || drained[2].EventID != "c" {
		t.Fatalf("expected FIFO order a,b,c, got %+v", drained)
	}

	q.MarkUploaded("a")
	if q.Depth() != 2 {
		t.Fatalf("expected depth 2 after marking one uploaded, got %d", q.Depth())
	}
}

func TestOpen_RebuildsIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	q1, _ := Open(dir, 10, zap.NewNop())
	q1.Enqueue(wire.EventEnvelope{EventID: "x"})

	q2, err := Open(dir, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error reopening queue: %v", err)
	}
	if q2.Depth() != 1 {
		t.Fatalf("expected rebuilt index to show depth 1, got %d", q2.Depth())
	}
}

func TestEnqueue_EvictsOldestAtCapacity(t *testing.T) {
	q, _ := Open(t.TempDir(), 2, zap.NewNop())
	q.Enqueue(wire.EventEnvelope{EventID: "a"})
	q.Enqueue(wire.EventEnvelope{EventID: "b"})
	q.Enqueue(wire.EventEnvelope{EventID: "c"})

	if q.Depth() != 2 {
		t.Fatalf("expected depth capped at 2, got %d", q.Depth())
	}
	drained, _ := q.Drain()
	for _, e := range drained {
		if e.EventID == "a" {
			t.Fatal("expected oldest event to be evicted")
		}
	}
}
