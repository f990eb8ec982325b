package uploader

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/fleet/queue"
	"github.com/sairen/sairen-os/internal/wire"
)

type recordingTransport struct {
	uploaded []string
	failAt   string
}

func (r *recordingTransport) Upload(_ context.Context, _ string, compressed []byte) error {
	var event wire.EventEnvelope
	if err := wire.DecodeZstdJSON(compressed, &event); err != nil {
		return err
	}
	if event.EventID == r.failAt {
		return errors.New("simulated transport failure")
	}
	r.uploaded = append(r.uploaded, event.EventID)
	return nil
}

func TestCycle_UploadsInOrderAndMarksUploaded(t *testing.T) {
	q, _ := queue.Open(t.TempDir(), 10, zap.NewNop())
	q.Enqueue(wire.EventEnvelope{EventID: "a"})
	q.Enqueue(wire.EventEnvelope{EventID: "b"})

	transport := &recordingTransport{}
	u := New(q, transport, "rig-1", time.Hour, zap.NewNop(), nil)
	u.cycle(context.Background())

	if len(transport.uploaded) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(transport.uploaded))
	}
	if q.Depth() != 0 {
		t.Fatalf("expected queue drained after successful uploads, got depth %d", q.Depth())
	}
}

func TestCycle_StopsAtFirstFailurePreservingOrder(t *testing.T) {
	q, _ := queue.Open(t.TempDir(), 10, zap.NewNop())
	q.Enqueue(wire.EventEnvelope{EventID: "a"})
	q.Enqueue(wire.EventEnvelope{EventID: "b"})
	q.Enqueue(wire.EventEnvelope{EventID: "c"})

	transport := &recordingTransport{failAt: "b"}
	u := New(q, transport, "rig-1", time.Hour, zap.NewNop(), nil)
	u.cycle(context.Background())

	if len(transport.uploaded) != 1 || transport.uploaded[0] != "a" {
		t.Fatalf("expected only 'a' uploaded before failure, got %v", transport.uploaded)
	}
	if q.Depth() != 2 {
		t.Fatalf("expected 'b' and 'c' still queued after failure, got depth %d", q.Depth())
	}
}
