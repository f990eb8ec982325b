// Package uploader runs the spoke-side periodic upload cycle: drain the
// queue, upload events in FIFO order, stop at the first failure so order
// is preserved and retries don't thunder the hub.
package uploader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/fleet/queue"
	"github.com/sairen/sairen-os/internal/observability"
	"github.com/sairen/sairen-os/internal/wire"
)

const defaultInterval = 5 * time.Minute

// Transport sends one compressed event to the hub. The concrete
// implementation (HTTP POST with the rig bearer) is injected so this
// package has no direct network dependency.
type Transport interface {
	Upload(ctx context.Context, rigID string, compressed []byte) error
}

// Uploader periodically drains q and uploads through transport.
type Uploader struct {
	q         *queue.Queue
	transport Transport
	rigID     string
	interval  time.Duration
	log       *zap.Logger
	metrics   *observability.Metrics
}

func New(q *queue.Queue, transport Transport, rigID string, interval time.Duration, log *zap.Logger, metrics *observability.Metrics) *Uploader {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Uploader{q: q, transport: transport, rigID: rigID, interval: interval, log: log, metrics: metrics}
}

// Run blocks, ticking every u.interval until ctx is cancelled.
func (u *Uploader) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.cycle(ctx)
		}
	}
}

// cycle drains the queue and uploads events in order, stopping at the
// first failure.
func (u *Uploader) cycle(ctx context.Context) {
	events, err := u.q.Drain()
	if err != nil {
		if u.log != nil {
			u.log.Error("upload queue drain failed", zap.Error(err))
		}
		return
	}

	for _, event := range events {
		compressed, err := wire.EncodeZstdJSON(event)
		if err != nil {
			if u.log != nil {
				u.log.Error("failed encoding upload event, skipping", zap.String("event_id", event.EventID), zap.Error(err))
			}
			continue
		}

		if err := u.transport.Upload(ctx, u.rigID, compressed); err != nil {
			if u.log != nil {
				u.log.Warn("upload failed, preserving order and retrying next cycle",
					zap.String("event_id", event.EventID), zap.Error(err))
			}
			if u.metrics != nil {
				u.metrics.UploadsFailedTotal.Inc()
			}
			break
		}

		if err := u.q.MarkUploaded(event.EventID); err != nil && u.log != nil {
			u.log.Error("failed marking event uploaded", zap.String("event_id", event.EventID), zap.Error(err))
		}
		if u.metrics != nil {
			u.metrics.UploadsSucceededTotal.Inc()
		}
	}

	if u.metrics != nil {
		u.metrics.UploadQueueDepth.Set(float64(u.q.Depth()))
	}
}
