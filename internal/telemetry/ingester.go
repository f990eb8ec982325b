package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/model"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 60 * time.Second
	degradedAfter  = 30 * time.Second
)

// Health is the ingester's self-reported connection status.
type Health struct {
	mu           sync.RWMutex
	lastPacketAt time.Time
}

func (h *Health) touch() {
	h.mu.Lock()
	h.lastPacketAt = time.Now()
	h.mu.Unlock()
}

// LastPacketAt returns the timestamp of the most recently accepted packet.
func (h *Health) LastPacketAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastPacketAt
}

// Degraded reports whether no packet has arrived within degradedAfter.
func (h *Health) Degraded() bool {
	last := h.LastPacketAt()
	if last.IsZero() {
		return true
	}
	return time.Since(last) > degradedAfter
}

// Ingester reads a Source, applies quality gating, and emits packets.
type Ingester struct {
	source Source
	log    *zap.Logger
	health *Health

	onReject func(reason string)
}

// NewIngester wraps source with quality gating and reconnect handling.
// onReject, if non-nil, is called once per rejected record with a short
// reason string (used by the pipeline coordinator to bump metrics).
func NewIngester(source Source, log *zap.Logger, onReject func(reason string)) *Ingester {
	return &Ingester{source: source, log: log, health: &Health{}, onReject: onReject}
}

// Health returns the ingester's connection-health tracker.
func (ing *Ingester) Health() *Health { return ing.health }

// Run consumes the source until ctx is cancelled, reconnecting with
// capped exponential backoff on transient failure, and sends accepted
// packets to out. Replay/stdin sources that terminate with io.EOF do not
// reconnect; streaming sources do.
func (ing *Ingester) Run(ctx context.Context, out chan<- model.TelemetryPacket, reconnect bool) error {
	backoff := initialBackoff

	for {
		lines, srcErrs := ing.source.Lines(ctx)

	readLoop:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case raw, ok := <-lines:
				if !ok {
					break readLoop
				}
				pkt, rejectReason, err := ing.process(raw)
				if err != nil {
					ing.log.Warn("telemetry decode failed", zap.Error(err))
					ing.reject("decode_error")
					continue
				}
				if rejectReason != "" {
					ing.reject(rejectReason)
					continue
				}
				ing.health.touch()
				select {
				case out <- pkt:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		err := <-srcErrs
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !reconnect {
			return err
		}

		ing.log.Warn("telemetry source disconnected, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (ing *Ingester) reject(reason string) {
	if ing.onReject != nil {
		ing.onReject(reason)
	}
}

// process validates and classifies one raw record. An empty rejectReason
// with a nil error means the packet was accepted.
func (ing *Ingester) process(raw []byte) (model.TelemetryPacket, string, error) {
	channels, _, err := DecodeRecord(raw)
	if err != nil {
		return model.TelemetryPacket{}, "", errs.Wrap(errs.KindIngestionTransient, "decode", err)
	}

	if !channels.Finite() {
		return model.TelemetryPacket{}, "non_finite", nil
	}
	if channels.AllZero() {
		return model.TelemetryPacket{}, "dead_feed", nil
	}
	if channels.WeightOnBit < 0 {
		return model.TelemetryPacket{}, "negative_wob", nil
	}

	quality := model.QualityGood
	if channels.FlowIn > 0 && channels.FlowOut > 2*channels.FlowIn {
		quality = model.QualitySuspect
	}

	pkt := model.TelemetryPacket{
		Timestamp: time.Now().UTC(),
		Channels:  channels,
		Quality:   quality,
	}
	pkt.RigState = classifyRigState(channels)
	pkt.Operation = classifyOperation(pkt.RigState, channels)

	return pkt, "", nil
}

// classifyRigState infers the coarse operating state from channel
// signatures. This is a deterministic lookup, not a learned classifier.
func classifyRigState(c model.Channels) model.RigState {
	const eps = 1e-6
	switch {
	case c.RateOfPenetration > eps && c.RotarySpeed > eps:
		return model.RigDrilling
	case math.Abs(c.FlowIn) > eps && c.RotarySpeed < eps && c.RateOfPenetration < eps:
		return model.RigCirculating
	case c.HookLoad > eps && c.RateOfPenetration < eps && c.RotarySpeed < eps:
		return model.RigTrippingIn
	default:
		return model.RigIdle
	}
}

func classifyOperation(state model.RigState, c model.Channels) string {
	switch state {
	case model.RigDrilling:
		if c.RateOfPenetration > 100 {
			return "fast_drilling"
		}
		return "normal_drilling"
	case model.RigCirculating:
		return "circulating"
	default:
		return string(state)
	}
}
