// Package federation implements the hub side of checkpoint exchange:
// accept a per-rig checkpoint upload, and serve a weighted-average
// aggregate recomputed across all rigs that have published one.
package federation

import (
	"context"
	"encoding/json"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/recurrent"
)

// Hub accepts published checkpoints and recomputes the fleet aggregate.
type Hub struct {
	mu    sync.Mutex
	store store.Store
	log   *zap.Logger
}

func New(st store.Store, log *zap.Logger) *Hub {
	return &Hub{store: st, log: log}
}

// Accept stores a rig's checkpoint and recomputes the aggregate.
func (h *Hub) Accept(ctx context.Context, rigID string, checkpoint []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.UpsertCheckpoint(ctx, rigID, checkpoint); err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "storing rig checkpoint", err)
	}
	return h.recomputeAggregateLocked(ctx)
}

// Aggregate returns the current fleet aggregate and its self-reported
// training loss (averaged across contributing rigs), or false if no rig
// has published yet.
func (h *Hub) Aggregate(ctx context.Context) ([]byte, float64, bool, error) {
	raw, found, err := h.store.LoadAggregate(ctx)
	if err != nil {
		return nil, 0, false, errs.Wrap(errs.KindPersistenceTransient, "loading fleet aggregate", err)
	}
	if !found {
		return nil, 0, false, nil
	}
	var agg aggregateEnvelope
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, 0, false, errs.Wrap(errs.KindHubIntegrity, "decoding stored aggregate", err)
	}
	return agg.Checkpoint, agg.MeanLoss, true, nil
}

type aggregateEnvelope struct {
	Checkpoint []byte  `json:"checkpoint"`
	MeanLoss   float64 `json:"mean_loss"`
}

// recomputeAggregateLocked merges every stored rig checkpoint with equal
// weight. Checkpoints whose topology shape does not match the first
// checkpoint parsed (map iteration order, so not a fixed rig) are
// skipped rather than aborting the whole recompute — one
// stale rig shouldn't block the fleet aggregate from updating.
func (h *Hub) recomputeAggregateLocked(ctx context.Context) error {
	checkpoints, err := h.store.ListCheckpoints(ctx)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "listing rig checkpoints", err)
	}
	if len(checkpoints) == 0 {
		return nil
	}

	var base *recurrent.Checkpoint
	n := 0
	for rigID, raw := range checkpoints {
		var cp recurrent.Checkpoint
		if err := json.Unmarshal(raw, &cp); err != nil {
			if h.log != nil {
				h.log.Warn("federation: dropping unparseable checkpoint", zap.String("rig_id", rigID), zap.Error(err))
			}
			continue
		}
		if base == nil {
			base = &cp
			n = 1
			continue
		}
		merged, err := recurrent.MergeCheckpoints(*base, cp, 1.0/float64(n+1))
		if err != nil {
			if h.log != nil {
				h.log.Warn("federation: skipping incompatible checkpoint in aggregate", zap.String("rig_id", rigID), zap.Error(err))
			}
			continue
		}
		base = &merged
		n++
	}
	if base == nil {
		return nil
	}

	raw, err := json.Marshal(*base)
	if err != nil {
		return errs.Wrap(errs.KindHubIntegrity, "marshaling merged checkpoint", err)
	}
	envelope, err := json.Marshal(aggregateEnvelope{Checkpoint: raw, MeanLoss: math.Sqrt(base.ErrorEWMA)})
	if err != nil {
		return errs.Wrap(errs.KindHubIntegrity, "marshaling aggregate envelope", err)
	}
	if err := h.store.SaveAggregate(ctx, envelope); err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "saving fleet aggregate", err)
	}
	return nil
}
