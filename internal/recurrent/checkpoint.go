package recurrent

import (
	"encoding/json"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/errs"
)

// Checkpoint is the canonical, wire-serializable envelope for exchanging
// recurrent-network state between a rig and the fleet hub. Two
// checkpoints are only mergeable when they share a Seed, since the
// connectivity topology (and therefore the weight matrix shapes) is
// derived entirely from that seed.
type Checkpoint struct {
	Seed      string      `json:"seed"`
	StepCount int64       `json:"step_count"`
	SensoryInternal [][]float64 `json:"w_sensory_internal"`
	InternalCommand [][]float64 `json:"w_internal_command"`
	CommandMotor    [][]float64 `json:"w_command_motor"`
	NormMean  []float64 `json:"norm_mean"`
	NormM2    []float64 `json:"norm_m2"`
	NormCount int64     `json:"norm_count"`
	Centroids [][]float64 `json:"kmeans_centroids"`
	ErrorEWMA   float64 `json:"error_ewma"`
	ErrorM2EWMA float64 `json:"error_m2_ewma"`
}

// Snapshot captures the network's full trainable state for persistence
// or federation publish.
func (n *Network) Snapshot() Checkpoint {
	return Checkpoint{
		Seed:            n.seed,
		StepCount:       n.stepCount,
		SensoryInternal: cloneMatrix(n.wSensoryInternal),
		InternalCommand: cloneMatrix(n.wInternalCommand),
		CommandMotor:    cloneMatrix(n.wCommandMotor),
		NormMean:        append([]float64(nil), n.normalizer.mean...),
		NormM2:          append([]float64(nil), n.normalizer.m2...),
		NormCount:       n.normalizer.count,
		Centroids:       cloneMatrix(n.kmeans.centroids),
		ErrorEWMA:       n.errorEWMA,
		ErrorM2EWMA:     n.errorM2EWMA,
	}
}

// RestoreNetwork rebuilds a Network from a checkpoint. The topology is
// rebuilt deterministically from cp.Seed first, then the trained weights
// are overlaid — this guards against a checkpoint whose matrix shapes no
// longer match a rebuilt topology (e.g. after a code change to layer
// sizes), returning a HubIntegrity error rather than panicking on an
// index mismatch.
func RestoreNetwork(cp Checkpoint, cfg config.Damping) (*Network, error) {
	n := New(cp.Seed, cfg)
	if !shapesMatch(n.wSensoryInternal, cp.SensoryInternal) ||
		!shapesMatch(n.wInternalCommand, cp.InternalCommand) ||
		!shapesMatch(n.wCommandMotor, cp.CommandMotor) {
		return nil, errs.New(errs.KindHubIntegrity, "checkpoint weight shapes do not match rebuilt topology")
	}

	n.wSensoryInternal = cloneMatrix(cp.SensoryInternal)
	n.wInternalCommand = cloneMatrix(cp.InternalCommand)
	n.wCommandMotor = cloneMatrix(cp.CommandMotor)
	n.stepCount = cp.StepCount
	n.errorEWMA = cp.ErrorEWMA
	n.errorM2EWMA = cp.ErrorM2EWMA

	if len(cp.NormMean) == len(n.normalizer.mean) {
		n.normalizer.mean = append([]float64(nil), cp.NormMean...)
		n.normalizer.m2 = append([]float64(nil), cp.NormM2...)
		n.normalizer.count = cp.NormCount
	}
	if len(cp.Centroids) == len(n.kmeans.centroids) {
		n.kmeans.centroids = cloneMatrix(cp.Centroids)
	}
	return n, nil
}

// MergeCheckpoints produces a weighted average of two checkpoints built
// from the same seed — the fleet hub's aggregate-recompute step uses
// this to fold a newly-arrived rig checkpoint into the running fleet
// average. weight is the new checkpoint's share, in [0,1].
func MergeCheckpoints(base, incoming Checkpoint, weight float64) (Checkpoint, error) {
	if base.Seed != incoming.Seed {
		return Checkpoint{}, errs.New(errs.KindHubIntegrity, "cannot merge checkpoints built from different seeds")
	}
	if weight < 0 || weight > 1 {
		weight = 0.5
	}

	merged := Checkpoint{
		Seed:            base.Seed,
		StepCount:       maxInt64(base.StepCount, incoming.StepCount),
		SensoryInternal: weightedAverage(base.SensoryInternal, incoming.SensoryInternal, weight),
		InternalCommand: weightedAverage(base.InternalCommand, incoming.InternalCommand, weight),
		CommandMotor:    weightedAverage(base.CommandMotor, incoming.CommandMotor, weight),
		NormMean:        weightedAverageVec(base.NormMean, incoming.NormMean, weight),
		NormM2:          weightedAverageVec(base.NormM2, incoming.NormM2, weight),
		NormCount:       maxInt64(base.NormCount, incoming.NormCount),
		Centroids:       weightedAverage(base.Centroids, incoming.Centroids, weight),
		ErrorEWMA:       base.ErrorEWMA*(1-weight) + incoming.ErrorEWMA*weight,
		ErrorM2EWMA:     base.ErrorM2EWMA*(1-weight) + incoming.ErrorM2EWMA*weight,
	}
	return merged, nil
}

// SnapshotBytes satisfies internal/fleet/federation.Snapshotter: it
// encodes the network's current checkpoint to the plain JSON bytes the
// publisher hands to its transport, alongside the step count the
// publisher uses to decide whether enough packets have passed since the
// last publish.
func (n *Network) SnapshotBytes() ([]byte, int64, error) {
	raw, err := EncodeCheckpoint(n.Snapshot())
	if err != nil {
		return nil, 0, err
	}
	return raw, n.StepCount(), nil
}

// EncodeCheckpoint serializes a checkpoint to the plain JSON bytes
// exchanged over the wire. The bytes are not compressed; checkpoint
// exchange carries them over internal/fedrpc, not internal/wire.
func EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, errs.Wrap(errs.KindHubIntegrity, "marshaling recurrent checkpoint", err)
	}
	return raw, nil
}

// DecodeCheckpoint parses a checkpoint previously produced by
// EncodeCheckpoint.
func DecodeCheckpoint(raw []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, errs.Wrap(errs.KindHubIntegrity, "unmarshaling recurrent checkpoint", err)
	}
	return cp, nil
}

func shapesMatch(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
	}
	return true
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func weightedAverage(a, b [][]float64, weight float64) [][]float64 {
	if !shapesMatch(a, b) {
		return cloneMatrix(a)
	}
	out := make([][]float64, len(a))
	for i := range a {
		out[i] = weightedAverageVec(a[i], b[i], weight)
	}
	return out
}

func weightedAverageVec(a, b []float64, weight float64) []float64 {
	if len(a) != len(b) {
		return append([]float64(nil), a...)
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i]*(1-weight) + b[i]*weight
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
