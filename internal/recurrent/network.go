// Package recurrent implements the continuous-time recurrent network: a
// small sparse four-layer net (sensory -> internal -> command -> motor)
// that predicts next-step sensor features, derives an anomaly score from
// its own prediction error, and stamps a k-means regime label from the
// motor layer's activations. The network lives on the pipeline goroutine
// only and is never wrapped in a lock — background tasks observe it
// through Snapshot(), the same "owned copy through a watch slot" pattern
// described for the live recurrent network.
package recurrent

import (
	"math"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/model"
)

const (
	numFeatures = 16
	internalUnits = 128
	commandUnits  = 32
	connectionDensity = 0.30
)

// primaryFeatureIndices flags the "primary" drilling features (WOB, ROP,
// RPM, torque) that receive the configured loss weight multiplier.
var primaryFeatureIndices = map[int]bool{0: true, 1: true, 2: true, 3: true}

// Network is the continuous-time recurrent net. Not safe for concurrent
// use — by design it lives on a single goroutine (the pipeline
// coordinator), per the no-lock requirement.
type Network struct {
	seed string
	cfg  config.Damping

	wSensoryInternal [][]float64
	wInternalCommand [][]float64
	wCommandMotor    [][]float64

	normalizer *normalizer

	lastPrediction []float64
	lastMotor      []float64
	recentGrad     [4][]float64 // ring of the last four steps' clipped error vectors, for decayed BPTT
	gradIdx        int

	stepCount int64

	errorEWMA      float64
	errorM2EWMA    float64
	errorCount     int64
	alphaError     float64

	kmeans *kmeans
}

// New constructs a network with sparse connectivity deterministically
// derived from seed (so two rigs built with the same seed produce
// bit-identical topology before any training occurs).
func New(seed string, cfg config.Damping) *Network {
	n := &Network{
		seed:       seed,
		cfg:        cfg,
		normalizer: newNormalizer(numFeatures),
		alphaError: 0.02,
		kmeans:     newKMeans(seed, 4, numFeatures),
	}
	n.wSensoryInternal = initWeights(deterministicMask(seed+"/sensory-internal", internalUnits, numFeatures, connectionDensity))
	n.wInternalCommand = initWeights(deterministicMask(seed+"/internal-command", commandUnits, internalUnits, connectionDensity))
	n.wCommandMotor = initWeights(deterministicMask(seed+"/command-motor", numFeatures, commandUnits, connectionDensity))
	return n
}

func initWeights(mask [][]bool) [][]float64 {
	w := make([][]float64, len(mask))
	for i := range mask {
		w[i] = make([]float64, len(mask[i]))
		for j, kept := range mask[i] {
			if kept {
				w[i][j] = 0.05 // small deterministic initial weight; sign adjusted by training
			}
		}
	}
	return w
}

// Output is one packet's recurrent-network contribution.
type Output struct {
	AnomalyScore   *float64 // nil before warm-up ("calibrating")
	Surprises      []model.SurpriseFeature
	RegimeID       int
	Prediction     []float64
}

// Step normalizes features, scores the previous prediction against the
// observed features, trains, and produces the next prediction. Any
// non-finite intermediate aborts the update and reports calibrating —
// the network never publishes a non-finite score.
func (n *Network) Step(features []float64) Output {
	normalized := n.normalizer.normalize(features)
	n.normalizer.observe(features)

	var out Output
	if n.lastPrediction != nil {
		loss, perFeatureErr := n.weightedLoss(n.lastPrediction, normalized)
		if isFiniteSlice(perFeatureErr) && isFinite(loss) {
			n.train(perFeatureErr)
			n.updateErrorStats(loss)
			out.AnomalyScore, out.Surprises = n.scoreAnomaly(perFeatureErr)
		}
	}

	internal := forward(normalized, n.wSensoryInternal, tanh)
	command := forward(internal, n.wInternalCommand, tanh)
	motor := forward(command, n.wCommandMotor, identity)

	if !isFiniteSlice(motor) {
		// Guard: never publish a non-finite prediction; hold the last
		// good one and skip this step's contribution to training.
		motor = n.lastPrediction
	}

	n.lastMotor = command
	n.lastPrediction = motor
	n.stepCount++

	out.RegimeID = n.kmeans.assign(motor)
	out.Prediction = motor
	return out
}

// StepCount returns the number of packets processed since construction
// or restore (training-step counter, preserved across federation
// restores).
func (n *Network) StepCount() int64 { return n.stepCount }

// RecentLoss returns the RMS of the network's EWMA prediction error, the
// same quantity scoreAnomaly derives for the live anomaly score — used
// by the federation publisher to tag a published checkpoint with the
// training quality the hub's aggregate weighting can compare across rigs.
func (n *Network) RecentLoss() float64 { return math.Sqrt(n.errorEWMA) }

func (n *Network) weightedLoss(predicted, actual []float64) (float64, []float64) {
	perFeature := make([]float64, len(actual))
	var sum float64
	for i := range actual {
		d := predicted[i] - actual[i]
		w := 1.0
		if primaryFeatureIndices[i] {
			w = n.cfg.PrimaryFeatureWeight
		}
		e := w * d * d
		perFeature[i] = d
		sum += e
	}
	return sum / float64(len(actual)), perFeature
}

// train applies a first-order update through a decayed window of the last
// few steps' gradients (depth BPTTDepth, decay BPTTDecay), clipped by
// global norm.
func (n *Network) train(perFeatureErr []float64) {
	clipped := clipGlobalNorm(perFeatureErr, n.cfg.GradClipNorm)

	n.recentGrad[n.gradIdx] = clipped
	n.gradIdx = (n.gradIdx + 1) % len(n.recentGrad)

	decayed := make([]float64, len(clipped))
	weight := 1.0
	for d := 0; d < n.cfg.BPTTDepth && d < len(n.recentGrad); d++ {
		idx := (n.gradIdx - 1 - d + len(n.recentGrad)) % len(n.recentGrad)
		g := n.recentGrad[idx]
		if g == nil {
			break
		}
		for i := range decayed {
			decayed[i] += weight * g[i]
		}
		weight *= n.cfg.BPTTDecay
	}

	const lr = 0.001
	updateOutputLayer(n.wCommandMotor, n.lastMotor, decayed, lr)
}

// updateOutputLayer nudges the command->motor weights down the error
// gradient: w[i][j] -= lr * err[i] * activation[j].
func updateOutputLayer(w [][]float64, activation, err []float64, lr float64) {
	for i := range w {
		if i >= len(err) {
			continue
		}
		for j := range w[i] {
			if w[i][j] == 0 || j >= len(activation) {
				continue // respect sparse topology: never grow a pruned edge
			}
			w[i][j] -= lr * err[i] * activation[j]
		}
	}
}

func clipGlobalNorm(v []float64, maxNorm float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm <= maxNorm || norm == 0 {
		return v
	}
	scale := maxNorm / norm
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * scale
	}
	return out
}

func (n *Network) updateErrorStats(loss float64) {
	n.errorCount++
	n.errorEWMA = n.alphaError*loss + (1-n.alphaError)*n.errorEWMA
	d := loss - n.errorEWMA
	n.errorM2EWMA = n.alphaError*(d*d) + (1-n.alphaError)*n.errorM2EWMA
}

// scoreAnomaly converts the EWMA RMS prediction error into a z-score
// against its own running distribution, saturated into [0,1], once past
// warm-up. Before warm-up, returns (nil, nil) — "calibrating".
func (n *Network) scoreAnomaly(perFeatureErr []float64) (*float64, []model.SurpriseFeature) {
	if n.stepCount < n.cfg.WarmupPackets {
		return nil, nil
	}

	std := math.Sqrt(n.errorM2EWMA)
	rms := math.Sqrt(n.errorEWMA)
	var z float64
	if std > 1e-9 {
		z = rms / std
	}
	score := saturate(z)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, nil
	}

	surprises := make([]model.SurpriseFeature, 0, len(perFeatureErr))
	for i, e := range perFeatureErr {
		zi := 0.0
		if std > 1e-9 {
			zi = e / std
		}
		surprises = append(surprises, model.SurpriseFeature{Feature: featureName(i), ZScore: zi})
	}
	return &score, topK(surprises, 4)
}

// saturate maps a non-negative z-score into [0,1] via a logistic-style
// squashing function.
func saturate(z float64) float64 {
	if z < 0 {
		z = -z
	}
	return 1 - 1/(1+z)
}

func topK(s []model.SurpriseFeature, k int) []model.SurpriseFeature {
	out := append([]model.SurpriseFeature(nil), s...)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if math.Abs(out[j].ZScore) > math.Abs(out[i].ZScore) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func featureName(i int) string {
	names := []string{
		"wob", "rop", "rpm", "torque", "spp", "flow_in", "flow_out", "pit_volume",
		"mud_weight_in", "mud_weight_out", "gas", "h2s", "hook_load", "depth", "mse", "ecd",
	}
	if i >= 0 && i < len(names) {
		return names[i]
	}
	return "unknown"
}

func forward(input []float64, w [][]float64, activation func(float64) float64) []float64 {
	out := make([]float64, len(w))
	for i := range w {
		var sum float64
		for j, wij := range w[i] {
			if j < len(input) {
				sum += wij * input[j]
			}
		}
		out[i] = activation(sum)
	}
	return out
}

func tanh(x float64) float64     { return math.Tanh(x) }
func identity(x float64) float64 { return x }

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func isFiniteSlice(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
