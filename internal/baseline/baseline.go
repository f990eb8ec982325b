// Package baseline implements the per-metric Welford mean/variance
// accumulator that locks warning/critical thresholds once enough stable
// samples have been observed. The mutex-protected accumulator shape
// follows the agent's own EWMA pressure accumulator, generalized from a
// single scalar to a per-metric mean/variance/lock record.
package baseline

import (
	"math"
	"sync"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/model"
)

// Accumulator tracks one metric's running mean/variance via Welford's
// algorithm and locks thresholds once stable. In-progress accumulation is
// not persisted by this type — the caller persists only after a lock
// transition, so learning restarts cleanly on crash while locked values
// survive.
type Accumulator struct {
	mu sync.Mutex

	metric string
	count  int64
	mean   float64
	m2     float64

	locked   bool
	warning  float64
	critical float64

	cfg config.BaselineLearning
}

// New creates an accumulator for the named metric.
func New(metric string, cfg config.BaselineLearning) *Accumulator {
	return &Accumulator{metric: metric, cfg: cfg}
}

// Restore re-hydrates an accumulator from a previously locked state
// (in-progress accumulation is never restored, per contract).
func Restore(metric string, cfg config.BaselineLearning, state model.BaselineState) *Accumulator {
	a := New(metric, cfg)
	if state.Locked {
		a.locked = true
		a.warning = state.Warning
		a.critical = state.Critical
	}
	return a
}

// Observe feeds one stable-condition sample into the accumulator. Callers
// must only call this when dysfunction detectors indicate stable
// conditions — the accumulator itself does not judge stability.
// Returns true if this observation caused a lock transition.
func (a *Accumulator) Observe(value float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.locked {
		return false
	}

	a.count++
	delta := value - a.mean
	a.mean += delta / float64(a.count)
	delta2 := value - a.mean
	a.m2 += delta * delta2

	if a.count < int64(a.cfg.MinSamples) {
		return false
	}

	variance := a.variance()
	if variance > a.cfg.MaxVariance {
		return false
	}

	std := math.Sqrt(variance)
	a.warning = a.mean + a.cfg.WarnSigma*std
	a.critical = a.mean + a.cfg.CritSigma*std
	a.locked = true
	return true
}

func (a *Accumulator) variance() float64 {
	if a.count < 2 {
		return 0
	}
	return a.m2 / float64(a.count-1)
}

// State returns a snapshot suitable for persistence.
func (a *Accumulator) State() model.BaselineState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.BaselineState{
		Metric:   a.metric,
		Mean:     a.mean,
		Variance: a.variance(),
		Count:    a.count,
		Locked:   a.locked,
		Warning:  a.warning,
		Critical: a.critical,
	}
}

// Locked reports whether this metric's thresholds have locked.
func (a *Accumulator) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// Thresholds returns the locked warning/critical values. Callers should
// check Locked() first — an unlocked accumulator returns zero values,
// which the caller should fall back to config-supplied static thresholds
// for, per §4.2's "config merged with locked baseline values".
func (a *Accumulator) Thresholds() (warning, critical float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warning, a.critical
}
