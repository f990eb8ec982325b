package baseline

import (
	"sync"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/model"
)

// trackedMetrics lists the metric names the learner accumulates over.
var trackedMetrics = []string{"mse", "ecd", "flow_balance", "torque", "spp"}

// Manager owns one Accumulator per tracked metric.
type Manager struct {
	mu   sync.RWMutex
	accs map[string]*Accumulator
	cfg  config.BaselineLearning
}

// NewManager creates a manager with a fresh accumulator per tracked metric.
func NewManager(cfg config.BaselineLearning) *Manager {
	m := &Manager{accs: make(map[string]*Accumulator, len(trackedMetrics)), cfg: cfg}
	for _, name := range trackedMetrics {
		m.accs[name] = New(name, cfg)
	}
	return m
}

// RestoreManager rebuilds a Manager from persisted state, one entry per
// metric previously locked.
func RestoreManager(cfg config.BaselineLearning, states []model.BaselineState) *Manager {
	m := NewManager(cfg)
	for _, s := range states {
		if _, ok := m.accs[s.Metric]; ok && s.Locked {
			m.mu.Lock()
			m.accs[s.Metric] = Restore(s.Metric, cfg, s)
			m.mu.Unlock()
		}
	}
	return m
}

// ObserveStable feeds one packet's metric values into their accumulators.
// Callers must only invoke this when the physics engine reports stable
// conditions (no dysfunction flags). Returns the metric names that just
// locked, for the caller to persist.
func (m *Manager) ObserveStable(values map[string]float64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var justLocked []string
	for name, value := range values {
		acc, ok := m.accs[name]
		if !ok {
			continue
		}
		if acc.Observe(value) {
			justLocked = append(justLocked, name)
		}
	}
	return justLocked
}

// Thresholds returns the locked warning/critical pair for a metric, and
// whether it is locked at all.
func (m *Manager) Thresholds(metric string) (warning, critical float64, locked bool) {
	m.mu.RLock()
	acc, ok := m.accs[metric]
	m.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	locked = acc.Locked()
	warning, critical = acc.Thresholds()
	return warning, critical, locked
}

// States returns a snapshot of every tracked metric's accumulator state,
// for persistence.
func (m *Manager) States() []model.BaselineState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.BaselineState, 0, len(m.accs))
	for _, acc := range m.accs {
		out = append(out, acc.State())
	}
	return out
}
