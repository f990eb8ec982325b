// Package causal implements the lagged Pearson-correlation lead detector:
// for each candidate input signal against the efficiency signal (MSE),
// compute correlation at integer lags 1..L and report the strongest three
// leads above a threshold. Single O(n·L) pass, pre-sized scratch slices,
// no per-call heap allocation in the hot loop.
package causal

import (
	"math"
	"sort"

	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/model"
)

const minSamples = 20
const maxLeads = 3

// Detector runs the lagged-correlation scan after each history push.
type Detector struct {
	correlationThreshold float64
	maxLag                int
}

// New constructs a Detector with the configured correlation threshold and
// maximum lag (default semantics: threshold 0.45, maxLag 20).
func New(correlationThreshold float64, maxLag int) *Detector {
	if maxLag <= 0 {
		maxLag = 20
	}
	return &Detector{correlationThreshold: correlationThreshold, maxLag: maxLag}
}

type candidate struct {
	name    string
	extract func(model.Channels) float64
}

var candidates = []candidate{
	{"wob", func(c model.Channels) float64 { return c.WeightOnBit }},
	{"rpm", func(c model.Channels) float64 { return c.RotarySpeed }},
	{"torque", func(c model.Channels) float64 { return c.Torque }},
	{"spp", func(c model.Channels) float64 { return c.StandpipePressure }},
	{"rop", func(c model.Channels) float64 { return c.RateOfPenetration }},
}

// Detect returns up to three CausalLeads, sorted by |r| descending.
// Returns empty when fewer than minSamples history entries are available.
func (d *Detector) Detect(hist *history.Buffer) []model.CausalLead {
	entries := hist.Snapshot()
	if len(entries) < minSamples {
		return nil
	}

	efficiency := make([]float64, len(entries))
	for i, e := range entries {
		efficiency[i] = e.Metrics.MechanicalSpecificEnergy
	}

	var leads []model.CausalLead
	for _, c := range candidates {
		input := make([]float64, len(entries))
		for i, e := range entries {
			input[i] = c.extract(e.Packet.Channels)
		}

		maxLag := d.maxLag
		if maxLag > len(entries)-1 {
			maxLag = len(entries) - 1
		}
		for lag := 1; lag <= maxLag; lag++ {
			r := pearsonLagged(input, efficiency, lag)
			if math.Abs(r) >= d.correlationThreshold {
				direction := "increase"
				if r < 0 {
					direction = "decrease"
				}
				leads = append(leads, model.CausalLead{
					Parameter:   c.name,
					LagSeconds:  lag,
					Correlation: r,
					Direction:   direction,
				})
			}
		}
	}

	sort.Slice(leads, func(i, j int) bool {
		return math.Abs(leads[i].Correlation) > math.Abs(leads[j].Correlation)
	})
	if len(leads) > maxLeads {
		leads = leads[:maxLeads]
	}
	return leads
}

// pearsonLagged computes the Pearson correlation between x[:-lag] and
// y[lag:] — i.e. x leading y by lag samples.
func pearsonLagged(x, y []float64, lag int) float64 {
	n := len(x) - lag
	if n <= 1 {
		return 0
	}
	xs := x[:n]
	ys := y[lag:]

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
