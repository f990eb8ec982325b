package composer

import (
	"fmt"

	"github.com/sairen/sairen-os/internal/model"
)

// DefaultEstimator is the bundled category-specific expected-benefit
// heuristic over a ticket's metrics. A campaign can supply its own
// BenefitEstimator to override any or all categories.
type DefaultEstimator struct{}

func (DefaultEstimator) Estimate(category model.Category, m model.DrillingMetrics) string {
	switch category {
	case model.CategoryWellControl:
		return "avoid well control event; potential non-productive time 12-48 hrs"
	case model.CategoryMechanical:
		return fmt.Sprintf("reduce WOB 20-25%%, increase flow 80-100 gpm; recover ROP toward %.0f ft/hr", targetROP(m))
	case model.CategoryHydraulic:
		return "restore circulation balance; avoid lost circulation treatment cost"
	case model.CategoryFormation:
		return "adjust mud weight ahead of formation change; avoid differential sticking risk"
	case model.CategoryEfficiency:
		return fmt.Sprintf("recover mechanical efficiency toward target ratio; potential ROP gain %.0f%%", efficiencyGainPct(m))
	default:
		return "review current drilling parameters against baseline"
	}
}

func targetROP(m model.DrillingMetrics) float64 {
	if m.EfficiencyRatio <= 0 {
		return 0
	}
	return m.MechanicalSpecificEnergy / m.EfficiencyRatio
}

func efficiencyGainPct(m model.DrillingMetrics) float64 {
	if m.EfficiencyRatio <= 0 {
		return 0
	}
	gain := (1 - m.EfficiencyRatio) * 100
	if gain < 0 {
		return 0
	}
	return gain
}
