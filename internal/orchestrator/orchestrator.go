// Package orchestrator runs four independent specialists over a ticket
// and aggregates their votes into a consensus risk level. Grounded on
// the weighted-sum composite-scoring formula in the teacher's escalation
// severity scorer, generalized from one composite scalar to four
// specialist votes aggregated by summed weight per risk level, with a
// post-renormalization safety override mirroring the teacher's
// apply-override-after-aggregation shape in its worker loop.
package orchestrator

import (
	"time"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/invariant"
	"github.com/sairen/sairen-os/internal/model"
)

// Specialist evaluates a ticket independently of the others and of the
// LLM reasoner.
type Specialist interface {
	Name() string
	Evaluate(ticket model.AdvisoryTicket) model.SpecialistVote
}

// regimeMultipliers is a table of four profiles (indexed 0..3, clamped)
// scaling each specialist's baseline weight by drilling regime.
// Profile 0 favors efficiency (steady-state drilling); profile 3 favors
// well control (the most volatile regime observed so far).
var regimeMultipliers = [4]struct {
	Efficiency, Hydraulic, WellControl, Formation float64
}{
	{Efficiency: 1.3, Hydraulic: 1.0, WellControl: 0.8, Formation: 1.0},
	{Efficiency: 1.0, Hydraulic: 1.2, WellControl: 1.0, Formation: 1.0},
	{Efficiency: 0.9, Hydraulic: 1.0, WellControl: 1.2, Formation: 1.1},
	{Efficiency: 0.6, Hydraulic: 1.0, WellControl: 1.6, Formation: 1.1},
}

// Orchestrator owns the four specialists and the baseline weight config.
type Orchestrator struct {
	cfg         config.EnsembleWeights
	specialists []Specialist
	ledger      *invariant.Ledger
}

// New builds an orchestrator with the four standard specialists.
func New(cfg config.EnsembleWeights) *Orchestrator {
	return &Orchestrator{
		cfg: cfg,
		specialists: []Specialist{
			efficiencySpecialist{},
			hydraulicSpecialist{},
			wellControlSpecialist{},
			formationSpecialist{},
		},
	}
}

// WithLedger attaches an audit ledger that records every WellControl
// safety override. Optional — a nil ledger means Vote simply skips
// auditing.
func (o *Orchestrator) WithLedger(l *invariant.Ledger) *Orchestrator {
	o.ledger = l
	return o
}

// Vote runs all specialists, applies regime-weighted aggregation, and
// returns the consensus.
func (o *Orchestrator) Vote(ticket model.AdvisoryTicket) model.VotingResult {
	votes := make([]model.SpecialistVote, len(o.specialists))
	for i, s := range o.specialists {
		votes[i] = s.Evaluate(ticket)
	}

	regimeID := 0
	if ticket.RegimeID != nil {
		regimeID = *ticket.RegimeID
	}
	weights := o.regimeWeightedAndRenormalized(regimeID)
	for i := range votes {
		votes[i].Weight = weights[votes[i].SpecialistName]
	}

	tally := map[model.RiskLevel]float64{}
	for _, v := range votes {
		tally[v.RiskLevel] += v.Weight
	}
	consensus := argmaxRisk(tally)

	// Safety override, applied after aggregation: a Critical WellControl
	// vote always wins regardless of the weighted consensus.
	for _, v := range votes {
		if v.SpecialistName == wellControlName && v.RiskLevel == model.RiskCritical && consensus != model.RiskCritical {
			if o.ledger != nil {
				o.ledger.Record(invariant.KindWellControlOverride, "", string(ticket.Category),
					string(consensus), string(model.RiskCritical),
					map[string]interface{}{"well_control_confidence": v.Confidence}, time.Now().UTC())
			}
			consensus = model.RiskCritical
		}
	}

	return model.VotingResult{
		ConsensusRiskLevel:   consensus,
		Votes:                votes,
		AggregatedConfidence: aggregatedConfidence(votes, consensus),
		RegimeLabel:          regimeID,
	}
}

func (o *Orchestrator) regimeWeightedAndRenormalized(regimeID int) map[string]float64 {
	if regimeID < 0 {
		regimeID = 0
	}
	if regimeID >= len(regimeMultipliers) {
		regimeID = len(regimeMultipliers) - 1
	}
	mult := regimeMultipliers[regimeID]

	raw := map[string]float64{
		efficiencyName:  o.cfg.Efficiency * mult.Efficiency,
		hydraulicName:   o.cfg.Hydraulic * mult.Hydraulic,
		wellControlName: o.cfg.WellControl * mult.WellControl,
		formationName:   o.cfg.Formation * mult.Formation,
	}

	var sum float64
	for _, w := range raw {
		sum += w
	}
	if sum <= 0 {
		sum = 1
	}
	for k, w := range raw {
		raw[k] = w / sum
	}
	return raw
}

func argmaxRisk(tally map[model.RiskLevel]float64) model.RiskLevel {
	order := []model.RiskLevel{model.RiskLow, model.RiskElevated, model.RiskHigh, model.RiskCritical}
	best := model.RiskLow
	bestWeight := -1.0
	for _, level := range order {
		if w := tally[level]; w > bestWeight {
			bestWeight = w
			best = level
		}
	}
	return best
}

// aggregatedConfidence is the weighted average specialist confidence,
// scaled down by how much the votes disagree with the consensus level.
func aggregatedConfidence(votes []model.SpecialistVote, consensus model.RiskLevel) float64 {
	var weightedSum, totalWeight float64
	var agreeingWeight float64
	for _, v := range votes {
		weightedSum += v.Confidence * v.Weight
		totalWeight += v.Weight
		if v.RiskLevel == consensus {
			agreeingWeight += v.Weight
		}
	}
	if totalWeight == 0 {
		return 0
	}
	avgConfidence := weightedSum / totalWeight
	agreement := agreeingWeight / totalWeight
	return avgConfidence * agreement
}
