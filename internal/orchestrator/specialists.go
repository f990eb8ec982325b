package orchestrator

import "github.com/sairen/sairen-os/internal/model"

const (
	efficiencyName  = "mse_efficiency"
	hydraulicName   = "hydraulic"
	wellControlName = "well_control"
	formationName   = "formation"
)

// efficiencySpecialist votes on mechanical-specific-energy inefficiency.
type efficiencySpecialist struct{}

func (efficiencySpecialist) Name() string { return efficiencyName }

func (efficiencySpecialist) Evaluate(ticket model.AdvisoryTicket) model.SpecialistVote {
	m := ticket.Metrics
	switch {
	case !m.Available:
		return vote(efficiencyName, model.RiskLow, 0.5, "no drilling activity to assess")
	case m.Dysfunctions.StickSlip || m.Dysfunctions.Founder:
		return vote(efficiencyName, model.RiskHigh, 0.8, "mechanical dysfunction degrading efficiency")
	case m.EfficiencyRatio < 0.5:
		return vote(efficiencyName, model.RiskElevated, 0.7, "efficiency ratio well below target")
	case m.EfficiencyRatio < 0.8:
		return vote(efficiencyName, model.RiskLow, 0.6, "efficiency ratio mildly below target")
	default:
		return vote(efficiencyName, model.RiskLow, 0.9, "efficiency within normal range")
	}
}

// hydraulicSpecialist votes on ECD/fracture margin and flow balance.
type hydraulicSpecialist struct{}

func (hydraulicSpecialist) Name() string { return hydraulicName }

func (hydraulicSpecialist) Evaluate(ticket model.AdvisoryTicket) model.SpecialistVote {
	m := ticket.Metrics
	switch {
	case m.Dysfunctions.LossWarning:
		return vote(hydraulicName, model.RiskHigh, 0.8, "sustained flow deficit consistent with losses")
	case m.Dysfunctions.Washout:
		return vote(hydraulicName, model.RiskElevated, 0.7, "flow imbalance consistent with washout")
	case m.FractureMargin < 0.1:
		return vote(hydraulicName, model.RiskElevated, 0.65, "ECD approaching fracture gradient")
	default:
		return vote(hydraulicName, model.RiskLow, 0.85, "hydraulics within normal range")
	}
}

// wellControlSpecialist votes on kick indicators. This is the only
// specialist whose Critical vote can force the orchestrator's consensus.
type wellControlSpecialist struct{}

func (wellControlSpecialist) Name() string { return wellControlName }

func (wellControlSpecialist) Evaluate(ticket model.AdvisoryTicket) model.SpecialistVote {
	m := ticket.Metrics
	switch {
	case m.Dysfunctions.KickWarning && ticket.Category == model.CategoryWellControl:
		return vote(wellControlName, model.RiskCritical, 0.9, "kick signature with sustained pit gain")
	case m.Dysfunctions.KickWarning:
		return vote(wellControlName, model.RiskHigh, 0.75, "kick indicators present but unconfirmed")
	default:
		return vote(wellControlName, model.RiskLow, 0.9, "no well control indicators")
	}
}

// formationSpecialist votes on d-exponent/formation-change indicators.
type formationSpecialist struct{}

func (formationSpecialist) Name() string { return formationName }

func (formationSpecialist) Evaluate(ticket model.AdvisoryTicket) model.SpecialistVote {
	m := ticket.Metrics
	if m.Dysfunctions.Washout {
		return vote(formationName, model.RiskElevated, 0.6, "washout signature may indicate formation change")
	}
	if m.DExponent > 0 && m.DExponent < 1.0 {
		return vote(formationName, model.RiskElevated, 0.55, "d-exponent trend suggests transitioning formation")
	}
	return vote(formationName, model.RiskLow, 0.8, "no formation-change indicators")
}

func vote(name string, risk model.RiskLevel, confidence float64, reason string) model.SpecialistVote {
	return model.SpecialistVote{SpecialistName: name, RiskLevel: risk, Confidence: confidence, Reason: reason}
}
