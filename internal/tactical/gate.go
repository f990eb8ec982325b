// Package tactical implements the tactical gate: a pure function of a
// packet, its derived metrics, and the recurrent network's output,
// deciding whether the packet warrants escalation to the strategic
// verifier. Grounded on the severity-tiering and monotonic-floor idiom
// of the teacher's escalation package, generalized from a single global
// floor to a category-scoped one (WellControl is never downgraded below
// High).
package tactical

import (
	"time"

	"github.com/google/uuid"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/model"
)

// Gate evaluates packets against configured thresholds.
type Gate struct {
	cfg config.Thresholds
}

func New(cfg config.Thresholds) *Gate {
	return &Gate{cfg: cfg}
}

// Input bundles everything the gate needs: the raw packet, the physics
// engine's derived metrics, the current history window, and the
// recurrent network's per-packet output.
type Input struct {
	Packet     model.TelemetryPacket
	Metrics    model.DrillingMetrics
	History    *history.Buffer
	AnomalyScore *float64
	Surprises    []model.SurpriseFeature
	CausalLeads  []model.CausalLead
}

// Evaluate returns (ticket, true) when the packet should escalate to the
// strategic verifier, or (zero, false) on the Continue path.
func (g *Gate) Evaluate(in Input) (model.AdvisoryTicket, bool) {
	belowLow := in.AnomalyScore != nil && *in.AnomalyScore < g.cfg.AnomalyLow
	noFlags := !in.Metrics.Dysfunctions.Any()

	if in.Metrics.Severity == model.SeverityGreen && noFlags && (in.AnomalyScore == nil || belowLow) {
		return model.AdvisoryTicket{}, false
	}

	ticket := model.AdvisoryTicket{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Packet:      in.Packet,
		Metrics:     in.Metrics,
		Severity:    in.Metrics.Severity,
		Category:    in.Metrics.AnomalyCategory,
		Pattern:     patternName(in.Metrics),
		Breaches:    breaches(in.Metrics, g.cfg),
		AnomalyScore: in.AnomalyScore,
		Surprises:   in.Surprises,
		CausalLeads: in.CausalLeads,
		RegimeID:    in.Packet.RegimeID,
	}
	if in.History != nil {
		ticket.History = in.History.Snapshot()
	}

	ticket.Severity = g.modulate(ticket.Severity, ticket.Category, in.AnomalyScore)
	return ticket, true
}

// modulate applies anomaly-score-driven severity shifts, enforcing the
// WellControl safety floor: a WellControl ticket is never downgraded
// below High, regardless of how low the anomaly score reads.
func (g *Gate) modulate(sev model.Severity, category model.Category, score *float64) model.Severity {
	if score != nil {
		if *score < g.cfg.AnomalyLow {
			sev = downgrade(sev)
		} else if *score >= g.cfg.AnomalyHigh {
			sev = escalate(sev)
		}
	}
	if category == model.CategoryWellControl && severityRank(sev) < severityRank(model.SeverityHigh) {
		sev = model.SeverityHigh
	}
	return sev
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityGreen:
		return 0
	case model.SeverityAmber:
		return 1
	case model.SeverityHigh:
		return 2
	case model.SeverityRed:
		return 3
	default:
		return 0
	}
}

var severityLadder = []model.Severity{model.SeverityGreen, model.SeverityAmber, model.SeverityHigh, model.SeverityRed}

func downgrade(s model.Severity) model.Severity {
	r := severityRank(s)
	if r == 0 {
		return model.SeverityGreen
	}
	return severityLadder[r-1]
}

func escalate(s model.Severity) model.Severity {
	r := severityRank(s)
	if r == len(severityLadder)-1 {
		return model.SeverityRed
	}
	return severityLadder[r+1]
}

// patternName looks up a human-readable pattern label by which
// dysfunction breaches fired, falling back to the category name.
func patternName(m model.DrillingMetrics) string {
	switch {
	case m.Dysfunctions.KickWarning:
		return "Kick Signature"
	case m.Dysfunctions.LossWarning:
		return "Lost Circulation"
	case m.Dysfunctions.PackOff:
		return "Pack-off"
	case m.Dysfunctions.StickSlip:
		return "Stick-Slip"
	case m.Dysfunctions.Founder:
		return "Bit Founder"
	case m.Dysfunctions.Washout:
		return "Washout"
	case m.EfficiencyRatio < 0.5 && m.Available:
		return "MSE Inefficiency"
	default:
		return "Anomalous Drilling Signature"
	}
}

// breaches collects every exceeded threshold with its actual value, for
// operator review on the ticket.
func breaches(m model.DrillingMetrics, cfg config.Thresholds) []model.ThresholdBreach {
	var out []model.ThresholdBreach
	if m.FractureMargin < 0 {
		out = append(out, model.ThresholdBreach{Field: "fracture_margin", Actual: m.FractureMargin, Threshold: 0})
	}
	if m.FlowBalance < -20 {
		out = append(out, model.ThresholdBreach{Field: "flow_balance", Actual: m.FlowBalance, Threshold: -20})
	}
	if m.Dysfunctions.StickSlip {
		out = append(out, model.ThresholdBreach{Field: "stick_slip_cv", Actual: 1, Threshold: 0})
	}
	return out
}
