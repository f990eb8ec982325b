// Package strategic implements the strategic verifier: a deterministic,
// per-ticket check that a tactical ticket's signature is actually
// sustained in the history window, rather than a single-packet blip.
// Grounded on the violation-taxonomy / bounds-check shape of the
// teacher's constitutional checker, generalized from "reject on bounds
// violation" to a three-way Confirmed/Uncertain/Rejected verdict with an
// anomaly-score tiebreak.
package strategic

import (
	"fmt"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/model"
)

const sustainWindow = 10 // packets (~10s at 1Hz) averaged for "sustained" checks

// Verifier inspects tickets against their history window.
type Verifier struct {
	cfg config.Thresholds
}

func New(cfg config.Thresholds) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify returns a verdict for the ticket. When the signature check is
// Uncertain, it applies the recurrent-score tiebreak: strong
// corroboration confirms, weak corroboration rejects, otherwise it stays
// Uncertain with reduced confidence.
func (v *Verifier) Verify(ticket model.AdvisoryTicket) model.VerificationResult {
	status, reason, confidence := v.checkSignature(ticket)
	if status != model.VerificationUncertain {
		return model.VerificationResult{Status: status, Confidence: confidence, Reason: reason}
	}

	if ticket.AnomalyScore != nil {
		switch {
		case *ticket.AnomalyScore >= v.cfg.StrongCorroborate:
			return model.VerificationResult{Status: model.VerificationConfirmed, Confidence: *ticket.AnomalyScore, Reason: "network corroborates"}
		case *ticket.AnomalyScore <= v.cfg.WeakReject:
			return model.VerificationResult{Status: model.VerificationRejected, Confidence: 1 - *ticket.AnomalyScore, Reason: "network does not corroborate signature"}
		}
	}
	return model.VerificationResult{Status: model.VerificationUncertain, Confidence: confidence * 0.5, Reason: reason}
}

// checkSignature inspects the ticket's category-specific sustained
// signature over its history window.
func (v *Verifier) checkSignature(ticket model.AdvisoryTicket) (model.VerificationStatus, string, float64) {
	window := recentWindow(ticket.History, sustainWindow)
	if len(window) == 0 {
		return model.VerificationUncertain, "insufficient history to confirm signature", 0.4
	}

	switch {
	case ticket.Metrics.Dysfunctions.KickWarning:
		return v.verifyKick(window)
	case ticket.Metrics.Dysfunctions.PackOff:
		return v.verifyPackOff(window)
	case ticket.Metrics.Dysfunctions.Washout, ticket.Metrics.Dysfunctions.LossWarning:
		return v.verifyLoss(window)
	case ticket.Metrics.Dysfunctions.StickSlip:
		return v.verifyStickSlip(window)
	default:
		return model.VerificationUncertain, "no category-specific signature check available", 0.5
	}
}

func (v *Verifier) verifyKick(window []model.HistoryEntry) (model.VerificationStatus, string, float64) {
	avgFlowImbalance := average(window, func(e model.HistoryEntry) float64 {
		return e.Packet.Channels.FlowOut - e.Packet.Channels.FlowIn
	})
	pitGain := window[len(window)-1].Metrics.SmoothedPitRate
	if avgFlowImbalance > 5 && pitGain > 1 {
		return model.VerificationConfirmed, fmt.Sprintf("flow imbalance %.1f gpm sustained with pit gain %.1f bbl/hr", avgFlowImbalance, pitGain), 0.9
	}
	if avgFlowImbalance <= 0 {
		return model.VerificationRejected, "no sustained flow imbalance", 0.8
	}
	return model.VerificationUncertain, "flow imbalance present but pit gain inconclusive", 0.5
}

func (v *Verifier) verifyPackOff(window []model.HistoryEntry) (model.VerificationStatus, string, float64) {
	first, last := window[0].Packet.Channels, window[len(window)-1].Packet.Channels
	torqueUp := last.Torque > first.Torque
	sppUp := last.StandpipePressure > first.StandpipePressure
	ropDown := last.RateOfPenetration < first.RateOfPenetration
	if torqueUp && sppUp && ropDown {
		return model.VerificationConfirmed, "torque+SPP+ROP signature sustained", 0.85
	}
	return model.VerificationUncertain, "torque/SPP/ROP signature not fully sustained across window", 0.5
}

func (v *Verifier) verifyLoss(window []model.HistoryEntry) (model.VerificationStatus, string, float64) {
	avgBalance := average(window, func(e model.HistoryEntry) float64 { return e.Metrics.FlowBalance })
	if avgBalance < -20 {
		return model.VerificationConfirmed, "flow balance deficit sustained", 0.85
	}
	return model.VerificationUncertain, "flow balance deficit not sustained across window", 0.45
}

func (v *Verifier) verifyStickSlip(window []model.HistoryEntry) (model.VerificationStatus, string, float64) {
	count := 0
	for _, e := range window {
		if e.Metrics.Dysfunctions.StickSlip {
			count++
		}
	}
	if count >= len(window)/2 {
		return model.VerificationConfirmed, "torque oscillation sustained across window majority", 0.8
	}
	return model.VerificationUncertain, "torque oscillation intermittent", 0.5
}

func recentWindow(history []model.HistoryEntry, n int) []model.HistoryEntry {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func average(window []model.HistoryEntry, extract func(model.HistoryEntry) float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, e := range window {
		sum += extract(e)
	}
	return sum / float64(len(window))
}
