package physics

import (
	"math"

	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/model"
)

// detectDysfunctions runs the signature-based boolean detectors. Pack-off
// is relative to a baseline snapshot taken from the start of the history
// window and stick-slip to the torque variation over its own window; the
// founder, washout, kick and loss checks compare against fixed thresholds.
func (e *Engine) detectDysfunctions(pkt model.TelemetryPacket, hist *history.Buffer, m model.DrillingMetrics) model.DysfunctionFlags {
	var flags model.DysfunctionFlags

	baseline, ok := hist.Oldest()
	if ok {
		bc := baseline.Packet.Channels
		cc := pkt.Channels

		torqueUp := pctIncrease(bc.Torque, cc.Torque)
		sppUp := pctIncrease(bc.StandpipePressure, cc.StandpipePressure)
		ropDown := pctDecrease(bc.RateOfPenetration, cc.RateOfPenetration)

		if torqueUp > e.cfg.PackOffTorquePct && sppUp > e.cfg.PackOffSPPPct && ropDown > e.cfg.PackOffROPDropPct {
			flags.PackOff = true
		}
	}

	if cv := torqueCV(hist, e.cfg.StickSlipWindow, pkt.Channels.Torque); cv > e.cfg.StickSlipCVThreshold {
		flags.StickSlip = true
	}

	if pkt.RigState == model.RigDrilling && pkt.Channels.RateOfPenetration < ropEpsilon && pkt.Channels.WeightOnBit > 0 {
		flags.Founder = true
	}

	if m.FlowBalance < -20 {
		flags.Washout = true
	}

	if pkt.Channels.FlowIn > 0 && pctIncrease(pkt.Channels.FlowIn, pkt.Channels.FlowOut) > 0.03 && pkt.Channels.Gas > 100 {
		flags.KickWarning = true
	}

	if m.FlowBalance < -50 && m.SmoothedPitRate < -5 {
		flags.LossWarning = true
	}

	return flags
}

func pctIncrease(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / math.Abs(from)
}

func pctDecrease(from, to float64) float64 {
	return pctIncrease(from, to) * -1
}

// torqueCV computes the coefficient of variation of torque over the last
// window samples (including the current reading).
func torqueCV(hist *history.Buffer, window int, current float64) float64 {
	entries := hist.Recent(window - 1)
	values := make([]float64, 0, window)
	for _, e := range entries {
		values = append(values, e.Packet.Channels.Torque)
	}
	values = append(values, current)

	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return math.Sqrt(variance) / math.Abs(mean)
}
