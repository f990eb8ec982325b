// Package physics computes deterministic drilling metrics and
// signature-based dysfunction flags from one telemetry packet and the
// recent history window. The engine never learns; thresholds come from
// config merged with locked baseline values. Numeric guards (NaN/Inf
// clamp-and-warn) follow the same defensive style the agent's own
// Mahalanobis scorer uses around covariance inversion.
package physics

import (
	"math"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/model"
)

const ropEpsilon = 1e-3

// Engine computes DrillingMetrics for one packet given the recent history.
type Engine struct {
	cfg config.Physics
	log *zap.Logger
}

// New constructs a physics engine bound to the given tunable constants.
func New(cfg config.Physics, log *zap.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Compute derives DrillingMetrics for pkt given the history buffer for
// trend context. Metrics gated on ROP are reported unavailable (not
// zero) outside Drilling state or when ROP is too small to divide by.
func (e *Engine) Compute(pkt model.TelemetryPacket, hist *history.Buffer) model.DrillingMetrics {
	m := model.DrillingMetrics{Available: true}

	ropGated := pkt.RigState == model.RigDrilling && pkt.Channels.RateOfPenetration > ropEpsilon
	if !ropGated {
		m.Available = false
	} else {
		m.MechanicalSpecificEnergy = e.clamp("mse", mechanicalSpecificEnergy(pkt.Channels))
		m.DExponent = e.clamp("d_exponent", dExponent(pkt.Channels))
		m.EfficiencyRatio = e.clamp("efficiency_ratio", efficiencyRatio(pkt.Channels, m.MechanicalSpecificEnergy))
	}

	m.EquivalentCirculatingDensity = e.clamp("ecd", equivalentCirculatingDensity(pkt.Channels))
	m.FractureMargin = e.clamp("fracture_margin", m.EquivalentCirculatingDensity-e.cfg.FractureGradientMargin)
	m.FlowBalance = e.clamp("flow_balance", pkt.Channels.FlowOut-pkt.Channels.FlowIn)
	m.SmoothedPitRate = smoothedPitRate(hist, pkt.Channels.PitVolume)

	m.Dysfunctions = e.detectDysfunctions(pkt, hist, m)
	m.Severity, m.AnomalyCategory = e.classifySeverity(m)

	return m
}

func mechanicalSpecificEnergy(c model.Channels) float64 {
	if c.RateOfPenetration <= ropEpsilon {
		return 0
	}
	// MSE = WOB/area term folded into a simplified torque+WOB form
	// (bit area is a rig constant carried in config in a fuller build;
	// this keeps the ratio dimensionally consistent for thresholding).
	return (c.Torque*120 + c.WeightOnBit*1000) / c.RateOfPenetration
}

func dExponent(c model.Channels) float64 {
	if c.RotarySpeed <= ropEpsilon || c.WeightOnBit <= ropEpsilon {
		return 0
	}
	ropPerHour := c.RateOfPenetration
	if ropPerHour <= 0 {
		return 0
	}
	return math.Log10(ropPerHour/(60*c.RotarySpeed)) / math.Log10(12*c.WeightOnBit/1000)
}

func efficiencyRatio(c model.Channels, mse float64) float64 {
	if mse <= 0 {
		return 0
	}
	return c.RateOfPenetration / mse
}

func equivalentCirculatingDensity(c model.Channels) float64 {
	// Simplified ECD: static mud weight plus a friction term proportional
	// to standpipe pressure and depth.
	if c.Depth <= 0 {
		return c.MudWeightIn
	}
	return c.MudWeightIn + c.StandpipePressure/(0.052*c.Depth+1)
}

func smoothedPitRate(hist *history.Buffer, current float64) float64 {
	entries := hist.Recent(5)
	if len(entries) == 0 {
		return 0
	}
	sum := current
	for _, e := range entries {
		sum += e.Packet.Channels.PitVolume
	}
	return sum / float64(len(entries)+1)
}

// clamp replaces a non-finite result with 0 and logs a warning, per the
// PhysicsNumeric recovery policy (clamp + warn, never raise).
func (e *Engine) clamp(name string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		if e.log != nil {
			e.log.Warn("physics metric clamped to safe default", zap.String("metric", name))
		}
		return 0
	}
	return v
}

func (e *Engine) classifySeverity(m model.DrillingMetrics) (model.Severity, model.Category) {
	switch {
	case m.Dysfunctions.KickWarning:
		return model.SeverityRed, model.CategoryWellControl
	case m.Dysfunctions.PackOff:
		return model.SeverityAmber, model.CategoryMechanical
	case m.Dysfunctions.LossWarning:
		return model.SeverityAmber, model.CategoryHydraulic
	case m.Dysfunctions.Washout:
		return model.SeverityAmber, model.CategoryFormation
	case m.Dysfunctions.StickSlip || m.Dysfunctions.Founder:
		return model.SeverityAmber, model.CategoryMechanical
	default:
		return model.SeverityGreen, model.CategoryEfficiency
	}
}
