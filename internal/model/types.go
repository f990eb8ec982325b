// Package model holds the data-model types shared across the rig node and
// fleet hub pipelines: TelemetryPacket, DrillingMetrics, the advisory
// lifecycle types, and the fleet wire types. Kept dependency-free (no
// imports beyond stdlib) so every component package can depend on it
// without creating import cycles.
package model

import "time"

// RigState is the coarse operating state classified by the ingester.
type RigState string

const (
	RigDrilling    RigState = "drilling"
	RigCirculating RigState = "circulating"
	RigTrippingIn  RigState = "tripping_in"
	RigTrippingOut RigState = "tripping_out"
	RigConnection  RigState = "connection"
	RigIdle        RigState = "idle"
)

// Quality is the ingester's verdict on a packet's trustworthiness.
type Quality string

const (
	QualityGood    Quality = "good"
	QualitySuspect Quality = "suspect"
	QualityInvalid Quality = "invalid"
)

// Channels is the ~40 floating point sensor readings carried by one
// telemetry sample. Named fields for the ones the physics engine and
// dysfunction detectors reference directly; Extra carries the remainder
// so the schema can grow without breaking the wire format.
type Channels struct {
	WeightOnBit       float64 `json:"wob"`
	RateOfPenetration float64 `json:"rop"`
	RotarySpeed       float64 `json:"rpm"`
	Torque            float64 `json:"torque"`
	StandpipePressure float64 `json:"spp"`
	FlowIn            float64 `json:"flow_in"`
	FlowOut           float64 `json:"flow_out"`
	PitVolume         float64 `json:"pit_volume"`
	MudWeightIn       float64 `json:"mud_weight_in"`
	MudWeightOut      float64 `json:"mud_weight_out"`
	Gas               float64 `json:"gas"`
	H2S               float64 `json:"h2s"`
	HookLoad          float64 `json:"hook_load"`
	Depth             float64 `json:"depth"`

	Extra map[string]float64 `json:"extra,omitempty"`
}

// Finite reports whether every named and extra channel is a finite float.
func (c Channels) Finite() bool {
	vals := []float64{
		c.WeightOnBit, c.RateOfPenetration, c.RotarySpeed, c.Torque,
		c.StandpipePressure, c.FlowIn, c.FlowOut, c.PitVolume,
		c.MudWeightIn, c.MudWeightOut, c.Gas, c.H2S, c.HookLoad, c.Depth,
	}
	for _, v := range vals {
		if !isFinite(v) {
			return false
		}
	}
	for _, v := range c.Extra {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

// AllZero reports whether every channel reads exactly zero — the
// ingester's dead-feed signature.
func (c Channels) AllZero() bool {
	if c.WeightOnBit != 0 || c.RateOfPenetration != 0 || c.RotarySpeed != 0 ||
		c.Torque != 0 || c.StandpipePressure != 0 || c.FlowIn != 0 ||
		c.FlowOut != 0 || c.PitVolume != 0 || c.MudWeightIn != 0 ||
		c.MudWeightOut != 0 || c.Gas != 0 || c.H2S != 0 || c.HookLoad != 0 ||
		c.Depth != 0 {
		return false
	}
	for _, v := range c.Extra {
		if v != 0 {
			return false
		}
	}
	return true
}

func isFinite(f float64) bool { return f == f && f < 1e308 && f > -1e308 }

// TelemetryPacket is one sensor sample, after ingest classification.
type TelemetryPacket struct {
	Timestamp time.Time `json:"timestamp"`
	Channels  Channels  `json:"channels"`
	RigState  RigState  `json:"rig_state"`
	Operation string    `json:"operation"`
	Quality   Quality   `json:"quality"`
	RegimeID  *int      `json:"regime_id,omitempty"`
}

// Category is one of the five advisory categories.
type Category string

const (
	CategoryWellControl Category = "well_control"
	CategoryMechanical  Category = "mechanical"
	CategoryHydraulic   Category = "hydraulic"
	CategoryFormation   Category = "formation"
	CategoryEfficiency  Category = "efficiency"
)

// Severity is the escalation tier. The physics engine only ever produces
// Green, Amber, or Red; the tactical gate's anomaly-driven modulation
// additionally uses High as an intermediate rung between Amber and Red
// (e.g. the WellControl floor, or a one-tier escalation off Amber).
type Severity string

const (
	SeverityGreen Severity = "green"
	SeverityAmber Severity = "amber"
	SeverityHigh  Severity = "high"
	SeverityRed   Severity = "red"
)

// DysfunctionFlags are the boolean signature detectors the physics engine
// evaluates every packet.
type DysfunctionFlags struct {
	PackOff     bool `json:"pack_off"`
	StickSlip   bool `json:"stick_slip"`
	Founder     bool `json:"founder"`
	Washout     bool `json:"washout"`
	KickWarning bool `json:"kick_warning"`
	LossWarning bool `json:"loss_warning"`
}

// Any reports whether at least one dysfunction flag fired.
func (d DysfunctionFlags) Any() bool {
	return d.PackOff || d.StickSlip || d.Founder || d.Washout || d.KickWarning || d.LossWarning
}

// DrillingMetrics is the physics engine's per-packet deterministic output.
type DrillingMetrics struct {
	MechanicalSpecificEnergy float64          `json:"mse"`
	EfficiencyRatio          float64          `json:"efficiency_ratio"`
	DExponent                float64          `json:"d_exponent"`
	EquivalentCirculatingDensity float64      `json:"ecd"`
	FractureMargin           float64          `json:"fracture_margin"`
	FlowBalance              float64          `json:"flow_balance"`
	SmoothedPitRate          float64          `json:"smoothed_pit_rate"`
	Available                bool             `json:"available"` // false when ROP-gated metrics could not be computed
	Dysfunctions             DysfunctionFlags `json:"dysfunctions"`
	Severity                 Severity         `json:"severity"`
	AnomalyCategory          Category         `json:"anomaly_category"`
}

// HistoryEntry is one ring-buffer slot: a packet paired with its metrics.
type HistoryEntry struct {
	Packet  TelemetryPacket `json:"packet"`
	Metrics DrillingMetrics `json:"metrics"`
}

// BaselineState is one metric's learned accumulator and locked thresholds.
type BaselineState struct {
	Metric   string  `json:"metric"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Count    int64   `json:"count"`
	Locked   bool    `json:"locked"`
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// ThresholdBreach is one exceeded threshold attached to a ticket.
type ThresholdBreach struct {
	Field     string  `json:"field"`
	Actual    float64 `json:"actual"`
	Threshold float64 `json:"threshold"`
}

// SurpriseFeature is one recurrent-network per-feature signed z-score.
type SurpriseFeature struct {
	Feature string  `json:"feature"`
	ZScore  float64 `json:"z_score"`
}

// CausalLead is a lagged correlation between an input and the efficiency
// signal.
type CausalLead struct {
	Parameter   string  `json:"parameter"`
	LagSeconds  int     `json:"lag_seconds"`
	Correlation float64 `json:"correlation"`
	Direction   string  `json:"direction"` // increase|decrease
}

// AdvisoryTicket is created when the tactical gate escalates a packet.
type AdvisoryTicket struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	Packet      TelemetryPacket   `json:"packet"`
	Metrics     DrillingMetrics   `json:"metrics"`
	Severity    Severity          `json:"severity"`
	Category    Category          `json:"category"`
	Pattern     string            `json:"pattern"`
	History     []HistoryEntry    `json:"history"`
	Breaches    []ThresholdBreach `json:"breaches"`
	AnomalyScore *float64         `json:"anomaly_score,omitempty"`
	Surprises    []SurpriseFeature `json:"surprises,omitempty"`
	CausalLeads  []CausalLead     `json:"causal_leads,omitempty"`
	RegimeID     *int             `json:"regime_id,omitempty"`
}

// VerificationStatus is the strategic verifier's verdict kind.
type VerificationStatus string

const (
	VerificationConfirmed VerificationStatus = "confirmed"
	VerificationUncertain VerificationStatus = "uncertain"
	VerificationRejected  VerificationStatus = "rejected"
)

// VerificationResult is the strategic verifier's output for one ticket.
type VerificationResult struct {
	Status     VerificationStatus `json:"status"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
}

// RiskLevel is the specialist/consensus risk tier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SpecialistVote is one specialist's evaluation of a ticket.
type SpecialistVote struct {
	SpecialistName string    `json:"specialist_name"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Confidence     float64   `json:"confidence"`
	Reason         string    `json:"reason"`
	Weight         float64   `json:"weight"`
}

// VotingResult is the orchestrator's aggregated output.
type VotingResult struct {
	ConsensusRiskLevel  RiskLevel        `json:"consensus_risk_level"`
	Votes               []SpecialistVote `json:"votes"`
	AggregatedConfidence float64         `json:"aggregated_confidence"`
	RegimeLabel         int              `json:"regime_label"`
}

// Recommendation is the reasoner's output.
type Recommendation struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// AcknowledgmentRecord is attached to an advisory when an operator responds.
type AcknowledgmentRecord struct {
	Actor       string    `json:"actor"`
	ActionTaken string    `json:"action_taken"`
	Outcome     string    `json:"outcome"`
	Notes       string    `json:"notes"`
	At          time.Time `json:"at"`
}

// Advisory is the externally visible decision object emitted by the composer.
type Advisory struct {
	ID               string                `json:"id"`
	Timestamp        time.Time             `json:"timestamp"`
	RigID            string                `json:"rig_id"`
	WellID           string                `json:"well_id"`
	RiskLevel        RiskLevel             `json:"risk_level"`
	Category         Category              `json:"category"`
	Recommendation   string                `json:"recommendation"`
	ExpectedBenefit  string                `json:"expected_benefit"`
	PhysicsVerdict   DrillingMetrics       `json:"physics_verdict"`
	PrecedentSummary string                `json:"precedent_summary"`
	SpecialistVotes  []SpecialistVote      `json:"specialist_votes"`
	CausalLeads      []CausalLead          `json:"causal_leads"`
	Confidence       float64               `json:"confidence"`
	Acknowledgment   *AcknowledgmentRecord `json:"acknowledgment,omitempty"`
}

// EpisodeOutcome is the resolved-or-not outcome of a fleet episode.
type EpisodeOutcome string

const (
	OutcomePending       EpisodeOutcome = "pending"
	OutcomeResolved      EpisodeOutcome = "resolved"
	OutcomeEscalated     EpisodeOutcome = "escalated"
	OutcomeFalsePositive EpisodeOutcome = "false_positive"
)

// FleetEpisode is a compact precedent extracted from a red/amber advisory.
type FleetEpisode struct {
	ID              string         `json:"id"`
	SourceRigID     string         `json:"source_rig_id"`
	Category        Category       `json:"category"`
	Campaign        string         `json:"campaign"`
	DepthMin         float64       `json:"depth_min"`
	DepthMax         float64       `json:"depth_max"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	Outcome         EpisodeOutcome `json:"outcome"`
	OutcomeDetail   string         `json:"outcome_detail"`
	ResolutionNotes string         `json:"resolution_notes"`
	ActionTaken     string         `json:"action_taken"`
	Score           float64        `json:"score"`
	KeyMetrics      map[string]float64 `json:"key_metrics"`
	Timestamp       time.Time      `json:"timestamp"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Archived        bool           `json:"archived"`
}

// FleetEvent is the upload wrapper surrounding a qualifying advisory.
type FleetEvent struct {
	EventID       string         `json:"event_id"`
	RigID         string         `json:"rig_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Advisory      Advisory       `json:"advisory"`
	HistoryWindow []HistoryEntry `json:"history_window"`
	Outcome       *AcknowledgmentRecord `json:"outcome,omitempty"`
}

// ShouldUpload reports whether an advisory's risk level qualifies for
// fleet upload (risk_level ∈ {Elevated, High, Critical}).
func ShouldUpload(risk RiskLevel) bool {
	return risk == RiskElevated || risk == RiskHigh || risk == RiskCritical
}

// RigStatus is the registry's view of a rig's lifecycle.
type RigStatus string

const (
	RigActive  RigStatus = "active"
	RigRevoked RigStatus = "revoked"
)

// Rig is a fleet hub registry row.
type Rig struct {
	RigID        string    `json:"rig_id"`
	WellID       string    `json:"well_id"`
	Field        string    `json:"field"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	LastSync     time.Time `json:"last_sync"`
	Status       RigStatus `json:"status"`
}
