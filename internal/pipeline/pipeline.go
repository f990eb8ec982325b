// Package pipeline wires one telemetry packet through every rig-node
// stage — physics, the recurrent network, baseline learning, the
// tactical gate, causal detection, strategic verification, knowledge
// recall, the reasoner, specialist voting, and composition — on a
// single goroutine. The recurrent network and the history buffer are
// never locked: they live here exclusively, and background tasks (the
// uploader, library syncer, federation publisher/puller) only ever
// observe or hand off state through channels, mirroring the "owned copy
// through a watch slot" shape internal/recurrent's package doc
// describes for the network itself.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/baseline"
	"github.com/sairen/sairen-os/internal/causal"
	"github.com/sairen/sairen-os/internal/composer"
	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/fleet/queue"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/knowledge"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/observability"
	"github.com/sairen/sairen-os/internal/orchestrator"
	"github.com/sairen/sairen-os/internal/physics"
	"github.com/sairen/sairen-os/internal/reasoner"
	"github.com/sairen/sairen-os/internal/recurrent"
	"github.com/sairen/sairen-os/internal/strategic"
	"github.com/sairen/sairen-os/internal/tactical"
	"github.com/sairen/sairen-os/internal/wire"
	"github.com/google/uuid"
)

// trackedBaselineMetrics mirrors internal/baseline's tracked metric set;
// duplicated here (rather than exported from baseline) because the
// pipeline is the only caller that needs to enumerate it alongside the
// values it extracts from one packet's metrics.
var trackedBaselineMetrics = []string{"mse", "ecd", "flow_balance", "torque", "spp"}

// Deps bundles every collaborator the coordinator drives. Log, Metrics,
// Knowledge, Queue and OnBaselineLocked may be nil; the rest are
// required. A ledger is wired onto Composer/Orchestrator by the caller
// before constructing Deps.
type Deps struct {
	Config    config.Config
	Log       *zap.Logger
	Metrics   *observability.Metrics
	Physics   *physics.Engine
	History   *history.Buffer
	Causal    *causal.Detector
	Baseline  *baseline.Manager
	Gate      *tactical.Gate
	Verifier  *strategic.Verifier
	Knowledge knowledge.Store
	Reasoner  *reasoner.Reasoner
	Orchestrator *orchestrator.Orchestrator
	Composer  *composer.Composer
	Network   *recurrent.Network
	Queue     *queue.Queue

	// OnBaselineLocked is called with the full accumulator snapshot
	// whenever ObserveStable reports at least one newly locked metric,
	// so the caller can persist it (rigstore.SaveBaselineStates).
	OnBaselineLocked func(states []model.BaselineState)
}

// Coordinator owns the single-goroutine packet loop.
type Coordinator struct {
	d Deps
}

// New builds a Coordinator. The caller is responsible for constructing
// every dependency in Deps (including wiring an invariant.Ledger onto
// Composer/Orchestrator via their WithLedger setters, if auditing is
// enabled) before calling New.
func New(d Deps) *Coordinator {
	return &Coordinator{d: d}
}

// Run consumes packets until ctx is cancelled or packets closes,
// draining federationApply between packets so an accepted fleet
// aggregate is folded into the live network without ever locking it.
func (c *Coordinator) Run(ctx context.Context, packets <-chan model.TelemetryPacket, federationApply <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-federationApply:
			if !ok {
				federationApply = nil
				continue
			}
			c.applyFederatedCheckpoint(raw)

		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			start := time.Now()
			c.process(ctx, pkt)
			if c.d.Metrics != nil {
				c.d.Metrics.PipelineLatency.Observe(time.Since(start).Seconds())
			}
		}
	}
}

// process runs one packet through every stage. Nothing here returns an
// error to the caller — per-stage failures are logged and the packet is
// downgraded to the safest available path, since a stalled pipeline
// goroutine is worse than one degraded packet.
func (c *Coordinator) process(ctx context.Context, pkt model.TelemetryPacket) {
	metrics := c.d.Physics.Compute(pkt, c.d.History)

	features := extractFeatures(pkt.Channels, metrics)
	netOut := c.d.Network.Step(features)
	regimeID := netOut.RegimeID
	pkt.RegimeID = &regimeID

	if c.d.Metrics != nil && netOut.AnomalyScore != nil {
		c.d.Metrics.AnomalyScoreHistogram.Observe(*netOut.AnomalyScore)
	}

	extraBreaches, escalate := c.checkBaselineBreaches(pkt.Channels, metrics)
	if escalate {
		metrics.Severity = escalateOneTier(metrics.Severity)
	}

	c.d.History.Push(model.HistoryEntry{Packet: pkt, Metrics: metrics})

	if !metrics.Dysfunctions.Any() {
		if justLocked := c.d.Baseline.ObserveStable(stableValues(pkt.Channels, metrics)); len(justLocked) > 0 && c.d.OnBaselineLocked != nil {
			c.d.OnBaselineLocked(c.d.Baseline.States())
		}
	}

	causalLeads := c.d.Causal.Detect(c.d.History)

	ticket, escalateToTactical := c.d.Gate.Evaluate(tactical.Input{
		Packet:       pkt,
		Metrics:      metrics,
		History:      c.d.History,
		AnomalyScore: netOut.AnomalyScore,
		Surprises:    netOut.Surprises,
		CausalLeads:  causalLeads,
	})
	if !escalateToTactical {
		return
	}
	ticket.Breaches = append(ticket.Breaches, extraBreaches...)

	if c.d.Metrics != nil {
		c.d.Metrics.TicketsRaisedTotal.WithLabelValues(string(ticket.Category)).Inc()
	}

	verification := c.d.Verifier.Verify(ticket)
	if verification.Status == model.VerificationRejected {
		if c.d.Log != nil {
			c.d.Log.Debug("ticket rejected by strategic verifier", zap.String("category", string(ticket.Category)), zap.String("reason", verification.Reason))
		}
		return
	}

	precedent := c.searchPrecedent(ctx, ticket)
	recommendation := c.d.Reasoner.Recommend(ctx, ticket, verification, precedent)
	voting := c.d.Orchestrator.Vote(ticket)
	advisory := c.d.Composer.Compose(ticket, voting, recommendation, summarizePrecedent(precedent))

	if c.d.Metrics != nil {
		c.d.Metrics.AdvisoriesEmittedTotal.WithLabelValues(string(advisory.RiskLevel)).Inc()
	}

	if model.ShouldUpload(advisory.RiskLevel) && c.d.Queue != nil {
		c.enqueueUpload(ticket, advisory)
	}
}

// enqueueUpload wraps the qualifying advisory as a durable upload event.
// Failures are logged, not retried here — the event is simply lost from
// this cycle, matching the queue's own "best-effort enqueue" contract
// (the event never existed durably, so there's nothing to roll back).
func (c *Coordinator) enqueueUpload(ticket model.AdvisoryTicket, advisory model.Advisory) {
	envelope := wire.EventEnvelope{
		EventID:       uuid.NewString(),
		RigID:         c.d.Config.Well.RigID,
		Timestamp:     advisory.Timestamp.UTC().Format(time.RFC3339Nano),
		Advisory:      advisory,
		HistoryWindow: ticket.History,
	}
	if err := c.d.Queue.Enqueue(envelope); err != nil && c.d.Log != nil {
		c.d.Log.Error("failed enqueuing fleet upload event", zap.String("event_id", envelope.EventID), zap.Error(err))
	}
}

// applyFederatedCheckpoint rebuilds the live network from raw (a
// recurrent.Checkpoint JSON payload pulled from the fleet aggregate) and
// swaps it in. A checkpoint that fails to restore (shape mismatch,
// incompatible seed) is logged and discarded — the live network keeps
// training on its own trajectory.
func (c *Coordinator) applyFederatedCheckpoint(raw []byte) {
	cp, err := recurrent.DecodeCheckpoint(raw)
	if err != nil {
		if c.d.Log != nil {
			c.d.Log.Warn("discarding unparsable federated checkpoint", zap.Error(err))
		}
		return
	}
	restored, err := recurrent.RestoreNetwork(cp, c.d.Config.Damping)
	if err != nil {
		if c.d.Log != nil {
			c.d.Log.Warn("discarding incompatible federated checkpoint", zap.Error(err))
		}
		return
	}
	c.d.Network = restored
	if c.d.Metrics != nil {
		c.d.Metrics.FederationPullTotal.Inc()
	}
}

// searchPrecedent queries the local knowledge backend for episodes
// within the ticket's depth window and category, excluding prior false
// positives so they don't bias the reasoner toward dismissing a real
// event.
func (c *Coordinator) searchPrecedent(ctx context.Context, ticket model.AdvisoryTicket) []model.FleetEpisode {
	if c.d.Knowledge == nil {
		return nil
	}
	depthMin, depthMax := depthRange(ticket.History, ticket.Packet.Channels.Depth)
	episodes, err := c.d.Knowledge.Search(ctx, knowledge.Query{
		Campaign:       c.d.Config.Campaign.Name,
		Category:       ticket.Category,
		DepthMin:       depthMin,
		DepthMax:       depthMax,
		ExcludeOutcome: model.OutcomeFalsePositive,
	}, 5)
	if err != nil {
		if c.d.Log != nil {
			c.d.Log.Warn("precedent search failed, proceeding without precedent", zap.Error(err))
		}
		return nil
	}
	return episodes
}

func summarizePrecedent(episodes []model.FleetEpisode) string {
	if len(episodes) == 0 {
		return "no fleet precedent found for this signature"
	}
	var resolved, escalated int
	for _, e := range episodes {
		switch e.Outcome {
		case model.OutcomeResolved:
			resolved++
		case model.OutcomeEscalated:
			escalated++
		}
	}
	return fmt.Sprintf("%d similar fleet episode(s) found; %d resolved in place, %d escalated", len(episodes), resolved, escalated)
}

func depthRange(history []model.HistoryEntry, fallback float64) (float64, float64) {
	if len(history) == 0 {
		return fallback, fallback
	}
	min, max := history[0].Packet.Channels.Depth, history[0].Packet.Channels.Depth
	for _, e := range history {
		d := e.Packet.Channels.Depth
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

// stableValues extracts the tracked baseline metrics' current readings.
// "mse" is omitted when the physics engine could not compute ROP-gated
// metrics this packet (Available == false) — an unavailable reading
// must never be fed to the accumulator as a real zero.
func stableValues(c model.Channels, m model.DrillingMetrics) map[string]float64 {
	values := map[string]float64{
		"ecd":          m.EquivalentCirculatingDensity,
		"flow_balance": m.FlowBalance,
		"torque":       c.Torque,
		"spp":          c.StandpipePressure,
	}
	if m.Available {
		values["mse"] = m.MechanicalSpecificEnergy
	}
	return values
}

// checkBaselineBreaches compares the current reading for every tracked,
// locked baseline metric against its critical threshold, merging
// learned thresholds with the config-supplied statics the physics
// engine and tactical gate already applied. A breach here is additive:
// it contributes an extra ThresholdBreach and signals a one-tier
// severity escalation, but it never downgrades.
func (c *Coordinator) checkBaselineBreaches(ch model.Channels, m model.DrillingMetrics) ([]model.ThresholdBreach, bool) {
	values := stableValues(ch, m)
	var breaches []model.ThresholdBreach
	escalate := false
	for _, name := range trackedBaselineMetrics {
		value, ok := values[name]
		if !ok {
			continue
		}
		_, critical, locked := c.d.Baseline.Thresholds(name)
		if !locked {
			continue
		}
		if value > critical {
			breaches = append(breaches, model.ThresholdBreach{Field: name + "_baseline", Actual: value, Threshold: critical})
			escalate = true
		}
	}
	return breaches, escalate
}

var severityLadder = []model.Severity{model.SeverityGreen, model.SeverityAmber, model.SeverityHigh, model.SeverityRed}

func escalateOneTier(s model.Severity) model.Severity {
	for i, rung := range severityLadder {
		if rung == s {
			if i == len(severityLadder)-1 {
				return s
			}
			return severityLadder[i+1]
		}
	}
	return s
}

// extractFeatures builds the recurrent network's fixed 16-feature vector
// in the exact order internal/recurrent's featureName table expects:
// wob, rop, rpm, torque, spp, flow_in, flow_out, pit_volume,
// mud_weight_in, mud_weight_out, gas, h2s, hook_load, depth, mse, ecd.
func extractFeatures(c model.Channels, m model.DrillingMetrics) []float64 {
	return []float64{
		c.WeightOnBit,
		c.RateOfPenetration,
		c.RotarySpeed,
		c.Torque,
		c.StandpipePressure,
		c.FlowIn,
		c.FlowOut,
		c.PitVolume,
		c.MudWeightIn,
		c.MudWeightOut,
		c.Gas,
		c.H2S,
		c.HookLoad,
		c.Depth,
		m.MechanicalSpecificEnergy,
		m.EquivalentCirculatingDensity,
	}
}
