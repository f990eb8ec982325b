package orchestrator

import (
	"testing"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/model"
)

func testWeights() config.EnsembleWeights {
	return config.EnsembleWeights{Efficiency: 0.25, Hydraulic: 0.25, WellControl: 0.30, Formation: 0.20}
}

func TestVote_WeightsSumToOneAfterRenormalization(t *testing.T) {
	o := New(testWeights())
	for regime := 0; regime < 4; regime++ {
		r := regime
		ticket := model.AdvisoryTicket{RegimeID: &r}
		result := o.Vote(ticket)
		var sum float64
		for _, v := range result.Votes {
			sum += v.Weight
		}
		if diff := sum - 1.0; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("regime %d: expected weights to sum to 1.0, got %v", regime, sum)
		}
	}
}

func TestVote_WellControlCriticalForcesConsensus(t *testing.T) {
	o := New(testWeights())
	m := model.DrillingMetrics{Available: true}
	m.Dysfunctions.KickWarning = true
	ticket := model.AdvisoryTicket{Category: model.CategoryWellControl, Metrics: m}

	result := o.Vote(ticket)
	if result.ConsensusRiskLevel != model.RiskCritical {
		t.Fatalf("expected Critical override to win, got %v", result.ConsensusRiskLevel)
	}
}

func TestVote_OutOfRangeRegimeClamps(t *testing.T) {
	o := New(testWeights())
	r := 99
	ticket := model.AdvisoryTicket{RegimeID: &r}
	result := o.Vote(ticket) // must not panic on out-of-range regime index
	if result.RegimeLabel != 99 {
		t.Fatalf("expected RegimeLabel to echo input regime id, got %d", result.RegimeLabel)
	}
}

func TestVote_NilRegimeDefaultsToZero(t *testing.T) {
	o := New(testWeights())
	result := o.Vote(model.AdvisoryTicket{})
	if result.RegimeLabel != 0 {
		t.Fatalf("expected default regime 0, got %d", result.RegimeLabel)
	}
}
