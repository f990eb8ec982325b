package tactical

import (
	"testing"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/model"
)

func testCfg() config.Thresholds {
	return config.Thresholds{
		AnomalyLow:        0.2,
		AnomalyHigh:       0.8,
		CausalCorrelation: 0.45,
		CausalMaxLag:      20,
		StrongCorroborate: 0.75,
		WeakReject:        0.15,
	}
}

func TestEvaluate_ContinuesOnQuietGreenPacket(t *testing.T) {
	g := New(testCfg())
	score := 0.05
	_, escalated := g.Evaluate(Input{
		Metrics:      model.DrillingMetrics{Severity: model.SeverityGreen},
		AnomalyScore: &score,
	})
	if escalated {
		t.Fatal("expected Continue on quiet green packet")
	}
}

func TestEvaluate_EscalatesOnDysfunctionEvenWhenGreen(t *testing.T) {
	g := New(testCfg())
	m := model.DrillingMetrics{Severity: model.SeverityGreen}
	m.Dysfunctions.PackOff = true
	ticket, escalated := g.Evaluate(Input{Metrics: m})
	if !escalated {
		t.Fatal("expected ticket when a dysfunction flag is set")
	}
	if ticket.Pattern != "Pack-off" {
		t.Fatalf("expected Pack-off pattern, got %q", ticket.Pattern)
	}
}

func TestModulate_WellControlNeverDowngradedBelowHigh(t *testing.T) {
	g := New(testCfg())
	score := 0.01 // would otherwise downgrade
	got := g.modulate(model.SeverityAmber, model.CategoryWellControl, &score)
	if got != model.SeverityHigh {
		t.Fatalf("expected WellControl floor of High, got %v", got)
	}
}

func TestModulate_HighAnomalyEscalatesOneTier(t *testing.T) {
	g := New(testCfg())
	score := 0.9
	got := g.modulate(model.SeverityAmber, model.CategoryMechanical, &score)
	if got != model.SeverityHigh {
		t.Fatalf("expected escalation from Amber to High, got %v", got)
	}
}

func TestEvaluate_AttachesHistorySnapshot(t *testing.T) {
	g := New(testCfg())
	h := history.New(10)
	h.Push(model.HistoryEntry{})
	m := model.DrillingMetrics{Severity: model.SeverityAmber}
	m.Dysfunctions.Washout = true
	ticket, escalated := g.Evaluate(Input{Metrics: m, History: h})
	if !escalated {
		t.Fatal("expected escalation")
	}
	if len(ticket.History) != 1 {
		t.Fatalf("expected history snapshot of length 1, got %d", len(ticket.History))
	}
}
