package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/baseline"
	"github.com/sairen/sairen-os/internal/causal"
	"github.com/sairen/sairen-os/internal/composer"
	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/fleet/queue"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/knowledge"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/orchestrator"
	"github.com/sairen/sairen-os/internal/physics"
	"github.com/sairen/sairen-os/internal/reasoner"
	"github.com/sairen/sairen-os/internal/recurrent"
	"github.com/sairen/sairen-os/internal/strategic"
	"github.com/sairen/sairen-os/internal/tactical"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *[]model.Advisory) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Well.RigID = "rig-1"

	q, err := queue.Open(t.TempDir(), 100, nil)
	if err != nil {
		t.Fatalf("opening queue: %v", err)
	}

	var published []model.Advisory
	comp := composer.New(cfg.Well, cfg.Cooldown, nil, func(a model.Advisory) {
		published = append(published, a)
	})

	d := Deps{
		Config:       cfg,
		Physics:      physics.New(cfg.Physics, nil),
		History:      history.New(cfg.Lookahead.HistoryCapacity),
		Causal:       causal.New(cfg.Thresholds.CausalCorrelation, cfg.Thresholds.CausalMaxLag),
		Baseline:     baseline.NewManager(cfg.BaselineLearning),
		Gate:         tactical.New(cfg.Thresholds),
		Verifier:     strategic.New(cfg.Thresholds),
		Knowledge:    knowledge.NewNoop(),
		Reasoner:     reasoner.New(reasoner.BackendTemplate, nil),
		Orchestrator: orchestrator.New(cfg.EnsembleWeights),
		Composer:     comp,
		Network:      recurrent.New("rig-1", cfg.Damping),
		Queue:        q,
	}
	return New(d), &published
}

func normalPacket(t time.Time) model.TelemetryPacket {
	return model.TelemetryPacket{
		Timestamp: t,
		RigState:  model.RigDrilling,
		Quality:   model.QualityGood,
		Channels: model.Channels{
			WeightOnBit: 20, RateOfPenetration: 50, RotarySpeed: 120, Torque: 8000,
			StandpipePressure: 3000, FlowIn: 500, FlowOut: 498, PitVolume: 400,
			MudWeightIn: 10, MudWeightOut: 10, Gas: 10, H2S: 0, HookLoad: 180, Depth: 8000,
		},
	}
}

func TestProcess_NormalPacketProducesNoAdvisory(t *testing.T) {
	c, published := newTestCoordinator(t)
	c.process(context.Background(), normalPacket(time.Now().UTC()))

	if c.d.History.Len() != 1 {
		t.Fatalf("expected history to record the packet, got len=%d", c.d.History.Len())
	}
	if len(*published) != 0 {
		t.Fatalf("expected no advisory for a normal packet, got %d", len(*published))
	}
}

func TestProcess_KickSignatureRaisesCriticalAdvisory(t *testing.T) {
	c, published := newTestCoordinator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 15; i++ {
		c.process(ctx, normalPacket(base.Add(time.Duration(i)*time.Second)))
	}

	kick := normalPacket(base.Add(16 * time.Second))
	kick.Channels.FlowOut = 600
	kick.Channels.Gas = 500
	for i := 0; i < 12; i++ {
		pkt := kick
		pkt.Timestamp = base.Add(time.Duration(16+i) * time.Second)
		c.process(ctx, pkt)
	}

	if len(*published) == 0 {
		t.Fatal("expected at least one advisory once the kick signature sustains")
	}
	last := (*published)[len(*published)-1]
	if last.Category != model.CategoryWellControl {
		t.Fatalf("expected well_control category, got %v", last.Category)
	}
	if last.RiskLevel != model.RiskCritical {
		t.Fatalf("expected a kick signature to reach Critical risk, got %v", last.RiskLevel)
	}
}

func TestRun_DrainsFederationApplyAndPackets(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())

	packets := make(chan model.TelemetryPacket, 1)
	applyCh := make(chan []byte)

	packets <- normalPacket(time.Now().UTC())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, packets, applyCh) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; err == nil {
		t.Fatal("expected Run to return ctx.Err() after cancellation")
	}
}
