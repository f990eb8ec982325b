// Package integration exercises the rig pipeline and the hub's upload
// path together across package boundaries, the way a single packet
// loop and a single advisory upload actually travel through the
// system end to end.
package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/baseline"
	"github.com/sairen/sairen-os/internal/causal"
	"github.com/sairen/sairen-os/internal/composer"
	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/fleet/queue"
	"github.com/sairen/sairen-os/internal/fleethub/ingest"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/knowledge"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/orchestrator"
	"github.com/sairen/sairen-os/internal/physics"
	"github.com/sairen/sairen-os/internal/pipeline"
	"github.com/sairen/sairen-os/internal/reasoner"
	"github.com/sairen/sairen-os/internal/recurrent"
	"github.com/sairen/sairen-os/internal/strategic"
	"github.com/sairen/sairen-os/internal/tactical"
	"github.com/sairen/sairen-os/internal/wire"
)

func basePacket(t time.Time) model.TelemetryPacket {
	return model.TelemetryPacket{
		Timestamp: t,
		RigState:  model.RigDrilling,
		Quality:   model.QualityGood,
		Channels: model.Channels{
			WeightOnBit: 25, RateOfPenetration: 45, RotarySpeed: 120, Torque: 12000,
			StandpipePressure: 2750, FlowIn: 520, FlowOut: 521, PitVolume: 400,
			MudWeightIn: 10, MudWeightOut: 10, Gas: 10, H2S: 0, HookLoad: 180, Depth: 8000,
		},
	}
}

// newRigCoordinator builds a rig-side pipeline.Coordinator wired the way
// cmd/sairen-rig does, with a disk-backed upload queue so emitted
// advisories that qualify for upload actually land on disk.
func newRigCoordinator(t *testing.T) (*pipeline.Coordinator, *queue.Queue, *[]model.Advisory) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Well.RigID = "rig-integration"

	q, err := queue.Open(t.TempDir(), 100, nil)
	if err != nil {
		t.Fatalf("opening upload queue: %v", err)
	}

	var published []model.Advisory
	comp := composer.New(cfg.Well, cfg.Cooldown, nil, func(a model.Advisory) {
		published = append(published, a)
	})

	d := pipeline.Deps{
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
		Network:      recurrent.New(cfg.Well.RigID, cfg.Damping),
		Queue:        q,
	}
	return pipeline.New(d), q, &published
}

// TestPackOffDevelopment_ConfirmedMechanicalAdvisory replays the
// 60-packet torque/SPP/ROP ramp: torque 12k->17.8k, SPP 2750->2950,
// ROP 45->28. The gate should raise a Pack-off ticket against the
// oldest history entry as baseline, the strategic verifier should
// confirm it (torque+SPP+ROP signature sustained across the window),
// and the composer should publish an advisory in the Mechanical
// category — the consensus risk level itself depends on the
// specialist ensemble's weighted vote, which this test does not pin
// down.
func TestPackOffDevelopment_ConfirmedMechanicalAdvisory(t *testing.T) {
	c, q, published := newRigCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	packets := make(chan model.TelemetryPacket) // unbuffered: forces one-at-a-time processing
	federationApply := make(chan []byte)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, packets, federationApply) }()

	start := time.Now().UTC()
	const steps = 60 // matches the rig's default history capacity: the ramp's
	// first packet stays the oldest history entry (the gate's baseline)
	// through the whole run, never evicted mid-ramp.
	for i := 0; i < steps; i++ {
		frac := float64(i) / float64(steps-1)
		pkt := basePacket(start.Add(time.Duration(i) * time.Second))
		pkt.Channels.Torque = 12000 + (17800-12000)*frac
		pkt.Channels.StandpipePressure = 2750 + (2950-2750)*frac
		pkt.Channels.RateOfPenetration = 45 + (28-45)*frac
		packets <- pkt
	}
	close(packets)
	<-done

	if len(*published) == 0 {
		t.Fatal("expected the sustained pack-off signature to produce an advisory")
	}
	last := (*published)[len(*published)-1]
	if last.Category != model.CategoryMechanical {
		t.Fatalf("expected Mechanical category, got %v", last.Category)
	}
	if model.ShouldUpload(last.RiskLevel) && q.Depth() == 0 {
		t.Fatal("qualifying risk level but nothing enqueued for upload")
	}
}

// TestDuplicateUpload_QueueAndHubIngestAreIdempotent mirrors a
// composer retry: the same event id is enqueued twice locally (a
// no-op the second time) and the same envelope is ingested twice at
// the hub (the second call rejected as a duplicate).
func TestDuplicateUpload_QueueAndHubIngestAreIdempotent(t *testing.T) {
	q, err := queue.Open(t.TempDir(), 100, nil)
	if err != nil {
		t.Fatalf("opening upload queue: %v", err)
	}

	env := wire.EventEnvelope{
		EventID:   "evt-duplicate-1",
		RigID:     "rig-integration",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Advisory: model.Advisory{
			RiskLevel: model.RiskElevated,
			Category:  model.CategoryMechanical,
		},
		HistoryWindow: []model.HistoryEntry{{}},
	}

	if err := q.Enqueue(env); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(env); err != nil {
		t.Fatalf("second enqueue should be a no-op, got error: %v", err)
	}
	if q.Depth() != 1 {
		t.Fatalf("expected exactly one pending event after duplicate enqueue, got %d", q.Depth())
	}

	st := store.NewMemory()
	ig := ingest.New(st, nil)

	compressed, err := wire.EncodeZstdJSON(env)
	if err != nil {
		t.Fatalf("encoding envelope: %v", err)
	}
	if err := ig.Accept(context.Background(), env.RigID, compressed); err != nil {
		t.Fatalf("first hub accept: %v", err)
	}
	err = ig.Accept(context.Background(), env.RigID, compressed)
	if err == nil {
		t.Fatal("expected the second hub accept to reject the duplicate event id")
	}
	var tagged *errs.Error
	if !errors.As(err, &tagged) {
		t.Fatalf("expected a tagged *errs.Error, got %T: %v", err, err)
	}
	if tagged.Kind != errs.KindUploadRejectDuplicate {
		t.Fatalf("expected KindUploadRejectDuplicate, got %v", tagged.Kind)
	}
}
