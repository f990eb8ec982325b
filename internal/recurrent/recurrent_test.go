package recurrent

import (
	"math"
	"testing"

	"github.com/sairen/sairen-os/internal/config"
)

func testDamping() config.Damping {
	return config.Damping{
		BPTTDepth:            4,
		BPTTDecay:            0.7,
		GradClipNorm:         5.0,
		PrimaryFeatureWeight: 2.0,
		WarmupPackets:        20,
	}
}

func constantFeatures(v float64) []float64 {
	f := make([]float64, numFeatures)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestNetwork_CalibratingBeforeWarmup(t *testing.T) {
	n := New("test-seed", testDamping())
	for i := 0; i < 5; i++ {
		out := n.Step(constantFeatures(float64(i)))
		if out.AnomalyScore != nil {
			t.Fatalf("expected calibrating (nil) before warmup, got %v", *out.AnomalyScore)
		}
	}
}

func TestNetwork_ScoreIsBoundedAndFinite(t *testing.T) {
	n := New("test-seed", testDamping())
	for i := 0; i < 50; i++ {
		v := float64(i % 7)
		out := n.Step(constantFeatures(v))
		if out.AnomalyScore == nil {
			continue
		}
		s := *out.AnomalyScore
		if math.IsNaN(s) || math.IsInf(s, 0) {
			t.Fatalf("anomaly score must be finite, got %v", s)
		}
		if s < 0 || s > 1 {
			t.Fatalf("anomaly score must be in [0,1], got %v", s)
		}
	}
}

func TestNetwork_DeterministicTopologyForSameSeed(t *testing.T) {
	a := New("rig-alpha", testDamping())
	b := New("rig-alpha", testDamping())
	if !shapesMatch(a.wSensoryInternal, b.wSensoryInternal) {
		t.Fatal("expected identical topology shapes for identical seed")
	}
	for i := range a.wSensoryInternal {
		for j := range a.wSensoryInternal[i] {
			if a.wSensoryInternal[i][j] != b.wSensoryInternal[i][j] {
				t.Fatalf("expected bit-identical initial weights for same seed at [%d][%d]", i, j)
			}
		}
	}
}

func TestNetwork_SnapshotRestoreRoundTrip(t *testing.T) {
	n := New("rig-bravo", testDamping())
	for i := 0; i < 30; i++ {
		n.Step(constantFeatures(float64(i % 5)))
	}
	cp := n.Snapshot()

	restored, err := RestoreNetwork(cp, testDamping())
	if err != nil {
		t.Fatalf("unexpected error restoring checkpoint: %v", err)
	}
	if restored.StepCount() != n.StepCount() {
		t.Fatalf("expected restored step count %d, got %d", n.StepCount(), restored.StepCount())
	}
}

func TestMergeCheckpoints_RejectsMismatchedSeeds(t *testing.T) {
	a := New("rig-a", testDamping()).Snapshot()
	b := New("rig-b", testDamping()).Snapshot()
	if _, err := MergeCheckpoints(a, b, 0.5); err == nil {
		t.Fatal("expected error merging checkpoints from different seeds")
	}
}

func TestKMeans_AssignReturnsValidCluster(t *testing.T) {
	km := newKMeans("seed", regimeClusters, 8)
	id := km.assign(make([]float64, 8))
	if id < 0 || id >= regimeClusters {
		t.Fatalf("expected cluster id in [0,%d), got %d", regimeClusters, id)
	}
}
