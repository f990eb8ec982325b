package invariant

import (
	"testing"
	"time"
)

func TestRecord_ChainsHashesAcrossDecisions(t *testing.T) {
	l := New(nil)
	now := time.Now().UTC()

	first, err := l.Record(KindWellControlOverride, "rig-1", "well_control", "high", "critical", nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ParentHash != "" {
		t.Fatalf("expected empty parent hash for first decision, got %q", first.ParentHash)
	}

	second, err := l.Record(KindCriticalCooldownDowngrade, "rig-1", "well_control", "critical", "high", nil, now.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ParentHash != first.DecisionHash {
		t.Fatalf("expected second decision to chain from first's hash, got parent=%q want=%q", second.ParentHash, first.DecisionHash)
	}
}

func TestRecord_FlagsNonMonotonicTimeButStillChains(t *testing.T) {
	l := New(nil)
	now := time.Now().UTC()

	if _, err := l.Record(KindWellControlOverride, "rig-1", "well_control", "high", "critical", nil, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := l.Stats()
	if stats.ViolationCount != 0 {
		t.Fatalf("expected no violations yet, got %d", stats.ViolationCount)
	}

	if _, err := l.Record(KindWellControlOverride, "rig-1", "well_control", "high", "critical", nil, now.Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats = l.Stats()
	if stats.ViolationCount != 1 {
		t.Fatalf("expected one violation for non-monotonic timestamp, got %d", stats.ViolationCount)
	}
	if stats.DecisionsRecorded != 2 {
		t.Fatalf("expected both decisions to still be chained, got %d", stats.DecisionsRecorded)
	}
}

func TestRecord_FlagsNaNInput(t *testing.T) {
	l := New(nil)
	now := time.Now().UTC()

	_, err := l.Record(KindWellControlOverride, "rig-1", "well_control", "high", "critical",
		map[string]interface{}{"confidence": nan()}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Stats().ViolationCount != 1 {
		t.Fatalf("expected NaN input to be flagged as a violation, got %d", l.Stats().ViolationCount)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
