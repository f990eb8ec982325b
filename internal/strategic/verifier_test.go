package strategic

import (
	"testing"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/model"
)

func testCfg() config.Thresholds {
	return config.Thresholds{StrongCorroborate: 0.75, WeakReject: 0.15}
}

func windowOf(n int, build func(i int) model.HistoryEntry) []model.HistoryEntry {
	out := make([]model.HistoryEntry, n)
	for i := range out {
		out[i] = build(i)
	}
	return out
}

func TestVerify_ConfirmsSustainedKickSignature(t *testing.T) {
	v := New(testCfg())
	history := windowOf(10, func(i int) model.HistoryEntry {
		e := model.HistoryEntry{Metrics: model.DrillingMetrics{SmoothedPitRate: 5}}
		e.Packet.Channels.FlowIn = 520
		e.Packet.Channels.FlowOut = 535
		return e
	})
	m := model.DrillingMetrics{}
	m.Dysfunctions.KickWarning = true
	ticket := model.AdvisoryTicket{Metrics: m, History: history}

	result := v.Verify(ticket)
	if result.Status != model.VerificationConfirmed {
		t.Fatalf("expected Confirmed, got %v (%s)", result.Status, result.Reason)
	}
}

func TestVerify_UncertainTiebreakStrongCorroborate(t *testing.T) {
	v := New(testCfg())
	score := 0.9
	m := model.DrillingMetrics{} // no category flags -> falls into default "no check available" -> Uncertain
	ticket := model.AdvisoryTicket{
		Metrics:      m,
		History:      windowOf(5, func(i int) model.HistoryEntry { return model.HistoryEntry{} }),
		AnomalyScore: &score,
	}
	result := v.Verify(ticket)
	if result.Status != model.VerificationConfirmed {
		t.Fatalf("expected tiebreak to Confirm on strong corroboration, got %v", result.Status)
	}
}

func TestVerify_UncertainTiebreakWeakReject(t *testing.T) {
	v := New(testCfg())
	score := 0.05
	ticket := model.AdvisoryTicket{
		History:      windowOf(5, func(i int) model.HistoryEntry { return model.HistoryEntry{} }),
		AnomalyScore: &score,
	}
	result := v.Verify(ticket)
	if result.Status != model.VerificationRejected {
		t.Fatalf("expected tiebreak to Reject on weak corroboration, got %v", result.Status)
	}
}

func TestVerify_InsufficientHistoryIsUncertain(t *testing.T) {
	v := New(testCfg())
	ticket := model.AdvisoryTicket{}
	result := v.Verify(ticket)
	if result.Status != model.VerificationUncertain {
		t.Fatalf("expected Uncertain with empty history, got %v", result.Status)
	}
}
