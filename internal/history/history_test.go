package history

import (
	"testing"

	"github.com/sairen/sairen-os/internal/model"
)

func entryWithTorque(t float64) model.HistoryEntry {
	return model.HistoryEntry{Packet: model.TelemetryPacket{Channels: model.Channels{Torque: t}}}
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := New(3)
	for i := 0; i < 10; i++ {
		b.Push(entryWithTorque(float64(i)))
	}
	if b.Len() != 3 {
		t.Fatalf("expected length capped at 3, got %d", b.Len())
	}
	if b.Capacity() != 3 {
		t.Fatalf("expected capacity 3, got %d", b.Capacity())
	}
}

func TestBuffer_OldestAndLatest(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Push(entryWithTorque(float64(i)))
	}
	oldest, ok := b.Oldest()
	if !ok || oldest.Packet.Channels.Torque != 2 {
		t.Fatalf("expected oldest torque 2, got %v ok=%v", oldest.Packet.Channels.Torque, ok)
	}
	latest, ok := b.Latest()
	if !ok || latest.Packet.Channels.Torque != 4 {
		t.Fatalf("expected latest torque 4, got %v ok=%v", latest.Packet.Channels.Torque, ok)
	}
}

func TestBuffer_TrendOnRisingSeries(t *testing.T) {
	b := New(10)
	for i := 0; i < 10; i++ {
		b.Push(entryWithTorque(float64(i) * 2))
	}
	trend := b.Trend(10, func(e model.HistoryEntry) float64 { return e.Packet.Channels.Torque })
	if trend.Slope <= 0 {
		t.Fatalf("expected positive slope, got %f", trend.Slope)
	}
	if trend.RSquared < 0.99 {
		t.Fatalf("expected near-perfect fit for linear series, got %f", trend.RSquared)
	}
}

func TestBuffer_TrendInsufficientHistory(t *testing.T) {
	b := New(10)
	b.Push(entryWithTorque(1))
	trend := b.Trend(10, func(e model.HistoryEntry) float64 { return e.Packet.Channels.Torque })
	if trend.N >= 2 {
		t.Fatalf("expected insufficient-history result, got N=%d", trend.N)
	}
}
