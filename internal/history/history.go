// Package history implements the fixed-capacity ring buffer of recent
// (packet, metrics) pairs used for trend regression and causal analysis.
// Push is O(1) and non-allocating once the buffer has warmed up.
package history

import (
	"math"

	"github.com/sairen/sairen-os/internal/model"
)

// Buffer is a fixed-capacity ring of HistoryEntry. Never grows past its
// configured capacity — the oldest entry is overwritten.
type Buffer struct {
	entries []model.HistoryEntry
	head    int // index of the oldest live entry
	count   int
}

// New creates a ring buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 60
	}
	return &Buffer{entries: make([]model.HistoryEntry, capacity)}
}

// Push appends a new entry, overwriting the oldest once at capacity.
func (b *Buffer) Push(e model.HistoryEntry) {
	cap := len(b.entries)
	if b.count < cap {
		idx := (b.head + b.count) % cap
		b.entries[idx] = e
		b.count++
		return
	}
	b.entries[b.head] = e
	b.head = (b.head + 1) % cap
}

// Len returns the number of live entries (never exceeds capacity).
func (b *Buffer) Len() int { return b.count }

// Capacity returns the buffer's fixed capacity.
func (b *Buffer) Capacity() int { return len(b.entries) }

// Oldest returns the oldest live entry, if any.
func (b *Buffer) Oldest() (model.HistoryEntry, bool) {
	if b.count == 0 {
		return model.HistoryEntry{}, false
	}
	return b.entries[b.head], true
}

// Latest returns the most recently pushed entry, if any.
func (b *Buffer) Latest() (model.HistoryEntry, bool) {
	if b.count == 0 {
		return model.HistoryEntry{}, false
	}
	idx := (b.head + b.count - 1) % len(b.entries)
	return b.entries[idx], true
}

// Snapshot returns a newly allocated copy of all live entries, oldest
// first — used when a ticket or FleetEvent needs to own its own history
// window independent of further pipeline pushes.
func (b *Buffer) Snapshot() []model.HistoryEntry {
	out := make([]model.HistoryEntry, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.head+i)%len(b.entries)]
	}
	return out
}

// Recent returns the last n live entries, oldest first, without
// allocating the full snapshot when n is smaller than the buffer.
func (b *Buffer) Recent(n int) []model.HistoryEntry {
	if n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	out := make([]model.HistoryEntry, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.head+start+i)%len(b.entries)]
	}
	return out
}

// TrendResult is a linear regression summary over one metric's history.
type TrendResult struct {
	Slope     float64
	RSquared  float64
	N         int
}

// Trend computes a slope + R² linear regression of extract(entry) against
// sample index over the last window entries. Returns N < 2 when there is
// not enough history to regress meaningfully.
func (b *Buffer) Trend(window int, extract func(model.HistoryEntry) float64) TrendResult {
	entries := b.Recent(window)
	n := len(entries)
	if n < 2 {
		return TrendResult{N: n}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, e := range entries {
		x := float64(i)
		y := extract(e)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return TrendResult{N: n}
	}
	slope := (nf*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / nf

	var ssTot, ssRes float64
	meanY := sumY / nf
	for i, e := range entries {
		y := extract(e)
		pred := slope*float64(i) + intercept
		ssRes += (y - pred) * (y - pred)
		ssTot += (y - meanY) * (y - meanY)
	}
	r2 := 1.0
	if ssTot != 0 {
		r2 = 1 - ssRes/ssTot
	}
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}

	return TrendResult{Slope: slope, RSquared: r2, N: n}
}
