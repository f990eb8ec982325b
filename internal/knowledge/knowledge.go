// Package knowledge implements the local episode store: a capability
// interface with three interchangeable back-ends (no-op, static,
// in-memory recall), grounded on the teacher's typed-record/interface
// split in its storage layer and on the pluggable-backend pattern seen
// in the retrieved rate-limiter example (a core package driven entirely
// through a small store interface).
package knowledge

import (
	"context"

	"github.com/sairen/sairen-os/internal/model"
)

// Query narrows a Search call.
type Query struct {
	Campaign string
	Category model.Category
	DepthMin float64
	DepthMax float64
	ExcludeOutcome model.EpisodeOutcome
}

// Store is the common interface all three back-ends implement.
type Store interface {
	Add(ctx context.Context, episode model.FleetEpisode) error
	Remove(ctx context.Context, ids []string) error
	Search(ctx context.Context, q Query, k int) ([]model.FleetEpisode, error)
}

// Name identifies which backend a config selects.
const (
	BackendNoop   = "noop"
	BackendStatic = "static"
	BackendRecall = "recall"
)
