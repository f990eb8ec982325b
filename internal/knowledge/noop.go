package knowledge

import (
	"context"

	"github.com/sairen/sairen-os/internal/model"
)

// noopStore is the pilot-mode backend: every call is a cheap no-op.
type noopStore struct{}

func NewNoop() Store { return noopStore{} }

func (noopStore) Add(context.Context, model.FleetEpisode) error { return nil }
func (noopStore) Remove(context.Context, []string) error        { return nil }
func (noopStore) Search(context.Context, Query, int) ([]model.FleetEpisode, error) {
	return nil, nil
}
