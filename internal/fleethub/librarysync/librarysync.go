// Package librarysync implements the hub side of the /library pull:
// given a requesting rig and the time it last synced, return episodes
// and prunes updated after that time, or report that nothing changed.
package librarysync

import (
	"context"
	"time"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/wire"
)

// MaxEpisodesPerResponse caps how many active episodes one pull returns.
const MaxEpisodesPerResponse = 2000

// Handler serves library-sync pulls against the hub store.
type Handler struct {
	store store.Store
}

func New(st store.Store) *Handler {
	return &Handler{store: st}
}

// Pull returns the delta since `since` for rigID, or notModified=true if
// nothing has changed.
func (h *Handler) Pull(ctx context.Context, rigID string, since time.Time) (resp wire.LibraryResponse, notModified bool, err error) {
	active, archivedIDs, err := h.store.EpisodesUpdatedSince(ctx, since, rigID)
	if err != nil {
		return wire.LibraryResponse{}, false, errs.Wrap(errs.KindPersistenceTransient, "querying episodes since last sync", err)
	}

	if len(active) == 0 && len(archivedIDs) == 0 {
		if err := h.recordSync(ctx, rigID, since); err != nil {
			return wire.LibraryResponse{}, false, err
		}
		return wire.LibraryResponse{}, true, nil
	}

	if len(active) > MaxEpisodesPerResponse {
		active = active[:MaxEpisodesPerResponse]
	}

	version, err := h.store.CurrentLibraryVersion(ctx)
	if err != nil {
		return wire.LibraryResponse{}, false, errs.Wrap(errs.KindPersistenceTransient, "reading library version", err)
	}
	activeAll, err := h.store.ActiveEpisodes(ctx)
	if err != nil {
		return wire.LibraryResponse{}, false, errs.Wrap(errs.KindPersistenceTransient, "counting active episodes", err)
	}

	if err := h.recordSync(ctx, rigID, since); err != nil {
		return wire.LibraryResponse{}, false, err
	}

	return wire.LibraryResponse{
		Version:     version,
		Episodes:    active,
		PrunedIDs:   archivedIDs,
		TotalActive: len(activeAll),
	}, false, nil
}

func (h *Handler) recordSync(ctx context.Context, rigID string, since time.Time) error {
	now := time.Now().UTC()
	served, err := h.store.CurrentLibraryVersion(ctx)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "reading library version for sync log", err)
	}
	if err := h.store.RecordSync(ctx, store.SyncLogRecord{RigID: rigID, At: now, ServedVer: served}); err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "recording sync log", err)
	}
	if err := h.store.TouchRigLastSeen(ctx, rigID, now); err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "updating rig last-sync", err)
	}
	return nil
}

