// Package wire implements the zstd-compressed JSON envelopes exchanged
// between rig and fleet hub: event uploads, library sync responses, and
// recurrent-network checkpoints. zstd is the one genuinely new
// dependency this system needed beyond the teacher's own stack — no
// pack repo already imported a compression library, and zstd is what
// the hub's own library-sync negotiation (§6) names explicitly.
package wire

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/model"
)

// EventEnvelope is the wire shape of one uploaded fleet event.
type EventEnvelope struct {
	EventID       string                       `json:"event_id"`
	RigID         string                       `json:"rig_id"`
	Timestamp     string                       `json:"timestamp"`
	Advisory      model.Advisory               `json:"advisory"`
	HistoryWindow []model.HistoryEntry         `json:"history_window"`
	Outcome       *model.AcknowledgmentRecord  `json:"outcome,omitempty"`
}

// LibraryResponse is the wire shape of a library-sync pull.
type LibraryResponse struct {
	Version     int64                 `json:"version"`
	Episodes    []model.FleetEpisode  `json:"episodes"`
	PrunedIDs   []string              `json:"pruned_ids"`
	TotalActive int                   `json:"total_active"`
}

// CheckpointEnvelope is the wire shape of a recurrent-network checkpoint
// exchange; internal/recurrent.Checkpoint is embedded so the codec here
// never needs to know its internal shape.
type CheckpointEnvelope struct {
	RigID      string          `json:"rig_id"`
	AsOf       string          `json:"as_of"`
	Checkpoint json.RawMessage `json:"checkpoint"`
}

// EncodeZstdJSON marshals v to JSON and compresses it with zstd at the
// default compression level — used for every wire envelope in this
// package.
func EncodeZstdJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.KindHubIntegrity, "marshaling wire envelope", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, errs.Wrap(errs.KindHubIntegrity, "constructing zstd writer", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, errs.Wrap(errs.KindHubIntegrity, "compressing wire envelope", err)
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.KindHubIntegrity, "finalizing zstd stream", err)
	}
	return buf.Bytes(), nil
}

// DecodeZstdJSON decompresses raw with zstd and unmarshals the result
// into out.
func DecodeZstdJSON(raw []byte, out interface{}) error {
	r, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return errs.Wrap(errs.KindHubIntegrity, "constructing zstd reader", err)
	}
	defer r.Close()

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return errs.Wrap(errs.KindHubIntegrity, "decompressing wire envelope", err)
	}
	if err := json.Unmarshal(decompressed, out); err != nil {
		return errs.Wrap(errs.KindHubIntegrity, "unmarshaling wire envelope", err)
	}
	return nil
}
