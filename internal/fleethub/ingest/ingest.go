// Package ingest implements the hub's event upload endpoint: decompress
// and decode a rig's qualifying-advisory envelope, validate it against
// the identity the transport layer authenticated, and insert it as a
// curation candidate.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/wire"
)

const (
	// MaxCompressedBytes bounds the upload body before decompression.
	MaxCompressedBytes = 1 << 20 // 1 MiB
	// MaxDecompressedBytes guards against a zstd bomb expanding past this
	// during decompression.
	MaxDecompressedBytes = 10 << 20 // 10 MiB

	maxFutureSkew = 5 * time.Minute
	maxPastAge    = 7 * 24 * time.Hour
)

// Ingester accepts compressed event uploads on behalf of an authenticated
// rig identity.
type Ingester struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store, log *zap.Logger) *Ingester {
	return &Ingester{store: st, log: log}
}

// Accept decompresses, decodes, validates and stores one event upload.
// authenticatedRigID is the identity the transport layer established for
// the bearer credential presented — it must match the envelope's RigID,
// independent of whatever the payload itself claims.
func (ig *Ingester) Accept(ctx context.Context, authenticatedRigID string, compressed []byte) error {
	if len(compressed) > MaxCompressedBytes {
		return errs.New(errs.KindIngestionQualityReject, "compressed payload exceeds size cap")
	}

	raw, err := decompressBounded(compressed, MaxDecompressedBytes)
	if err != nil {
		return errs.Wrap(errs.KindIngestionQualityReject, "decompressing event envelope", err)
	}

	var env wire.EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.Wrap(errs.KindIngestionQualityReject, "decoding event envelope", err)
	}

	if err := ig.validate(ctx, authenticatedRigID, env); err != nil {
		return err
	}

	exists, err := ig.store.EventExists(ctx, env.EventID)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "checking event existence", err)
	}
	if exists {
		return errs.New(errs.KindUploadRejectDuplicate, "event already ingested")
	}

	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	if err != nil {
		return errs.Wrap(errs.KindIngestionQualityReject, "parsing event timestamp", err)
	}

	if err := ig.store.InsertEvent(ctx, store.EventRecord{
		EventID:       env.EventID,
		RigID:         env.RigID,
		Timestamp:     ts,
		Advisory:      env.Advisory,
		HistoryWindow: env.HistoryWindow,
		Outcome:       env.Outcome,
		NeedsCuration: true,
	}); err != nil {
		return errs.Wrap(errs.KindPersistenceTransient, "inserting event", err)
	}

	if err := ig.store.TouchRigLastSeen(ctx, env.RigID, time.Now().UTC()); err != nil {
		if ig.log != nil {
			ig.log.Warn("ingest: failed to touch rig last-seen", zap.String("rig_id", env.RigID), zap.Error(err))
		}
	}
	return nil
}

func (ig *Ingester) validate(ctx context.Context, authenticatedRigID string, env wire.EventEnvelope) error {
	if env.RigID != authenticatedRigID {
		return errs.New(errs.KindUploadRejectAuth, "event rig id does not match authenticated identity")
	}
	if !model.ShouldUpload(env.Advisory.RiskLevel) {
		return errs.New(errs.KindIngestionQualityReject, "advisory risk level does not qualify for upload")
	}
	if len(env.HistoryWindow) == 0 {
		return errs.New(errs.KindIngestionQualityReject, "event carries an empty history window")
	}

	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	if err != nil {
		return errs.Wrap(errs.KindIngestionQualityReject, "parsing event timestamp", err)
	}
	now := time.Now().UTC()
	if ts.After(now.Add(maxFutureSkew)) {
		return errs.New(errs.KindIngestionQualityReject, "event timestamp too far in the future")
	}
	if ts.Before(now.Add(-maxPastAge)) {
		return errs.New(errs.KindIngestionQualityReject, "event timestamp too far in the past")
	}
	return nil
}

// decompressBounded decompresses raw with zstd, aborting once the output
// exceeds limit bytes rather than buffering an unbounded expansion.
func decompressBounded(raw []byte, limit int64) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	limited := io.LimitReader(r, limit+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, errs.New(errs.KindIngestionQualityReject, "decompressed payload exceeds size cap")
	}
	return out, nil
}
