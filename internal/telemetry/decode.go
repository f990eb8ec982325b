package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sairen/sairen-os/internal/model"
)

// wireRecord is the fixed-schema record the parser expects. Only
// timestamp_unix_ns is checked for presence; absent channel fields
// decode as zero and field order is not checked. Modeled on the agent's
// old fixed-layout kernel-event decoder, generalized from raw byte
// offsets to named JSON fields since there is no kernel ABI to mirror
// in this domain.
type wireRecord struct {
	Timestamp int64              `json:"timestamp_unix_ns"`
	Channels  model.Channels     `json:"channels"`
}

// DecodeRecord parses one raw record line into a Channels + source
// timestamp. It does not classify rig state or stamp the ingest
// timestamp — that is the Ingester's job once quality gating passes.
func DecodeRecord(raw []byte) (model.Channels, time.Time, error) {
	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Channels{}, time.Time{}, fmt.Errorf("decode telemetry record: %w", err)
	}
	if rec.Timestamp == 0 {
		return model.Channels{}, time.Time{}, fmt.Errorf("decode telemetry record: missing timestamp_unix_ns")
	}
	return rec.Channels, time.Unix(0, rec.Timestamp), nil
}
