package fedrpc

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// CheckpointEnvelope carries one rig's recurrent-network checkpoint to the
// hub, Ed25519-signed over its canonical byte form (see signatureBytes).
// Field shape mirrors the teacher's gossipv1.BaselineEnvelope.
type CheckpointEnvelope struct {
	RigID           string `json:"rig_id"`
	TimestampUnixNs int64  `json:"timestamp_unix_ns"`
	Checkpoint      []byte `json:"checkpoint"`
	SelfReportedLoss float64 `json:"self_reported_loss"`
	Signature       []byte `json:"signature"`
}

// AckResponse mirrors the teacher's gossipv1.AckResponse.
type AckResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// AggregateRequest asks the hub for the current fleet aggregate.
type AggregateRequest struct {
	RigID string `json:"rig_id"`
}

// AggregateResponse carries the fleet-wide weighted-average checkpoint.
type AggregateResponse struct {
	Checkpoint []byte  `json:"checkpoint"`
	MeanLoss   float64 `json:"mean_loss"`
	Found      bool    `json:"found"`
}

// signatureBytes produces the deterministic byte sequence that is signed
// by the publishing rig and verified by the hub. Format mirrors the
// teacher's canonicalBaselineBytes: length-prefixed fields, little-endian
// integers, SHA-256 digest of the concatenation.
//
//	sha256(
//	  len(rigID) [4]LE || rigID ||
//	  timestamp_unix_ns [8]LE ||
//	  len(checkpoint) [4]LE || checkpoint ||
//	  self_reported_loss [8]LE IEEE 754
//	)
func signatureBytes(rigID string, tsNs int64, checkpoint []byte, selfReportedLoss float64) []byte {
	h := sha256.New()
	writeStr := func(s string) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(len(s)))
		h.Write(b)
		h.Write([]byte(s))
	}
	writeStr(rigID)
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, uint64(tsNs))
	h.Write(ts)
	lb := make([]byte, 4)
	binary.LittleEndian.PutUint32(lb, uint32(len(checkpoint)))
	h.Write(lb)
	h.Write(checkpoint)
	lossBits := make([]byte, 8)
	binary.LittleEndian.PutUint64(lossBits, math.Float64bits(selfReportedLoss))
	h.Write(lossBits)
	return h.Sum(nil)
}
