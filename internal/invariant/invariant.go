// Package invariant audits the two places a risk decision is allowed to
// move outside the normal voting/composition pipeline: the
// orchestrator's WellControl safety override, and the composer's
// critical-cooldown downgrade. Every such decision is chained into a
// SHA256 Merkle-style ledger so a post-incident review can reproduce
// exactly which override fired, in what order, from what inputs —
// independent of whatever the rest of the system logged.
package invariant

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names the two sanctioned override points.
type Kind string

const (
	KindWellControlOverride    Kind = "well_control_override"
	KindCriticalCooldownDowngrade Kind = "critical_cooldown_downgrade"
)

// Violation reports a bounds/determinism check failing on a decision
// before it could be chained into the ledger.
type Violation struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation: %s", v.Reason)
}

// Decision is one audited override, hash-chained to the one before it.
type Decision struct {
	Kind         Kind                   `json:"kind"`
	RigID        string                 `json:"rig_id"`
	Category     string                 `json:"category"`
	FromRisk     string                 `json:"from_risk"`
	ToRisk       string                 `json:"to_risk"`
	Timestamp    time.Time              `json:"timestamp"`
	Inputs       map[string]interface{} `json:"inputs"`
	DecisionHash string                 `json:"decision_hash"`
	ParentHash   string                 `json:"parent_hash"`
}

// maxTimestampSkew bounds how far a decision's timestamp may run ahead
// of the last recorded one before it's flagged — large skew usually
// means a clock problem upstream, not a real ordering violation, so it
// is logged rather than rejected.
const maxTimestampSkew = 5 * time.Second

// Ledger hash-chains override decisions for audit.
type Ledger struct {
	mu            sync.Mutex
	lastTimestamp time.Time
	lastHash      string
	verifiedCount int64
	violationCount int64
	log           *zap.Logger
}

func New(log *zap.Logger) *Ledger {
	return &Ledger{log: log}
}

// Record validates and chains one override decision. It never blocks
// the caller's own risk decision — a validation failure is logged and
// counted in ViolationCount, and the decision is still chained so the
// audit trail itself is never silently dropped.
func (l *Ledger) Record(kind Kind, rigID, category, fromRisk, toRisk string, inputs map[string]interface{}, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := Decision{
		Kind:      kind,
		RigID:     rigID,
		Category:  category,
		FromRisk:  fromRisk,
		ToRisk:    toRisk,
		Timestamp: now,
		Inputs:    inputs,
	}

	if err := l.validateLocked(d); err != nil {
		l.violationCount++
		if l.log != nil {
			l.log.Warn("invariant: decision failed validation but is still chained for audit", zap.String("kind", string(kind)), zap.Error(err))
		}
	}

	hash, err := canonicalHash(d, l.lastHash)
	if err != nil {
		return Decision{}, fmt.Errorf("hashing invariant decision: %w", err)
	}
	d.DecisionHash = hash
	d.ParentHash = l.lastHash

	l.lastHash = hash
	if now.After(l.lastTimestamp) {
		l.lastTimestamp = now
	}
	l.verifiedCount++

	return d, nil
}

func (l *Ledger) validateLocked(d Decision) error {
	if d.Timestamp.Before(l.lastTimestamp) {
		return &Violation{Reason: fmt.Sprintf("decision timestamp %v precedes last recorded %v", d.Timestamp, l.lastTimestamp), Timestamp: time.Now()}
	}
	if skew := d.Timestamp.Sub(l.lastTimestamp); skew > maxTimestampSkew && !l.lastTimestamp.IsZero() {
		if l.log != nil {
			l.log.Warn("invariant: large timestamp skew between chained decisions", zap.Duration("skew", skew))
		}
	}
	for k, v := range d.Inputs {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return &Violation{Reason: fmt.Sprintf("input %q is NaN or Inf", k), Timestamp: time.Now()}
		}
	}
	return nil
}

// Stats summarizes ledger health.
type Stats struct {
	DecisionsRecorded int64  `json:"decisions_recorded"`
	ViolationCount    int64  `json:"violation_count"`
	LastHash          string `json:"last_hash"`
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{DecisionsRecorded: l.verifiedCount, ViolationCount: l.violationCount, LastHash: l.lastHash}
}

func canonicalHash(d Decision, parentHash string) (string, error) {
	canonical := map[string]interface{}{
		"kind":        d.Kind,
		"rig_id":      d.RigID,
		"category":    d.Category,
		"from_risk":   d.FromRisk,
		"to_risk":     d.ToRisk,
		"timestamp":   d.Timestamp.UnixNano(),
		"inputs":      d.Inputs,
		"parent_hash": parentHash,
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
