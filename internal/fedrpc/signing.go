package fedrpc

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LoadSigningKey reads a 32-byte Ed25519 seed from path and expands it to
// a private key. One rig, one seed file — mirrors the teacher's
// node-level Ed25519 key, loaded from a file instead of passed directly
// since this system is config-file driven throughout.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %q: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %q: want %d bytes, got %d", path, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadTrustedPeers reads a directory of "<rigID>.pub" files, each holding
// a raw 32-byte Ed25519 public key, into a rigID-keyed map — the hub's
// equivalent of the teacher's trustedPeers map, populated from disk
// instead of handed in by the caller.
func LoadTrustedPeers(dir string) (map[string]ed25519.PublicKey, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read trusted peers dir %q: %w", dir, err)
	}
	peers := make(map[string]ed25519.PublicKey, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read peer key %q: %w", e.Name(), err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("peer key %q: want %d bytes, got %d", e.Name(), ed25519.PublicKeySize, len(raw))
		}
		rigID := strings.TrimSuffix(e.Name(), ".pub")
		peers[rigID] = ed25519.PublicKey(raw)
	}
	return peers, nil
}

// Sign produces a signed CheckpointEnvelope for rigID's checkpoint.
func Sign(key ed25519.PrivateKey, rigID string, checkpoint []byte, selfReportedLoss float64) *CheckpointEnvelope {
	now := time.Now().UnixNano()
	msg := signatureBytes(rigID, now, checkpoint, selfReportedLoss)
	return &CheckpointEnvelope{
		RigID:            rigID,
		TimestampUnixNs:  now,
		Checkpoint:       checkpoint,
		SelfReportedLoss: selfReportedLoss,
		Signature:        ed25519.Sign(key, msg),
	}
}

// Verify checks an incoming envelope's freshness against ttl and its
// Ed25519 signature against the trusted peer's public key. Mirrors the
// teacher's ShareObservation verification steps 1 and 3 (step 2, peer
// trust lookup, is the caller's responsibility since it selects which
// public key to verify against).
func Verify(env *CheckpointEnvelope, pubKey ed25519.PublicKey, ttl time.Duration) error {
	age := time.Since(time.Unix(0, env.TimestampUnixNs))
	if age > ttl || age < -5*time.Second {
		return fmt.Errorf("checkpoint envelope stale: age=%v ttl=%v", age, ttl)
	}
	msg := signatureBytes(env.RigID, env.TimestampUnixNs, env.Checkpoint, env.SelfReportedLoss)
	if !ed25519.Verify(pubKey, msg, env.Signature) {
		return fmt.Errorf("checkpoint envelope: invalid Ed25519 signature from rig %q", env.RigID)
	}
	return nil
}
