package federation

import (
	"context"
	"crypto/ed25519"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/fedrpc"
)

// GRPCServer adapts Hub to fedrpc.FederationServer: verify the envelope's
// freshness and Ed25519 signature against the publishing rig's trusted
// public key, then defer to Hub for storage and aggregate recompute.
// Mirrors the teacher's gossip.Server.ShareObservation — timestamp check,
// peer-trust lookup, signature check, then hand off to the accumulator.
type GRPCServer struct {
	hub          *Hub
	trustedPeers map[string]ed25519.PublicKey
	envelopeTTL  time.Duration
	log          *zap.Logger
}

// NewGRPCServer wires a Hub behind the gRPC federation service.
// trustedPeers maps rig id to Ed25519 public key, loaded with
// fedrpc.LoadTrustedPeers.
func NewGRPCServer(hub *Hub, trustedPeers map[string]ed25519.PublicKey, envelopeTTL time.Duration, log *zap.Logger) *GRPCServer {
	return &GRPCServer{hub: hub, trustedPeers: trustedPeers, envelopeTTL: envelopeTTL, log: log}
}

func (s *GRPCServer) PublishCheckpoint(ctx context.Context, env *fedrpc.CheckpointEnvelope) (*fedrpc.AckResponse, error) {
	pubKey, trusted := s.trustedPeers[env.RigID]
	if !trusted {
		s.log.Warn("federation checkpoint rejected: unknown rig", zap.String("rig_id", env.RigID))
		return &fedrpc.AckResponse{Accepted: false, RejectionReason: "peer_unknown"}, nil
	}
	if err := fedrpc.Verify(env, pubKey, s.envelopeTTL); err != nil {
		s.log.Warn("federation checkpoint rejected", zap.String("rig_id", env.RigID), zap.Error(err))
		return &fedrpc.AckResponse{Accepted: false, RejectionReason: err.Error()}, nil
	}
	if err := s.hub.Accept(ctx, env.RigID, env.Checkpoint); err != nil {
		return nil, err
	}
	return &fedrpc.AckResponse{Accepted: true}, nil
}

func (s *GRPCServer) FetchAggregate(ctx context.Context, req *fedrpc.AggregateRequest) (*fedrpc.AggregateResponse, error) {
	checkpoint, meanLoss, found, err := s.hub.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return &fedrpc.AggregateResponse{Checkpoint: checkpoint, MeanLoss: meanLoss, Found: found}, nil
}
