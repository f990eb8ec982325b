package federation

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"google.golang.org/grpc"

	"github.com/sairen/sairen-os/internal/fedrpc"
)

// GRPCClient satisfies Client over the real gRPC+mTLS transport in
// internal/fedrpc, Ed25519-signing every published checkpoint with the
// rig's own key. This is the transport SPEC names for checkpoint
// exchange; internal/hubclient's plain net/http client continues to
// serve uploads and library sync, which have no signed-envelope
// requirement of their own.
type GRPCClient struct {
	cc         *grpc.ClientConn
	rpc        *fedrpc.Client
	rigID      string
	signingKey ed25519.PrivateKey
}

// DialGRPCClient opens the mTLS connection and wraps it as a Client.
// Callers own the returned GRPCClient's lifetime and should Close it on
// shutdown.
func DialGRPCClient(ctx context.Context, addr string, tlsFiles fedrpc.TLSFiles, rigID string, signingKey ed25519.PrivateKey) (*GRPCClient, error) {
	cc, err := fedrpc.Dial(ctx, addr, tlsFiles)
	if err != nil {
		return nil, fmt.Errorf("dialing federation hub at %s: %w", addr, err)
	}
	return &GRPCClient{cc: cc, rpc: fedrpc.NewClient(cc), rigID: rigID, signingKey: signingKey}, nil
}

func (c *GRPCClient) PublishCheckpoint(ctx context.Context, rigID string, checkpoint []byte) error {
	env := fedrpc.Sign(c.signingKey, rigID, checkpoint, 0)
	ack, err := c.rpc.PublishCheckpoint(ctx, env)
	if err != nil {
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("hub rejected checkpoint: %s", ack.RejectionReason)
	}
	return nil
}

func (c *GRPCClient) FetchAggregate(ctx context.Context) ([]byte, float64, error) {
	resp, err := c.rpc.FetchAggregate(ctx, &fedrpc.AggregateRequest{RigID: c.rigID})
	if err != nil {
		return nil, 0, err
	}
	if !resp.Found {
		return nil, 0, nil
	}
	return resp.Checkpoint, resp.MeanLoss, nil
}

// Close releases the underlying connection.
func (c *GRPCClient) Close() error { return c.cc.Close() }
