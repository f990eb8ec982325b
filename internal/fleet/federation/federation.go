// Package federation implements the spoke side of checkpoint exchange:
// a periodic publisher that uploads the recurrent network's snapshot,
// and a periodic puller that fetches the fleet aggregate and decides,
// per one of three configured policies, whether to apply it. The
// recurrent network itself is never touched directly from here — it
// lives on the pipeline goroutine only, so an accepted checkpoint is
// handed off on a channel for the coordinator to apply between packets.
package federation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/config"
)

const (
	defaultPublishInterval = time.Hour
	defaultPullInterval    = 2 * time.Hour
	minPacketsSincePublish = 500
)

// Snapshotter reports the live recurrent network's current state for
// publication: its serialized checkpoint, the step count it was taken
// at, and the network's own recent validation loss estimate (used by
// the BetterModel pull policy to decide whether the fleet aggregate is
// actually better than what's already running locally).
type Snapshotter interface {
	SnapshotBytes() ([]byte, int64, error)
	RecentLoss() float64
}

// Client is the injected checkpoint-exchange collaborator — satisfied
// by GRPCClient in this package.
type Client interface {
	PublishCheckpoint(ctx context.Context, rigID string, checkpoint []byte) error
	FetchAggregate(ctx context.Context) (checkpoint []byte, selfReportedLoss float64, err error)
}

// Publisher uploads the local checkpoint on a fixed interval, provided
// the network has trained on enough new packets since the last publish.
type Publisher struct {
	client       Client
	snapshot     Snapshotter
	rigID        string
	interval     time.Duration
	minPackets   int64
	log          *zap.Logger
	lastPublishedStep int64
}

func NewPublisher(client Client, snapshot Snapshotter, rigID string, log *zap.Logger) *Publisher {
	return &Publisher{client: client, snapshot: snapshot, rigID: rigID, interval: defaultPublishInterval, minPackets: minPacketsSincePublish, log: log}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Publisher) cycle(ctx context.Context) {
	raw, step, err := p.snapshot.SnapshotBytes()
	if err != nil {
		if p.log != nil {
			p.log.Warn("federation publish: failed to snapshot recurrent net", zap.Error(err))
		}
		return
	}
	if step-p.lastPublishedStep < p.minPackets {
		return
	}
	if err := p.client.PublishCheckpoint(ctx, p.rigID, raw); err != nil {
		if p.log != nil {
			p.log.Warn("federation publish failed, retrying next cycle", zap.Error(err))
		}
		return
	}
	p.lastPublishedStep = step
}

// Puller fetches the aggregate on a fixed interval and, per policy,
// sends accepted checkpoints to Apply for the pipeline coordinator to
// consume.
type Puller struct {
	client   Client
	snapshot Snapshotter
	policy   config.FederationPolicy
	interval time.Duration
	log      *zap.Logger
	Apply    chan []byte // buffered size 1; coordinator drains between packets
}

func NewPuller(client Client, snapshot Snapshotter, policy config.FederationPolicy, log *zap.Logger) *Puller {
	return &Puller{client: client, snapshot: snapshot, policy: policy, interval: defaultPullInterval, log: log, Apply: make(chan []byte, 1)}
}

func (p *Puller) Run(ctx context.Context) {
	if p.policy == config.FederationUploadOnly {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Puller) cycle(ctx context.Context) {
	checkpoint, aggregateLoss, err := p.client.FetchAggregate(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Warn("federation pull failed, retrying next cycle", zap.Error(err))
		}
		return
	}
	if checkpoint == nil {
		return
	}

	if !p.shouldApply(aggregateLoss) {
		return
	}

	select {
	case p.Apply <- checkpoint:
	default:
		if p.log != nil {
			p.log.Warn("federation apply channel full, dropping pulled checkpoint until coordinator catches up")
		}
	}
}

func (p *Puller) shouldApply(aggregateLoss float64) bool {
	switch p.policy {
	case config.FederationFreshOnly:
		_, step, err := p.snapshot.SnapshotBytes()
		return err == nil && step < minPacketsSincePublish
	case config.FederationBetterModel:
		return aggregateLoss > 0 && aggregateLoss < p.snapshot.RecentLoss()
	case config.FederationUploadOnly:
		return false
	default:
		return false
	}
}
