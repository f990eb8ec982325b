package federation

import (
	"context"
	"testing"

	"github.com/sairen/sairen-os/internal/config"
)

type stubSnapshotter struct {
	bytes      []byte
	step       int64
	recentLoss float64
}

func (s stubSnapshotter) SnapshotBytes() ([]byte, int64, error) { return s.bytes, s.step, nil }
func (s stubSnapshotter) RecentLoss() float64                   { return s.recentLoss }

type stubClient struct {
	published     bool
	aggregate     []byte
	aggregateLoss float64
}

func (s *stubClient) PublishCheckpoint(context.Context, string, []byte) error {
	s.published = true
	return nil
}
func (s *stubClient) FetchAggregate(context.Context) ([]byte, float64, error) {
	return s.aggregate, s.aggregateLoss, nil
}

func TestPublisher_SkipsWhenBelowMinPackets(t *testing.T) {
	client := &stubClient{}
	p := NewPublisher(client, stubSnapshotter{bytes: []byte("x"), step: 10}, "rig-1", nil)
	p.cycle(context.Background())
	if client.published {
		t.Fatal("expected publish to be skipped below min packets threshold")
	}
}

func TestPublisher_PublishesAboveMinPackets(t *testing.T) {
	client := &stubClient{}
	p := NewPublisher(client, stubSnapshotter{bytes: []byte("x"), step: 1000}, "rig-1", nil)
	p.cycle(context.Background())
	if !client.published {
		t.Fatal("expected publish above min packets threshold")
	}
}

func TestPuller_FreshOnlyAppliesBelowMinPackets(t *testing.T) {
	client := &stubClient{aggregate: []byte("agg")}
	p := NewPuller(client, stubSnapshotter{step: 10}, config.FederationFreshOnly, nil)
	p.cycle(context.Background())
	select {
	case <-p.Apply:
	default:
		t.Fatal("expected FreshOnly to apply when local step count is below min packets")
	}
}

func TestPuller_UploadOnlyNeverApplies(t *testing.T) {
	client := &stubClient{aggregate: []byte("agg")}
	p := NewPuller(client, stubSnapshotter{step: 10}, config.FederationUploadOnly, nil)
	p.cycle(context.Background())
	select {
	case <-p.Apply:
		t.Fatal("expected UploadOnly never to apply")
	default:
	}
}

func TestPuller_BetterModelAppliesOnLowerLoss(t *testing.T) {
	client := &stubClient{aggregate: []byte("agg"), aggregateLoss: 0.1}
	p := NewPuller(client, stubSnapshotter{step: 10000, recentLoss: 0.5}, config.FederationBetterModel, nil)
	p.cycle(context.Background())
	select {
	case <-p.Apply:
	default:
		t.Fatal("expected BetterModel to apply when aggregate loss is lower")
	}
}
