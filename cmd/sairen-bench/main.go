// Package main — cmd/sairen-bench/main.go
//
// Ingest-to-advisory pipeline latency benchmark.
//
// Feeds synthetic telemetry packets one at a time through an unbuffered
// channel into the pipeline coordinator. Because the coordinator's
// receive loop processes a packet fully before looping back for the
// next one, the interval between successive unbuffered sends is the
// coordinator's per-packet processing time (physics + recurrent
// update + causal detection + gate + verifier + orchestrator +
// composer), including channel handoff overhead but excluding network
// or disk I/O, neither of which this path touches.
//
// Output CSV columns: iteration, latency_us
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/baseline"
	"github.com/sairen/sairen-os/internal/causal"
	"github.com/sairen/sairen-os/internal/composer"
	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/knowledge"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/orchestrator"
	"github.com/sairen/sairen-os/internal/physics"
	"github.com/sairen/sairen-os/internal/pipeline"
	"github.com/sairen/sairen-os/internal/reasoner"
	"github.com/sairen/sairen-os/internal/recurrent"
	"github.com/sairen/sairen-os/internal/strategic"
	"github.com/sairen/sairen-os/internal/tactical"
)

const histogramBuckets = 2_000_000 // 0-2s in 1us buckets

func main() {
	iterations := flag.Int("iterations", 5000, "Number of synthetic packets to process")
	outputFile := flag.String("output", "latency_raw.csv", "Output CSV file path")
	thresholdUs := flag.Int("threshold-us", 250_000, "p99 latency budget in microseconds; nonzero exit if exceeded")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us"})

	cfg := config.Defaults()
	log := zap.NewNop()

	network := recurrent.New(cfg.Well.RigID, cfg.Damping)
	coordinator := pipeline.New(pipeline.Deps{
		Config:       cfg,
		Log:          log,
		Physics:      physics.New(cfg.Physics, log),
		History:      history.New(cfg.Lookahead.HistoryCapacity),
		Causal:       causal.New(cfg.Thresholds.CausalCorrelation, cfg.Thresholds.CausalMaxLag),
		Baseline:     baseline.NewManager(cfg.BaselineLearning),
		Gate:         tactical.New(cfg.Thresholds),
		Verifier:     strategic.New(cfg.Thresholds),
		Knowledge:    knowledge.NewNoop(),
		Reasoner:     reasoner.New(reasoner.BackendTemplate, log),
		Orchestrator: orchestrator.New(cfg.EnsembleWeights),
		Composer:     composer.New(cfg.Well, cfg.Cooldown, composer.DefaultEstimator{}, func(model.Advisory) {}),
		Network:      network,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	packets := make(chan model.TelemetryPacket) // unbuffered: see package comment
	federationApply := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Run(ctx, packets, federationApply)
	}()

	hist := make([]int, histogramBuckets)
	base := time.Now()

	for i := 0; i < *iterations; i++ {
		pkt := syntheticPacket(base, i)

		start := time.Now()
		packets <- pkt
		latency := time.Since(start)

		latencyUs := int(latency.Microseconds())
		if i > 0 { // first send only measures initial goroutine handoff, not steady-state processing
			if latencyUs >= histogramBuckets {
				latencyUs = histogramBuckets - 1
			}
			hist[latencyUs]++
		}
		_ = w.Write([]string{strconv.Itoa(i), strconv.Itoa(latencyUs)})
	}

	close(packets)
	cancel()
	<-done

	p50, p95, p99 := computePercentiles(hist, *iterations-1)

	fmt.Printf("Pipeline Latency Results (%d packets)\n", *iterations)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > *thresholdUs {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds %dus budget\n", p99, *thresholdUs)
		os.Exit(1)
	}
}

// syntheticPacket produces a plausible, slowly drifting packet so the
// recurrent network and causal detector have nontrivial history to
// run against rather than a static input.
func syntheticPacket(base time.Time, i int) model.TelemetryPacket {
	drift := float64(i%600) / 600.0
	return model.TelemetryPacket{
		Timestamp: base.Add(time.Duration(i) * time.Second),
		Channels: model.Channels{
			WeightOnBit:       22000 + 1000*drift,
			RateOfPenetration: 45 + 10*drift,
			RotarySpeed:       90,
			Torque:            8500 + 200*drift,
			StandpipePressure: 2800 + 100*drift,
			FlowIn:            650,
			FlowOut:           650 - 20*drift,
			PitVolume:         450 + 2*drift,
			MudWeightIn:       10.2,
			MudWeightOut:      10.2,
			HookLoad:          120000 + 5000*drift,
			Depth:             9000 + float64(i)*0.01,
		},
		RigState:  model.RigDrilling,
		Operation: "rotary_drilling",
		Quality:   model.QualityGood,
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	if total <= 0 {
		return 0, 0, 0
	}
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
