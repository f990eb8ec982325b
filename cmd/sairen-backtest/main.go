// Package main — cmd/sairen-backtest/main.go
//
// Offline replay tool: drives a recorded telemetry file through the
// full rig pipeline (physics, recurrent net, tactical gate, strategic
// verifier, orchestrator, composer) with no network, storage, or API
// side effects, and reports every emitted advisory.
//
// Usage:
//   sairen-backtest -input recorded.jsonl
//   sairen-backtest -input recorded.jsonl -csv advisories.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"

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
	"github.com/sairen/sairen-os/internal/telemetry"
)

func main() {
	inputPath := flag.String("input", "", "Path to a recorded telemetry file (newline-delimited JSON records)")
	csvPath := flag.String("csv", "", "Optional path to write one CSV row per emitted advisory")
	configPath := flag.String("config", "", "Optional rig config; defaults are used if omitted")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -input is required")
		os.Exit(1)
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, warnings, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: config load failed: %v\n", err)
			os.Exit(1)
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "config warning: %s\n", w)
		}
		cfg = loaded
	}

	log := zap.NewNop()

	var csvWriter *csv.Writer
	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: creating CSV output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		csvWriter = csv.NewWriter(f)
		defer csvWriter.Flush()
		_ = csvWriter.Write([]string{"timestamp", "category", "risk_level", "confidence"})
	}

	advisoriesByRisk := map[model.RiskLevel]int{}
	var packetCount int

	network := recurrent.New(cfg.Well.RigID, cfg.Damping)
	baselineMgr := baseline.NewManager(cfg.BaselineLearning)
	historyBuf := history.New(cfg.Lookahead.HistoryCapacity)
	physicsEngine := physics.New(cfg.Physics, log)
	causalDetector := causal.New(cfg.Thresholds.CausalCorrelation, cfg.Thresholds.CausalMaxLag)
	gate := tactical.New(cfg.Thresholds)
	verifier := strategic.New(cfg.Thresholds)
	orch := orchestrator.New(cfg.EnsembleWeights)
	reason := reasoner.New(reasoner.BackendTemplate, log)

	onPublish := func(adv model.Advisory) {
		advisoriesByRisk[adv.RiskLevel]++
		if csvWriter != nil {
			_ = csvWriter.Write([]string{
				adv.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
				string(adv.Category),
				string(adv.RiskLevel),
				strconv.FormatFloat(adv.Confidence, 'f', 4, 64),
			})
		}
	}
	comp := composer.New(cfg.Well, cfg.Cooldown, composer.DefaultEstimator{}, onPublish)

	coordinator := pipeline.New(pipeline.Deps{
		Config:       cfg,
		Log:          log,
		Physics:      physicsEngine,
		History:      historyBuf,
		Causal:       causalDetector,
		Baseline:     baselineMgr,
		Gate:         gate,
		Verifier:     verifier,
		Knowledge:    knowledge.NewNoop(),
		Reasoner:     reason,
		Orchestrator: orch,
		Composer:     comp,
		Network:      network,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := telemetry.NewFileSource(*inputPath)
	ingester := telemetry.NewIngester(source, log, func(reason string) {})

	raw := make(chan model.TelemetryPacket, 256)
	counted := make(chan model.TelemetryPacket, 256)
	federationApply := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Run(ctx, counted, federationApply)
	}()

	go func() {
		defer close(counted)
		for pkt := range raw {
			packetCount++
			counted <- pkt
		}
	}()

	if err := ingester.Run(ctx, raw, false); err != nil {
		fmt.Fprintf(os.Stderr, "replay finished: %v\n", err)
	}
	close(raw)
	cancel()
	<-done

	fmt.Printf("packets replayed: %d\n", packetCount)
	fmt.Printf("advisories by risk level:\n")
	for risk, n := range advisoriesByRisk {
		fmt.Printf("  %-8s %d\n", risk, n)
	}
}
