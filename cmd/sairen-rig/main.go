// Package main — cmd/sairen-rig/main.go
//
// SAIREN-OS rig node entrypoint.
//
// Startup sequence:
//  1. Load and validate config from the path given by -config.
//  2. Initialise structured logger (zap).
//  3. Open the bbolt rig store.
//  4. Open the durable upload queue.
//  5. Start the Prometheus metrics + healthz server.
//  6. Restore (or construct fresh) the recurrent network and baseline
//     manager from rigstore.
//  7. Build the knowledge backend, pipeline stages, and the pipeline
//     coordinator.
//  8. Start the telemetry ingester.
//  9. If federation is enabled, start the uploader, library syncer, and
//     federation publisher/puller against the fleet hub.
// 10. Start the operator-facing HTTP API.
// 11. Register a SIGHUP handler for config hot-reload.
// 12. Block on SIGINT/SIGTERM, then drain and shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sairen/sairen-os/internal/api"
	"github.com/sairen/sairen-os/internal/baseline"
	"github.com/sairen/sairen-os/internal/causal"
	"github.com/sairen/sairen-os/internal/composer"
	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/fedrpc"
	"github.com/sairen/sairen-os/internal/fleet/federation"
	"github.com/sairen/sairen-os/internal/fleet/librarysync"
	"github.com/sairen/sairen-os/internal/fleet/queue"
	"github.com/sairen/sairen-os/internal/fleet/uploader"
	"github.com/sairen/sairen-os/internal/history"
	"github.com/sairen/sairen-os/internal/hubclient"
	"github.com/sairen/sairen-os/internal/invariant"
	"github.com/sairen/sairen-os/internal/knowledge"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/observability"
	"github.com/sairen/sairen-os/internal/orchestrator"
	"github.com/sairen/sairen-os/internal/physics"
	"github.com/sairen/sairen-os/internal/pipeline"
	"github.com/sairen/sairen-os/internal/reasoner"
	"github.com/sairen/sairen-os/internal/recurrent"
	"github.com/sairen/sairen-os/internal/rigstore"
	"github.com/sairen/sairen-os/internal/strategic"
	"github.com/sairen/sairen-os/internal/tactical"
	"github.com/sairen/sairen-os/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "/etc/sairen/rig.yaml", "Path to rig.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("sairen-rig (schema", config.SchemaVersion, ")")
		os.Exit(0)
	}

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	for _, w := range warnings {
		log.Warn("config warning", zap.String("detail", w))
	}

	log.Info("sairen-rig starting",
		zap.String("rig_id", cfg.Well.RigID),
		zap.String("well_id", cfg.Well.WellID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := rigstore.Open(cfg.Storage.BoltPath)
	if err != nil {
		log.Fatal("rig store open failed", zap.Error(err), zap.String("path", cfg.Storage.BoltPath))
	}
	defer store.Close() //nolint:errcheck
	log.Info("rig store opened", zap.String("path", cfg.Storage.BoltPath))

	uploadQueue, err := queue.Open(cfg.Storage.QueueDir, cfg.Storage.QueueCapacity, log)
	if err != nil {
		log.Fatal("upload queue open failed", zap.Error(err), zap.String("dir", cfg.Storage.QueueDir))
	}

	metrics := observability.New()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr, log); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	network := restoreOrBuildNetwork(store, cfg, log)
	baselineMgr := restoreOrBuildBaseline(store, cfg, log)
	knowledgeStore := buildKnowledge(cfg.Knowledge, store, log)

	physicsEngine := physics.New(cfg.Physics, log)
	historyBuf := history.New(cfg.Lookahead.HistoryCapacity)
	causalDetector := causal.New(cfg.Thresholds.CausalCorrelation, cfg.Thresholds.CausalMaxLag)
	gate := tactical.New(cfg.Thresholds)
	verifier := strategic.New(cfg.Thresholds)
	orch := orchestrator.New(cfg.EnsembleWeights)
	reason := reasoner.New(pickReasonerBackend(cfg.Reasoner), log)
	ledger := invariant.New(log)
	orch.WithLedger(ledger)

	onPublish := func(adv model.Advisory) {
		if err := store.SaveAdvisory(adv); err != nil {
			log.Error("failed persisting advisory", zap.String("advisory_id", adv.ID), zap.Error(err))
		}
	}
	comp := composer.New(cfg.Well, cfg.Cooldown, composer.DefaultEstimator{}, onPublish)
	comp.WithLedger(ledger)

	onBaselineLocked := func(states []model.BaselineState) {
		if err := store.SaveBaselineStates(states); err != nil {
			log.Error("failed persisting baseline states", zap.Error(err))
		}
	}

	coordinator := pipeline.New(pipeline.Deps{
		Config:           cfg,
		Log:              log,
		Metrics:          metrics,
		Physics:          physicsEngine,
		History:          historyBuf,
		Causal:           causalDetector,
		Baseline:         baselineMgr,
		Gate:             gate,
		Verifier:         verifier,
		Knowledge:        knowledgeStore,
		Reasoner:         reason,
		Orchestrator:     orch,
		Composer:         comp,
		Network:          network,
		Queue:            uploadQueue,
		OnBaselineLocked: onBaselineLocked,
	})

	ingesterHealth, packets := startTelemetryIngester(ctx, cfg, log, metrics)

	federationApply := make(chan []byte, 1)
	if cfg.Federation.Enabled {
		startFederation(ctx, cfg, uploadQueue, network, knowledgeStore, metrics, log, federationApply)
	} else {
		log.Info("federation disabled — running standalone")
	}

	go func() {
		if err := coordinator.Run(ctx, packets, federationApply); err != nil && ctx.Err() == nil {
			log.Error("pipeline coordinator exited", zap.Error(err))
		}
	}()

	configState := api.NewConfigState(cfg, *configPath)
	apiServer := api.NewServer(api.Deps{
		Store:        store,
		Composer:     comp,
		Baseline:     baselineMgr,
		IngestHealth: ingesterHealth,
		Reasoner:     reason,
		Queue:        uploadQueue,
		ConfigState:  configState,
		Log:          log,
	})
	go func() {
		if err := apiServer.ListenAndServe(cfg.API.ListenAddr); err != nil {
			log.Error("rig API server error", zap.Error(err))
		}
	}()
	log.Info("rig API server started", zap.String("addr", cfg.API.ListenAddr))

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config")
			newCfg, _, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			if err := configState.Update(newCfg); err != nil {
				log.Error("config hot-reload rejected", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	drained := make(chan struct{})
	go func() {
		if err := store.SaveBaselineStates(baselineMgr.States()); err != nil {
			log.Warn("failed to persist baseline states on shutdown", zap.Error(err))
		}
		if raw, _, err := network.SnapshotBytes(); err == nil {
			if err := store.SaveCheckpointBytes(raw); err != nil {
				log.Warn("failed to persist recurrent checkpoint on shutdown", zap.Error(err))
			}
		}
		close(drained)
	}()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-drained:
		log.Info("state persisted cleanly")
	}

	log.Info("sairen-rig shutdown complete")
}

func restoreOrBuildNetwork(store *rigstore.Store, cfg config.Config, log *zap.Logger) *recurrent.Network {
	raw, err := store.LoadCheckpointBytes()
	if err != nil {
		log.Warn("failed loading recurrent checkpoint, starting fresh", zap.Error(err))
		return recurrent.New(cfg.Well.RigID, cfg.Damping)
	}
	if raw == nil {
		return recurrent.New(cfg.Well.RigID, cfg.Damping)
	}
	cp, err := recurrent.DecodeCheckpoint(raw)
	if err != nil {
		log.Warn("failed decoding recurrent checkpoint, starting fresh", zap.Error(err))
		return recurrent.New(cfg.Well.RigID, cfg.Damping)
	}
	net, err := recurrent.RestoreNetwork(cp, cfg.Damping)
	if err != nil {
		log.Warn("failed restoring recurrent network, starting fresh", zap.Error(err))
		return recurrent.New(cfg.Well.RigID, cfg.Damping)
	}
	log.Info("recurrent network restored from checkpoint", zap.Int64("step_count", net.StepCount()))
	return net
}

func restoreOrBuildBaseline(store *rigstore.Store, cfg config.Config, log *zap.Logger) *baseline.Manager {
	states, err := store.LoadBaselineStates()
	if err != nil {
		log.Warn("failed loading baseline states, starting fresh", zap.Error(err))
		return baseline.NewManager(cfg.BaselineLearning)
	}
	if len(states) == 0 {
		return baseline.NewManager(cfg.BaselineLearning)
	}
	log.Info("baseline accumulators restored", zap.Int("count", len(states)))
	return baseline.RestoreManager(cfg.BaselineLearning, states)
}

func buildKnowledge(cfg config.Knowledge, store *rigstore.Store, log *zap.Logger) knowledge.Store {
	switch cfg.Backend {
	case "noop":
		return knowledge.NewNoop()
	case "static":
		episodes, err := store.LoadEpisodes()
		if err != nil {
			log.Warn("failed loading static knowledge bundle", zap.Error(err))
		}
		return knowledge.NewStatic(episodes)
	default:
		return knowledge.NewRecall(cfg.MaxEpisodes, store)
	}
}

func pickReasonerBackend(cfg config.Reasoner) string {
	if cfg.LLMEnabled {
		return reasoner.BackendLLM
	}
	return reasoner.BackendTemplate
}

// startTelemetryIngester builds the configured Source, starts the
// ingester goroutine, and returns its health tracker plus the packet
// channel the pipeline coordinator consumes.
func startTelemetryIngester(ctx context.Context, cfg config.Config, log *zap.Logger, metrics *observability.Metrics) (*telemetry.Health, chan model.TelemetryPacket) {
	var source telemetry.Source
	reconnect := true
	switch cfg.Telemetry.Source {
	case "stdin":
		source = telemetry.NewStdinSource()
		reconnect = false
	case "file":
		source = telemetry.NewFileSource(cfg.Telemetry.ReplayPath)
		reconnect = false
	default:
		source = telemetry.NewStreamSource(cfg.Telemetry.DialAddr)
	}

	onReject := func(reason string) {
		metrics.PacketsRejectedTotal.WithLabelValues(reason).Inc()
	}
	ingester := telemetry.NewIngester(source, log, onReject)

	raw := make(chan model.TelemetryPacket, 256)
	go func() {
		if err := ingester.Run(ctx, raw, reconnect); err != nil && ctx.Err() == nil {
			log.Error("telemetry ingester exited", zap.Error(err))
		}
		close(raw)
	}()

	// Forward accepted packets onto the pipeline-facing channel, counting
	// each one — kept as a separate stage so the ingester package never
	// needs to import observability.
	packets := make(chan model.TelemetryPacket, 256)
	go func() {
		defer close(packets)
		for pkt := range raw {
			metrics.PacketsIngestedTotal.Inc()
			select {
			case packets <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("telemetry ingester started", zap.String("source", cfg.Telemetry.Source))
	return ingester.Health(), packets
}

// startFederation wires the fleet-facing background loops: upload and
// library sync run over the bearer-credentialed HTTP hub client, while
// checkpoint publish/pull runs over a separate Ed25519-signed gRPC+mTLS
// connection (internal/fedrpc) dedicated to that exchange.
func startFederation(ctx context.Context, cfg config.Config, q *queue.Queue, network *recurrent.Network, knowledgeStore knowledge.Store, metrics *observability.Metrics, log *zap.Logger, applyCh chan<- []byte) {
	credentialID := os.Getenv("SAIREN_HUB_CREDENTIAL_ID")
	secret := os.Getenv("SAIREN_HUB_CREDENTIAL_SECRET")
	if credentialID == "" || secret == "" {
		log.Error("federation enabled but SAIREN_HUB_CREDENTIAL_ID/SAIREN_HUB_CREDENTIAL_SECRET are unset — skipping")
		return
	}

	tlsCfg := hubclient.TLSConfig{CertFile: cfg.Federation.CertFile, KeyFile: cfg.Federation.KeyFile, CAFile: cfg.Federation.CAFile}
	client, err := hubclient.New(cfg.Federation.HubAddr, cfg.Well.RigID, credentialID, secret, tlsCfg, 30*time.Second)
	if err != nil {
		log.Error("failed building hub client — federation disabled for this run", zap.Error(err))
		return
	}

	up := uploader.New(q, client, cfg.Well.RigID, 5*time.Minute, log, metrics)
	go up.Run(ctx)

	sync := librarysync.New(client, knowledgeStore, cfg.Well.RigID, log)
	go sync.Run(ctx)

	signingKey, err := fedrpc.LoadSigningKey(cfg.Federation.SigningKeyFile)
	if err != nil {
		log.Error("failed loading federation signing key — checkpoint exchange disabled for this run", zap.Error(err))
		return
	}
	grpcTLS := fedrpc.TLSFiles{CertFile: cfg.Federation.GRPCCertFile, KeyFile: cfg.Federation.GRPCKeyFile, CAFile: cfg.Federation.GRPCCAFile}
	grpcClient, err := federation.DialGRPCClient(ctx, cfg.Federation.GRPCAddr, grpcTLS, cfg.Well.RigID, signingKey)
	if err != nil {
		log.Error("failed dialing federation gRPC endpoint — checkpoint exchange disabled for this run", zap.Error(err))
		return
	}
	go func() {
		<-ctx.Done()
		grpcClient.Close()
	}()

	pub := federation.NewPublisher(grpcClient, network, cfg.Well.RigID, log)
	go pub.Run(ctx)

	pull := federation.NewPuller(grpcClient, network, cfg.Federation.Policy, log)
	go func() {
		pull.Run(ctx)
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cp, ok := <-pull.Apply:
				if !ok {
					return
				}
				select {
				case applyCh <- cp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	log.Info("federation loops started",
		zap.String("hub_addr", cfg.Federation.HubAddr),
		zap.String("grpc_addr", cfg.Federation.GRPCAddr),
		zap.String("policy", string(cfg.Federation.Policy)))
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
