// Package main — cmd/sairen-hub/main.go
//
// SAIREN-OS fleet hub entrypoint.
//
// Startup sequence:
//  1. Load config from the path given by -config (defaults when the
//     file is absent).
//  2. Initialise structured logger (zap).
//  3. Build the in-memory event/episode store and identity registry.
//  4. Mint a new bootstrap admin credential.
//  5. Start the Prometheus metrics + healthz server.
//  6. Start the curator's scheduled scoring/dedup/pruning cycle.
//  7. Start the fleet-facing HTTP API (ingest, library sync, rig
//     registry, dashboard) and the separate federation gRPC listener.
//  8. Block on SIGINT/SIGTERM, then shut down.
//
// The hub's identity store is in-memory only (see DESIGN.md) — a
// restart always re-mints the bootstrap admin credential, which is
// printed once to stderr so an operator can register rigs against the
// new process.
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
	"gopkg.in/yaml.v3"

	"github.com/sairen/sairen-os/internal/fedrpc"
	hubapi "github.com/sairen/sairen-os/internal/fleethub/api"
	"github.com/sairen/sairen-os/internal/fleethub/curator"
	"github.com/sairen/sairen-os/internal/fleethub/federation"
	"github.com/sairen/sairen-os/internal/fleethub/ingest"
	"github.com/sairen/sairen-os/internal/fleethub/librarysync"
	"github.com/sairen/sairen-os/internal/fleethub/registry"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/observability"
)

// hubConfig is the fleet hub's own small configuration document —
// narrower than the rig node's, since the hub has no physics, no
// recurrent network, and no operator console of its own.
type hubConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	Observability struct {
		LogLevel    string `yaml:"log_level"`
		LogFormat   string `yaml:"log_format"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"observability"`
	Federation struct {
		GRPCAddr        string        `yaml:"grpc_addr"`
		CertFile        string        `yaml:"cert_file"`
		KeyFile         string        `yaml:"key_file"`
		CAFile          string        `yaml:"ca_file"`
		TrustedPeersDir string        `yaml:"trusted_peers_dir"`
		EnvelopeTTL     time.Duration `yaml:"envelope_ttl"`
	} `yaml:"federation"`
}

func defaultHubConfig() hubConfig {
	var c hubConfig
	c.ListenAddr = "0.0.0.0:8443"
	c.Observability.LogLevel = "info"
	c.Observability.LogFormat = "json"
	c.Observability.MetricsAddr = "127.0.0.1:9091"
	c.Federation.GRPCAddr = "0.0.0.0:8444"
	c.Federation.EnvelopeTTL = 30 * time.Second
	return c
}

func main() {
	configPath := flag.String("config", "/etc/sairen/hub.yaml", "Path to hub.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("sairen-hub (schema", config.SchemaVersion, ")")
		os.Exit(0)
	}

	cfg := loadHubConfig(*configPath)

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("sairen-hub starting", zap.String("config", *configPath), zap.String("listen_addr", cfg.ListenAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	reg := registry.New(registry.NewMemoryStore())

	adminCredentialID, adminSecret, err := reg.RegisterAdmin(ctx)
	if err != nil {
		log.Fatal("failed minting bootstrap admin credential", zap.Error(err))
	}
	fmt.Fprintf(os.Stderr, "bootstrap admin credential: %s.%s\n", adminCredentialID, adminSecret)
	log.Info("bootstrap admin credential minted", zap.String("credential_id", adminCredentialID))

	metrics := observability.New()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr, log); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	ingester := ingest.New(st, log)
	librarySync := librarysync.New(st)
	fed := federation.New(st, log)
	cur := curator.New(st, log)
	go cur.Run(ctx)
	log.Info("curator cycle started")

	apiServer := hubapi.NewServer(hubapi.Deps{
		Store:       st,
		Registry:    reg,
		Ingester:    ingester,
		LibrarySync: librarySync,
		Curator:     cur,
		Log:         log,
	})
	go func() {
		if err := apiServer.ListenAndServe(cfg.ListenAddr); err != nil {
			log.Error("hub API server error", zap.Error(err))
		}
	}()
	log.Info("hub API server started", zap.String("addr", cfg.ListenAddr))

	startFederationGRPC(ctx, cfg, fed, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(200 * time.Millisecond) // let in-flight handlers finish their response

	log.Info("sairen-hub shutdown complete")
}

// startFederationGRPC serves checkpoint publish/fetch on its own
// mTLS-authenticated gRPC listener, separate from the hub's bearer-
// credentialed HTTP API — see internal/fedrpc's package doc for why.
func startFederationGRPC(ctx context.Context, cfg hubConfig, fed *federation.Hub, log *zap.Logger) {
	if cfg.Federation.GRPCAddr == "" {
		log.Warn("federation.grpc_addr unset — checkpoint exchange disabled")
		return
	}
	peers, err := fedrpc.LoadTrustedPeers(cfg.Federation.TrustedPeersDir)
	if err != nil {
		log.Error("failed loading federation trusted peers — checkpoint exchange disabled", zap.Error(err))
		return
	}
	srv := federation.NewGRPCServer(fed, peers, cfg.Federation.EnvelopeTTL, log)
	tlsFiles := fedrpc.TLSFiles{CertFile: cfg.Federation.CertFile, KeyFile: cfg.Federation.KeyFile, CAFile: cfg.Federation.CAFile}
	go func() {
		if err := fedrpc.Serve(ctx, cfg.Federation.GRPCAddr, tlsFiles, srv, log); err != nil {
			log.Error("federation gRPC server error", zap.Error(err))
		}
	}()
	log.Info("federation gRPC server started", zap.String("addr", cfg.Federation.GRPCAddr), zap.Int("trusted_peers", len(peers)))
}

func loadHubConfig(path string) hubConfig {
	cfg := defaultHubConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: hub config %q failed to parse, using defaults: %v\n", path, err)
		return defaultHubConfig()
	}
	return cfg
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
