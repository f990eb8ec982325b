// Package config loads and validates the rig node's declarative
// configuration document. The document is a single YAML file, loaded at
// startup and reloaded when cmd/sairen-rig receives SIGHUP; changes to
// the file itself are not watched.
//
// Recognized top-level sections: well, thresholds.*, baseline_learning,
// ensemble_weights, physics, campaign.*, federation, damping, lookahead,
// plus the ambient sections (node, storage, observability, api) a runnable
// process needs that the domain spec does not itself name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is bumped whenever a breaking field change is made.
const SchemaVersion = 1

// Well identifies the physical location this rig node is attached to.
type Well struct {
	RigID string `json:"rig_id" yaml:"rig_id"`
	WellID string `json:"well_id" yaml:"well_id"`
	Field  string `json:"field" yaml:"field"`
}

// Thresholds carries the static (non-learned) threshold presets merged
// with locked baseline values by the physics engine and tactical gate.
type Thresholds struct {
	AnomalyLow  float64 `json:"anomaly_low" yaml:"anomaly_low"`  // below this, tactical gate downgrades one tier
	AnomalyHigh float64 `json:"anomaly_high" yaml:"anomaly_high"` // at/above this, tactical gate escalates one tier
	CausalCorrelation float64 `json:"causal_correlation" yaml:"causal_correlation"` // minimum |r| to record a causal lead
	CausalMaxLag      int     `json:"causal_max_lag" yaml:"causal_max_lag"`
	StrongCorroborate float64 `json:"strong_corroborate" yaml:"strong_corroborate"` // recurrent score confirming an uncertain ticket
	WeakReject        float64 `json:"weak_reject" yaml:"weak_reject"`        // recurrent score rejecting an uncertain ticket
}

// BaselineLearning tunes the per-metric Welford accumulator in internal/baseline.
type BaselineLearning struct {
	MinSamples  int     `json:"min_samples" yaml:"min_samples"`
	WarnSigma   float64 `json:"warn_sigma" yaml:"warn_sigma"`
	CritSigma   float64 `json:"crit_sigma" yaml:"crit_sigma"`
	MaxVariance float64 `json:"max_variance" yaml:"max_variance"` // accumulator rejected as unstable above this
}

// EnsembleWeights are the baseline specialist weights before regime
// adjustment; internal/orchestrator renormalizes after multiplying by the
// regime-dependent multiplier table.
type EnsembleWeights struct {
	Efficiency  float64 `json:"efficiency" yaml:"efficiency"`
	Hydraulic   float64 `json:"hydraulic" yaml:"hydraulic"`
	WellControl float64 `json:"well_control" yaml:"well_control"`
	Formation   float64 `json:"formation" yaml:"formation"`
}

// Physics holds tunable constants for the deterministic drilling physics.
type Physics struct {
	FractureGradientMargin float64 `json:"fracture_gradient_margin" yaml:"fracture_gradient_margin"` // psi/ft margin flagged as tight
	PackOffTorquePct       float64 `json:"packoff_torque_pct" yaml:"packoff_torque_pct"`
	PackOffSPPPct          float64 `json:"packoff_spp_pct" yaml:"packoff_spp_pct"`
	PackOffROPDropPct      float64 `json:"packoff_rop_drop_pct" yaml:"packoff_rop_drop_pct"`
	StickSlipCVThreshold   float64 `json:"stick_slip_cv_threshold" yaml:"stick_slip_cv_threshold"`
	StickSlipWindow        int     `json:"stick_slip_window" yaml:"stick_slip_window"`
}

// Campaign selects an operational mode preset (production vs. well
// abandonment, etc). Name selects the preset; Overrides allows a campaign
// to shift individual threshold/weight fields without a full preset swap.
type Campaign struct {
	Name      string             `json:"name" yaml:"name"`
	Overrides map[string]float64 `json:"overrides" yaml:"overrides"`
}

// FederationPolicy selects how internal/fleet/federation reconciles the
// local recurrent network against the hub's federated aggregate.
type FederationPolicy string

const (
	FederationFreshOnly   FederationPolicy = "fresh_only"
	FederationBetterModel FederationPolicy = "better_model"
	FederationUploadOnly  FederationPolicy = "upload_only"
)

// Federation configures the spoke-side federation exchange. HubAddr,
// CertFile/KeyFile/CAFile are the hub's plain HTTP API, shared with
// uploader and library sync; GRPCAddr and its own TLS triple plus
// SigningKeyFile are specific to the checkpoint exchange's dedicated
// gRPC+mTLS transport (internal/fedrpc), Ed25519-signed per envelope.
type Federation struct {
	Enabled             bool             `json:"enabled" yaml:"enabled"`
	HubAddr             string           `json:"hub_addr" yaml:"hub_addr"`
	CertFile            string           `json:"cert_file" yaml:"cert_file"`
	KeyFile             string           `json:"key_file" yaml:"key_file"`
	CAFile              string           `json:"ca_file" yaml:"ca_file"`
	GRPCAddr            string           `json:"grpc_addr" yaml:"grpc_addr"`
	GRPCCertFile        string           `json:"grpc_cert_file" yaml:"grpc_cert_file"`
	GRPCKeyFile         string           `json:"grpc_key_file" yaml:"grpc_key_file"`
	GRPCCAFile          string           `json:"grpc_ca_file" yaml:"grpc_ca_file"`
	SigningKeyFile      string           `json:"signing_key_file" yaml:"signing_key_file"`
	EnvelopeTTL         time.Duration    `json:"envelope_ttl" yaml:"envelope_ttl"`
	PublishInterval     time.Duration    `json:"publish_interval" yaml:"publish_interval"`
	PullInterval        time.Duration    `json:"pull_interval" yaml:"pull_interval"`
	MinPacketsToPublish int64            `json:"min_packets_to_publish" yaml:"min_packets_to_publish"`
	Policy              FederationPolicy `json:"policy" yaml:"policy"`
	LossWindowPackets   int64            `json:"loss_window_packets" yaml:"loss_window_packets"`
}

// Damping configures the recurrent network's truncated backprop-through-time
// and gradient clipping.
type Damping struct {
	BPTTDepth       int     `json:"bptt_depth" yaml:"bptt_depth"`
	BPTTDecay       float64 `json:"bptt_decay" yaml:"bptt_decay"`
	GradClipNorm    float64 `json:"grad_clip_norm" yaml:"grad_clip_norm"`
	PrimaryFeatureWeight float64 `json:"primary_feature_weight" yaml:"primary_feature_weight"`
	WarmupPackets   int64   `json:"warmup_packets" yaml:"warmup_packets"`
}

// Lookahead configures the history buffer and trend regression.
type Lookahead struct {
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity"`
	TrendWindow     int `json:"trend_window" yaml:"trend_window"`
}

// Node carries process identity and lifecycle paths — ambient, not named
// by any domain section above.
type Node struct {
	ID       string `json:"id" yaml:"id"`
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	LogDir   string `json:"log_dir" yaml:"log_dir"`
}

// Storage configures the rig-local durable store.
type Storage struct {
	BoltPath      string        `json:"bolt_path" yaml:"bolt_path"`
	RetentionDays int           `json:"retention_days" yaml:"retention_days"`
	QueueDir      string        `json:"queue_dir" yaml:"queue_dir"`
	QueueCapacity int           `json:"queue_capacity" yaml:"queue_capacity"`
}

// Observability configures logging and the metrics/health server.
type Observability struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`  // debug|info|warn|error
	LogFormat string `json:"log_format" yaml:"log_format"` // json|console
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

// API configures the rig node's advisory HTTP API.
type API struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// Reasoner configures the structured-LLM vs. template fallback path.
type Reasoner struct {
	LLMEnabled bool          `json:"llm_enabled" yaml:"llm_enabled"`
	LLMTimeout time.Duration `json:"llm_timeout" yaml:"llm_timeout"`
}

// Knowledge configures the local episode-recall backend.
type Knowledge struct {
	Backend  string `json:"backend" yaml:"backend"` // noop|static|recall
	MaxEpisodes int `json:"max_episodes" yaml:"max_episodes"`
}

// Cooldown configures the composer's critical-cooldown gate.
type Cooldown struct {
	CriticalSeconds int `json:"critical_seconds" yaml:"critical_seconds"`
}

// Telemetry selects and configures the rig node's packet source. Source
// is one of "stream" (reconnecting TCP dial to the rig's data acquisition
// system), "stdin" (newline-delimited JSON on standard input), or "file"
// (one-shot replay of a recorded file, no reconnect).
type Telemetry struct {
	Source   string `json:"source" yaml:"source"` // stream|stdin|file
	DialAddr string `json:"dial_addr" yaml:"dial_addr"` // used when source=stream
	ReplayPath string `json:"replay_path" yaml:"replay_path"` // used when source=file
}

// Config is the full rig node configuration document.
type Config struct {
	SchemaVersion int              `json:"schema_version" yaml:"schema_version"`
	Node          Node             `json:"node" yaml:"node"`
	Well          Well             `json:"well" yaml:"well"`
	Thresholds    Thresholds       `json:"thresholds" yaml:"thresholds"`
	BaselineLearning BaselineLearning `json:"baseline_learning" yaml:"baseline_learning"`
	EnsembleWeights  EnsembleWeights  `json:"ensemble_weights" yaml:"ensemble_weights"`
	Physics       Physics          `json:"physics" yaml:"physics"`
	Campaign      Campaign         `json:"campaign" yaml:"campaign"`
	Federation    Federation       `json:"federation" yaml:"federation"`
	Damping       Damping          `json:"damping" yaml:"damping"`
	Lookahead     Lookahead        `json:"lookahead" yaml:"lookahead"`
	Storage       Storage          `json:"storage" yaml:"storage"`
	Observability Observability    `json:"observability" yaml:"observability"`
	API           API              `json:"api" yaml:"api"`
	Reasoner      Reasoner         `json:"reasoner" yaml:"reasoner"`
	Knowledge     Knowledge        `json:"knowledge" yaml:"knowledge"`
	Cooldown      Cooldown         `json:"cooldown" yaml:"cooldown"`
	Telemetry     Telemetry        `json:"telemetry" yaml:"telemetry"`
}

// Defaults returns a fully populated configuration with conservative
// production defaults — every field a fresh rig node needs to run without
// an operator-supplied override.
func Defaults() Config {
	return Config{
		SchemaVersion: SchemaVersion,
		Node: Node{
			ID:      "rig-unconfigured",
			DataDir: "data",
			LogDir:  "logs",
		},
		Well: Well{RigID: "rig-unconfigured", WellID: "unknown", Field: "unknown"},
		Thresholds: Thresholds{
			AnomalyLow:        0.2,
			AnomalyHigh:       0.8,
			CausalCorrelation: 0.45,
			CausalMaxLag:      20,
			StrongCorroborate: 0.75,
			WeakReject:        0.15,
		},
		BaselineLearning: BaselineLearning{
			MinSamples:  300,
			WarnSigma:   2.0,
			CritSigma:   3.0,
			MaxVariance: 1e6,
		},
		EnsembleWeights: EnsembleWeights{
			Efficiency:  0.25,
			Hydraulic:   0.25,
			WellControl: 0.30,
			Formation:   0.20,
		},
		Physics: Physics{
			FractureGradientMargin: 0.5,
			PackOffTorquePct:       0.15,
			PackOffSPPPct:          0.07,
			PackOffROPDropPct:      0.30,
			StickSlipCVThreshold:   0.35,
			StickSlipWindow:        20,
		},
		Campaign: Campaign{Name: "production", Overrides: map[string]float64{}},
		Federation: Federation{
			Enabled:             false,
			EnvelopeTTL:         30 * time.Second,
			PublishInterval:     1 * time.Hour,
			PullInterval:        2 * time.Hour,
			MinPacketsToPublish: 10000,
			Policy:              FederationFreshOnly,
			LossWindowPackets:   1000,
		},
		Damping: Damping{
			BPTTDepth:            4,
			BPTTDecay:            0.7,
			GradClipNorm:         5.0,
			PrimaryFeatureWeight: 2.0,
			WarmupPackets:        500,
		},
		Lookahead: Lookahead{HistoryCapacity: 60, TrendWindow: 20},
		Storage: Storage{
			BoltPath:      "data/rig.db",
			RetentionDays: 30,
			QueueDir:      "data/upload_queue",
			QueueCapacity: 1000,
		},
		Observability: Observability{LogLevel: "info", LogFormat: "json", MetricsAddr: "127.0.0.1:9090"},
		API:           API{ListenAddr: "127.0.0.1:8080"},
		Reasoner:      Reasoner{LLMEnabled: false, LLMTimeout: 5 * time.Minute},
		Knowledge:     Knowledge{Backend: "recall", MaxEpisodes: 10000},
		Cooldown:      Cooldown{CriticalSeconds: 30},
		Telemetry:     Telemetry{Source: "stream", DialAddr: "127.0.0.1:9200"},
	}
}

// Load reads, parses, and validates the configuration document at path.
// Unknown top-level keys do not fail the decode (KnownFields is off);
// unknownKeyWarnings re-parses the document and reports each one as a
// warning, not a hard failure.
func Load(path string) (Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(false) // unknown keys become warnings, not decode errors
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	warnings := unknownKeyWarnings(data)

	if errs := Validate(cfg); len(errs) > 0 {
		return Config{}, warnings, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, warnings, nil
}

// Save validates and writes cfg to path as YAML, the counterpart to
// Load — used by the rig node's /config POST handler to persist an
// operator-supplied update.
func Save(path string, cfg Config) error {
	if errs := Validate(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// unknownKeyWarnings re-parses the raw document generically and flags any
// top-level key outside the recognized set.
func unknownKeyWarnings(data []byte) []string {
	recognized := map[string]bool{
		"schema_version": true, "node": true, "well": true, "thresholds": true,
		"baseline_learning": true, "ensemble_weights": true, "physics": true,
		"campaign": true, "federation": true, "damping": true, "lookahead": true,
		"storage": true, "observability": true, "api": true, "reasoner": true,
		"knowledge": true, "cooldown": true, "telemetry": true,
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var warnings []string
	for k := range raw {
		if !recognized[k] {
			warnings = append(warnings, fmt.Sprintf("unrecognized config key %q ignored", k))
		}
	}
	return warnings
}

// Validate aggregates every field-level error into one slice rather than
// failing fast on the first problem — an operator fixing a config wants
// the whole list at once.
func Validate(cfg Config) []string {
	var errs []string

	if cfg.Well.RigID == "" {
		errs = append(errs, "well.rig_id must not be empty")
	}
	if cfg.Thresholds.AnomalyLow >= cfg.Thresholds.AnomalyHigh {
		errs = append(errs, "thresholds.anomaly_low must be less than thresholds.anomaly_high")
	}
	if cfg.Thresholds.StrongCorroborate <= cfg.Thresholds.WeakReject {
		errs = append(errs, "thresholds.strong_corroborate must be greater than thresholds.weak_reject")
	}
	if cfg.BaselineLearning.WarnSigma >= cfg.BaselineLearning.CritSigma {
		errs = append(errs, "baseline_learning.warn_sigma must be less than baseline_learning.crit_sigma")
	}
	if cfg.BaselineLearning.MinSamples <= 0 {
		errs = append(errs, "baseline_learning.min_samples must be positive")
	}

	sum := cfg.EnsembleWeights.Efficiency + cfg.EnsembleWeights.Hydraulic +
		cfg.EnsembleWeights.WellControl + cfg.EnsembleWeights.Formation
	if diff := sum - 1.0; diff > 1e-6 || diff < -1e-6 {
		errs = append(errs, fmt.Sprintf("ensemble_weights must sum to 1.0 ± 1e-6, got %f", sum))
	}
	for name, w := range map[string]float64{
		"efficiency": cfg.EnsembleWeights.Efficiency, "hydraulic": cfg.EnsembleWeights.Hydraulic,
		"well_control": cfg.EnsembleWeights.WellControl, "formation": cfg.EnsembleWeights.Formation,
	} {
		if w < 0 || !isFinite(w) {
			errs = append(errs, fmt.Sprintf("ensemble_weights.%s must be finite and non-negative", name))
		}
	}

	if cfg.Lookahead.HistoryCapacity <= 0 {
		errs = append(errs, "lookahead.history_capacity must be positive")
	}
	if cfg.Damping.BPTTDepth <= 0 {
		errs = append(errs, "damping.bptt_depth must be positive")
	}
	if cfg.Storage.QueueCapacity <= 0 {
		errs = append(errs, "storage.queue_capacity must be positive")
	}

	if cfg.Federation.Enabled {
		switch cfg.Federation.Policy {
		case FederationFreshOnly, FederationBetterModel, FederationUploadOnly:
		default:
			errs = append(errs, fmt.Sprintf("federation.policy %q is not recognized", cfg.Federation.Policy))
		}
		if cfg.Federation.HubAddr == "" {
			errs = append(errs, "federation.hub_addr must be set when federation.enabled is true")
		}
		if cfg.Federation.GRPCAddr == "" {
			errs = append(errs, "federation.grpc_addr must be set when federation.enabled is true")
		}
		if cfg.Federation.SigningKeyFile == "" {
			errs = append(errs, "federation.signing_key_file must be set when federation.enabled is true")
		}
	}

	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, "observability.log_format must be json or console")
	}

	switch cfg.Knowledge.Backend {
	case "noop", "static", "recall":
	default:
		errs = append(errs, "knowledge.backend must be noop, static, or recall")
	}

	switch cfg.Telemetry.Source {
	case "stream":
		if cfg.Telemetry.DialAddr == "" {
			errs = append(errs, "telemetry.dial_addr must be set when telemetry.source is stream")
		}
	case "stdin":
	case "file":
		if cfg.Telemetry.ReplayPath == "" {
			errs = append(errs, "telemetry.replay_path must be set when telemetry.source is file")
		}
	default:
		errs = append(errs, "telemetry.source must be stream, stdin, or file")
	}

	return errs
}

func isFinite(f float64) bool {
	return f == f && f < 1e308 && f > -1e308
}
