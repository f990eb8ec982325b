// Package observability wires a dedicated (non-global) Prometheus registry
// and exposes /metrics + /healthz on a loopback HTTP server, the same
// ambient shape for both the rig node and the fleet hub.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds every counter/gauge/histogram either process registers.
// Not every field is populated by every process — the rig node and hub
// share this type and each wires the subset it emits.
type Metrics struct {
	registry *prometheus.Registry

	PacketsIngestedTotal   prometheus.Counter
	PacketsRejectedTotal   *prometheus.CounterVec
	TicketsRaisedTotal     *prometheus.CounterVec
	AdvisoriesEmittedTotal *prometheus.CounterVec
	AnomalyScoreHistogram  prometheus.Histogram
	PipelineLatency        prometheus.Histogram

	UploadQueueDepth     prometheus.Gauge
	UploadsSucceededTotal prometheus.Counter
	UploadsFailedTotal    prometheus.Counter

	FederationPublishTotal prometheus.Counter
	FederationPullTotal    prometheus.Counter

	HubEventsIngestedTotal prometheus.Counter
	HubEventsRejectedTotal *prometheus.CounterVec
	HubCuratorCycleLatency prometheus.Histogram
	HubActiveEpisodes      prometheus.Gauge
	HubLibraryVersion      prometheus.Gauge

	StartTime time.Time
}

// New registers the full metric catalog on a fresh registry. Unused
// metrics (e.g. hub-only gauges inside the rig process) are simply never
// incremented.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:  reg,
		StartTime: time.Now(),

		PacketsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sairen_packets_ingested_total", Help: "Telemetry packets accepted by the ingester.",
		}),
		PacketsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sairen_packets_rejected_total", Help: "Telemetry packets rejected by the ingester, by reason.",
		}, []string{"reason"}),
		TicketsRaisedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sairen_tickets_raised_total", Help: "Advisory tickets raised by the tactical gate, by category.",
		}, []string{"category"}),
		AdvisoriesEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sairen_advisories_emitted_total", Help: "Advisories published by the composer, by risk level.",
		}, []string{"risk_level"}),
		AnomalyScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "sairen_recurrent_anomaly_score", Help: "Recurrent network anomaly score distribution.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		PipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "sairen_pipeline_latency_seconds", Help: "End-to-end per-packet pipeline latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		UploadQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sairen_upload_queue_depth", Help: "Pending entries in the durable upload queue.",
		}),
		UploadsSucceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sairen_uploads_succeeded_total", Help: "Fleet events uploaded successfully.",
		}),
		UploadsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sairen_uploads_failed_total", Help: "Fleet event upload attempts that failed.",
		}),
		FederationPublishTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sairen_federation_publish_total", Help: "Recurrent-network checkpoints published to the hub.",
		}),
		FederationPullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sairen_federation_pull_total", Help: "Federated aggregate pulls from the hub.",
		}),
		HubEventsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sairen_hub_events_ingested_total", Help: "Fleet events accepted by the hub ingest endpoint.",
		}),
		HubEventsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sairen_hub_events_rejected_total", Help: "Fleet events rejected by the hub ingest endpoint, by reason.",
		}, []string{"reason"}),
		HubCuratorCycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "sairen_hub_curator_cycle_seconds", Help: "Hub curator cycle duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		HubActiveEpisodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sairen_hub_active_episodes", Help: "Active (non-archived) episodes in the library.",
		}),
		HubLibraryVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sairen_hub_library_version", Help: "Current library version counter.",
		}),
	}

	reg.MustRegister(
		m.PacketsIngestedTotal, m.PacketsRejectedTotal, m.TicketsRaisedTotal,
		m.AdvisoriesEmittedTotal, m.AnomalyScoreHistogram, m.PipelineLatency,
		m.UploadQueueDepth, m.UploadsSucceededTotal, m.UploadsFailedTotal,
		m.FederationPublishTotal, m.FederationPullTotal,
		m.HubEventsIngestedTotal, m.HubEventsRejectedTotal, m.HubCuratorCycleLatency,
		m.HubActiveEpisodes, m.HubLibraryVersion,
	)
	return m
}

// ServeMetrics runs the /metrics + /healthz HTTP server until ctx is
// cancelled. Intended to be bound to loopback only.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
