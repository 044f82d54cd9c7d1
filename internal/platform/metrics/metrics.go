package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	CheckpointAttempts *prometheus.CounterVec
	ModalityVerdicts   *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec
	RemoteErrors       *prometheus.CounterVec
	ActiveAttempts     prometheus.Gauge
	StaleResults       prometheus.Counter
	HTTPDuration       *prometheus.HistogramVec
	RateLimited        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics on reg. A nil reg uses the default
// registry; tests pass prometheus.NewRegistry() to stay isolated.
func New(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		CheckpointAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_checkpoint_attempts_total",
			Help: "Checkpoint verification attempts by checkpoint and outcome",
		}, []string{"checkpoint", "outcome"}),
		ModalityVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_modality_verdicts_total",
			Help: "Per-modality verdicts returned by the biometric API",
		}, []string{"checkpoint", "modality", "verdict"}),
		RemoteCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examgate_remote_call_duration_seconds",
			Help:    "Latency of calls to the biometric API",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"operation"}),
		RemoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_remote_errors_total",
			Help: "Failed biometric API calls by operation and error category",
		}, []string{"operation", "category"}),
		ActiveAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "examgate_active_attempts",
			Help: "Attempts currently held in memory",
		}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "examgate_stale_results_total",
			Help: "Verification results discarded because the attempt moved on",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examgate_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "examgate_rate_limited_total",
			Help: "Requests refused by the per-client rate limit, by endpoint class",
		}, []string{"class"}),
		gatherer: gatherer,
	}
}

func (m *Metrics) IncrementCheckpointAttempt(checkpoint, outcome string) {
	m.CheckpointAttempts.WithLabelValues(checkpoint, outcome).Inc()
}

func (m *Metrics) IncrementModalityVerdict(checkpoint, modality string, matched bool) {
	verdict := "rejected"
	if matched {
		verdict = "matched"
	}
	m.ModalityVerdicts.WithLabelValues(checkpoint, modality, verdict).Inc()
}

func (m *Metrics) ObserveRemoteCall(operation string, d time.Duration) {
	m.RemoteCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncrementRemoteError(operation, category string) {
	m.RemoteErrors.WithLabelValues(operation, category).Inc()
}

func (m *Metrics) IncrementStaleResult() {
	m.StaleResults.Inc()
}

func (m *Metrics) SetActiveAttempts(n int) {
	m.ActiveAttempts.Set(float64(n))
}

func (m *Metrics) ObserveHTTPRequest(route string, d time.Duration) {
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) IncrementRateLimited(class string) {
	m.RateLimited.WithLabelValues(class).Inc()
}

// Handler exposes the registry this Metrics was created on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
