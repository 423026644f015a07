package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the oracle. Methods are nil-safe so
// components can run without metrics in tests.
type Metrics struct {
	// Verification outcomes by decision and reason
	Outcomes *prometheus.CounterVec

	// Evidence retrieval latency by result: "ok", "error"
	FetchLatency *prometheus.HistogramVec

	// Evidence cache lookups by result: "hit", "miss", "error"
	CacheLookups *prometheus.CounterVec

	// Settlement submissions by call and terminal status
	Submissions *prometheus.CounterVec

	// Settlement latency from nonce read to terminal status
	SubmissionLatency prometheus.Histogram

	// Last nonce used by the verifier account
	LastNonce prometheus.Gauge

	// Evidence host circuit breaker (0=closed, 1=open)
	EvidenceCircuitState prometheus.Gauge

	// Pipeline runs by result: "settled", "failed"
	Runs *prometheus.CounterVec
}

// New creates Metrics registered on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates Metrics registered on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_verification_outcomes_total",
			Help: "Verification outcomes by decision and failure reason",
		}, []string{"decision", "reason"}),

		FetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oracle_evidence_fetch_duration_seconds",
			Help:    "Duration of evidence document retrieval",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"result"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_evidence_cache_lookups_total",
			Help: "Evidence cache lookups by result",
		}, []string{"result"}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_settlement_submissions_total",
			Help: "Settlement transactions by call and terminal status",
		}, []string{"call", "status"}),

		SubmissionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_settlement_duration_seconds",
			Help:    "Duration of a settlement from nonce read to finalization",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		LastNonce: f.NewGauge(prometheus.GaugeOpts{
			Name: "oracle_settlement_last_nonce",
			Help: "Account nonce used by the most recent settlement",
		}),

		EvidenceCircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "oracle_evidence_circuit_breaker_state",
			Help: "Evidence host circuit breaker state (0=closed, 1=open)",
		}),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_pipeline_runs_total",
			Help: "Pipeline runs by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncOutcome(decision, reason string) {
	if m != nil {
		if reason == "" {
			reason = "none"
		}
		m.Outcomes.WithLabelValues(decision, reason).Inc()
	}
}

func (m *Metrics) ObserveFetch(result string, d time.Duration) {
	if m != nil {
		m.FetchLatency.WithLabelValues(result).Observe(d.Seconds())
	}
}

func (m *Metrics) IncCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncSubmission(call, status string) {
	if m != nil {
		m.Submissions.WithLabelValues(call, status).Inc()
	}
}

func (m *Metrics) ObserveSubmission(d time.Duration) {
	if m != nil {
		m.SubmissionLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SetLastNonce(nonce uint64) {
	if m != nil {
		m.LastNonce.Set(float64(nonce))
	}
}

func (m *Metrics) SetEvidenceCircuitState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.EvidenceCircuitState.Set(1)
	} else {
		m.EvidenceCircuitState.Set(0)
	}
}

func (m *Metrics) IncRun(result string) {
	if m != nil {
		m.Runs.WithLabelValues(result).Inc()
	}
}
