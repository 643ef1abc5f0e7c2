// Package metrics holds the Prometheus collectors for the interview service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intakeflow"

// Metrics bundles every collector the service records.
type Metrics struct {
	registry *prometheus.Registry

	turns             *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	inferenceCalls    *prometheus.CounterVec
	inferenceRetries  *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	limiterInFlight   prometheus.Gauge
	limiterWaiting    prometheus.Gauge
	handoffs          *prometheus.CounterVec
	forceAccepts      *prometheus.CounterVec
	persistFailures   prometheus.Counter
	sessionsSwept     prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed user turns by resulting action.",
		}, []string{"action"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time spent processing one turn.",
			Buckets:   prometheus.DefBuckets,
		}),
		inferenceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_calls_total",
			Help:      "Inference calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		inferenceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_retries_total",
			Help:      "Inference attempts that were retried after a retryable failure.",
		}, []string{"operation"}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_attempt_duration_seconds",
			Help:      "Duration of single inference attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		limiterInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limiter_in_flight",
			Help:      "External calls currently holding a limiter slot.",
		}),
		limiterWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limiter_waiting",
			Help:      "Callers queued for a limiter slot.",
		}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Phase hand-offs.",
		}, []string{"from", "to"}),
		forceAccepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "force_accepts_total",
			Help:      "Fields accepted verbatim after repeated asking.",
		}, []string{"field"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Best-effort session snapshots that failed to save.",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired session snapshots deleted by the sweeper.",
		}),
	}

	m.registry.MustRegister(
		m.turns,
		m.turnDuration,
		m.inferenceCalls,
		m.inferenceRetries,
		m.inferenceDuration,
		m.limiterInFlight,
		m.limiterWaiting,
		m.handoffs,
		m.forceAccepts,
		m.persistFailures,
		m.sessionsSwept,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTurn records one processed turn.
func (m *Metrics) ObserveTurn(action string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(action).Inc()
	m.turnDuration.Observe(elapsed.Seconds())
}

// ObserveInference records the final outcome of a guarded inference call.
func (m *Metrics) ObserveInference(operation, outcome string) {
	if m == nil {
		return
	}
	m.inferenceCalls.WithLabelValues(operation, outcome).Inc()
}

// ObserveAttempt records the duration of a single inference attempt.
func (m *Metrics) ObserveAttempt(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncRetry counts a retried inference attempt.
func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.inferenceRetries.WithLabelValues(operation).Inc()
}

// SetLimiter mirrors the limiter occupancy. It matches limiter.WithObserver.
func (m *Metrics) SetLimiter(inFlight, waiting int) {
	if m == nil {
		return
	}
	m.limiterInFlight.Set(float64(inFlight))
	m.limiterWaiting.Set(float64(waiting))
}

// IncHandoff counts a phase transition.
func (m *Metrics) IncHandoff(from, to string) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues(from, to).Inc()
}

// IncForceAccept counts a repetition override.
func (m *Metrics) IncForceAccept(field string) {
	if m == nil {
		return
	}
	m.forceAccepts.WithLabelValues(field).Inc()
}

// IncPersistFailure counts a failed snapshot write.
func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// AddSwept counts deleted expired sessions.
func (m *Metrics) AddSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}
