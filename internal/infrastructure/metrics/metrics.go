// Package metrics exposes the Prometheus instruments of the progression engine.
// All observe methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "progression"

// Metrics groups every instrument.
type Metrics struct {
	// Eligibility evaluations by outcome
	Evaluations       *prometheus.CounterVec
	EvaluationLatency prometheus.Histogram
	CacheRequests     *prometheus.CounterVec

	// Applied promotions by kind and origin
	Promotions *prometheus.CounterVec
	// Promotions refused for a concurrency reason, by error code
	PromotionConflicts *prometheus.CounterVec

	RequestTransitions *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	HandlerLatency  *prometheus.HistogramVec

	SweepDuration prometheus.Histogram
	SweepEligible *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New registers all instruments with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Eligibility evaluations by outcome",
		}, []string{"outcome"}),

		EvaluationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of an eligibility evaluation including ledger and directory lookups",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligibility_cache_requests_total",
			Help:      "Eligibility cache lookups by result",
		}, []string{"result"}), // hit, miss, error

		Promotions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Committed promotions by kind and origin",
		}, []string{"kind", "origin"}),

		PromotionConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_conflicts_total",
			Help:      "Promotions refused because of concurrent changes",
		}, []string{"code"}),

		RequestTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Promotion request transitions by resulting status",
		}, []string{"status"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published by type",
		}, []string{"type"}),

		HandlerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler execution time by event type and result",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "result"}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full eligibility sweep",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}),

		SweepEligible: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_detections_total",
			Help:      "Newly eligible practitioners detected by the sweep",
		}, []string{"outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
	}
}

// ObserveEvaluation records one evaluation.
func (m *Metrics) ObserveEvaluation(outcome string, d time.Duration) {
	if m != nil {
		m.Evaluations.WithLabelValues(outcome).Inc()
		m.EvaluationLatency.Observe(d.Seconds())
	}
}

// IncCache records an eligibility cache lookup.
func (m *Metrics) IncCache(result string) {
	if m != nil {
		m.CacheRequests.WithLabelValues(result).Inc()
	}
}

// IncPromotion records a committed promotion.
func (m *Metrics) IncPromotion(kind, origin string) {
	if m != nil {
		m.Promotions.WithLabelValues(kind, origin).Inc()
	}
}

// IncConflict records a refused promotion.
func (m *Metrics) IncConflict(code string) {
	if m != nil {
		m.PromotionConflicts.WithLabelValues(code).Inc()
	}
}

// IncRequestTransition records a request entering status.
func (m *Metrics) IncRequestTransition(status string) {
	if m != nil {
		m.RequestTransitions.WithLabelValues(status).Inc()
	}
}

// IncEventPublished records a published event.
func (m *Metrics) IncEventPublished(eventType string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

// ObserveHandler records one event handler execution.
func (m *Metrics) ObserveHandler(eventType string, d time.Duration, ok bool) {
	if m != nil {
		result := "ok"
		if !ok {
			result = "error"
		}
		m.HandlerLatency.WithLabelValues(eventType, result).Observe(d.Seconds())
	}
}

// ObserveSweep records a finished sweep.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}

// IncSweepDetection records a newly eligible practitioner.
func (m *Metrics) IncSweepDetection(outcome string) {
	if m != nil {
		m.SweepEligible.WithLabelValues(outcome).Inc()
	}
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, status).Inc()
		m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
	}
}
