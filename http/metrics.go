package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exposed on /metrics. Each server owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	predictions  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	modelInfo    *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightdelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flightdelay_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightdelay_predictions_total",
				Help: "Predictions served by class",
			},
			[]string{"label"}, // label: 0|1
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightdelay_prediction_cache_lookups_total",
				Help: "Prediction cache lookups by result",
			},
			[]string{"result"}, // result: hit|miss
		),
		modelInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flightdelay_model_info",
				Help: "Active model bundle, always 1",
			},
			[]string{"version", "classifier_kind", "schema_version"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.predictions,
		m.cacheLookups,
		m.modelInfo,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetModel(version, kind, schemaVersion string) {
	m.modelInfo.Reset()
	m.modelInfo.WithLabelValues(version, kind, schemaVersion).Set(1)
}

func (m *Metrics) ObservePredictions(labels []int) {
	for _, label := range labels {
		m.predictions.WithLabelValues(strconv.Itoa(label)).Inc()
	}
}

func (m *Metrics) ObserveCache(hits, misses int) {
	if hits > 0 {
		m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
	}
}

// Middleware records request counts and latency per matched route. It must sit directly
// in front of the ServeMux so the route pattern is visible after the call.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
