// Package metrics exposes the server's Prometheus instrumentation on its own
// registry. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trailwatch"

// Recorder holds every server metric.
type Recorder struct {
	reg *prometheus.Registry

	ingest       *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	admission    *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	mqttDropped  *prometheus.CounterVec
}

// New creates a Recorder with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Readings submitted, by transport and outcome (ok, invalid, error).",
		}, []string{"source", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of reading store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed reading store operations.",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP handler latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		admission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Requests rejected by admission, by reason.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by the rate limiter, by transport.",
		}, []string{"transport"}),
		mqttDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_dropped_total",
			Help:      "MQTT messages dropped before ingest, by reason.",
		}, []string{"reason"}),
	}
	r.reg.MustRegister(
		r.ingest, r.storeLatency, r.storeErrors,
		r.httpRequests, r.httpLatency,
		r.admission, r.rateLimited, r.mqttDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (r *Recorder) GaugeFunc(name, help string, fn func() float64) {
	if r == nil {
		return
	}
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// IncIngest counts one ingest outcome.
func (r *Recorder) IncIngest(source, outcome string) {
	if r == nil {
		return
	}
	r.ingest.WithLabelValues(source, outcome).Inc()
}

// ObserveStore records one store operation.
func (r *Recorder) ObserveStore(op string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.storeLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		r.storeErrors.WithLabelValues(op).Inc()
	}
}

// ObserveHTTP records one handled HTTP request.
func (r *Recorder) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// IncAdmissionRejected counts one admission rejection.
func (r *Recorder) IncAdmissionRejected(reason string) {
	if r == nil {
		return
	}
	r.admission.WithLabelValues(reason).Inc()
}

// IncRateLimited counts one rate-limit denial.
func (r *Recorder) IncRateLimited(transport string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(transport).Inc()
}

// IncMQTTDropped counts one dropped MQTT message.
func (r *Recorder) IncMQTTDropped(reason string) {
	if r == nil {
		return
	}
	r.mqttDropped.WithLabelValues(reason).Inc()
}
