package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the media gateway.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	tokensIssuedTotal       prometheus.Counter
	proxyRequestsTotal      *prometheus.CounterVec
	extractionFailuresTotal prometheus.Counter
	transmuxStartedTotal    prometheus.Counter
	transmuxActive          prometheus.Gauge
	errorsTotal             prometheus.Counter
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of HTTP requests received",
	})
	tokensIssuedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tokens_issued_total",
		Help: "Total number of proxy session tokens issued",
	})
	proxyRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_proxy_requests_total",
		Help: "Total number of proxied sub-resource requests by kind",
	}, []string{"kind"})
	extractionFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_extraction_failures_total",
		Help: "Total number of script extractions that yielded no manifest URL",
	})
	transmuxStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_transmux_started_total",
		Help: "Total number of transmux processes spawned",
	})
	transmuxActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_transmux_active_processes",
		Help: "Number of transmux processes currently running",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		tokensIssuedTotal,
		proxyRequestsTotal,
		extractionFailuresTotal,
		transmuxStartedTotal,
		transmuxActive,
		errorsTotal,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		tokensIssuedTotal:       tokensIssuedTotal,
		proxyRequestsTotal:      proxyRequestsTotal,
		extractionFailuresTotal: extractionFailuresTotal,
		transmuxStartedTotal:    transmuxStartedTotal,
		transmuxActive:          transmuxActive,
		errorsTotal:             errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncTokensIssued increments the issued token counter.
func (m *Metrics) IncTokensIssued() {
	m.tokensIssuedTotal.Inc()
}

// IncProxyRequests increments the proxied request counter for the given kind
// ("playlist", "segment", or "key").
func (m *Metrics) IncProxyRequests(kind string) {
	m.proxyRequestsTotal.WithLabelValues(kind).Inc()
}

// IncExtractionFailures increments the extraction failure counter.
func (m *Metrics) IncExtractionFailures() {
	m.extractionFailuresTotal.Inc()
}

// IncTransmuxStarted increments the spawned transmux process counter.
func (m *Metrics) IncTransmuxStarted() {
	m.transmuxStartedTotal.Inc()
}

// SetTransmuxActive sets the running transmux process gauge.
func (m *Metrics) SetTransmuxActive(n int) {
	m.transmuxActive.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. active transmux processes).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
