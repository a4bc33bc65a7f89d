package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus counters the API exports.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	authFailures    prometheus.Counter
	generations     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dalsi_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dalsi_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dalsi_auth_failures_total",
			Help: "Requests rejected with HTTP 401.",
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dalsi_generations_total",
			Help: "Successful generation responses.",
		}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.authFailures,
		m.generations,
	)

	return m
}

func (m *Metrics) observe(route string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
	if status == http.StatusUnauthorized {
		m.authFailures.Inc()
	}
	if route == "/generate" && status == http.StatusOK {
		m.generations.Inc()
	}
}

// MetricsHandler returns the /metrics scrape endpoint.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
