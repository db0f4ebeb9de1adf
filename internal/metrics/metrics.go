// Package metrics exposes Prometheus collectors for the control API and backend calls.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Trigger outcomes recorded by ObserveTrigger.
const (
	TriggerStarted  = "started"
	TriggerRejected = "rejected"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	backendRequestsTotal       *prometheus.CounterVec
	backendRequestDuration     *prometheus.HistogramVec
	triggersTotal              *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapcompute_http_requests_total",
				Help: "Control API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mapcompute_http_request_duration_seconds",
				Help:    "Control API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		backendRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapcompute_backend_requests_total",
				Help: "Requests sent to the map construction backend, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		// Compute requests block until the job finishes, hence the long tail.
		backendRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mapcompute_backend_request_duration_seconds",
				Help:    "Backend request latencies, labeled by endpoint.",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 600, 1800},
			},
			[]string{"endpoint"},
		)

		triggersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapcompute_triggers_total",
				Help: "Compute trigger attempts, labeled by job and result.",
			},
			[]string{"job", "result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EndpointLabel reduces a request path to a stable label ("compute_bundles", "ping").
func EndpointLabel(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "root"
	}
	return strings.ToLower(path)
}

// ObserveHTTPRequest increments the control API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveBackendRequest records one backend call. outcome is "ok" or a short failure class.
func ObserveBackendRequest(path, outcome string, duration time.Duration) {
	Init()
	endpoint := EndpointLabel(path)
	backendRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	backendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveTrigger records whether a compute trigger started a run or was refused.
func ObserveTrigger(job, result string) {
	Init()
	triggersTotal.WithLabelValues(job, result).Inc()
}
