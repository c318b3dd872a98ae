package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "netopt_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "netopt_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Runs counts finished scenario runs by outcome
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "netopt_runs_total", Help: "Scenario runs by status."},
		[]string{"status"},
	)
	// SolveDuration tracks facility-location solve time per solver
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "netopt_solve_duration_seconds", Help: "Facility location solve duration in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}},
		[]string{"solver"},
	)
	// SolverIterations records search effort (ALNS iterations or B&B nodes)
	SolverIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "netopt_solver_iterations", Help: "Search iterations or nodes per solve.", Buckets: prometheus.ExponentialBuckets(10, 4, 8)},
		[]string{"solver"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "netopt_webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "netopt_webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Runs)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolverIterations)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler serves the dedicated registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Recorder feeds engine outcomes into the collectors above.
type Recorder struct{}

func (Recorder) ObserveSolve(solver string, d time.Duration, iterations int) {
	SolveDuration.WithLabelValues(solver).Observe(d.Seconds())
	if iterations > 0 {
		SolverIterations.WithLabelValues(solver).Observe(float64(iterations))
	}
}

func (Recorder) ObserveRun(status string) {
	Runs.WithLabelValues(status).Inc()
}
