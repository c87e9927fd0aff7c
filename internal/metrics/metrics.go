package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// CandidatesEvaluated counts constructed candidates, split by whether the placement was usable
	CandidatesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trace_candidates_evaluated_total", Help: "Candidates scored by the optimizer."},
		[]string{"valid"},
	)
	// Generations counts completed optimizer generations
	Generations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "trace_generations_total", Help: "Completed optimizer generations."},
	)
	// BestFitness is the best fitness of the most recently finished run
	BestFitness = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trace_best_fitness", Help: "Best fitness of the last finished run."},
	)
	// RunDuration tracks wall time per optimizer run
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "trace_run_duration_seconds", Help: "Optimizer run duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}},
	)
	// Jobs counts queued trace jobs by final status
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trace_jobs_total", Help: "Trace jobs by final status."},
		[]string{"status"},
	)
	// Callbacks counts completion callback attempts by outcome
	Callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trace_callbacks_total", Help: "Completion callback attempts by outcome."},
		[]string{"status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(CandidatesEvaluated)
		Registry.MustRegister(Generations)
		Registry.MustRegister(BestFitness)
		Registry.MustRegister(RunDuration)
		Registry.MustRegister(Jobs)
		Registry.MustRegister(Callbacks)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler serves the service registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
