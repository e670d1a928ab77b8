package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder tracks job throughput and backend latency. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	batchesSubmitted prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	refinements      prometheus.Counter
	inFlight         prometheus.Gauge
	backendLatency   *prometheus.HistogramVec
	exports          *prometheus.CounterVec
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		batchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carstudio_batches_submitted_total",
			Help: "Batches accepted for processing",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carstudio_jobs_finished_total",
			Help: "Jobs that reached done or error",
		}, []string{"mode", "status"}),
		refinements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carstudio_refinements_total",
			Help: "Refinement requests accepted",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carstudio_backend_calls_in_flight",
			Help: "Image backend calls currently running",
		}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carstudio_backend_call_seconds",
			Help:    "Image backend call duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9),
		}, []string{"kind"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carstudio_exports_total",
			Help: "Export archive attempts by outcome",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(
		r.batchesSubmitted,
		r.jobsFinished,
		r.refinements,
		r.inFlight,
		r.backendLatency,
		r.exports,
		prometheus.NewGoCollector(),
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) BatchSubmitted() {
	if r == nil {
		return
	}
	r.batchesSubmitted.Inc()
}

func (r *Recorder) JobFinished(mode, status string) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(mode, status).Inc()
}

func (r *Recorder) RefinementStarted() {
	if r == nil {
		return
	}
	r.refinements.Inc()
}

// ObserveCall marks a backend call as started and returns the func that
// records its completion.
func (r *Recorder) ObserveCall(kind string) func() {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	r.inFlight.Inc()
	return func() {
		r.inFlight.Dec()
		r.backendLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (r *Recorder) Export(outcome string) {
	if r == nil {
		return
	}
	r.exports.WithLabelValues(outcome).Inc()
}
