package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the audio cutter.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	requestDuration   *prometheus.HistogramVec
	jobsStartedTotal  prometheus.Counter
	jobsFinishedTotal *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec
	secondsWritten    prometheus.Counter
	activeJob         prometheus.Gauge
	jobProgress       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the cutter.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cutter_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cutter_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cutter_request_duration_seconds",
		Help:    "HTTP request latency by method, route pattern and status code",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
	jobsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cut_jobs_started_total",
		Help: "Total number of cut jobs accepted",
	})
	jobsFinishedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cut_jobs_finished_total",
		Help: "Total number of cut jobs that reached a terminal state, by outcome",
	}, []string{"outcome"})
	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cut_commands_total",
		Help: "Pause, resume and cancel commands, by command and result",
	}, []string{"command", "result"})
	secondsWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cut_seconds_written_total",
		Help: "Seconds of audio written by finished cut jobs",
	})
	activeJob := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cut_job_active",
		Help: "1 while a cut job is running or paused, else 0",
	})
	jobProgress := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cut_job_progress_percent",
		Help: "Progress of the current or last cut job",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		requestDuration,
		jobsStartedTotal,
		jobsFinishedTotal,
		commandsTotal,
		secondsWritten,
		activeJob,
		jobProgress,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		requestDuration:   requestDuration,
		jobsStartedTotal:  jobsStartedTotal,
		jobsFinishedTotal: jobsFinishedTotal,
		commandsTotal:     commandsTotal,
		secondsWritten:    secondsWritten,
		activeJob:         activeJob,
		jobProgress:       jobProgress,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveRequest records the latency of one request.
func (m *Metrics) ObserveRequest(method, route string, code int, seconds float64) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(seconds)
}

// IncJobsStarted increments the accepted jobs counter.
func (m *Metrics) IncJobsStarted() {
	m.jobsStartedTotal.Inc()
}

// ObserveJobFinished records a terminal outcome and the audio it produced.
func (m *Metrics) ObserveJobFinished(outcome string, seconds float64) {
	m.jobsFinishedTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.secondsWritten.Add(seconds)
	}
}

// IncCommand counts a control command and whether it was accepted.
func (m *Metrics) IncCommand(command, result string) {
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

// SetJob sets the active-job and progress gauges.
func (m *Metrics) SetJob(active bool, percent int) {
	if active {
		m.activeJob.Set(1)
	} else {
		m.activeJob.Set(0)
	}
	m.jobProgress.Set(float64(percent))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. job progress).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
