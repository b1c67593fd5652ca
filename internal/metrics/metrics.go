// Package metrics holds the Prometheus collectors of a primecount process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agbru/primecount/internal/broker"
)

const namespace = "primecount"

// Collectors groups the HTTP, job and task metrics on a private registry so
// several instances can coexist (tests, standalone mode).
type Collectors struct {
	registry *prometheus.Registry
	handler  http.Handler

	activeRequests  prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	jobsSubmitted   prometheus.Counter
	tasksStarted    *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	taskRetries     *prometheus.CounterVec
}

// New registers every collector, plus the Go runtime and process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "HTTP requests currently being served.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Prime counting jobs accepted.",
		}),
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Tasks picked up by this worker.",
		}, []string{"task"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Task executions by outcome.",
		}, []string{"task", "state"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"task"}),
		taskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Task executions handed back to the queue for another attempt.",
		}, []string{"task"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.activeRequests,
		c.requestsTotal,
		c.requestDuration,
		c.jobsSubmitted,
		c.tasksStarted,
		c.tasksFinished,
		c.taskDuration,
		c.taskRetries,
	)
	c.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return c
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the Prometheus text exposition.
func (c *Collectors) Handler() http.Handler { return c.handler }

// IncrementActiveRequests marks a request as in flight.
func (c *Collectors) IncrementActiveRequests() { c.activeRequests.Inc() }

// DecrementActiveRequests marks a request as done.
func (c *Collectors) DecrementActiveRequests() { c.activeRequests.Dec() }

// ObserveRequest records a served request.
func (c *Collectors) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// JobSubmitted counts an accepted job.
func (c *Collectors) JobSubmitted() { c.jobsSubmitted.Inc() }

// TaskStarted implements broker.Observer.
func (c *Collectors) TaskStarted(task string) { c.tasksStarted.WithLabelValues(task).Inc() }

// TaskFinished implements broker.Observer.
func (c *Collectors) TaskFinished(task string, state broker.State, elapsed time.Duration) {
	c.tasksFinished.WithLabelValues(task, string(state)).Inc()
	if elapsed > 0 {
		c.taskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
	}
}

// TaskRetried implements broker.Observer.
func (c *Collectors) TaskRetried(task string) { c.taskRetries.WithLabelValues(task).Inc() }

var _ broker.Observer = (*Collectors)(nil)
