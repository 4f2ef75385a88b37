// Package metrics exposes Prometheus collectors for the orchestration
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                 *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueDepth                 prometheus.Gauge
	eventsPublishedTotal       *prometheus.CounterVec
	eventsDroppedTotal         prometheus.Counter
	subscribers                *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_tasks_total",
				Help: "Total number of task lifecycle outcomes, labeled by final status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawld_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawld_queue_depth",
				Help: "Number of task ids waiting in the admission queue.",
			},
		)

		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_events_published_total",
				Help: "Total progress events published, labeled by address scope.",
			},
			[]string{"scope"},
		)

		eventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawld_events_dropped_total",
				Help: "Total events dropped because a subscriber inbox was full.",
			},
		)

		subscribers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawld_subscribers",
				Help: "Currently registered event subscribers, labeled by scope.",
			},
			[]string{"scope"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// RecordTaskOutcome counts a task reaching the given status.
func RecordTaskOutcome(status string) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(status).Inc()
}

// WorkerStarted marks one more worker as busy.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerFinished marks a worker as idle again.
func WorkerFinished() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// SetQueueDepth records the current admission queue length.
func SetQueueDepth(n int) {
	if queueDepth != nil {
		queueDepth.Set(float64(n))
	}
}

// RecordEventPublished counts one published event for the scope ("task" or
// "global").
func RecordEventPublished(scope string) {
	if eventsPublishedTotal != nil {
		eventsPublishedTotal.WithLabelValues(scope).Inc()
	}
}

// RecordEventDropped counts an event dropped on a full inbox.
func RecordEventDropped() {
	if eventsDroppedTotal != nil {
		eventsDroppedTotal.Inc()
	}
}

// SubscriberAdded tracks a new subscriber for the scope.
func SubscriberAdded(scope string) {
	if subscribers != nil {
		subscribers.WithLabelValues(scope).Inc()
	}
}

// SubscriberRemoved tracks a departed subscriber for the scope.
func SubscriberRemoved(scope string) {
	if subscribers != nil {
		subscribers.WithLabelValues(scope).Dec()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response code for the HTTP metrics middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments request counts and latencies. The route label is
// the chi route pattern, resolved after the handler runs so placeholders
// like /api/tasks/{id} do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		}
		if httpRequestDurationSeconds != nil {
			httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}
