// Package metrics exposes the Prometheus collectors shared by the API and the worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ritten"

var (
	// HTTPRequests counts handled requests.
	// Labels: method, route (chi route pattern), status
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	// HTTPDuration measures handler latency.
	// Labels: method, route
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	// Calculations counts reconciliations that ran (cache misses).
	// Labels: outcome (ok, insufficient_data, error)
	Calculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mileage",
		Name:      "calculations_total",
		Help:      "Total fiscal-year reconciliations computed",
	}, []string{"outcome"})

	// CalculationDuration measures load plus calculation time of one overview.
	CalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mileage",
		Name:      "calculation_duration_seconds",
		Help:      "Time to load inputs and reconcile one fiscal year",
		Buckets:   prometheus.DefBuckets,
	})

	// CacheLookups counts overview cache lookups.
	// Labels: result (hit, miss)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Overview cache lookups by result",
	}, []string{"result"})

	// Writes counts persisted mutations.
	// Labels: kind (reading, car_change, work_mileage), op (create, delete, import)
	Writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mileage",
		Name:      "writes_total",
		Help:      "Total persisted mileage mutations",
	}, []string{"kind", "op"})

	// MessagesPublished counts change notifications sent to the broker.
	// Labels: status (ok, error)
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "amqp",
		Name:      "published_total",
		Help:      "Mileage changed messages published",
	}, []string{"status"})

	// WorkerJobs counts worker runs.
	// Labels: job (summary, pull), status (ok, error)
	WorkerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Worker jobs by type and status",
	}, []string{"job", "status"})

	// Rejected counts requests refused by middleware.
	// Labels: reason (rate_limit, suspicious)
	Rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rejected_total",
		Help:      "Requests rejected or flagged by middleware",
	}, []string{"reason"})

	// ChartLabelsSkipped counts chart labels that could not be parsed.
	ChartLabelsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chart",
		Name:      "labels_skipped_total",
		Help:      "Chart labels skipped during import",
	})
)

// Status maps an error to the "ok"/"error" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveHTTP records one handled request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
