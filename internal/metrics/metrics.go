// Package metrics exposes the Manager's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_nodes_total",
			Help: "Number of currently registered nodes.",
		},
	)

	NodesAvailableMemMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_nodes_available_memory_mb",
			Help: "Sum of available memory across registered nodes, in MiB.",
		},
	)

	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_tasks_total",
			Help: "Number of tasks by status.",
		},
		[]string{"status"},
	)

	TasksDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_dispatched_total",
			Help: "Total number of tasks successfully dispatched to a node.",
		},
	)

	TasksCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_completed_total",
			Help: "Total number of TASK_DONE messages accepted.",
		},
	)

	TasksRequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_requeued_total",
			Help: "Total number of tasks requeued, labeled by reason.",
		},
		[]string{"reason"},
	)

	DispatchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_dispatch_failures_total",
			Help: "Total number of failed dispatch attempts (connect/send to a node).",
		},
	)

	NodesEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_nodes_evicted_total",
			Help: "Total number of node evictions, labeled by cause.",
		},
		[]string{"cause"},
	)

	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatchd_scheduler_tick_duration_seconds",
			Help:    "Time taken to drain as much of the ready queue as possible in one tick.",
			Buckets: prometheus.DefBuckets,
		},
	)

	HealthProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatchd_health_probe_duration_seconds",
			Help:    "Time taken for one full liveness sweep across all registered nodes.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		NodesAvailableMemMB,
		TasksByStatus,
		TasksDispatchedTotal,
		TasksCompletedTotal,
		TasksRequeuedTotal,
		DispatchFailuresTotal,
		NodesEvictedTotal,
		SchedulerTickDuration,
		HealthProbeDuration,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
